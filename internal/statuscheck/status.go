package statuscheck

import (
    "context"
    "errors"
    "os"
    "time"

    "github.com/aws/aws-sdk-go-v2/service/s3"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
    Ping(ctx context.Context) error
}

// BucketHeader is the slice of the S3 client used to probe the archive bucket.
type BucketHeader interface {
    HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Checker aggregates health checks for the dependencies behind /status.
type Checker struct {
    redis    RedisPinger
    s3       BucketHeader
    s3Bucket string
    workDir  string
}

// Options configures the Checker. Nil dependencies are reported as disabled.
type Options struct {
    Redis    RedisPinger
    S3       BucketHeader
    S3Bucket string
    WorkDir  string
}

// Status represents the readiness of a subsystem.
type Status struct {
    OK      bool   `json:"ok"`
    Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
    Redis   Status `json:"redis"`
    S3      Status `json:"s3"`
    WorkDir Status `json:"work_dir"`
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
    return &Checker{
        redis:    opts.Redis,
        s3:       opts.S3,
        s3Bucket: opts.S3Bucket,
        workDir:  opts.WorkDir,
    }
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
    return Summary{
        Redis:   c.checkRedis(ctx),
        S3:      c.checkS3(ctx),
        WorkDir: c.checkWorkDir(),
    }
}

func (c *Checker) checkRedis(ctx context.Context) Status {
    if c.redis == nil {
        return Status{OK: false, Message: "Not configured"}
    }
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := c.redis.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
    if c.s3 == nil || c.s3Bucket == "" {
        return Status{OK: false, Message: "Bucket not configured"}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &c.s3Bucket}); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkWorkDir() Status {
    dir := c.workDir
    if dir == "" { dir = os.TempDir() }
    f, err := os.CreateTemp(dir, ".pagesort-probe-*")
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    name := f.Name()
    _ = f.Close()
    _ = os.Remove(name)
    return Status{OK: true, Message: "Writable"}
}

func trimError(err error) string {
    if err == nil {
        return ""
    }
    var netErr interface{ Timeout() bool }
    if errors.As(err, &netErr) && netErr.Timeout() {
        return "timeout"
    }
    if errors.Is(err, context.DeadlineExceeded) {
        return "timeout"
    }
    msg := err.Error()
    if len(msg) > 120 {
        return msg[:120]
    }
    return msg
}
