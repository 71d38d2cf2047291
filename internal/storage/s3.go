package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Options configures the archive client. Endpoint and static keys are for
// S3-compatible stores; leave them empty to use the default AWS chain.
type Options struct {
	Bucket     string
	Prefix     string
	Passphrase string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
}

type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Client archives finished documents to a bucket.
type S3Client struct {
	client     *s3.Client
	uploader   uploader
	bucketName string
	prefix     string
	passphrase string
}

// ArchiveResult describes one uploaded artifact.
type ArchiveResult struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	Encrypted bool   `json:"encrypted"`
	Size      int    `json:"size"`
}

// NewS3Client builds a client from opts.
func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive bucket not configured")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		bucketName: opts.Bucket,
		prefix:     opts.Prefix,
		passphrase: opts.Passphrase,
	}, nil
}

// Client returns the underlying S3 client.
func (s *S3Client) Client() *s3.Client { return s.client }

// Bucket returns the archive bucket name.
func (s *S3Client) Bucket() string { return s.bucketName }

// Key is the object key for a job's artifact: <prefix>/<jobID>/<name>.
func (s *S3Client) Key(jobID, name string) string {
	return path.Join(s.prefix, jobID, name)
}

// ArchiveFile uploads the file at localPath under the job's key, sealing it first when a passphrase is configured.
func (s *S3Client) ArchiveFile(ctx context.Context, jobID, localPath, name string) (ArchiveResult, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("read artifact: %w", err)
	}
	if name == "" {
		name = filepath.Base(localPath)
	}
	key := s.Key(jobID, name)

	meta := map[string]string{"name": name, "job-id": jobID}
	contentType := "application/pdf"
	encrypted := s.passphrase != ""
	if encrypted {
		if data, err = Seal(data, s.passphrase); err != nil {
			return ArchiveResult{}, fmt.Errorf("failed to encrypt data: %w", err)
		}
		meta["encrypted"] = "true"
		meta["encryption-format"] = sealMagic
		contentType = "application/octet-stream"
	}

	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("archive upload failed")
		return ArchiveResult{}, fmt.Errorf("failed to upload to S3: %w", err)
	}

	res := ArchiveResult{URL: fmt.Sprintf("s3://%s/%s", s.bucketName, key), Key: key, Encrypted: encrypted, Size: len(data)}
	if out != nil && out.Location != "" {
		log.Debug().Str("location", out.Location).Msg("archive location")
	}
	log.Info().Str("job_id", jobID).Str("key", key).Bool("encrypted", encrypted).Int("size", res.Size).Msg("archived document to S3")
	return res, nil
}
