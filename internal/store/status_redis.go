package store

import (
    "context"
    "encoding/json"
    "fmt"
    "strconv"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// Job states written by the server.
const (
    StateProcessing = "processing"
    StateSuccess    = "success"
    StateEmpty      = "empty"
    StateFailed     = "failed"
)

type Status struct {
    Status   string                 `json:"status"`
    Progress int                    `json:"progress"`
    Message  string                 `json:"message"`
    Start    *time.Time             `json:"start_time,omitempty"`
    End      *time.Time             `json:"end_time,omitempty"`
    Metadata map[string]interface{} `json:"metadata,omitempty"`
    // Report is the build report as produced by the builder, kept verbatim.
    Report   json.RawMessage        `json:"report,omitempty"`
}

// StatusStore records per-job status for GET /jobs/{id}.
type StatusStore interface {
    Set(ctx context.Context, jobID string, st Status) error
    Get(ctx context.Context, jobID string) (Status, bool, error)
}

type RedisStatus struct {
    client *redis.Client
    keyNS  string
    ttl    time.Duration
}

// NewRedisStatus connects to redisURL. Records expire ttl after their last write; ttl <= 0 keeps them forever.
func NewRedisStatus(redisURL string, ttl time.Duration) (*RedisStatus, error) {
    opt, err := redis.ParseURL(redisURL)
    if err != nil { return nil, err }
    c := redis.NewClient(opt)
    if err := c.Ping(context.Background()).Err(); err != nil { return nil, err }
    return NewRedisStatusFromClient(c, ttl), nil
}

// NewRedisStatusFromClient wraps an existing client.
func NewRedisStatusFromClient(c *redis.Client, ttl time.Duration) *RedisStatus {
    return &RedisStatus{client: c, keyNS: "pagesort:job", ttl: ttl}
}

func (s *RedisStatus) key(jobID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, jobID) }

func (s *RedisStatus) Set(ctx context.Context, jobID string, st Status) error {
    m := map[string]interface{}{
        "status":   st.Status,
        "progress": st.Progress,
        "message":  st.Message,
    }
    if st.Start != nil { m["start"] = st.Start.Format(time.RFC3339Nano) }
    if st.End != nil { m["end"] = st.End.Format(time.RFC3339Nano) }
    if st.Metadata != nil {
        b, err := json.Marshal(st.Metadata)
        if err != nil { return fmt.Errorf("encode metadata: %w", err) }
        m["metadata"] = string(b)
    }
    if len(st.Report) > 0 { m["report"] = string(st.Report) }

    key := s.key(jobID)
    pipe := s.client.TxPipeline()
    pipe.HSet(ctx, key, m)
    if s.ttl > 0 { pipe.Expire(ctx, key, s.ttl) }
    _, err := pipe.Exec(ctx)
    return err
}

func (s *RedisStatus) Get(ctx context.Context, jobID string) (Status, bool, error) {
    res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
    if err != nil { return Status{}, false, err }
    if len(res) == 0 { return Status{}, false, nil }
    st := Status{}
    st.Status = res["status"]
    st.Message = res["message"]
    if p, ok := res["progress"]; ok && p != "" {
        // ignore parse error; default 0
        st.Progress, _ = strconv.Atoi(p)
    }
    if v := res["start"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.Start = &t }
    }
    if v := res["end"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.End = &t }
    }
    if v := res["metadata"]; v != "" {
        _ = json.Unmarshal([]byte(v), &st.Metadata)
    }
    if v := res["report"]; v != "" { st.Report = json.RawMessage(v) }
    return st, true, nil
}

// Ping satisfies statuscheck.RedisPinger.
func (s *RedisStatus) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStatus) Close() error { return s.client.Close() }

// Client returns the underlying Redis client
func (s *RedisStatus) Client() *redis.Client { return s.client }
