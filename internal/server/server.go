// Package server is the HTTP intake and delivery boundary: it accepts an
// image batch, builds the sorted document and streams it back.
package server

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "os"
    "path/filepath"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"

    "github.com/local/pagesort/internal/builder"
    "github.com/local/pagesort/internal/layout"
    "github.com/local/pagesort/internal/limiter"
    logpkg "github.com/local/pagesort/internal/logger"
    "github.com/local/pagesort/internal/metrics"
    "github.com/local/pagesort/internal/pdfdoc"
    "github.com/local/pagesort/internal/statuscheck"
    "github.com/local/pagesort/internal/storage"
    "github.com/local/pagesort/internal/store"
)

// ArtifactName is the download name of every produced document.
const ArtifactName = "sorted_images.pdf"

// Archiver copies finished documents somewhere durable.
type Archiver interface {
    ArchiveFile(ctx context.Context, jobID, localPath, name string) (storage.ArchiveResult, error)
}

// Checker reports dependency readiness for /status.
type Checker interface {
    Summary(ctx context.Context) statuscheck.Summary
}

// Config carries request limits and the layout defaults applied to every upload.
type Config struct {
    UploadMaxMB     int
    BuildTimeout    time.Duration
    WorkDir         string
    StaleWorkDirAge time.Duration
    MaxConcurrent   int
    Layout          layout.Config
    DefaultSortBy   string
    Embed           pdfdoc.Options
}

type Dependencies struct {
    Status  store.StatusStore // required; use store.NullStatus{} to disable
    Archive Archiver          // optional
    Checker Checker           // optional
}

type Server struct {
    cfg   Config
    deps  Dependencies
    slots *limiter.Slots
}

func New(cfg Config, deps Dependencies) *Server {
    if cfg.UploadMaxMB <= 0 { cfg.UploadMaxMB = 64 }
    if cfg.BuildTimeout <= 0 { cfg.BuildTimeout = 60 * time.Second }
    if cfg.StaleWorkDirAge <= 0 { cfg.StaleWorkDirAge = time.Hour }
    if cfg.Layout == (layout.Config{}) { cfg.Layout = layout.DefaultConfig() }
    if deps.Status == nil { deps.Status = store.NullStatus{} }
    if cfg.MaxConcurrent <= 0 { cfg.MaxConcurrent = 4 }
    return &Server{cfg: cfg, deps: deps, slots: limiter.New(cfg.MaxConcurrent)}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request){ w.WriteHeader(http.StatusOK); _,_ = w.Write([]byte("ok")) })
    mux.HandleFunc("POST /upload", s.handleUpload)
    mux.HandleFunc("GET /jobs/{id}", s.handleJob)
    mux.HandleFunc("GET /status", s.handleStatus)
    mux.Handle("GET /metrics", metrics.Handler())
}

type errorResp struct {
    Status  string `json:"status"`
    JobID   string `json:"job_id,omitempty"`
    Message string `json:"message,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
    maxBytes := int64(s.cfg.UploadMaxMB) << 20
    r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
    if err := r.ParseMultipartForm(32 << 20); err != nil {
        var tooBig *http.MaxBytesError
        if errors.As(err, &tooBig) {
            writeJSON(w, http.StatusRequestEntityTooLarge, errorResp{Status: "invalid", Message: fmt.Sprintf("upload exceeds %d MB", s.cfg.UploadMaxMB)})
            return
        }
        if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
            http.Error(w, "no file part", http.StatusBadRequest)
            return
        }
        writeJSON(w, http.StatusBadRequest, errorResp{Status: "invalid", Message: "invalid multipart form"})
        return
    }
    defer r.MultipartForm.RemoveAll()

    files := r.MultipartForm.File["images"]
    if len(files) == 0 {
        http.Error(w, "no file part", http.StatusBadRequest)
        return
    }

    lay, err := s.layoutFromForm(r)
    if err != nil {
        writeJSON(w, http.StatusBadRequest, errorResp{Status: "invalid", Message: err.Error()})
        return
    }
    sortBy := r.FormValue("sort_by")
    if sortBy == "" { sortBy = s.cfg.DefaultSortBy }

    release, ok := s.slots.Allow()
    if !ok {
        w.Header().Set("Retry-After", "5")
        writeJSON(w, http.StatusServiceUnavailable, errorResp{Status: "busy", Message: "too many builds in progress"})
        return
    }
    metrics.SetInFlight(s.slots.InUse())
    defer func() {
        release()
        metrics.SetInFlight(s.slots.InUse())
    }()

    jobID := uuid.NewString()
    jobCtx, logger := logpkg.WithJob(r.Context(), jobID, map[string]any{"sort_by": sortBy})
    base := s.cfg.WorkDir
    if base == "" { base = os.TempDir() }
    work := filepath.Join(base, workDirPrefix+jobID)
    inputs := filepath.Join(work, "images")
    if err := os.MkdirAll(inputs, 0o755); err != nil {
        logger.Error().Err(err).Msg("cannot create work dir")
        writeJSON(w, http.StatusInternalServerError, errorResp{Status: "error", JobID: jobID, Message: "cannot create work dir"})
        return
    }
    defer func() {
        if err := os.RemoveAll(work); err != nil {
            logger.Warn().Err(err).Msg("failed to remove work dir")
        }
        CleanupStale(base, s.cfg.StaleWorkDirAge)
    }()

    start := time.Now()
    s.setStatus(r.Context(), jobID, store.Status{Status: store.StateProcessing, Progress: 0, Message: "received", Start: &start,
        Metadata: map[string]any{"files": len(files), "sort_by": sortBy}})

    saved, intakeSkips := saveUploads(files, inputs)
    logger.Info().Int("files", len(files)).Int("accepted", saved).Int("rejected", len(intakeSkips)).Msg("upload received")

    opts := builder.Options{JobID: jobID, Metric: sortBy, Layout: lay, Embed: s.cfg.Embed}
    out := filepath.Join(work, ArtifactName)

    ctx, cancel := context.WithTimeout(jobCtx, s.cfg.BuildTimeout)
    defer cancel()
    rep, err := builder.Build(ctx, inputs, out, opts)
    rep.Items = append(intakeSkips, rep.Items...)
    rep.Skipped += len(intakeSkips)

    end := time.Now()
    final := store.Status{Start: &start, End: &end, Progress: 100, Report: marshalReport(rep),
        Metadata: map[string]any{"files": len(files), "sort_by": sortBy, "metric": string(rep.Metric)}}

    if err != nil {
        code, body := classify(err)
        body.JobID = jobID
        logger.Error().Err(err).Int("code", code).Msg("build failed")
        final.Status, final.Message = store.StateFailed, body.Message
        s.setStatus(r.Context(), jobID, final)
        writeJSON(w, code, body)
        return
    }
    if rep.Empty() {
        final.Status, final.Message = store.StateEmpty, "no valid images"
        s.setStatus(r.Context(), jobID, final)
        writeJSON(w, http.StatusUnprocessableEntity, errorResp{Status: "empty", JobID: jobID, Message: "no valid images"})
        return
    }

    final.Status, final.Message = store.StateSuccess, "document finalized"
    final.Metadata["pages"] = rep.Pages
    if s.deps.Archive != nil {
        res, aerr := s.deps.Archive.ArchiveFile(r.Context(), jobID, out, ArtifactName)
        metrics.ArchiveUploaded(aerr == nil)
        if aerr != nil {
            logger.Warn().Err(aerr).Msg("archive failed; delivering anyway")
            final.Metadata["archive_error"] = aerr.Error()
        } else {
            final.Metadata["archive_url"] = res.URL
        }
    }
    s.setStatus(r.Context(), jobID, final)

    f, err := os.Open(out)
    if err != nil {
        logger.Error().Err(err).Msg("artifact vanished before delivery")
        writeJSON(w, http.StatusInternalServerError, errorResp{Status: "write_failed", JobID: jobID, Message: "failed to write document"})
        return
    }
    defer f.Close()

    h := w.Header()
    h.Set("Content-Type", "application/pdf")
    h.Set("Content-Disposition", "attachment; filename="+ArtifactName)
    h.Set("Content-Length", strconv.FormatInt(rep.ArtifactBytes, 10))
    h.Set("X-Job-ID", jobID)
    h.Set("X-Images-Placed", strconv.Itoa(rep.Placed))
    h.Set("X-Images-Skipped", strconv.Itoa(rep.Skipped))
    h.Set("X-Sort-Metric", string(rep.Metric))
    w.WriteHeader(http.StatusOK)
    if _, err := io.Copy(w, f); err != nil {
        logger.Warn().Err(err).Msg("client went away during delivery")
    }
}

// layoutFromForm applies optional max_width/max_height overrides and validates the result.
func (s *Server) layoutFromForm(r *http.Request) (layout.Config, error) {
    cfg := s.cfg.Layout
    for _, f := range []struct {
        key string
        dst *float64
    }{
        {"max_width", &cfg.MaxWidth},
        {"max_height", &cfg.MaxHeight},
    } {
        raw := strings.TrimSpace(r.FormValue(f.key))
        if raw == "" { continue }
        v, err := strconv.ParseFloat(raw, 64)
        if err != nil {
            return cfg, fmt.Errorf("%s: not a number: %q", f.key, raw)
        }
        *f.dst = v
    }
    if err := cfg.Validate(); err != nil {
        return cfg, err
    }
    return cfg, nil
}

// classify maps a build error onto an HTTP status and a user-facing body.
func classify(err error) (int, errorResp) {
    var (
        invalid *layout.InvalidConfigError
        write   *builder.ArtifactWriteError
        source  *builder.SourceUnavailableError
    )
    switch {
    case errors.Is(err, context.DeadlineExceeded):
        return http.StatusGatewayTimeout, errorResp{Status: "timeout", Message: "build timed out"}
    case errors.Is(err, context.Canceled):
        return 499, errorResp{Status: "cancelled", Message: "request cancelled"}
    case errors.As(err, &invalid):
        return http.StatusBadRequest, errorResp{Status: "invalid", Message: "invalid request: " + invalid.Error()}
    case errors.As(err, &write):
        return http.StatusInternalServerError, errorResp{Status: "write_failed", Message: "failed to write document"}
    case errors.As(err, &source):
        return http.StatusInternalServerError, errorResp{Status: "error", Message: "source unavailable"}
    }
    return http.StatusInternalServerError, errorResp{Status: "error", Message: "internal error"}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
    id := r.PathValue("id")
    st, ok, err := s.deps.Status.Get(r.Context(), id)
    if err != nil { http.Error(w, "error", http.StatusInternalServerError); return }
    if !ok {
        http.Error(w, "not found", http.StatusNotFound); return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "job_id":     id,
        "status":     st.Status,
        "progress":   st.Progress,
        "message":    st.Message,
        "start_time": st.Start,
        "end_time":   st.End,
        "metadata":   st.Metadata,
        "report":     st.Report,
    })
}

type buildSlots struct {
    InUse    int `json:"in_use"`
    Capacity int `json:"capacity"`
}

type statusResp struct {
    statuscheck.Summary
    Builds buildSlots `json:"builds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
    resp := statusResp{Builds: buildSlots{InUse: s.slots.InUse(), Capacity: s.slots.Cap()}}
    if s.deps.Checker != nil { resp.Summary = s.deps.Checker.Summary(r.Context()) }
    writeJSON(w, http.StatusOK, resp)
}

func (s *Server) setStatus(ctx context.Context, jobID string, st store.Status) {
    // Status writes must outlive a cancelled request.
    ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
    defer cancel()
    if err := s.deps.Status.Set(ctx, jobID, st); err != nil {
        logpkg.Job(ctx, jobID).Warn().Err(err).Str("status", st.Status).Msg("status store write failed")
    }
}

func marshalReport(rep builder.Report) json.RawMessage {
    b, err := json.Marshal(rep)
    if err != nil { return nil }
    return b
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}
