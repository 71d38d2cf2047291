// Package logger configures the process-wide zerolog logger and hands out
// job-scoped loggers that travel with a build's context.
package logger

import (
    "context"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "time"

    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options defines logger initialization parameters.
type Options struct {
    Level      string
    Pretty     bool
    File       string // rotated JSON log; empty disables the file
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool
    Console    io.Writer // nil means stdout
    Service    string    // defaults to "pagesort"

    SendToAxiom  bool
    AxiomAPIKey  string
    AxiomOrgID   string
    AxiomDataset string
    AxiomFlush   time.Duration
}

var ax *shipper

// Init replaces log.Logger. Console output is always on; the rotated file and
// Axiom shipping are added when configured.
func Init(opts Options) error {
    svc := opts.Service
    if svc == "" { svc = "pagesort" }

    var writers []io.Writer
    if opts.File != "" {
        if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
            return fmt.Errorf("create logs dir: %w", err)
        }
        writers = append(writers, &lumberjack.Logger{
            Filename:   opts.File,
            MaxSize:    opts.MaxSizeMB,
            MaxBackups: opts.MaxBackups,
            MaxAge:     opts.MaxAgeDays,
            Compress:   opts.Compress,
        })
    }

    console := opts.Console
    if console == nil { console = os.Stdout }
    if opts.Pretty {
        console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
    }
    writers = append(writers, console)

    Close()
    if opts.SendToAxiom && opts.AxiomAPIKey != "" {
        s, err := newAxiomShipper(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, svc, opts.AxiomFlush)
        if err != nil {
            fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
        } else {
            ax = s
            writers = append(writers, s)
        }
    }

    zerolog.TimeFieldFormat = time.RFC3339
    lvl, err := zerolog.ParseLevel(opts.Level)
    if err != nil || lvl == zerolog.NoLevel { lvl = zerolog.InfoLevel }

    log.Logger = zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().Timestamp().Str("service", svc).Logger()
    return nil
}

// Close sends whatever is still queued for Axiom and stops shipping.
func Close() {
    if ax == nil { return }
    if n := ax.Close(); n > 0 {
        fmt.Fprintf(os.Stderr, "axiom: dropped %d log events (buffer full)\n", n)
    }
    ax = nil
}

// WithJob derives a logger tagged with jobID and fields and stores it in ctx.
// Stages that receive ctx log through Job and share those fields.
func WithJob(ctx context.Context, jobID string, fields map[string]any) (context.Context, zerolog.Logger) {
    c := log.Logger.With()
    if jobID != "" { c = c.Str("job_id", jobID) }
    if len(fields) > 0 { c = c.Fields(fields) }
    l := c.Logger()
    return l.WithContext(ctx), l
}

// Job returns the job logger stored in ctx by WithJob. Without one it falls
// back to the global logger tagged with jobID.
func Job(ctx context.Context, jobID string) zerolog.Logger {
    if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
        return *l
    }
    if jobID == "" { return log.Logger }
    return log.Logger.With().Str("job_id", jobID).Logger()
}
