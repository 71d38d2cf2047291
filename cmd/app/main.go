package main

import (
    "context"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/rs/zerolog/log"

    cfgpkg "github.com/local/pagesort/internal/config"
    logpkg "github.com/local/pagesort/internal/logger"
    "github.com/local/pagesort/internal/metrics"
    "github.com/local/pagesort/internal/pdfdoc"
    "github.com/local/pagesort/internal/server"
    "github.com/local/pagesort/internal/statuscheck"
    "github.com/local/pagesort/internal/storage"
    "github.com/local/pagesort/internal/store"
    web "github.com/local/pagesort/internal/web"
)

func main() {
    cfgpkg.LoadDotEnv()
    cfg := cfgpkg.FromEnv()

    // Init logging
    _ = logpkg.Init(logpkg.Options{
        Level: cfg.Logging.Level,
        Pretty: cfg.Logging.Pretty,
        File: cfg.Logging.File,
        MaxSizeMB: cfg.Logging.MaxSizeMB,
        MaxBackups: cfg.Logging.MaxBackups,
        MaxAgeDays: cfg.Logging.MaxAgeDays,
        Compress: cfg.Logging.Compress,
        SendToAxiom: cfg.Axiom.Send && cfg.Axiom.APIKey != "",
        AxiomAPIKey: cfg.Axiom.APIKey,
        AxiomOrgID: cfg.Axiom.OrgID,
        AxiomDataset: cfg.Axiom.Dataset,
        AxiomFlush: cfg.Axiom.FlushInterval,
    })
    defer logpkg.Close()

    if err := cfg.Layout.Page.Validate(); err != nil {
        log.Fatal().Err(err).Msg("invalid layout configuration")
    }
    metrics.Init()

    // Status store
    var status store.StatusStore = store.NullStatus{}
    checkOpts := statuscheck.Options{WorkDir: cfg.Server.WorkDir}
    if cfg.Store.RedisURL != "" {
        rs, err := store.NewRedisStatus(cfg.Store.RedisURL, cfg.Store.StatusTTL)
        if err != nil {
            log.Fatal().Err(err).Msg("failed to init redis status store")
        }
        defer rs.Close()
        status = rs
        checkOpts.Redis = rs
    } else {
        log.Info().Msg("REDIS_URL not set; job status is not persisted")
    }

    // Archive (optional)
    deps := server.Dependencies{Status: status}
    if cfg.Archive.Enabled() {
        s3c, err := storage.NewS3Client(context.Background(), storage.Options{
            Bucket:     cfg.Archive.Bucket,
            Prefix:     cfg.Archive.Prefix,
            Passphrase: cfg.Archive.Passphrase,
            Endpoint:   cfg.Archive.Endpoint,
            AccessKey:  cfg.Archive.AccessKey,
            SecretKey:  cfg.Archive.SecretKey,
            Region:     cfg.Archive.Region,
        })
        if err != nil {
            log.Fatal().Err(err).Msg("failed to init archive client")
        }
        deps.Archive = s3c
        checkOpts.S3 = s3c.Client()
        checkOpts.S3Bucket = s3c.Bucket()
    }
    deps.Checker = statuscheck.New(checkOpts)

    srvCfg := server.Config{
        UploadMaxMB:     cfg.Server.UploadMaxMB,
        BuildTimeout:    cfg.Server.BuildTimeout,
        WorkDir:         cfg.Server.WorkDir,
        StaleWorkDirAge: cfg.Server.StaleWorkDirAge,
        MaxConcurrent:   cfg.Server.MaxConcurrent,
        Layout:          cfg.Layout.Page,
        DefaultSortBy:   cfg.Layout.DefaultSortBy,
        Embed: pdfdoc.Options{
            EmbedDPI:    cfg.Layout.EmbedDPI,
            JPEGQuality: cfg.Layout.JPEGQuality,
            Title:       "Sorted images",
            Creator:     "pagesort",
        },
    }
    if removed := server.CleanupStale(cfg.Server.WorkDir, cfg.Server.StaleWorkDirAge); removed > 0 {
        log.Info().Int("removed", removed).Msg("removed work dirs from a previous run")
    }

    mux := http.NewServeMux()
    server.New(srvCfg, deps).RegisterRoutes(mux)

    // Upload page
    web.New(web.PageData{
        DefaultSortBy: cfg.Layout.DefaultSortBy,
        Unit:          cfg.Layout.Page.Unit,
        MaxWidth:      cfg.Layout.Page.MaxWidth,
        MaxHeight:     cfg.Layout.Page.MaxHeight,
        UploadMaxMB:   cfg.Server.UploadMaxMB,
    }).RegisterRoutes(mux)

    port := cfg.Server.Port
    srv := &http.Server{Addr: ":"+port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

    go func(){
        log.Info().Msgf("HTTP server listening on :%s", port)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatal().Err(err).Msg("http server error")
        }
    }()

    // Graceful shutdown
    stop := make(chan os.Signal, 1)
    signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
    <-stop
    ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.BuildTimeout+5*time.Second)
    defer cancel()
    _ = srv.Shutdown(ctx)
    fmt.Println("shutdown complete")
}
