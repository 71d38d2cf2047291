package config

import (
    "errors"
    "io/fs"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
    "github.com/rs/zerolog/log"

    "github.com/local/pagesort/internal/layout"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level        string
    Pretty       bool
    File         string
    MaxSizeMB    int
    MaxBackups   int
    MaxAgeDays   int
    Compress     bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
}

// ServerConfig defines the HTTP surface and its per-request limits.
type ServerConfig struct {
    Port            string
    UploadMaxMB     int
    BuildTimeout    time.Duration
    WorkDir         string // parent of per-request work directories; empty means os.TempDir()
    StaleWorkDirAge time.Duration
    MaxConcurrent   int
}

// LayoutConfig carries page geometry plus the embedding and metric defaults.
type LayoutConfig struct {
    Page          layout.Config
    DefaultSortBy string
    EmbedDPI      float64
    JPEGQuality   int
}

// StoreConfig defines the job status store.
type StoreConfig struct {
    RedisURL  string // empty disables Redis; status is then not persisted
    StatusTTL time.Duration
}

// ArchiveConfig defines optional S3 archival of finished documents.
type ArchiveConfig struct {
    Bucket     string
    Prefix     string
    Passphrase string
    Endpoint   string
    AccessKey  string
    SecretKey  string
    Region     string
}

// Enabled reports whether finished documents should be archived.
func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

// Config is the top-level configuration.
type Config struct {
    Logging LoggingConfig
    Axiom   AxiomConfig
    Server  ServerConfig
    Layout  LayoutConfig
    Store   StoreConfig
    Archive ArchiveConfig
}

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(files ...string) {
    if len(files) == 0 { files = []string{".env"} }
    for _, f := range files {
        if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
            log.Warn().Err(err).Str("file", f).Msg("failed to load env file")
        }
    }
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
    cfg := Config{}

    // Logging defaults
    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/pagesort.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    // Axiom defaults
    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_pagesort",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
    }

    // Server defaults
    cfg.Server = ServerConfig{
        Port:            getEnv("PORT", "8080"),
        UploadMaxMB:     parseInt(getEnv("UPLOAD_MAX_MB", "64"), 64),
        BuildTimeout:    parseDuration(getEnv("BUILD_TIMEOUT", "60s"), 60*time.Second),
        WorkDir:         getEnv("WORK_DIR", ""),
        StaleWorkDirAge: parseDuration(getEnv("STALE_WORKDIR_AGE", "1h"), time.Hour),
        MaxConcurrent:   parseInt(getEnv("MAX_CONCURRENT_BUILDS", "4"), 4),
    }

    // Layout defaults (A4 portrait in mm, 200x200 box)
    def := layout.DefaultConfig()
    cfg.Layout = LayoutConfig{
        Page: layout.Config{
            Unit:          def.Unit,
            PageWidth:     parseFloat(getEnv("PAGE_WIDTH", ""), def.PageWidth),
            PageHeight:    parseFloat(getEnv("PAGE_HEIGHT", ""), def.PageHeight),
            MaxWidth:      parseFloat(getEnv("MAX_WIDTH", ""), def.MaxWidth),
            MaxHeight:     parseFloat(getEnv("MAX_HEIGHT", ""), def.MaxHeight),
            Margin:        parseFloat(getEnv("MARGIN", ""), def.Margin),
            BottomMargin:  parseFloat(getEnv("BOTTOM_MARGIN", ""), def.BottomMargin),
            SafetyMargin:  parseFloat(getEnv("SAFETY_MARGIN", ""), def.SafetyMargin),
            Upscale:       parseBool(getEnv("UPSCALE", "false")),
            PixelsPerUnit: parseFloat(getEnv("PIXELS_PER_UNIT", ""), def.PixelsPerUnit),
        },
        DefaultSortBy: strings.ToLower(getEnv("DEFAULT_SORT_BY", "brightness")),
        EmbedDPI:      parseFloat(getEnv("EMBED_DPI", "0"), 0),
        JPEGQuality:   parseInt(getEnv("JPEG_QUALITY", "90"), 90),
    }
    if q := cfg.Layout.JPEGQuality; q < 1 || q > 100 { cfg.Layout.JPEGQuality = 90 }

    // Store defaults
    cfg.Store = StoreConfig{
        RedisURL:  getEnv("REDIS_URL", ""),
        StatusTTL: parseDuration(getEnv("STATUS_TTL", "24h"), 24*time.Hour),
    }

    // Archive defaults
    cfg.Archive = ArchiveConfig{
        Bucket:     getEnv("ARCHIVE_BUCKET", ""),
        Prefix:     strings.Trim(getEnv("ARCHIVE_PREFIX", "pagesort"), "/"),
        Passphrase: getEnv("ARCHIVE_PASSPHRASE", ""),
        Endpoint:   getEnv("S3_ENDPOINT", ""),
        AccessKey:  getEnv("S3_ACCESS_KEY", ""),
        SecretKey:  getEnv("S3_SECRET_KEY", ""),
        Region:     getEnv("AWS_REGION", "us-east-1"),
    }

    return cfg
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseFloat(s string, def float64) float64 {
    if s == "" { return def }
    if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
