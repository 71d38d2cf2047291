package server

import (
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/rs/zerolog/log"
)

// workDirPrefix names every per-request work directory.
const workDirPrefix = "pagesort-"

// CleanupStale removes per-request work directories under dir older than
// maxAge. Requests that crashed or were killed mid-build leave these behind.
// It returns the number of directories removed.
func CleanupStale(dir string, maxAge time.Duration) int {
    if dir == "" { dir = os.TempDir() }
    entries, err := os.ReadDir(dir)
    if err != nil { return 0 }
    now := time.Now()
    removed := 0
    for _, e := range entries {
        if !e.IsDir() || !strings.HasPrefix(e.Name(), workDirPrefix) {
            continue
        }
        info, err := e.Info()
        if err != nil || now.Sub(info.ModTime()) < maxAge {
            continue
        }
        if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
            log.Warn().Err(err).Str("dir", e.Name()).Msg("failed to remove stale work dir")
            continue
        }
        removed++
    }
    if removed > 0 {
        log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("cleaned stale work dirs")
    }
    return removed
}
