package config

import (
    "fmt"
    "sort"
    "strings"

    "github.com/BurntSushi/toml"

    "github.com/local/pagesort/internal/layout"
)

// LoadLayoutFile overlays a TOML layout file onto base. Keys absent from the
// file keep the base value; unknown keys are rejected. The result is validated.
//
//	unit = "mm"
//	page_width = 210
//	max_width = 180
//	upscale = true
func LoadLayoutFile(path string, base layout.Config) (layout.Config, error) {
    cfg := base
    md, err := toml.DecodeFile(path, &cfg)
    if err != nil {
        return base, fmt.Errorf("read layout file %s: %w", path, err)
    }
    if undecoded := md.Undecoded(); len(undecoded) > 0 {
        keys := make([]string, 0, len(undecoded))
        for _, k := range undecoded { keys = append(keys, k.String()) }
        sort.Strings(keys)
        return base, fmt.Errorf("layout file %s: unknown keys: %s", path, strings.Join(keys, ", "))
    }
    if err := cfg.Validate(); err != nil {
        return base, fmt.Errorf("layout file %s: %w", path, err)
    }
    return cfg, nil
}
