// Package builder turns a directory of images into a single PDF where the
// images are ordered by brightness or saturation, highest first.
package builder

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/local/pagesort/internal/imagefile"
	"github.com/local/pagesort/internal/imagemetric"
	"github.com/local/pagesort/internal/layout"
	logpkg "github.com/local/pagesort/internal/logger"
	"github.com/local/pagesort/internal/metrics"
	"github.com/local/pagesort/internal/pdfdoc"
)

// Outcome is the terminal state of a build.
type Outcome string

const (
	OutcomeFinalized Outcome = "finalized"
	OutcomeEmpty     Outcome = "empty"
)

// Item statuses.
const (
	StatusPlaced  = "placed"
	StatusSkipped = "skipped"
	StatusScored  = "scored"
)

// Skip reasons.
const (
	ReasonDecode = "decode"
	ReasonMetric = "metric"
)

// Options configures one build. Nothing here is shared between builds.
type Options struct {
	JobID  string
	Metric string // raw selector; unknown values fall back to brightness
	Layout layout.Config
	Embed  pdfdoc.Options
}

// DefaultOptions is brightness on an A4 page with a 200x200 box.
func DefaultOptions() Options {
	return Options{
		Metric: string(imagemetric.Brightness),
		Layout: layout.DefaultConfig(),
		Embed:  pdfdoc.Options{Title: "Sorted images", Creator: "pagesort"},
	}
}

// ItemResult is the fate of one candidate file.
type ItemResult struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	Status string  `json:"status"`
	Reason string  `json:"reason,omitempty"`
	Error  string  `json:"error,omitempty"`
	Metric float64 `json:"metric,omitempty"`
	Color  string  `json:"color,omitempty"` // mean colour as #rrggbb, filled by Score
	Page   int     `json:"page,omitempty"` // 1-based, 0 when not placed
}

// Report summarises a build for the caller.
type Report struct {
	JobID           string             `json:"job_id,omitempty"`
	Outcome         Outcome            `json:"outcome"`
	Metric          imagemetric.Kind   `json:"metric"`
	RequestedMetric string             `json:"requested_metric"`
	MetricFallback  bool               `json:"metric_fallback"`
	Items           []ItemResult       `json:"items"`
	Placements      []layout.Placement `json:"placements,omitempty"`
	Placed          int                `json:"placed"`
	Skipped         int                `json:"skipped"`
	Pages           int                `json:"pages"`
	Artifact        string             `json:"artifact,omitempty"`
	ArtifactBytes   int64              `json:"artifact_bytes,omitempty"`
	Duration        time.Duration      `json:"duration_ns"`
}

// Empty reports whether the build ended without an artifact because nothing was usable.
func (r Report) Empty() bool { return r.Outcome == OutcomeEmpty }

// Build discovers images in sourceDir, scores and sorts them, lays them out
// and writes the document to destination. An empty batch is not an error:
// the report's Outcome is OutcomeEmpty and nothing is written.
func Build(ctx context.Context, sourceDir, destination string, opts Options) (Report, error) {
	start := time.Now()
	logger := logpkg.Job(ctx, opts.JobID)

	kind, fellBack := imagemetric.Resolve(opts.Metric)
	rep := Report{JobID: opts.JobID, Metric: kind, RequestedMetric: opts.Metric, MetricFallback: fellBack}

	if err := opts.Layout.Validate(); err != nil {
		metrics.ObserveBuild("invalid", time.Since(start), 0)
		return rep, err
	}

	logger.Debug().Str("state", "discovering").Str("source", sourceDir).Msg("build state")
	paths, err := discover(sourceDir)
	if err != nil {
		metrics.ObserveBuild("source_unavailable", time.Since(start), 0)
		return rep, err
	}

	logger.Debug().Str("state", "scoring").Int("candidates", len(paths)).Str("metric", string(kind)).Msg("build state")
	sc, err := score(ctx, logger, paths, kind, false)
	if err != nil {
		return rep, err
	}
	rep.Items = sc.results
	items, sources, index := sc.items, sc.sources, sc.index
	rep.Skipped = len(rep.Items) - len(items)

	if len(items) == 0 {
		rep.Outcome = OutcomeEmpty
		rep.Duration = time.Since(start)
		metrics.ObserveBuild(string(OutcomeEmpty), rep.Duration, 0)
		logger.Info().Int("skipped", rep.Skipped).Msg("no valid images")
		return rep, nil
	}

	logger.Debug().Str("state", "sorting").Int("images", len(items)).Msg("build state")
	plan, err := layout.Build(ctx, items, opts.Layout)
	if err != nil {
		return rep, err
	}
	logger.Debug().Str("state", "placing").Int("pages", plan.Pages).Msg("build state")

	for _, pl := range plan.Placements {
		i := index[pl.Seq]
		rep.Items[i].Status = StatusPlaced
		rep.Items[i].Page = pl.Page + 1
	}

	embed := opts.Embed
	if embed.Unit == "" {
		embed.Unit = opts.Layout.Unit
	}
	written, err := pdfdoc.Write(plan, sources, destination, embed)
	if err != nil {
		metrics.ObserveBuild("write_failed", time.Since(start), 0)
		return rep, &ArtifactWriteError{Path: destination, Err: err}
	}

	rep.Outcome = OutcomeFinalized
	rep.Placements = plan.Placements
	rep.Placed = len(plan.Placements)
	rep.Pages = written.Pages
	rep.Artifact = written.Path
	rep.ArtifactBytes = written.Bytes
	rep.Duration = time.Since(start)
	metrics.ObserveBuild(string(OutcomeFinalized), rep.Duration, rep.Pages)
	metrics.AddPlaced(rep.Placed)

	logger.Info().
		Str("metric", string(kind)).
		Int("placed", rep.Placed).
		Int("skipped", rep.Skipped).
		Int("pages", rep.Pages).
		Int64("bytes", rep.ArtifactBytes).
		Dur("took", rep.Duration).
		Msg("document finalized")
	return rep, nil
}

// Score discovers and scores the images in sourceDir without laying them
// out. Skipped files keep their discovery position at the end of the list;
// scored ones are ordered by metric, highest first.
func Score(ctx context.Context, sourceDir, metric string) (Report, error) {
	start := time.Now()
	kind, fellBack := imagemetric.Resolve(metric)
	rep := Report{Metric: kind, RequestedMetric: metric, MetricFallback: fellBack}
	paths, err := discover(sourceDir)
	if err != nil {
		return rep, err
	}
	sc, err := score(ctx, logpkg.Job(ctx, ""), paths, kind, true)
	if err != nil {
		return rep, err
	}
	layout.SortDescending(sc.items)
	for _, it := range sc.items {
		res := sc.results[sc.index[it.Seq]]
		res.Status = StatusScored
		rep.Items = append(rep.Items, res)
	}
	for _, r := range sc.results {
		if r.Status == StatusSkipped {
			rep.Items = append(rep.Items, r)
		}
	}
	rep.Skipped = len(sc.results) - len(sc.items)
	if len(sc.items) == 0 {
		rep.Outcome = OutcomeEmpty
	}
	rep.Duration = time.Since(start)
	return rep, nil
}

type scored struct {
	results []ItemResult
	items   []layout.Item
	sources map[int]pdfdoc.Source
	index   map[int]int // seq -> position in results
}

// score decodes and evaluates every path, recording a skip for anything unusable.
// With swatch set each scored item also carries its mean colour.
func score(ctx context.Context, logger zerolog.Logger, paths []string, kind imagemetric.Kind, swatch bool) (scored, error) {
	sc := scored{
		items:   make([]layout.Item, 0, len(paths)),
		sources: make(map[int]pdfdoc.Source, len(paths)),
		index:   make(map[int]int, len(paths)),
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return sc, err
		}
		res := ItemResult{Name: filepath.Base(p), Path: p}
		rec, err := imagefile.Decode(p)
		if err != nil {
			sc.results = append(sc.results, skip(logger, res, ReasonDecode, err))
			continue
		}
		metric, err := imagemetric.Evaluate(rec.Image, kind)
		if err != nil {
			sc.results = append(sc.results, skip(logger, res, ReasonMetric, err))
			continue
		}
		seq := len(sc.items)
		res.Metric = metric
		if swatch {
			if c, err := imagemetric.MeanColor(rec.Image); err == nil {
				res.Color = c.Hex()
			}
		}
		sc.items = append(sc.items, layout.Item{Seq: seq, Name: rec.Name, Metric: metric, Width: rec.Width, Height: rec.Height})
		sc.sources[seq] = pdfdoc.Source{Image: rec.Image, Format: rec.Format}
		sc.index[seq] = len(sc.results)
		sc.results = append(sc.results, res)
	}
	return sc, nil
}

// discover lists image candidates in lexicographic order so that metric
// ties resolve the same way on every platform.
func discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &SourceUnavailableError{Path: dir, Err: err}
	}
	// os.ReadDir sorts by filename.
	var out []string
	for _, e := range entries {
		if e.IsDir() || !imagefile.HasImageExt(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

func skip(logger zerolog.Logger, res ItemResult, reason string, err error) ItemResult {
	res.Status = StatusSkipped
	res.Reason = reason
	res.Error = err.Error()
	metrics.IncSkipped(reason)
	logger.Warn().Err(err).Str("file", res.Name).Str("reason", reason).Msg("skipped invalid file")
	return res
}
