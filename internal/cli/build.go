package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/local/pagesort/internal/builder"
	"github.com/local/pagesort/internal/config"
	"github.com/local/pagesort/internal/pdfdoc"
	"github.com/local/pagesort/internal/preview"
)

// buildOpts holds the command-line flags for the build command.
type buildOpts struct {
	output      string
	sortBy      string
	maxWidth    float64
	maxHeight   float64
	layoutFile  string
	upscale     bool
	embedDPI    float64
	previewPath string
	previewPage int
}

func newBuildCmd() *cobra.Command {
	opts := buildOpts{output: "sorted_images.pdf", previewPage: 1}

	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Sort the images in a directory into a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", opts.output, "output PDF path")
	f.StringVar(&opts.sortBy, "sort-by", "", "metric to sort by: brightness or saturation (default from DEFAULT_SORT_BY)")
	f.Float64Var(&opts.maxWidth, "max-width", 0, "bounding box width in page units")
	f.Float64Var(&opts.maxHeight, "max-height", 0, "bounding box height in page units")
	f.StringVar(&opts.layoutFile, "config", "", "TOML layout file")
	f.BoolVar(&opts.upscale, "upscale", false, "enlarge small images to the bounding box")
	f.Float64Var(&opts.embedDPI, "embed-dpi", 0, "downsample embedded images to this DPI (0 keeps source pixels)")
	f.StringVar(&opts.previewPath, "preview", "", "also render a JPEG preview of one page")
	f.IntVar(&opts.previewPage, "preview-page", opts.previewPage, "page to preview (1-based)")
	return cmd
}

func runBuild(cmd *cobra.Command, dir string, opts buildOpts) error {
	cfg := config.FromEnv()
	lay := cfg.Layout.Page
	if opts.layoutFile != "" {
		var err error
		if lay, err = config.LoadLayoutFile(opts.layoutFile, lay); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("max-width") {
		lay.MaxWidth = opts.maxWidth
	}
	if flags.Changed("max-height") {
		lay.MaxHeight = opts.maxHeight
	}
	if flags.Changed("upscale") {
		lay.Upscale = opts.upscale
	}
	embedDPI := cfg.Layout.EmbedDPI
	if flags.Changed("embed-dpi") {
		embedDPI = opts.embedDPI
	}
	sortBy := opts.sortBy
	if sortBy == "" {
		sortBy = cfg.Layout.DefaultSortBy
	}

	bo := builder.Options{
		Metric: sortBy,
		Layout: lay,
		Embed: pdfdoc.Options{
			EmbedDPI:    embedDPI,
			JPEGQuality: cfg.Layout.JPEGQuality,
			Title:       "Sorted images",
			Creator:     "pagesort " + version,
		},
	}
	rep, err := builder.Build(cmd.Context(), dir, opts.output, bo)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, it := range rep.Items {
		if it.Status == builder.StatusSkipped {
			fmt.Fprintf(out, "skipped %s (%s): %s\n", it.Name, it.Reason, it.Error)
		}
	}
	if rep.MetricFallback {
		fmt.Fprintf(out, "unknown metric %q, sorted by %s\n", rep.RequestedMetric, rep.Metric)
	}
	if rep.Empty() {
		fmt.Fprintln(cmd.ErrOrStderr(), "no valid images")
		return builder.ErrNoValidImages
	}
	fmt.Fprintf(out, "wrote %s: %d images on %d pages, sorted by %s (%d skipped)\n",
		rep.Artifact, rep.Placed, rep.Pages, rep.Metric, rep.Skipped)

	if opts.previewPath != "" {
		if err := preview.WriteJPEG(rep.Artifact, opts.previewPage, opts.previewPath, preview.DefaultOptions()); err != nil {
			return fmt.Errorf("preview: %w", err)
		}
		fmt.Fprintf(out, "preview of page %d: %s\n", opts.previewPage, opts.previewPath)
	}
	return nil
}
