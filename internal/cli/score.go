package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/local/pagesort/internal/builder"
	"github.com/local/pagesort/internal/config"
)

func newScoreCmd() *cobra.Command {
	var sortBy string

	cmd := &cobra.Command{
		Use:   "score <dir>",
		Short: "Print each image's metric, highest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sortBy == "" {
				sortBy = config.FromEnv().Layout.DefaultSortBy
			}
			rep, err := builder.Score(cmd.Context(), args[0], sortBy)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "FILE\t%s\tCOLOR\tNOTE\n", rep.Metric)
			for _, it := range rep.Items {
				if it.Status == builder.StatusSkipped {
					fmt.Fprintf(tw, "%s\t-\t-\t%s: %s\n", it.Name, it.Reason, it.Error)
					continue
				}
				fmt.Fprintf(tw, "%s\t%.2f\t%s\t\n", it.Name, it.Metric, it.Color)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort-by", "", "metric: brightness or saturation")
	return cmd
}
