// Package cli implements the pagesort command-line interface.
//
// The commands are:
//   - build: sort a directory of images into a PDF
//   - score: print each image's metric in sorted order
//
// All commands support --verbose (-v) for debug-level logging on stderr.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/local/pagesort/internal/builder"
	"github.com/local/pagesort/internal/config"
	"github.com/local/pagesort/internal/logger"
)

var (
	version = "dev"
	commit  string
)

// SetVersion sets the version information displayed by --version.
func SetVersion(v, c string) {
	version = v
	commit = c
}

// ExitCode maps an Execute error onto a process exit status.
// An empty batch exits 2 so scripts can tell it apart from a failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, builder.ErrNoValidImages):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	}
	return 1
}

// Execute runs the CLI with args and returns the first command error.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "pagesort",
		Short:         "Sort images by brightness or saturation into a PDF",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			level := "info"
			if verbose {
				level = "debug"
			}
			return logger.Init(logger.Options{Level: level, Pretty: true, Console: stderr, Service: "pagesort-cli"})
		},
	}
	if commit != "" {
		root.SetVersionTemplate(fmt.Sprintf("pagesort %s\ncommit: %s\n", version, commit))
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newBuildCmd())
	root.AddCommand(newScoreCmd())
	return root
}
