package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/local/pagesort/internal/builder"
	"github.com/local/pagesort/internal/cli"
)

var (
	version = "dev"
	commit  = ""
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli.SetVersion(version, commit)
	err := cli.Execute(ctx, os.Args[1:])
	if err != nil && !errors.Is(err, builder.ErrNoValidImages) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cli.ExitCode(err))
}
