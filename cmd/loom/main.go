package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"loomci.dev/loom/log"
	"loomci.dev/loom/loom"
)

func main() {
	cmd := &cli.Command{
		Name:  "loom",
		Usage: "a small CI pipeline runner",
		Commands: []*cli.Command{
			loom.Command(),
			loom.ExecCommand(),
		},
	}

	ctx := context.Background()
	logger := log.New("loom")
	ctx = log.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
