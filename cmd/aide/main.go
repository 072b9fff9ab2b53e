// Command aide runs every component in one process for development and
// manages definitions and runs from the command line.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/aide/pkg/cmd"
)

func main() {
	command := &cli.Command{
		Name:                  "aide",
		Usage:                 "Durable workflow engine",
		EnableShellCompletion: true,
		Flags:                 cmd.Flags(),
		Commands: []*cli.Command{
			devCommand(),
			definitionsCommand(),
			fireCommand(),
			runCommand(),
			statusCommand(),
			cancelCommand(),
		},
	}

	ctx, stop := cmd.SignalContext(context.Background())
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
