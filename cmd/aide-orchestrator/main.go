// Command aide-orchestrator drives queued runs to completion.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/aide/pkg/cmd"
)

func main() {
	command := &cli.Command{
		Name:                  "aide-orchestrator",
		Usage:                 "Claim runs and schedule their nodes",
		EnableShellCompletion: true,
		Flags: append(cmd.Flags(),
			&cli.StringFlag{
				Name:    "orchestrator-id",
				Aliases: []string{"id"},
				Usage:   "Custom orchestrator ID (auto-generated if not provided)",
				Sources: cli.EnvVars("ORCHESTRATOR_ID"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := cmd.NewRuntime(ctx, command, "aide-orchestrator")
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			o, err := rt.Orchestrator(command.String("orchestrator-id"))
			if err != nil {
				return err
			}

			return o.Start(ctx)
		},
	}

	ctx, stop := cmd.SignalContext(context.Background())
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		panic(err)
	}
}
