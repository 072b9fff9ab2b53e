// Command aide-worker executes node work items.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/aide/pkg/cmd"
)

func main() {
	command := &cli.Command{
		Name:                  "aide-worker",
		Usage:                 "Start workers to execute workflow nodes",
		EnableShellCompletion: true,
		Flags: append(cmd.Flags(),
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Number of work items handled at once",
				Value:   1,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := cmd.NewRuntime(ctx, command, "aide-worker")
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			w, err := rt.Worker(command.String("worker-id"), int(command.Int("concurrency")))
			if err != nil {
				return err
			}

			return w.Start(ctx)
		},
	}

	ctx, stop := cmd.SignalContext(context.Background())
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		panic(err)
	}
}
