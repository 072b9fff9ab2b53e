// Command aide-scheduler fires schedule triggers and requeues runs whose
// orchestrator lease expired.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/aide/pkg/cmd"
	"github.com/dukex/aide/pkg/scheduler"
)

func main() {
	command := &cli.Command{
		Name:                  "aide-scheduler",
		Usage:                 "Fire schedule triggers",
		EnableShellCompletion: true,
		Flags: append(cmd.Flags(),
			&cli.DurationFlag{
				Name:    "tick",
				Usage:   "How often schedules are checked",
				Value:   scheduler.DefaultTick,
				Sources: cli.EnvVars("SCHEDULER_TICK"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := cmd.NewRuntime(ctx, command, "aide-scheduler")
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			eng, err := rt.Engine()
			if err != nil {
				return err
			}

			s, err := rt.Scheduler(eng, command.Duration("tick"))
			if err != nil {
				return err
			}

			return s.Start(ctx)
		},
	}

	ctx, stop := cmd.SignalContext(context.Background())
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		panic(err)
	}
}
