package main

import (
	"context"
	"strconv"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/aide/pkg/cmd"
	"github.com/dukex/aide/pkg/scheduler"
	"github.com/dukex/aide/pkg/web"
)

func devCommand() *cli.Command {
	return &cli.Command{
		Name:  "dev",
		Usage: "Run the API, an orchestrator, a worker and the scheduler in one process",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   9091,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of concurrent work item handlers",
				Value: 2,
			},
			&cli.DurationFlag{
				Name:  "tick",
				Usage: "How often schedules are checked",
				Value: scheduler.DefaultTick,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := cmd.NewRuntime(ctx, command, "aide")
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			eng, err := rt.Engine()
			if err != nil {
				return err
			}

			app, err := rt.API()
			if err != nil {
				return err
			}

			o, err := rt.Orchestrator("")
			if err != nil {
				return err
			}

			s, err := rt.Scheduler(eng, command.Duration("tick"))
			if err != nil {
				return err
			}

			// The in-memory queue broadcasts every item to every
			// subscription, so all handlers share one worker.
			w, err := rt.Worker("", int(command.Int("workers")))
			if err != nil {
				return err
			}

			components := []func(context.Context) error{o.Start, s.Start, w.Start}

			addr := ":" + strconv.Itoa(int(command.Int("port")))
			components = append(components, func(ctx context.Context) error {
				return web.Serve(ctx, app, addr)
			})

			rt.Logger.InfoContext(ctx, "aide dev started", "addr", addr, "workers", command.Int("workers"))

			return cmd.RunAll(ctx, components...)
		},
	}
}
