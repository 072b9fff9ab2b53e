// Command aide-api serves the workflow HTTP API.
package main

import (
	"context"
	"os"
	"strconv"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/aide/pkg/cmd"
	"github.com/dukex/aide/pkg/web"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "aide-api",
		Usage:                 "Save workflows, fire triggers and query runs over HTTP",
		EnableShellCompletion: true,
		Flags: append(cmd.Flags(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "events-topic",
				Usage:   "Kafka topic of integration events to consume (disabled when empty)",
				Sources: cli.EnvVars("EVENTS_TOPIC"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := cmd.NewRuntime(ctx, command, "aide-api")
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			app, err := rt.API()
			if err != nil {
				return err
			}

			port := int(command.Int("port"))
			rt.Logger.InfoContext(ctx, "starting API server", "port", port)

			components := []func(context.Context) error{
				func(ctx context.Context) error { return web.Serve(ctx, app, ":"+strconv.Itoa(port)) },
			}

			if topic := command.String("events-topic"); topic != "" {
				eng, err := rt.Engine()
				if err != nil {
					return err
				}

				r, err := rt.Receiver(eng, topic)
				if err != nil {
					return err
				}

				components = append(components, r.Start)
			}

			return cmd.RunAll(ctx, components...)
		},
	}

	ctx, stop := cmd.SignalContext(context.Background())
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		panic(err)
	}
}
