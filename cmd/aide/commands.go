package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/dukex/aide/pkg/cmd"
	"github.com/dukex/aide/pkg/engine"
	"github.com/dukex/aide/pkg/models"
)

var errMissingArgument = errors.New("missing argument")

var payloadFlag = &cli.StringFlag{
	Name:  "payload",
	Usage: "JSON payload handed to the trigger",
}

// withEngine opens a runtime for one-shot commands. Runs queued from here
// are only picked up by orchestrators sharing a Kafka queue.
func withEngine(ctx context.Context, command *cli.Command, fn func(*engine.Engine) error) error {
	rt, err := cmd.NewRuntime(ctx, command, "aide-cli")
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	eng, err := rt.Engine()
	if err != nil {
		return err
	}

	return fn(eng)
}

func parsePayload(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	return v, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// readDefinition decodes a YAML or JSON definition file.
func readDefinition(path string) (*models.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var def models.Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return &def, nil
}

func definitionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "definitions",
		Aliases: []string{"defs"},
		Usage:   "Manage workflow definitions",
		Commands: []*cli.Command{
			{
				Name:  "apply",
				Usage: "Validate and save a definition file as a new version",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Definition file (YAML or JSON)",
						Required: true,
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					def, err := readDefinition(command.String("file"))
					if err != nil {
						return err
					}

					return withEngine(ctx, command, func(eng *engine.Engine) error {
						saved, changes, err := eng.SaveDefinition(ctx, def)
						if err != nil {
							return err
						}

						return printJSON(map[string]any{
							"id":      saved.ID,
							"version": saved.Version,
							"added":   len(changes.Added),
							"updated": len(changes.Updated),
							"deleted": len(changes.Deleted),
						})
					})
				},
			},
			{
				Name:      "get",
				Usage:     "Print the latest version of a definition",
				ArgsUsage: "<workflow-id>",
				Action: func(ctx context.Context, command *cli.Command) error {
					id := command.Args().First()
					if id == "" {
						return fmt.Errorf("%w: workflow id", errMissingArgument)
					}

					return withEngine(ctx, command, func(eng *engine.Engine) error {
						def, err := eng.Definition(ctx, id)
						if err != nil {
							return err
						}

						return printJSON(def)
					})
				},
			},
		},
	}
}

func fireCommand() *cli.Command {
	return &cli.Command{
		Name:      "fire",
		Usage:     "Fire a trigger",
		ArgsUsage: "<trigger-id>",
		Flags:     []cli.Flag{payloadFlag},
		Action: func(ctx context.Context, command *cli.Command) error {
			id := command.Args().First()
			if id == "" {
				return fmt.Errorf("%w: trigger id", errMissingArgument)
			}

			payload, err := parsePayload(command.String("payload"))
			if err != nil {
				return err
			}

			return withEngine(ctx, command, func(eng *engine.Engine) error {
				runID, err := eng.Fire(ctx, id, payload)
				if err != nil {
					return err
				}

				return printJSON(map[string]string{"run_id": runID})
			})
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Start a manual run of a workflow",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			payloadFlag,
			&cli.StringFlag{
				Name:  "node",
				Usage: "Manual trigger node (defaults to the only one)",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			id := command.Args().First()
			if id == "" {
				return fmt.Errorf("%w: workflow id", errMissingArgument)
			}

			payload, err := parsePayload(command.String("payload"))
			if err != nil {
				return err
			}

			return withEngine(ctx, command, func(eng *engine.Engine) error {
				runID, err := eng.StartManual(ctx, id, command.String("node"), payload)
				if err != nil {
					return err
				}

				return printJSON(map[string]string{"run_id": runID})
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Print the status of a run",
		ArgsUsage: "<run-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id := command.Args().First()
			if id == "" {
				return fmt.Errorf("%w: run id", errMissingArgument)
			}

			return withEngine(ctx, command, func(eng *engine.Engine) error {
				report, err := eng.Status(ctx, id)
				if err != nil {
					return err
				}

				return printJSON(report)
			})
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Request cancellation of a run",
		ArgsUsage: "<run-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "reason",
				Usage: "Recorded cancellation reason",
				Value: "cancelled from cli",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			id := command.Args().First()
			if id == "" {
				return fmt.Errorf("%w: run id", errMissingArgument)
			}

			return withEngine(ctx, command, func(eng *engine.Engine) error {
				return eng.Cancel(ctx, id, command.String("reason"))
			})
		},
	}
}
