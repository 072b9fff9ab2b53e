// Package log provides the output log node, which writes a rendered message
// to the worker's structured logger.
package log

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/template"
)

// LogLevel represents different logging levels.
type LogLevel int

const (
	Debug LogLevel = iota
	Info
	Warn
	Error
)

var logLevelName = map[LogLevel]string{
	Debug: "debug",
	Info:  "info",
	Warn:  "warn",
	Error: "error",
}

// Node logs config.message, rendered against the execution inputs. Without a
// message the input itself is logged as JSON.
type Node struct {
	fallback *slog.Logger
}

var _ capability.Executor = (*Node)(nil)

func New(logger *slog.Logger) *Node {
	return &Node{fallback: logger}
}

func (n *Node) Execute(ctx context.Context, req *capability.Request) (any, error) {
	cfg, err := req.Node.OutputConfig()
	if err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "%v", err)
	}

	message, err := n.message(cfg.Message, req)
	if err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "failed to render log message template: %v", err)
	}

	level := cfg.Level
	if level == "" {
		level = logLevelName[Info]
	}

	logger := req.Logger
	if logger == nil {
		logger = n.fallback
	}

	logger = logger.With("node_id", req.Node.ID, "node_type", "log", "run_id", req.RunID)

	switch level {
	case logLevelName[Debug]:
		logger.DebugContext(ctx, message)
	case logLevelName[Warn]:
		logger.WarnContext(ctx, message)
	case logLevelName[Error]:
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	return map[string]any{
		"message": message,
		"level":   level,
		"logged":  true,
	}, nil
}

func (n *Node) message(tmpl string, req *capability.Request) (string, error) {
	if tmpl != "" {
		return template.RenderString(tmpl, req.TemplateData())
	}

	raw, err := json.Marshal(req.Input())
	if err != nil {
		return "", fmt.Errorf("failed to encode input: %w", err)
	}

	return string(raw), nil
}

// Register installs the log executor for output nodes of kind log.
func Register(r *capability.Registry, logger *slog.Logger) {
	r.Register(models.NodeTypeOutput, string(models.OutputLog), New(logger))
}
