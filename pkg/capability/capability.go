// Package capability defines how node executions are dispatched to the code
// that performs them, and the failure taxonomy reported back to the
// orchestrator.
package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/aide/pkg/models"
)

type FailureKind string

const (
	FailureInvalidInput           FailureKind = "invalid_input"
	FailureExecution              FailureKind = "execution_failed"
	FailureUnsupportedNodeType    FailureKind = "unsupported_node_type"
	FailureExternalService        FailureKind = "external_service_error"
	FailureTimeout                FailureKind = "timeout"
	FailureOutputValidationFailed FailureKind = "output_validation_failed"
)

// Failure is the typed result of a node execution that did not produce an
// output. It is recorded as NodeFailed, never raised.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func Fail(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsFailure classifies err. Deadline errors become timeouts; anything
// untyped is an execution failure.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailureTimeout, Message: err.Error()}
	}

	return &Failure{Kind: FailureExecution, Message: err.Error()}
}

// Request carries one execution to an executor. Inputs holds the resolved
// value of every connected input port; fan-in ports hold a []any.
type Request struct {
	RunID             string
	DefinitionID      string
	DefinitionVersion int
	Node              *models.Node
	Instance          models.Instance
	Inputs            map[string]any
	Logger            *slog.Logger
}

// Input returns the value of the single connected input, or the named port
// when several are connected.
func (r *Request) Input() any {
	if v, ok := r.Inputs[models.PortInput]; ok {
		return v
	}

	if len(r.Inputs) == 1 {
		for _, v := range r.Inputs {
			return v
		}
	}

	if len(r.Inputs) == 0 {
		return nil
	}

	return r.Inputs
}

// TemplateData is what config templates of a node are rendered against.
func (r *Request) TemplateData() map[string]any {
	return map[string]any{
		"input":  r.Input(),
		"inputs": r.Inputs,
		"run": map[string]any{
			"id":          r.RunID,
			"workflow_id": r.DefinitionID,
			"version":     r.DefinitionVersion,
			"node_id":     r.Node.ID,
			"instance":    r.Instance.String(),
		},
	}
}

// Executor performs one node execution. A multi-port node returns a map
// keyed by output port name.
type Executor interface {
	Execute(ctx context.Context, req *Request) (any, error)
}

type ExecutorFunc func(ctx context.Context, req *Request) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// MemoryUpdater derives the next workflow memory from the current one and
// the output that reached the record node.
type MemoryUpdater interface {
	Update(ctx context.Context, instructions string, current *models.WorkflowMemory, workflowOutput any) (any, error)
}

// StoreOutput is the MemoryUpdater that keeps the workflow output verbatim.
type StoreOutput struct{}

func (StoreOutput) Update(_ context.Context, _ string, _ *models.WorkflowMemory, workflowOutput any) (any, error) {
	return workflowOutput, nil
}

// Timeout reads config["timeout"] as seconds or a duration string.
func Timeout(node *models.Node, fallback time.Duration) time.Duration {
	switch v := node.Config["timeout"].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}

	return fallback
}
