// Package controlflow provides the executors of control_flow nodes: fan-out,
// fan-in, join, parallel and branch.
package controlflow

import (
	"context"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/models"
)

// FanOut checks that its items input is an array and emits it. The engine
// expands each element into one execution of the region.
type FanOut struct{}

func (FanOut) Execute(_ context.Context, req *capability.Request) (any, error) {
	v, ok := req.Inputs[models.PortItems]
	if !ok {
		v = req.Input()
	}

	items, ok := v.([]any)
	if !ok {
		return nil, capability.Fail(capability.FailureInvalidInput, "fan-out %s expects an array, got %T", req.Node.ID, v)
	}

	return items, nil
}

// FanIn returns the gathered per-item values. With one input port the result
// is that port's list; with several, item i is an object keyed by port.
type FanIn struct{}

func (FanIn) Execute(_ context.Context, req *capability.Request) (any, error) {
	ports := req.Node.InputPorts()

	lists := make(map[string][]any, len(req.Inputs))
	size := 0

	for name, v := range req.Inputs {
		list, ok := v.([]any)
		if !ok {
			return nil, capability.Fail(capability.FailureInvalidInput, "fan-in %s port %s expects gathered values, got %T", req.Node.ID, name, v)
		}

		lists[name] = list
		size = max(size, len(list))
	}

	if len(ports) <= 1 && len(lists) <= 1 {
		for _, list := range lists {
			return list, nil
		}

		return []any{}, nil
	}

	out := make([]any, size)

	for i := range size {
		item := make(map[string]any, len(ports))

		for _, p := range ports {
			if list := lists[p.Name]; i < len(list) {
				item[p.Name] = list[i]
			}
		}

		out[i] = item
	}

	return out, nil
}

const (
	JoinModeAll   = "all"
	JoinModeFirst = "first"
)

// Join merges its inputs into one object keyed by input port. In "first"
// mode only the first declared port with a value is kept.
type Join struct{}

func (Join) Execute(_ context.Context, req *capability.Request) (any, error) {
	mode, _ := req.Node.Config["mode"].(string)
	if mode == "" {
		mode = JoinModeAll
	}

	switch mode {
	case JoinModeAll:
		merged := make(map[string]any, len(req.Inputs))
		for port, v := range req.Inputs {
			merged[port] = v
		}

		return merged, nil
	case JoinModeFirst:
		for _, p := range req.Node.InputPorts() {
			if v, ok := req.Inputs[p.Name]; ok {
				return map[string]any{p.Name: v}, nil
			}
		}

		return map[string]any{}, nil
	default:
		return nil, capability.Fail(capability.FailureInvalidInput, "unknown join mode: %s", mode)
	}
}

// Parallel forwards its input; the graph's own edges express the parallelism.
type Parallel struct{}

func (Parallel) Execute(_ context.Context, req *capability.Request) (any, error) {
	return req.Input(), nil
}

// Branch is a distinct node type whose routing semantics are not defined.
type Branch struct{}

func (Branch) Execute(_ context.Context, req *capability.Request) (any, error) {
	return nil, capability.Fail(capability.FailureUnsupportedNodeType, "branch node %s is not supported", req.Node.ID)
}

// Register installs every control-flow executor.
func Register(r *capability.Registry) {
	for kind, exec := range map[models.ControlFlowKind]capability.Executor{
		models.ControlFlowFanOut:   FanOut{},
		models.ControlFlowFanIn:    FanIn{},
		models.ControlFlowJoin:     Join{},
		models.ControlFlowParallel: Parallel{},
		models.ControlFlowBranch:   Branch{},
	} {
		r.Register(models.NodeTypeControlFlow, string(kind), exec)
	}
}
