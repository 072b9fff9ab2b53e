package worker

import (
	"github.com/dukex/aide/pkg/blobs"
	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence/cached"
)

// checkOutput normalises an executor's output and validates it against the
// node's output port schemas. A fan-out's items are additionally checked
// against the input schema of every direct child, so each item is validated
// once per child edge. The item count is returned for fan-outs.
func (w *Worker) checkOutput(def *cached.Analyzed, node *models.Node, out any) (any, int, *capability.Failure) {
	value, err := blobs.Normalize(out)
	if err != nil {
		return nil, 0, capability.Fail(capability.FailureOutputValidationFailed, "output of %s is not JSON encodable: %v", node.ID, err)
	}

	ports := node.OutputPorts()

	if node.IsFanOut() {
		items, ok := value.([]any)
		if !ok {
			return nil, 0, capability.Fail(capability.FailureOutputValidationFailed, "fan-out %s produced %T, not an array", node.ID, value)
		}

		if f := w.checkItems(def, node, ports, items); f != nil {
			return nil, 0, f
		}

		return items, len(items), nil
	}

	switch len(ports) {
	case 0:
		return value, 0, nil
	case 1:
		if err := w.validator.Validate(ports[0].Schema, value); err != nil {
			return nil, 0, capability.Fail(capability.FailureOutputValidationFailed, "output %s of %s: %v", ports[0].Name, node.ID, err)
		}

		return value, 0, nil
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return nil, 0, capability.Fail(capability.FailureOutputValidationFailed, "%s has several output ports but produced %T, not an object", node.ID, value)
	}

	for _, p := range ports {
		v, ok := obj[p.Name]
		if !ok {
			continue
		}

		if err := w.validator.Validate(p.Schema, v); err != nil {
			return nil, 0, capability.Fail(capability.FailureOutputValidationFailed, "output %s of %s: %v", p.Name, node.ID, err)
		}
	}

	return value, 0, nil
}

func (w *Worker) checkItems(def *cached.Analyzed, node *models.Node, ports []models.Port, items []any) *capability.Failure {
	for _, p := range ports {
		for i, item := range items {
			if err := w.validator.Validate(p.Schema, item); err != nil {
				return capability.Fail(capability.FailureOutputValidationFailed, "item %d of %s: %v", i, node.ID, err)
			}
		}
	}

	for _, e := range def.Analysis.Graph.Outgoing(node.ID) {
		childID, port := e.Target()

		child, ok := def.Analysis.Graph.Node(childID)
		if !ok {
			continue
		}

		accepted, ok := child.InputPort(port)
		if !ok {
			continue
		}

		for i, item := range items {
			if err := w.validator.Validate(accepted.Schema, item); err != nil {
				return capability.Fail(capability.FailureOutputValidationFailed, "item %d of %s does not fit %s:%s: %v", i, node.ID, childID, port, err)
			}
		}
	}

	return nil
}
