package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/aide/pkg/blobs"
	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

// resolveInputs materialises every input reference. Missing blobs and
// malformed references are node failures; storage errors are returned as
// plain errors.
func (w *Worker) resolveInputs(ctx context.Context, node *models.Node, refs map[string]models.InputRef) (map[string]any, error) {
	cache := make(map[string]any)
	inputs := make(map[string]any, len(refs))

	for port, ref := range refs {
		// An empty gather does not survive the wire encoding.
		if node.IsFanIn() && ref.Key == "" && ref.Gather == nil {
			ref.Gather = []models.InputRef{}
		}

		v, err := w.resolve(ctx, cache, ref)
		if err != nil {
			return nil, err
		}

		inputs[port] = v
	}

	if node.IsFanIn() {
		return inputs, nil
	}

	for _, p := range node.InputPorts() {
		if _, ok := inputs[p.Name]; p.Required && !ok {
			return nil, capability.Fail(capability.FailureInvalidInput, "required input %s has no value", p.Name)
		}
	}

	return inputs, nil
}

func (w *Worker) resolve(ctx context.Context, cache map[string]any, ref models.InputRef) (any, error) {
	if ref.Gather != nil {
		out := make([]any, 0, len(ref.Gather))

		for _, g := range ref.Gather {
			v, err := w.resolve(ctx, cache, g)
			if err != nil {
				return nil, err
			}

			out = append(out, v)
		}

		return out, nil
	}

	v, ok := cache[ref.Key]
	if !ok {
		var err error

		v, err = blobs.Read(ctx, w.blobs, ref.Key)
		if errors.Is(err, persistence.ErrBlobNotFound) {
			return nil, capability.Fail(capability.FailureInvalidInput, "input blob %s is missing", ref.Key)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read input %s: %w", ref.Key, err)
		}

		cache[ref.Key] = v
	}

	if ref.Port != "" {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, capability.Fail(capability.FailureInvalidInput, "output %s has no port %s", ref.Key, ref.Port)
		}

		v = obj[ref.Port]
	}

	if ref.Index != nil {
		items, ok := v.([]any)
		if !ok || *ref.Index < 0 || *ref.Index >= len(items) {
			return nil, capability.Fail(capability.FailureInvalidInput, "output %s has no item %d", ref.Key, *ref.Index)
		}

		v = items[*ref.Index]
	}

	return v, nil
}
