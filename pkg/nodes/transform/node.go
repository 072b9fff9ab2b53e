// Package transform provides the transform node executor. Expressions are
// not evaluated; the node forwards its input unchanged.
package transform

import (
	"context"

	"github.com/dukex/aide/pkg/capability"
)

// Passthrough returns the value of the connected input, or a map keyed by
// port when several inputs are connected.
type Passthrough struct{}

var _ capability.Executor = Passthrough{}

func New() Passthrough {
	return Passthrough{}
}

func (Passthrough) Execute(_ context.Context, req *capability.Request) (any, error) {
	return req.Input(), nil
}
