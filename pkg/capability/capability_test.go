package capability_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/log"
	"github.com/dukex/aide/pkg/models"
)

func constant(v any) capability.ExecutorFunc {
	return func(context.Context, *capability.Request) (any, error) { return v, nil }
}

func TestRegistry_KindSpecificWinsOverType(t *testing.T) {
	r := capability.NewRegistry(log.Discard())
	r.Register(models.NodeTypeControlFlow, "", constant("generic"))
	r.Register(models.NodeTypeControlFlow, "fan_out", constant("fan-out"))

	fanOut := &models.Node{ID: "F", Type: models.NodeTypeControlFlow, Config: map[string]any{"kind": "fan_out"}}
	join := &models.Node{ID: "J", Type: models.NodeTypeControlFlow, Config: map[string]any{"kind": "join"}}

	out, err := r.Execute(context.Background(), &capability.Request{Node: fanOut})
	require.NoError(t, err)
	assert.Equal(t, "fan-out", out)

	out, err = r.Execute(context.Background(), &capability.Request{Node: join})
	require.NoError(t, err)
	assert.Equal(t, "generic", out)

	assert.Equal(t, []string{"control_flow", "control_flow/fan_out"}, r.Keys())
}

func TestRegistry_UnknownTypeIsUnsupported(t *testing.T) {
	r := capability.NewRegistry(log.Discard())

	_, err := r.Execute(context.Background(), &capability.Request{Node: &models.Node{ID: "x", Type: models.NodeTypeAILayer}})

	var f *capability.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, capability.FailureUnsupportedNodeType, f.Kind)
}

func TestAsFailure(t *testing.T) {
	assert.Nil(t, capability.AsFailure(nil))

	typed := capability.Fail(capability.FailureInvalidInput, "bad %s", "thing")
	assert.Same(t, typed, capability.AsFailure(fmt.Errorf("wrapped: %w", typed)))

	assert.Equal(t, capability.FailureTimeout, capability.AsFailure(context.DeadlineExceeded).Kind)
	assert.Equal(t, capability.FailureExecution, capability.AsFailure(errors.New("boom")).Kind)
}

func TestTimeout(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		want   time.Duration
	}{
		{"missing", nil, time.Minute},
		{"seconds", map[string]any{"timeout": float64(5)}, 5 * time.Second},
		{"duration", map[string]any{"timeout": "250ms"}, 250 * time.Millisecond},
		{"garbage", map[string]any{"timeout": "soon"}, time.Minute},
		{"negative", map[string]any{"timeout": float64(-1)}, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, capability.Timeout(&models.Node{Config: tt.config}, time.Minute))
		})
	}
}

func TestRequest_Input(t *testing.T) {
	assert.Nil(t, (&capability.Request{}).Input())
	assert.Equal(t, 1, (&capability.Request{Inputs: map[string]any{"input": 1, "other": 2}}).Input())
	assert.Equal(t, 3, (&capability.Request{Inputs: map[string]any{"a": 3}}).Input())
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, (&capability.Request{Inputs: map[string]any{"a": 1, "b": 2}}).Input())
}
