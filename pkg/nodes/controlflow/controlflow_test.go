package controlflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/log"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/nodes/controlflow"
	"github.com/dukex/aide/pkg/testutil"
)

func request(node models.Node, inputs map[string]any) *capability.Request {
	return &capability.Request{Node: &node, Inputs: inputs}
}

func failureKind(t *testing.T, err error) capability.FailureKind {
	t.Helper()

	var f *capability.Failure
	require.ErrorAs(t, err, &f)

	return f.Kind
}

func TestFanOut(t *testing.T) {
	node := testutil.CreateTestNode("F", testutil.WithFanOut())

	out, err := controlflow.FanOut{}.Execute(context.Background(), request(node, map[string]any{"items": []any{1.0, 2.0}}))
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, out)

	_, err = controlflow.FanOut{}.Execute(context.Background(), request(node, map[string]any{"items": "nope"}))
	assert.Equal(t, capability.FailureInvalidInput, failureKind(t, err))
}

func TestFanIn_SinglePort(t *testing.T) {
	node := testutil.CreateTestNode("J", testutil.WithFanIn("F"))

	out, err := controlflow.FanIn{}.Execute(context.Background(), request(node, map[string]any{"item": []any{"a", "b"}}))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)

	out, err = controlflow.FanIn{}.Execute(context.Background(), request(node, nil))
	require.NoError(t, err)
	assert.Equal(t, []any{}, out)
}

func TestFanIn_SeveralPortsZipByItem(t *testing.T) {
	node := testutil.CreateTestNode("J", testutil.WithFanIn("F", "left", "right"))

	out, err := controlflow.FanIn{}.Execute(context.Background(), request(node, map[string]any{
		"left":  []any{1.0, 2.0},
		"right": []any{"x"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"left": 1.0, "right": "x"},
		map[string]any{"left": 2.0},
	}, out)
}

func TestJoin(t *testing.T) {
	ports := testutil.WithInputs(models.Port{Name: "a"}, models.Port{Name: "b"})

	node := testutil.CreateTestNode("J", testutil.WithType(models.NodeTypeControlFlow, "join"), ports)
	out, err := controlflow.Join{}.Execute(context.Background(), request(node, map[string]any{"a": 1.0, "b": 2.0}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, out)

	first := testutil.CreateTestNode("J", testutil.WithType(models.NodeTypeControlFlow, "join"), ports, testutil.WithConfig(map[string]any{"mode": "first"}))
	out, err = controlflow.Join{}.Execute(context.Background(), request(first, map[string]any{"b": 2.0}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": 2.0}, out)

	bad := testutil.CreateTestNode("J", testutil.WithType(models.NodeTypeControlFlow, "join"), testutil.WithConfig(map[string]any{"mode": "any"}))
	_, err = controlflow.Join{}.Execute(context.Background(), request(bad, nil))
	assert.Equal(t, capability.FailureInvalidInput, failureKind(t, err))
}

func TestBranchIsUnsupported(t *testing.T) {
	r := capability.NewRegistry(log.Discard())
	controlflow.Register(r)

	node := testutil.CreateTestNode("B", testutil.WithType(models.NodeTypeControlFlow, "branch"))
	_, err := r.Execute(context.Background(), request(node, map[string]any{"input": true}))
	assert.Equal(t, capability.FailureUnsupportedNodeType, failureKind(t, err))

	par := testutil.CreateTestNode("P", testutil.WithType(models.NodeTypeControlFlow, "parallel"))
	out, err := r.Execute(context.Background(), request(par, map[string]any{"input": "v"}))
	require.NoError(t, err)
	assert.Equal(t, "v", out)
}
