package ailayer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/nodes/ailayer"
	"github.com/dukex/aide/pkg/testutil"
)

func aiNode() *models.Node {
	node := testutil.CreateTestNode("summarize", testutil.WithType(models.NodeTypeAILayer, ""), testutil.WithConfig(map[string]any{"prompt": "summarize"}))

	return &node
}

func TestBridge_Unconfigured(t *testing.T) {
	_, err := ailayer.NewBridge("", nil).Execute(context.Background(), &capability.Request{Node: aiNode()})

	var f *capability.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, capability.FailureUnsupportedNodeType, f.Kind)
}

func TestBridge_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/execute", r.URL.Path)

		var req ailayer.ExecuteRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "summarize", req.NodeID)
		assert.Equal(t, "summarize", req.Config["prompt"])

		_, _ = w.Write([]byte(`{"output": {"summary": "short"}}`))
	}))
	defer server.Close()

	out, err := ailayer.NewBridge(server.URL+"/", nil).Execute(context.Background(), &capability.Request{
		RunID:  "r",
		Node:   aiNode(),
		Inputs: map[string]any{"input": "long text"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"summary": "short"}, out)
}

func TestBridge_ReportedFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": {"kind": "invalid_input", "message": "empty text"}}`))
	}))
	defer server.Close()

	_, err := ailayer.NewBridge(server.URL, nil).Execute(context.Background(), &capability.Request{Node: aiNode()})

	var f *capability.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, capability.FailureInvalidInput, f.Kind)
	assert.Contains(t, f.Message, "empty text")
}

func TestBridge_UpdateMemory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/memory", r.URL.Path)

		var req ailayer.MemoryRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "keep the last three", req.Instructions)
		assert.Equal(t, int64(4), req.Version)
		assert.JSONEq(t, `["a"]`, string(req.Current))

		_, _ = w.Write([]byte(`{"output": ["a", "b"]}`))
	}))
	defer server.Close()

	out, err := ailayer.NewBridge(server.URL, nil).Update(context.Background(), "keep the last three",
		&models.WorkflowMemory{WorkflowID: "wf", Version: 4, Data: json.RawMessage(`["a"]`)}, "b")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}
