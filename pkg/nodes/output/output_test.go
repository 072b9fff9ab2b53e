package output_test

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
	"github.com/dukex/aide/pkg/nodes/output"
	"github.com/dukex/aide/pkg/testutil"
)

func TestNotify_PostsNotification(t *testing.T) {
	received := make(chan output.Notification, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var n output.Notification
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		received <- n

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	node := testutil.CreateTestNode("notify",
		testutil.WithOutputNode(models.OutputNotify),
		testutil.WithConfig(map[string]any{"url": server.URL, "message": "digest for {{ .run.workflow_id }}"}),
	)

	out, err := output.NewNotify(nil).Execute(context.Background(), &capability.Request{
		RunID:        "run-1",
		DefinitionID: "wf",
		Node:         &node,
		Inputs:       map[string]any{"input": map[string]any{"count": 3.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"notified": true, "status_code": http.StatusAccepted}, out)

	n := <-received
	assert.Equal(t, "run-1", n.RunID)
	assert.Equal(t, "digest for wf", n.Message)
	assert.Equal(t, map[string]any{"count": 3.0}, n.Payload)
}

func TestNotify_InvalidURL(t *testing.T) {
	node := testutil.CreateTestNode("notify",
		testutil.WithOutputNode(models.OutputNotify),
		testutil.WithConfig(map[string]any{"url": "not a url"}),
	)

	_, err := output.NewNotify(nil).Execute(context.Background(), &capability.Request{Node: &node})

	var f *capability.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, capability.FailureInvalidInput, f.Kind)
}

func TestNotify_UnreachableIsExternalServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	node := testutil.CreateTestNode("notify",
		testutil.WithOutputNode(models.OutputNotify),
		testutil.WithConfig(map[string]any{"url": server.URL, "retries": map[string]any{"attempts": 2.0, "delay": 1.0}}),
	)

	_, err := output.NewNotify(nil).Execute(context.Background(), &capability.Request{Node: &node})

	var f *capability.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, capability.FailureExternalService, f.Kind)
}

func TestHTTPResponse_Passthrough(t *testing.T) {
	node := testutil.CreateTestNode("resp", testutil.WithOutputNode(models.OutputHTTPResponse))

	out, err := output.HTTPResponse{}.Execute(context.Background(), &capability.Request{
		Node:   &node,
		Inputs: map[string]any{"input": "done"},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}
