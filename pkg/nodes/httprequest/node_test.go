package httprequest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/testutil"
)

func httpNode(config map[string]any) *models.Node {
	config["kind"] = Kind
	node := testutil.CreateTestNode("call", testutil.WithType(models.NodeTypeIntegration, ""), testutil.WithConfig(config))

	return &node
}

func failure(t *testing.T, err error) *capability.Failure {
	t.Helper()

	var f *capability.Failure
	require.ErrorAs(t, err, &f)

	return f
}

func TestNode_Execute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/42", r.URL.Path)
		assert.Equal(t, "token-42", r.Header.Get("X-Token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message": "success"}`))
	}))
	defer server.Close()

	node := httpNode(map[string]any{
		"url":     server.URL + "/users/{{ .input.id }}",
		"headers": map[string]any{"X-Token": "token-{{ .input.id }}"},
	})

	out, err := New(nil).Execute(context.Background(), &capability.Request{
		Node:   node,
		Inputs: map[string]any{"input": map[string]any{"id": 42}},
	})
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, 200, result["status_code"])
	assert.Equal(t, map[string]any{"message": "success"}, result["json"])
}

func TestNode_Execute_PostsInputAsJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	out, err := New(nil).Execute(context.Background(), &capability.Request{
		Node:   httpNode(map[string]any{"url": server.URL, "method": "post"}),
		Inputs: map[string]any{"input": map[string]any{"a": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, out.(map[string]any)["status_code"])
}

func TestNode_Execute_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	out, err := New(nil).Execute(context.Background(), &capability.Request{
		Node: httpNode(map[string]any{"url": server.URL, "retries": map[string]any{"attempts": 3, "delay": 1}}),
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.(map[string]any)["body"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestNode_Execute_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := New(nil).Execute(context.Background(), &capability.Request{
		Node: httpNode(map[string]any{"url": server.URL, "retries": map[string]any{"attempts": 5, "delay": 1}}),
	})

	f := failure(t, err)
	assert.Equal(t, capability.FailureExternalService, f.Kind)
	assert.Contains(t, f.Message, "HTTP 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
	}{
		{"missing url", map[string]any{}},
		{"bad method", map[string]any{"url": "http://x", "method": "FETCH"}},
		{"timeout too large", map[string]any{"url": "http://x", "timeout": 301}},
		{"too many attempts", map[string]any{"url": "http://x", "retries": map[string]any{"attempts": 11}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(httpNode(tt.config))
			require.Error(t, err)

			_, err = New(nil).Execute(context.Background(), &capability.Request{Node: httpNode(tt.config)})
			assert.Equal(t, capability.FailureInvalidInput, failure(t, err).Kind)
		})
	}
}
