// Package ailayer forwards ai_layer executions and memory updates to an
// external AI layer over HTTP.
package ailayer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/nodes/httprequest"
)

const (
	executePath = "/v1/execute"
	memoryPath  = "/v1/memory"
)

// ExecuteRequest is the body POSTed for an ai_layer node.
type ExecuteRequest struct {
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	NodeID     string         `json:"node_id"`
	Instance   string         `json:"instance,omitempty"`
	Config     map[string]any `json:"config"`
	Inputs     map[string]any `json:"inputs"`
}

// MemoryRequest is the body POSTed to derive the next workflow memory.
type MemoryRequest struct {
	WorkflowID     string          `json:"workflow_id"`
	Instructions   string          `json:"instructions"`
	Version        int64           `json:"version"`
	Current        json.RawMessage `json:"current"`
	WorkflowOutput any             `json:"workflow_output"`
}

// Reply is the AI layer's answer. A non-nil Error is reported as a node
// failure of the given kind.
type Reply struct {
	Output any `json:"output"`
	Error  *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Bridge is both the ai_layer executor and a MemoryUpdater. With an empty
// base URL every call fails as unsupported.
type Bridge struct {
	baseURL string
	client  *httprequest.Client
	timeout time.Duration
}

var (
	_ capability.Executor      = (*Bridge)(nil)
	_ capability.MemoryUpdater = (*Bridge)(nil)
)

func NewBridge(baseURL string, client *httprequest.Client) *Bridge {
	if client == nil {
		client = httprequest.NewClient()
	}

	return &Bridge{baseURL: strings.TrimRight(baseURL, "/"), client: client, timeout: 2 * time.Minute}
}

func (b *Bridge) Configured() bool { return b.baseURL != "" }

func (b *Bridge) Execute(ctx context.Context, req *capability.Request) (any, error) {
	return b.call(ctx, executePath, ExecuteRequest{
		RunID:      req.RunID,
		WorkflowID: req.DefinitionID,
		NodeID:     req.Node.ID,
		Instance:   req.Instance.String(),
		Config:     req.Node.Config,
		Inputs:     req.Inputs,
	})
}

func (b *Bridge) Update(ctx context.Context, instructions string, current *models.WorkflowMemory, workflowOutput any) (any, error) {
	body := MemoryRequest{Instructions: instructions, WorkflowOutput: workflowOutput, Current: json.RawMessage("null")}
	if current != nil {
		body.WorkflowID = current.WorkflowID
		body.Version = current.Version
		body.Current = current.Data
	}

	return b.call(ctx, memoryPath, body)
}

func (b *Bridge) call(ctx context.Context, path string, body any) (any, error) {
	if !b.Configured() {
		return nil, capability.Fail(capability.FailureUnsupportedNodeType, "no AI layer configured")
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "failed to encode request: %v", err)
	}

	resp, _, err := b.client.Do(ctx, httprequest.Request{
		Method:  "POST",
		URL:     b.baseURL + path,
		Body:    string(raw),
		Timeout: b.timeout,
		Retries: httprequest.RetryConfig{Attempts: 1},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, capability.Fail(capability.FailureTimeout, "AI layer call interrupted: %v", err)
		}

		return nil, capability.Fail(capability.FailureExternalService, "AI layer call failed: %v", err)
	}

	var reply Reply
	if err := json.Unmarshal([]byte(resp.Body), &reply); err != nil {
		return nil, capability.Fail(capability.FailureExternalService, "AI layer returned an undecodable reply: %v", err)
	}

	if reply.Error != nil {
		kind := capability.FailureKind(reply.Error.Kind)
		if kind == "" {
			kind = capability.FailureExternalService
		}

		return nil, &capability.Failure{Kind: kind, Message: fmt.Sprintf("AI layer: %s", reply.Error.Message)}
	}

	return reply.Output, nil
}

func Register(r *capability.Registry, bridge *Bridge) {
	r.Register(models.NodeTypeAILayer, "", bridge)
}
