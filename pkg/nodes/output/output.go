// Package output provides the notify and http_response output executors.
// The log output lives in package log.
package output

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/nodes/httprequest"
	"github.com/dukex/aide/pkg/template"
)

// Notification is the JSON document POSTed by notify outputs.
type Notification struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	NodeID     string `json:"node_id"`
	Instance   string `json:"instance,omitempty"`
	Message    string `json:"message,omitempty"`
	Payload    any    `json:"payload"`
}

// Notify POSTs a Notification to config.url.
type Notify struct {
	client   *httprequest.Client
	validate *validator.Validate
}

var _ capability.Executor = (*Notify)(nil)

func NewNotify(client *httprequest.Client) *Notify {
	if client == nil {
		client = httprequest.NewClient()
	}

	return &Notify{client: client, validate: validator.New()}
}

func (n *Notify) Execute(ctx context.Context, req *capability.Request) (any, error) {
	cfg, err := req.Node.OutputConfig()
	if err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "%v", err)
	}

	data := req.TemplateData()

	url, err := template.RenderString(cfg.URL, data)
	if err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "failed to render url: %v", err)
	}

	if err := n.validate.Var(url, "required,http_url"); err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "notify url %q is not a valid http url", url)
	}

	message, err := template.RenderString(cfg.Message, data)
	if err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "failed to render message: %v", err)
	}

	body, err := json.Marshal(Notification{
		RunID:      req.RunID,
		WorkflowID: req.DefinitionID,
		NodeID:     req.Node.ID,
		Instance:   req.Instance.String(),
		Message:    message,
		Payload:    req.Input(),
	})
	if err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "failed to encode notification: %v", err)
	}

	retries := httprequest.RetryConfig{Attempts: 3, Delay: 500}
	if raw, ok := req.Node.Config["retries"].(map[string]any); ok {
		if v, ok := raw["attempts"].(float64); ok {
			retries.Attempts = int(v)
		}

		if v, ok := raw["delay"].(float64); ok {
			retries.Delay = int(v)
		}
	}

	resp, attempts, err := n.client.Do(ctx, httprequest.Request{
		Method:  "POST",
		URL:     url,
		Body:    string(body),
		Timeout: 30 * time.Second,
		Retries: retries,
	})
	if err != nil {
		return nil, capability.Fail(capability.FailureExternalService, "notify failed after %d attempts: %v", attempts, err)
	}

	return map[string]any{
		"notified":    true,
		"status_code": resp.StatusCode,
	}, nil
}

// HTTPResponse forwards its input so that it becomes part of the run output.
type HTTPResponse struct{}

func (HTTPResponse) Execute(_ context.Context, req *capability.Request) (any, error) {
	return req.Input(), nil
}

func Register(r *capability.Registry, client *httprequest.Client) {
	r.Register(models.NodeTypeOutput, string(models.OutputNotify), NewNotify(client))
	r.Register(models.NodeTypeOutput, string(models.OutputHTTPResponse), HTTPResponse{})
}
