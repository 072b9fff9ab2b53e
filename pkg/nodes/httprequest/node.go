package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/template"
)

// Kind is the integration kind served by Node.
const Kind = "http"

// Config defines the configuration for integration http nodes. Timeout is
// in seconds; URL, body and header values are templates.
type Config struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
	Timeout int               `json:"timeout"`
	Retries RetryConfig       `json:"retries"`
}

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true, http.MethodDelete: true,
	http.MethodPatch: true, http.MethodHead: true, http.MethodOptions: true,
}

func ParseConfig(node *models.Node) (Config, error) {
	cfg := Config{
		Method:  http.MethodGet,
		Headers: make(map[string]string),
		Timeout: 30,
		Retries: RetryConfig{Attempts: 1},
	}

	if err := node.DecodeConfig(&cfg); err != nil {
		return cfg, err
	}

	cfg.Method = strings.ToUpper(cfg.Method)

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("missing required field 'url'")
	}

	if !validMethods[c.Method] {
		return fmt.Errorf("invalid HTTP method: %s", c.Method)
	}

	if c.Timeout < 1 || c.Timeout > 300 {
		return errors.New("timeout must be between 1 and 300 seconds")
	}

	if c.Retries.Attempts < 1 || c.Retries.Attempts > 10 {
		return errors.New("retry attempts must be between 1 and 10")
	}

	if c.Retries.Delay < 0 || c.Retries.Delay > 30000 {
		return errors.New("retry delay must be between 0 and 30000 milliseconds")
	}

	return nil
}

// Node performs an HTTP request. Without a body template, POST, PUT and
// PATCH requests send the input as JSON.
type Node struct {
	client *Client
}

var _ capability.Executor = (*Node)(nil)

func New(client *Client) *Node {
	if client == nil {
		client = NewClient()
	}

	return &Node{client: client}
}

func (n *Node) Execute(ctx context.Context, req *capability.Request) (any, error) {
	cfg, err := ParseConfig(req.Node)
	if err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "%v", err)
	}

	data := req.TemplateData()

	url, err := template.RenderString(cfg.URL, data)
	if err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "failed to render URL template: %v", err)
	}

	body, err := n.body(cfg, req, data)
	if err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "%v", err)
	}

	headers := make(map[string]string, len(cfg.Headers))

	for key, value := range cfg.Headers {
		rendered, err := template.RenderString(value, data)
		if err != nil {
			rendered = value
		}

		headers[key] = rendered
	}

	resp, attempts, err := n.client.Do(ctx, Request{
		Method:  cfg.Method,
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: time.Duration(cfg.Timeout) * time.Second,
		Retries: cfg.Retries,
	})
	if err != nil {
		return nil, classify(err, attempts)
	}

	return resp.Map(), nil
}

func (n *Node) body(cfg Config, req *capability.Request, data map[string]any) (string, error) {
	if cfg.Body != "" {
		body, err := template.RenderString(cfg.Body, data)
		if err != nil {
			return "", fmt.Errorf("failed to render body template: %w", err)
		}

		return body, nil
	}

	switch cfg.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		in := req.Input()
		if in == nil {
			return "", nil
		}

		raw, err := json.Marshal(in)
		if err != nil {
			return "", fmt.Errorf("failed to encode input: %w", err)
		}

		return string(raw), nil
	}

	return "", nil
}

func classify(err error, attempts int) *capability.Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return capability.Fail(capability.FailureTimeout, "HTTP request timed out after %d attempts: %v", attempts, err)
	}

	return capability.Fail(capability.FailureExternalService, "HTTP request failed after %d attempts: %v", attempts, err)
}

// Register installs the http integration executor.
func Register(r *capability.Registry, client *Client) {
	r.Register(models.NodeTypeIntegration, Kind, New(client))
}
