// Package httprequest provides the integration http node and the retrying
// HTTP client shared with the notify output.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// RetryConfig defines retry behavior for HTTP requests. Delay is in
// milliseconds.
type RetryConfig struct {
	Attempts int `json:"attempts"`
	Delay    int `json:"delay"`
}

// Request is one rendered HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
	Retries RetryConfig
}

// Response is the decoded result of a successful call.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       string
	JSON       any
}

func (r *Response) Map() map[string]any {
	out := map[string]any{
		"status_code": r.StatusCode,
		"headers":     headerMap(r.Headers),
		"body":        r.Body,
	}

	if r.JSON != nil {
		out["json"] = r.JSON
	}

	return out
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client performs requests with constant-delay retries on network errors and
// 5xx responses. 4xx responses are not retried.
type Client struct {
	HTTP *http.Client
}

func NewClient() *Client {
	return &Client{HTTP: &http.Client{}}
}

// Do returns the response and the number of attempts made.
func (c *Client) Do(ctx context.Context, req Request) (*Response, int, error) {
	attempts := max(req.Retries.Attempts, 1)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Duration(req.Retries.Delay)*time.Millisecond), uint64(attempts-1)),
		ctx,
	)

	var (
		resp  *Response
		tries int
	)

	err := backoff.Retry(func() error {
		tries++

		var err error

		resp, err = c.once(ctx, req)
		if err == nil {
			return nil
		}

		httpErr := &HTTPError{}
		if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
			return backoff.Permanent(err)
		}

		return err
	}, policy)

	return resp, tries, err
}

func (c *Client) once(ctx context.Context, r Request) (*Response, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if r.Body != "" {
		reqBody = strings.NewReader(r.Body)
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	if r.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	out := &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: string(respBody)}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		out.JSON = jsonBody
	}

	return out, nil
}

func headerMap(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}

	return out
}
