package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrRemote marks failures reported by (or while reaching) an external service
var ErrRemote = errors.New("remote service failure")

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Recorder counts remote calls; telemetry.Metrics satisfies it
type Recorder interface {
	IncRemoteCall(service, endpoint string, status int)
}

// RemoteError is a non-2xx answer or a transport failure
type RemoteError struct {
	Service  string
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Service, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s %s: status=%d, body=%s", e.Service, e.Endpoint, e.Status, e.Body)
}

// Unwrap exposes the transport error
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is matches ErrRemote
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// RequestOption decorates an outgoing request
type RequestOption func(*http.Request)

// WithHeader sets a header
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithBearer sets a bearer Authorization header
func WithBearer(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithBasicAuth sets basic credentials
func WithBasicAuth(user, password string) RequestOption {
	return func(r *http.Request) {
		r.SetBasicAuth(user, password)
	}
}

// HTTPClient wraps http.Client with context-aware helpers
// It automatically extracts metadata from context and adds appropriate headers
type HTTPClient struct {
	client   *http.Client
	logger   Logger
	service  string
	recorder Recorder
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(client *http.Client, logger Logger) *HTTPClient {
	return &HTTPClient{
		client: client,
		logger: logger,
	}
}

// Instrument labels calls with service and reports them to rec
func (c *HTTPClient) Instrument(service string, rec Recorder) *HTTPClient {
	c.service = service
	c.recorder = rec
	return c
}

// DoRequest creates and executes an HTTP request, extracting metadata from context
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader, opts ...RequestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if operator, ok := GetOperator(ctx); ok {
		req.Header.Set("X-Operator", operator)
	}
	for _, opt := range opts {
		opt(req)
	}

	return c.client.Do(req)
}

// DoJSON sends in as JSON (when non-nil), checks the status against want and
// decodes the answer into out (when non-nil)
func (c *HTTPClient) DoJSON(ctx context.Context, endpoint, method, url string, in, out any, want int, opts ...RequestOption) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(b)
		opts = append([]RequestOption{WithHeader("Content-Type", "application/json")}, opts...)
	}

	return c.do(ctx, endpoint, method, url, body, out, want, opts...)
}

// DoForm sends form-encoded data
func (c *HTTPClient) DoForm(ctx context.Context, endpoint, url string, form string, out any, want int, opts ...RequestOption) error {
	opts = append([]RequestOption{WithHeader("Content-Type", "application/x-www-form-urlencoded")}, opts...)
	return c.do(ctx, endpoint, http.MethodPost, url, bytes.NewBufferString(form), out, want, opts...)
}

func (c *HTTPClient) do(ctx context.Context, endpoint, method, url string, body io.Reader, out any, want int, opts ...RequestOption) error {
	resp, err := c.DoRequest(ctx, method, url, body, opts...)
	if err != nil {
		c.record(endpoint, 0)
		c.logger.Error("remote call failed", "service", c.service, "endpoint", endpoint, "error", err)
		return &RemoteError{Service: c.service, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	c.record(endpoint, resp.StatusCode)

	if resp.StatusCode != want {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("unexpected remote status",
			"service", c.service,
			"endpoint", endpoint,
			"status", resp.StatusCode,
		)
		return &RemoteError{Service: c.service, Endpoint: endpoint, Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteError{Service: c.service, Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *HTTPClient) record(endpoint string, status int) {
	if c.recorder != nil {
		c.recorder.IncRemoteCall(c.service, endpoint, status)
	}
}
