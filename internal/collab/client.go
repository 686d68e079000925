// Package collab implements the HTTP clients for the external collaborators:
// the Tool Executor and the Data Collector. Calls are synchronous from the
// caller's perspective and bounded by a configurable timeout; any transport
// error, non-2xx response, or timeout is mapped to a CollaboratorError that
// fails only the node that issued the call.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/cortex-sre/cortex/internal/logging"
	"github.com/cortex-sre/cortex/pkg/domain"
)

// result is the wire shape shared by both collaborator services. The
// executor answers {status, output}, the collector {status, data}.
type result struct {
	Status string `json:"status"`
	Output any    `json:"output,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// executeRequest is the Tool Executor's generic request body.
type executeRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

// Client calls the collaborator services.
type Client struct {
	httpc        *http.Client
	executorURL  string
	collectorURL string
	routes       Routes
	timeout      time.Duration
	logger       *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// NewClient creates a collaborator client. A nil routes table uses the
// built-in defaults.
func NewClient(executorURL, collectorURL string, timeout time.Duration, routes Routes, opts ...Option) *Client {
	if routes == nil {
		routes = DefaultRoutes()
	}
	c := &Client{
		httpc:        &http.Client{},
		executorURL:  executorURL,
		collectorURL: collectorURL,
		routes:       routes,
		timeout:      timeout,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs one tool call against the collaborator that serves it and
// returns the result payload. Failures come back as *domain.CollaboratorError.
func (c *Client) Execute(ctx context.Context, tool string, params map[string]any) (any, error) {
	route, ok := c.routes[tool]
	if !ok {
		// Unknown tools go through the executor's registry, which rejects
		// ones it does not know. That rejection fails the node like any
		// other collaborator error.
		route = Route{Service: ServiceExecutor, Path: "/execute"}
	}

	var (
		url  string
		body any
	)
	switch route.Service {
	case ServiceCollector:
		url = c.collectorURL + route.Path
		body = params
	default:
		url = c.executorURL + route.Path
		body = executeRequest{ToolName: tool, Parameters: params}
	}

	c.logger.Debug("dispatching tool call", "tool", tool, "service", route.Service, "url", url)

	res, err := c.post(ctx, route.Service, url, body)
	if err != nil {
		return nil, err
	}

	if res.Status != "success" {
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("status %q", res.Status)
		}
		return nil, &domain.CollaboratorError{Service: route.Service, Err: errors.New(msg)}
	}

	if res.Output != nil {
		return res.Output, nil
	}
	return res.Data, nil
}

// Health probes both collaborators' /health endpoints and returns the first
// failure, if any.
func (c *Client) Health(ctx context.Context) error {
	for service, base := range map[string]string{
		ServiceExecutor:  c.executorURL,
		ServiceCollector: c.collectorURL,
	} {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
		if err != nil {
			cancel()
			return fmt.Errorf("build health request for %s: %w", service, err)
		}
		resp, err := c.httpc.Do(req)
		cancel()
		if err != nil {
			return &domain.CollaboratorError{Service: service, Err: err}
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &domain.CollaboratorError{
				Service: service,
				Err:     fmt.Errorf("health returned %d", resp.StatusCode),
			}
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, service, url string, body any) (*result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", service, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		timeout := errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded
		return nil, &domain.CollaboratorError{Service: service, Timeout: timeout, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &domain.CollaboratorError{Service: service, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.CollaboratorError{
			Service: service,
			Err:     fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(raw, 256)),
		}
	}

	var res result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &domain.CollaboratorError{Service: service, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &res, nil
}

// truncate shortens b to at most n bytes, backing off to a rune boundary
// so a multibyte character is never cut in half.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n]) + "..."
}
