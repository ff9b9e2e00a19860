// Package restapi is a thin JSON client for the leaseline REST contract.
//
// Every successful response is an envelope whose data field carries the
// confirmed entity; an absent data field means the caller should trust the
// value it sent. Any non-2xx status is a failure, normalized into an *Error
// whose message comes from the status-code table (or the response envelope's
// own error string when present).
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "leaseline/restapi"

// maxBodyBytes bounds how much of a response body is read into memory.
const maxBodyBytes = 1 << 20

// Envelope is the wire shape of every API response.
type Envelope struct {
	// Data carries the confirmed entity, scalar, or collection. Absent on
	// responses that confirm without echoing a value.
	Data json.RawMessage `json:"data,omitempty"`

	// Error carries a server-supplied failure description, if any.
	Error string `json:"error,omitempty"`
}

// Client issues JSON requests against a leaseline-compatible API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL prefixes every endpoint with the given base URL.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient sets the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the structured logger for request debug logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTracing enables an OpenTelemetry span per request.
func WithTracing() Option {
	return func(c *Client) {
		c.tracer = otel.Tracer(tracerName)
	}
}

// New creates a Client. Without options it talks to absolute endpoint URLs
// using a default http.Client with a 30s timeout.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do issues a request and decodes the response envelope.
//
// A nil payload sends no body. Cancelling ctx returns the context's error
// unwrapped so callers can distinguish aborts from failures via IsAborted.
// All other failures come back as *Error.
func (c *Client) Do(ctx context.Context, method, endpoint string, payload any) (*Envelope, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Message: GenericMessage, Wrapped: fmt.Errorf("encode payload: %w", err)}
		}
		body = bytes.NewReader(buf)
	}

	url := endpoint
	if c.baseURL != "" && strings.HasPrefix(endpoint, "/") {
		url = c.baseURL + endpoint
	}

	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, fmt.Sprintf("HTTP %s", method),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.method", method),
				attribute.String("http.url", url),
			),
		)
		defer span.End()
		env, err := c.do(ctx, method, url, body)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		return env, err
	}

	return c.do(ctx, method, url, body)
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &Error{Message: GenericMessage, Wrapped: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Surface the context's own error for aborts so supersession
		// checks can discard the result without treating it as failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.logger != nil {
			c.logger.Debug("request failed", "method", method, "url", url, "error", err)
		}
		return nil, &Error{Message: GenericMessage, Wrapped: err}
	}
	defer resp.Body.Close()

	var env Envelope
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if readErr == nil && len(raw) > 0 {
		// A malformed body on a 2xx response degrades to an empty
		// envelope: the caller trusts the value it sent.
		_ = json.Unmarshal(raw, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if c.logger != nil {
			c.logger.Debug("request rejected", "method", method, "url", url, "status", resp.StatusCode)
		}
		return nil, &Error{Status: resp.StatusCode, Message: StatusMessage(resp.StatusCode, env.Error)}
	}
	return &env, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, endpoint string) (*Envelope, error) {
	return c.Do(ctx, http.MethodGet, endpoint, nil)
}

// Post issues a POST request with the given payload.
func (c *Client) Post(ctx context.Context, endpoint string, payload any) (*Envelope, error) {
	return c.Do(ctx, http.MethodPost, endpoint, payload)
}

// Put issues a PUT request with the given payload.
func (c *Client) Put(ctx context.Context, endpoint string, payload any) (*Envelope, error) {
	return c.Do(ctx, http.MethodPut, endpoint, payload)
}

// Patch issues a PATCH request with the given payload.
func (c *Client) Patch(ctx context.Context, endpoint string, payload any) (*Envelope, error) {
	return c.Do(ctx, http.MethodPatch, endpoint, payload)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string) (*Envelope, error) {
	return c.Do(ctx, http.MethodDelete, endpoint, nil)
}
