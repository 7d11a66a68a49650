package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gemini-relay/internal/domain"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.0-flash"
	defaultTimeout = 60 * time.Second
	maxBodyBytes   = 1 << 20
	tracerName     = "gemini-relay/internal/integrations/gemini"
)

// generateRequest is the request shape for the generateContent endpoint.
type generateRequest struct {
	Contents []domain.Content `json:"contents"`
}

// HTTPStatusError captures non-200 upstream responses. Body holds the raw
// upstream text so callers can surface it verbatim.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the Gemini generateContent endpoint with an API key passed as
// a query parameter.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	tracer     trace.Tracer
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// NewClient creates a Client for the given API key. The key is fixed for the
// lifetime of the Client.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func generateURL(baseURL, model string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/models/" + model + ":generateContent"
}

// GenerateContent posts contents upstream and returns the raw response body.
// A non-200 status yields *HTTPStatusError; the call is never retried.
func (c *Client) GenerateContent(ctx context.Context, contents []domain.Content) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "gemini.GenerateContent",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gemini.model", c.model),
			attribute.Int("gemini.contents", len(contents)),
		),
	)
	defer span.End()

	raw, err := c.generate(ctx, contents)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			span.SetAttributes(attribute.Int("http.response.status_code", statusErr.StatusCode))
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", http.StatusOK))
	return raw, nil
}

func (c *Client) generate(ctx context.Context, contents []domain.Content) ([]byte, error) {
	body, err := json.Marshal(generateRequest{Contents: contents})
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := generateURL(c.baseURL, c.model) + "?" + url.Values{"key": {c.apiKey}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", redactURL(err))
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", redactURL(err))
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("gemini: read response body: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Body: string(buf)}
	}
	return buf, nil
}

// redactURL strips the query string (which carries the API key) from
// *url.Error values produced by the HTTP client.
func redactURL(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	if i := strings.IndexByte(urlErr.URL, '?'); i >= 0 {
		urlErr.URL = urlErr.URL[:i]
	}
	return err
}

// FirstCandidateText looks up candidates[0].content.parts[0].text in an
// upstream body. ok is false when the body is not JSON, any step of the path
// is absent or of the wrong type, or the leaf is not a string.
func FirstCandidateText(body []byte) (text string, ok bool) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return "", false
	}
	v, found := lookup(root, "candidates", 0, "content", "parts", 0, "text")
	if !found {
		return "", false
	}
	text, ok = v.(string)
	return text, ok
}

func lookup(v any, path ...any) (any, bool) {
	for _, step := range path {
		switch key := step.(type) {
		case string:
			obj, ok := v.(map[string]any)
			if !ok {
				return nil, false
			}
			if v, ok = obj[key]; !ok {
				return nil, false
			}
		case int:
			list, ok := v.([]any)
			if !ok || key < 0 || key >= len(list) {
				return nil, false
			}
			v = list[key]
		default:
			return nil, false
		}
	}
	return v, true
}
