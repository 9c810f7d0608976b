package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"shelftamer/internal/services"
)

const (
	defaultHTTPTimeout      = 120 * time.Second
	defaultMaxInFlight      = 2
	defaultRequestsPerMin   = 30
	defaultSuspendThreshold = 3
)

// Config captures the runtime settings required to talk to the model endpoint.
type Config struct {
	BaseURL           string
	TimeoutSeconds    int
	MaxInFlight       int
	RequestsPerMinute int
}

// Client wraps an Ollama-compatible chat API. A single Client is shared by
// every worker; the weighted semaphore and rate limiter enforce the global
// ceiling on concurrent model calls no matter how many books are in flight.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sem        *semaphore.Weighted
	limiter    *rate.Limiter

	// consecutive transport failures; at suspendThreshold the endpoint is
	// considered down and callers shorten their retry policies.
	unavailableStreak atomic.Int32
	suspendThreshold  int32
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSuspendThreshold overrides how many consecutive transport failures mark
// the endpoint suspended.
func WithSuspendThreshold(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.suspendThreshold = int32(n)
		}
	}
}

// NewClient constructs a model client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = defaultRequestsPerMin
	}
	client := &Client{
		cfg: Config{
			BaseURL:           strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			TimeoutSeconds:    cfg.TimeoutSeconds,
			MaxInFlight:       maxInFlight,
			RequestsPerMinute: perMinute,
		},
		httpClient:       &http.Client{Timeout: timeout},
		sem:              semaphore.NewWeighted(int64(maxInFlight)),
		limiter:          rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), maxInFlight),
		suspendThreshold: defaultSuspendThreshold,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "http://localhost:11434"
	}
	return client
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Invoke issues a single chat request against the given model and returns the
// raw response content. There is exactly one attempt and one timeout per
// call; retry policy belongs to the caller. Failures carry either the
// ErrModelUnavailable or ErrInvalidResponse marker.
func (c *Client) Invoke(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", services.Wrap(services.ErrConfiguration, "", "model invoke", "model name required", nil)
	}
	if strings.TrimSpace(userPrompt) == "" {
		return "", services.Wrap(services.ErrConfiguration, "", "model invoke", "user prompt required", nil)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	payload := chatRequest{
		Model:   model,
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": 0},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: userPrompt})

	content, err := c.send(ctx, payload)
	c.recordOutcome(err)
	return content, err
}

func (c *Client) send(ctx context.Context, payload chatRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("model request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("model request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", services.Wrap(services.ErrModelUnavailable, "", "model request",
			fmt.Sprintf("http error (timeout=%s)", c.timeoutDuration()), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrModelUnavailable, "", "model request", "read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", services.Wrap(services.ErrModelUnavailable, "", "model request",
			fmt.Sprintf("http %d: %s", resp.StatusCode, summarizePayloadSnippet(string(body))), nil)
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", services.Wrap(services.ErrInvalidResponse, "", "model request",
			fmt.Sprintf("decode response: %s", summarizePayloadSnippet(string(body))), err)
	}
	if completion.Error != "" {
		return "", services.Wrap(services.ErrModelUnavailable, "", "model request",
			"api error: "+completion.Error, nil)
	}
	content := strings.TrimSpace(completion.Message.Content)
	if content == "" {
		return "", services.Wrap(services.ErrInvalidResponse, "", "model request",
			"empty content (response_snippet="+summarizePayloadSnippet(string(body))+")", nil)
	}
	return content, nil
}

// HealthCheck verifies the endpoint answers at all.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("model health: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrModelUnavailable, "", "model health", "endpoint unreachable", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrModelUnavailable, "", "model health",
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	return nil
}

// Suspended reports whether the endpoint has failed enough consecutive
// transport attempts that callers should stop burning their retry budget.
// The next successful call clears it.
func (c *Client) Suspended() bool {
	return c.unavailableStreak.Load() >= c.suspendThreshold
}

func (c *Client) recordOutcome(err error) {
	switch {
	case err == nil:
		c.unavailableStreak.Store(0)
	case errors.Is(err, services.ErrModelUnavailable):
		c.unavailableStreak.Add(1)
	}
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}
