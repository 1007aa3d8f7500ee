// Package llm is the HTTP client for the external text-generation service,
// speaking a Messages-style JSON API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	reasoning "github.com/okian/fusion/internal/domain/reasoning"
)

// Client defaults.
const (
	DefaultEndpoint   = "https://api.anthropic.com/v1/messages"
	DefaultModel      = "claude-sonnet-4-20250514"
	DefaultAPIVersion = "2023-06-01"
	defaultMaxTokens  = 500
	maxErrorBody      = 512
	maxResponseBody   = 1 << 20
)

// ErrEmptyResponse is returned when the service answers without text.
var ErrEmptyResponse = errors.New("no text content in response")

// StatusError reports a non-200 answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return "text generation request failed with status " + http.StatusText(e.StatusCode) + ": " + e.Body
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithEndpoint overrides the API URL.
func WithEndpoint(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.endpoint = u
		}
	}
}

// WithModel selects the model.
func WithModel(m string) Option {
	return func(c *Client) {
		if m != "" {
			c.model = m
		}
	}
}

// WithAPIVersion sets the API version header.
func WithAPIVersion(v string) Option {
	return func(c *Client) {
		if v != "" {
			c.apiVersion = v
		}
	}
}

// WithHTTPClient replaces the transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// Client calls the text-generation API.
type Client struct {
	apiKey     string
	model      string
	apiVersion string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client. Call deadlines come from the request context;
// the transport timeout only guards against a hung connection.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      DefaultModel,
		apiVersion: DefaultAPIVersion,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// Complete implements reasoning.TextGenerator.
func (c *Client) Complete(ctx context.Context, p reasoning.Prompt) (text string, err error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	reqBody, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    p.System,
		Messages:  []message{{Role: "user", Content: p.User}},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", errors.Wrap(err, "failed to create HTTP request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", c.apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "HTTP request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		body := string(respBody)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return "", errors.WithStack(&StatusError{StatusCode: resp.StatusCode, Body: body})
	}

	var mr messagesResponse
	if err := json.Unmarshal(respBody, &mr); err != nil {
		return "", errors.Wrapf(err, "failed to parse response (%d bytes)", len(respBody))
	}

	var sb strings.Builder
	for _, b := range mr.Content {
		if b.Type == "text" || b.Type == "" {
			sb.WriteString(b.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", errors.WithStack(ErrEmptyResponse)
	}
	return sb.String(), nil
}
