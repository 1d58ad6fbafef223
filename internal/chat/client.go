// Package chat provides a client for an Ollama-compatible text generation
// endpoint, used to phrase short announcements.
package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/maauso/showrunner/internal/httpapi"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("chat: empty response")

// Config configures a Client.
type Config struct {
	BaseURL string
	Model   string
	// System is the system prompt sent with every request.
	System      string
	Temperature float64
	// MaxTokens caps the length of the reply.
	MaxTokens int
}

// Client talks to an Ollama /api/generate endpoint.
type Client struct {
	api    *httpapi.Client
	model  string
	system string
	opts   map[string]any
}

// generateRequest is the /api/generate request body.
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// generateResponse is the /api/generate response.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewClient creates a chat client.
func NewClient(cfg Config, opts ...httpapi.Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	options := map[string]any{}
	if cfg.Temperature > 0 {
		options["temperature"] = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		options["num_predict"] = cfg.MaxTokens
	}
	return &Client{
		api:    httpapi.New("chat", cfg.BaseURL, opts...),
		model:  cfg.Model,
		system: cfg.System,
		opts:   options,
	}
}

// Chat sends prompt and returns the reply with surrounding quotes removed.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	body := generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		System:  c.system,
		Stream:  false,
		Options: c.opts,
	}

	var resp generateResponse
	if err := c.api.JSON(ctx, http.MethodPost, c.api.URL("/api/generate", nil), body, &resp); err != nil {
		return "", err
	}

	reply := StripQuotes(resp.Response)
	if reply == "" {
		return "", ErrEmptyResponse
	}
	return reply, nil
}

// StripQuotes trims whitespace and one layer of matching quotes.
func StripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
