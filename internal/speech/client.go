// Package speech provides a client for OpenAI-compatible speech synthesis
// endpoints (POST /v1/audio/speech).
package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/maauso/showrunner/internal/httpapi"
)

// Static errors for speech synthesis.
var (
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("speech: text is empty")
	// ErrEmptyAudio is returned when the endpoint answers with no audio.
	ErrEmptyAudio = errors.New("speech: empty audio response")
)

// Synthesizer turns text into an audio file.
type Synthesizer interface {
	// Synthesize writes speech for text to outputPath as WAV.
	Synthesize(ctx context.Context, text, outputPath string, opts Options) error
}

// Options override the client defaults for one request.
type Options struct {
	Voice string
	Model string
	Speed float64
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	Speed   float64
}

// Client is the HTTP implementation of Synthesizer.
type Client struct {
	api   *httpapi.Client
	model string
	voice string
	speed float64
}

var _ Synthesizer = (*Client)(nil)

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// NewClient creates a speech client.
func NewClient(cfg Config, opts ...httpapi.Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	opts = append([]httpapi.Option{httpapi.WithBearerToken(cfg.APIKey)}, opts...)
	return &Client{
		api:   httpapi.New("speech", cfg.BaseURL, opts...),
		model: cfg.Model,
		voice: cfg.Voice,
		speed: cfg.Speed,
	}
}

// Synthesize writes speech for text to outputPath as WAV.
func (c *Client) Synthesize(ctx context.Context, text, outputPath string, opts Options) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	req := speechRequest{
		Model:          firstNonEmpty(opts.Model, c.model),
		Input:          text,
		Voice:          firstNonEmpty(opts.Voice, c.voice),
		ResponseFormat: "wav",
		Speed:          c.speed,
	}
	if opts.Speed > 0 {
		req.Speed = opts.Speed
	}

	audio, err := c.api.Bytes(ctx, http.MethodPost, c.api.URL("/v1/audio/speech", nil), req)
	if err != nil {
		return err
	}
	if len(audio) == 0 {
		return ErrEmptyAudio
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return fmt.Errorf("speech: create output dir: %w", err)
	}
	if err := os.WriteFile(outputPath, audio, 0o600); err != nil {
		return fmt.Errorf("speech: write audio: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
