// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/showrunner/internal/audio"
)

var (
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
	// ErrInvalid is returned when a setting is out of range.
	ErrInvalid = errors.New("config: invalid value")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int           `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	JobTimeout     time.Duration `env:"JOB_TIMEOUT, default=30m" json:"job_timeout" validate:"min=0"`

	// Filesystem settings
	OutputsDir string `env:"OUTPUTS_DIR, default=./outputs" json:"outputs_dir" validate:"required"`
	TempDir    string `env:"TEMP_DIR, default=/tmp/showrunner" json:"temp_dir" validate:"required"`

	// Audio settings
	FFmpegPath string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	SampleRate int    `env:"SAMPLE_RATE, default=44100" json:"sample_rate" validate:"min=8000,max=192000"`
	Channels   int    `env:"CHANNELS, default=2" json:"channels" validate:"min=1,max=2"`
	// ApplauseSample is a recording applause is cut from; synthesized when empty.
	ApplauseSample string `env:"APPLAUSE_SAMPLE" json:"applause_sample,omitempty"`

	// Speech synthesis (OpenAI-compatible). Enabled by a key or a base URL.
	SpeechBaseURL string  `env:"SPEECH_BASE_URL" json:"speech_base_url,omitempty"`
	SpeechAPIKey  string  `env:"SPEECH_API_KEY" json:"-"`
	SpeechModel   string  `env:"SPEECH_MODEL" json:"speech_model,omitempty"`
	SpeechVoice   string  `env:"SPEECH_VOICE" json:"speech_voice,omitempty"`
	SpeechSpeed   float64 `env:"SPEECH_SPEED" json:"speech_speed,omitempty" validate:"min=0,max=4"`

	// Chat model used for intro announcements. Enabled by CHAT_MODEL.
	ChatBaseURL     string  `env:"CHAT_BASE_URL" json:"chat_base_url,omitempty"`
	ChatModel       string  `env:"CHAT_MODEL" json:"chat_model,omitempty"`
	ChatSystem      string  `env:"CHAT_SYSTEM" json:"chat_system,omitempty"`
	ChatTemperature float64 `env:"CHAT_TEMPERATURE, default=0.8" json:"chat_temperature" validate:"min=0,max=2"`

	// Freesound music search. Enabled by FREESOUND_API_KEY.
	FreesoundAPIKey  string `env:"FREESOUND_API_KEY" json:"-"`
	FreesoundBaseURL string `env:"FREESOUND_BASE_URL" json:"freesound_base_url,omitempty"`

	// HTTP client settings shared by the API clients
	HTTPMaxRetries int `env:"HTTP_MAX_RETRIES, default=3" json:"http_max_retries" validate:"min=0,max=10"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json TEXT JSON"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`
}

var validate = validator.New()

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// SpeechEnabled reports whether the speech operation can be offered.
func (c *Config) SpeechEnabled() bool {
	return c.SpeechAPIKey != "" || c.SpeechBaseURL != ""
}

// ChatEnabled reports whether intro announcements can be phrased by a model.
func (c *Config) ChatEnabled() bool {
	return c.ChatModel != ""
}

// FreesoundEnabled reports whether the music operation can be offered.
func (c *Config) FreesoundEnabled() bool {
	return c.FreesoundAPIKey != ""
}

// Format returns the working audio format.
func (c *Config) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and combinations of settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger writing to stdout.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}
	if strings.ToLower(c.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, OutputsDir: %s, TempDir: %s, Format: %dHz/%dch, Speech: %t, Chat: %t, Freesound: %t, S3Bucket: %s, S3Region: %s, JobTimeout: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.OutputsDir,
		c.TempDir,
		c.SampleRate,
		c.Channels,
		c.SpeechEnabled(),
		c.ChatEnabled(),
		c.FreesoundEnabled(),
		c.S3Bucket,
		c.S3Region,
		c.JobTimeout,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
