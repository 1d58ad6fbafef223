// Package bootstrap wires the showrunner dependencies from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/showrunner/internal/chat"
	"github.com/maauso/showrunner/internal/config"
	"github.com/maauso/showrunner/internal/freesound"
	"github.com/maauso/showrunner/internal/generate"
	"github.com/maauso/showrunner/internal/httpapi"
	"github.com/maauso/showrunner/internal/job"
	"github.com/maauso/showrunner/internal/media"
	"github.com/maauso/showrunner/internal/segment"
	"github.com/maauso/showrunner/internal/show"
	"github.com/maauso/showrunner/internal/speech"
	"github.com/maauso/showrunner/internal/storage"
)

// Dependencies holds all initialized dependencies.
type Dependencies struct {
	Storage        storage.Storage
	Registry       *segment.Registry
	Runner         *show.Runner
	EpisodeService *job.EpisodeService
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	codec := media.NewFFmpegProcessor(cfg.FFmpegPath)
	httpOpts := []httpapi.Option{httpapi.WithMaxRetries(cfg.HTTPMaxRetries)}

	deps := generate.Deps{
		Downloader:     httpapi.New("download", "", httpOpts...),
		Storage:        store,
		Codec:          codec,
		Format:         cfg.Format(),
		ApplauseSample: cfg.ApplauseSample,
		Logger:         logger,
	}
	if cfg.SpeechEnabled() {
		deps.Speech = speechClient(cfg, httpOpts)
		logger.Info("speech synthesis configured", slog.String("voice", cfg.SpeechVoice))
	}
	if cfg.FreesoundEnabled() {
		deps.Music = freesound.NewClient(cfg.FreesoundBaseURL, cfg.FreesoundAPIKey, httpOpts...)
		logger.Info("freesound music configured")
	}

	registry := segment.NewRegistry()
	if err := generate.Register(registry, deps); err != nil {
		return nil, fmt.Errorf("register operations: %w", err)
	}

	runnerOpts := []show.RunnerOption{
		show.WithCodec(codec),
		show.WithFormat(cfg.Format()),
		show.WithLogger(logger),
	}
	// Show files may only ask for archiving when there is a bucket.
	if cfg.S3Enabled() {
		runnerOpts = append(runnerOpts, show.WithStorage(store))
	}
	if cfg.ChatEnabled() {
		runnerOpts = append(runnerOpts, show.WithAnnouncer(chat.NewClient(chat.Config{
			BaseURL:     cfg.ChatBaseURL,
			Model:       cfg.ChatModel,
			System:      cfg.ChatSystem,
			Temperature: cfg.ChatTemperature,
		}, httpOpts...)))
		logger.Info("chat announcer configured", slog.String("model", cfg.ChatModel))
	}
	runner := show.NewRunner(cfg.OutputsDir, registry, runnerOpts...)

	svc := job.NewEpisodeService(job.NewMemoryRepository(), runner, logger,
		job.WithJobTimeout(cfg.JobTimeout),
	)

	logger.Info("operations registered", slog.Any("operations", registry.Names()))

	return &Dependencies{
		Storage:        store,
		Registry:       registry,
		Runner:         runner,
		EpisodeService: svc,
	}, nil
}

func speechClient(cfg *config.Config, opts []httpapi.Option) *speech.Client {
	return speech.NewClient(speech.Config{
		BaseURL: cfg.SpeechBaseURL,
		APIKey:  cfg.SpeechAPIKey,
		Model:   cfg.SpeechModel,
		Voice:   cfg.SpeechVoice,
		Speed:   cfg.SpeechSpeed,
	}, opts...)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Prefix:          cfg.S3Prefix,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
