package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/maauso/showrunner/internal/show"
)

var (
	// ErrJobNotTerminal is returned when deleting a job that is still queued or running.
	ErrJobNotTerminal = errors.New("job is not finished")
	// ErrJobNotRunning is returned when cancelling a job that already finished.
	ErrJobNotRunning = errors.New("job is not queued or running")
)

// Executor runs show files.
type Executor interface {
	Validate(cfg show.Config) error
	Execute(ctx context.Context, cfg show.Config, opts ...show.ExecOption) (*show.Result, error)
}

// EpisodeService creates episode jobs and runs them through an Executor,
// keeping the stored job up to date as the run progresses.
type EpisodeService struct {
	repo       Repository
	runner     Executor
	logger     *slog.Logger
	jobTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// ServiceOption configures an EpisodeService.
type ServiceOption func(*EpisodeService)

// WithJobTimeout bounds every run. Zero disables the limit.
func WithJobTimeout(d time.Duration) ServiceOption {
	return func(s *EpisodeService) {
		s.jobTimeout = d
	}
}

// NewEpisodeService creates a new EpisodeService.
func NewEpisodeService(repo Repository, runner Executor, logger *slog.Logger, opts ...ServiceOption) *EpisodeService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &EpisodeService{
		repo:    repo,
		runner:  runner,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob validates cfg and stores a queued job for it.
func (s *EpisodeService) CreateJob(ctx context.Context, cfg show.Config) (*Job, error) {
	if err := s.runner.Validate(cfg); err != nil {
		return nil, err
	}

	job := New(cfg)
	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("show", cfg.ShowName),
		slog.Int("stages", len(cfg.Stages)),
		slog.Bool("archive", cfg.Archive),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return job, nil
}

// Process creates a job for cfg and runs it to completion.
func (s *EpisodeService) Process(ctx context.Context, cfg show.Config) (*Job, error) {
	job, err := s.CreateJob(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s.ProcessExistingJob(ctx, job.ID)
}

// ProcessExistingJob runs a queued job. The returned job reflects the final
// state; the error is the run error, if any.
func (s *EpisodeService) ProcessExistingJob(ctx context.Context, jobID string) (*Job, error) {
	job, runCtx, release, err := s.start(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer release()

	logger := s.logger.With(slog.String("job_id", jobID), slog.String("show", job.ShowName))
	logger.Info("job started")

	res, runErr := s.runner.Execute(runCtx, job.Show, show.OnProgress(func(done, total int) {
		if total <= 0 {
			return
		}
		job.UpdateProgress(done * 100 / total)
		if err := s.repo.Save(ctx, job); err != nil {
			logger.Warn("failed to save progress", slog.String("error", err.Error()))
		}
	}))
	if res != nil {
		job.SetOutput(outputOf(res))
	}

	switch {
	case runErr == nil:
		err = job.Complete()
	case errors.Is(runErr, context.DeadlineExceeded):
		err = job.Timeout()
	case errors.Is(runErr, context.Canceled):
		err = job.Cancel()
	default:
		err = job.Fail(runErr.Error())
	}
	if err != nil {
		logger.Error("failed to finish job", slog.String("error", err.Error()))
	}

	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("job finished with error",
			slog.String("status", string(job.GetStatus())),
			slog.String("error", runErr.Error()),
		)
		return job.Clone(), runErr
	}
	logger.Info("job completed",
		slog.String("audio", job.AudioPath),
		slog.Int("duration_ms", job.DurationMs),
	)
	return job.Clone(), nil
}

// start moves a queued job to running and registers its cancel func. Both
// happen under s.mu, so CancelJob sees the job either queued or cancellable.
func (s *EpisodeService) start(ctx context.Context, jobID string) (*Job, context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := job.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("start job %s: %w", jobID, err)
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, nil, nil, err
	}

	runCtx, cancel := runContext(ctx, s.jobTimeout)
	s.cancels[jobID] = cancel
	return job, runCtx, func() {
		s.mu.Lock()
		delete(s.cancels, jobID)
		s.mu.Unlock()
		cancel()
	}, nil
}

func runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(ctx)
	if timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, timeout)
		parent := cancel
		cancel = func() {
			timeoutCancel()
			parent()
		}
	}
	return runCtx, cancel
}

func outputOf(res *show.Result) Output {
	out := Output{
		RunDir:       res.RunDir,
		AudioPath:    res.FilePath,
		TimelinePath: res.TimelineHTML,
		ArchiveURL:   res.ArchiveURL,
	}
	if res.Timeline != nil {
		out.Entries = res.Timeline.Len()
		out.DurationMs = res.Timeline.Duration()
	}
	return out
}

// GetJob retrieves a job by ID.
func (s *EpisodeService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns the jobs matching f, newest first.
func (s *EpisodeService) ListJobs(ctx context.Context, f Filter) ([]*Job, error) {
	return s.repo.List(ctx, f)
}

// CancelJob stops a job. A queued job is cancelled at once; a running one
// is cancelled by its run once the current operation returns.
func (s *EpisodeService) CancelJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, running := s.cancels[id]; running {
		s.logger.Info("cancelling running job", slog.String("job_id", id))
		cancel()
		return nil
	}

	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if job.GetStatus() != StatusInQueue {
		return ErrJobNotRunning
	}
	if err := job.Cancel(); err != nil {
		return ErrJobNotRunning
	}
	return s.repo.Save(ctx, job)
}

// DeleteJob removes a finished job and its run folder.
func (s *EpisodeService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return ErrJobNotTerminal
	}

	if job.RunDir != "" {
		if err := os.RemoveAll(job.RunDir); err != nil {
			s.logger.Error("failed to remove run folder",
				slog.String("job_id", id),
				slog.String("run_dir", job.RunDir),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("remove run folder: %w", err)
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}
