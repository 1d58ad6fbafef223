package show

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maauso/showrunner/internal/audio"
	"github.com/maauso/showrunner/internal/segment"
	"github.com/maauso/showrunner/internal/storage"
	"github.com/maauso/showrunner/internal/timeline"
)

// ErrNoStorage is returned when archiving is requested without storage.
var ErrNoStorage = errors.New("archive requested but no storage configured")

// Finalizable is work deferred until a run has succeeded.
type Finalizable interface {
	Finalize(ctx context.Context) error
}

// Result describes a finished run.
type Result struct {
	Timeline     *timeline.Timeline
	RunDir       string
	FilePath     string
	TimelineHTML string
	ArchiveURL   string
	// Clips lists every clip produced by the stages.
	Clips []string
}

// Runner executes show files.
type Runner struct {
	outputsDir string
	registry   *segment.Registry
	announcer  segment.Announcer
	storage    storage.Storage
	codec      timeline.Codec
	format     audio.Format
	logger     *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithAnnouncer sets the chat collaborator used for intro announcements.
func WithAnnouncer(a segment.Announcer) RunnerOption {
	return func(r *Runner) {
		r.announcer = a
	}
}

// WithStorage sets the storage used for cleanup and archiving.
func WithStorage(s storage.Storage) RunnerOption {
	return func(r *Runner) {
		r.storage = s
	}
}

// WithCodec sets the codec of the shared timeline.
func WithCodec(c timeline.Codec) RunnerOption {
	return func(r *Runner) {
		r.codec = c
	}
}

// WithFormat sets the working format of the shared timeline.
func WithFormat(f audio.Format) RunnerOption {
	return func(r *Runner) {
		r.format = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a runner writing runs below outputsDir.
func NewRunner(outputsDir string, registry *segment.Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		outputsDir: outputsDir,
		registry:   registry,
		format:     audio.DefaultFormat,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks cfg against the operations known to the runner and the
// storage it was given.
func (r *Runner) Validate(cfg Config) error {
	if err := cfg.Validate(r.registry); err != nil {
		return err
	}
	if cfg.Archive && r.storage == nil {
		return ErrNoStorage
	}
	return nil
}

// ProgressFunc receives the number of finished steps of a run: one per
// stage, plus one for rendering when enabled.
type ProgressFunc func(done, total int)

// ExecOptions holds per-call settings of Execute.
type ExecOptions struct {
	Progress ProgressFunc
}

// ExecOption configures one Execute call.
type ExecOption func(*ExecOptions)

// OnProgress reports progress to fn after every step.
func OnProgress(fn ProgressFunc) ExecOption {
	return func(o *ExecOptions) {
		o.Progress = fn
	}
}

// Execute runs cfg to completion. Stages run in order on one timeline; the
// episode is rendered to <show>.<format> with a <show>_timeline.html chart
// next to it. Finalizers run only when everything before them succeeded.
func (r *Runner) Execute(ctx context.Context, cfg Config, opts ...ExecOption) (*Result, error) {
	var eo ExecOptions
	for _, opt := range opts {
		opt(&eo)
	}
	total := len(cfg.Stages)
	if cfg.ShouldRender() {
		total++
	}
	step := func(done int) {
		if eo.Progress != nil {
			eo.Progress(done, total)
		}
	}

	if err := r.Validate(cfg); err != nil {
		return nil, err
	}

	runDir, err := NextRunDir(r.outputsDir, cfg.ShowName)
	if err != nil {
		return nil, err
	}
	logger := r.logger.With(slog.String("show", cfg.ShowName), slog.String("run_dir", runDir))
	logger.Info("run started", slog.Int("stages", len(cfg.Stages)))

	tlOpts := []timeline.Option{timeline.WithFormat(r.format), timeline.WithLogger(logger)}
	if r.codec != nil {
		tlOpts = append(tlOpts, timeline.WithCodec(r.codec))
	}
	tl := timeline.New(append(tlOpts, cfg.TimelineOptions()...)...)
	res := &Result{Timeline: tl, RunDir: runDir}

	for i := range cfg.Stages {
		clips, err := r.runStage(ctx, cfg, i, runDir, tl, logger)
		res.Clips = append(res.Clips, clips...)
		if err != nil {
			return res, fmt.Errorf("stage %d: %w", i, err)
		}
		step(i + 1)
	}

	if cfg.ShouldRender() {
		if err := r.render(ctx, cfg, res, logger); err != nil {
			return res, err
		}
		step(total)
	}

	var finalizers []Finalizable
	if !cfg.KeepIntermediate {
		finalizers = append(finalizers, &cleanup{storage: r.storage, paths: res.Clips})
	}
	for _, f := range finalizers {
		if err := f.Finalize(ctx); err != nil {
			logger.Warn("finalize failed", slog.String("error", err.Error()))
		}
	}

	logger.Info("run finished",
		slog.Int("entries", tl.Len()),
		slog.Int("duration_ms", tl.Duration()),
		slog.String("file", res.FilePath),
	)
	return res, nil
}

func (r *Runner) runStage(ctx context.Context, cfg Config, i int, runDir string, tl *timeline.Timeline, logger *slog.Logger) ([]string, error) {
	opts := []segment.DriverOption{segment.WithLogger(logger)}
	if r.announcer != nil {
		opts = append(opts, segment.WithAnnouncer(r.announcer))
	}
	driver, err := segment.NewDriver(cfg.stageConfig(i, runDir), r.registry, tl, opts...)
	if err != nil {
		return nil, err
	}

	st := cfg.Stages[i]
	eff := driver.Config()
	entries := append(append([]segment.Entry{}, st.Entries...),
		segment.EntriesFromRecords(st.Records, eff.TypeKey, eff.ValueKey)...)

	err = driver.Run(ctx, entries)
	return driver.Files(), err
}

func (r *Runner) render(ctx context.Context, cfg Config, res *Result, logger *slog.Logger) error {
	format := cfg.OutputFormat()
	res.FilePath = filepath.Join(res.RunDir, cfg.ShowName+"."+format)
	mixdown := res.Timeline.Render
	if cfg.Stitched() {
		mixdown = res.Timeline.Stitch
	}
	if err := mixdown(ctx, res.FilePath, format); err != nil {
		var rerr *timeline.RenderError
		if errors.As(err, &rerr) {
			logger.Error("render failed", slog.String("stage", rerr.Stage), slog.String("error", rerr.Err.Error()))
		}
		res.FilePath = ""
		return err
	}

	res.TimelineHTML = filepath.Join(res.RunDir, cfg.ShowName+"_timeline.html")
	if err := res.Timeline.Visualize(res.TimelineHTML); err != nil {
		logger.Warn("timeline visualization failed", slog.String("error", err.Error()))
		res.TimelineHTML = ""
	}

	if cfg.Archive {
		url, err := r.archive(ctx, res.FilePath, filepath.Base(res.RunDir))
		if err != nil {
			return err
		}
		res.ArchiveURL = url
		logger.Info("episode archived", slog.String("url", url))
	}
	return nil
}

func (r *Runner) archive(ctx context.Context, path, runName string) (string, error) {
	f, err := r.storage.LoadTemp(ctx, path)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	url, err := r.storage.UploadToS3(ctx, runName+"/"+filepath.Base(path), f)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	return url, nil
}

// cleanup removes the intermediate clips of a run.
type cleanup struct {
	storage storage.Storage
	paths   []string
}

func (c *cleanup) Finalize(ctx context.Context) error {
	if c.storage != nil {
		return c.storage.CleanupTemp(ctx, c.paths)
	}
	var errs []error
	for _, p := range c.paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NextRunDir creates and returns <outputsDir>/<show>_run<N>, N being one more
// than the highest existing run of the show.
func NextRunDir(outputsDir, showName string) (string, error) {
	if err := os.MkdirAll(outputsDir, 0o750); err != nil {
		return "", fmt.Errorf("create outputs dir: %w", err)
	}

	n, err := lastRunCount(outputsDir, showName)
	if err != nil {
		return "", err
	}
	for {
		n++
		dir := filepath.Join(outputsDir, fmt.Sprintf("%s_run%d", showName, n))
		err := os.Mkdir(dir, 0o750)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("create run dir: %w", err)
		}
		// Taken by a concurrent run; try the next one.
	}
}

func lastRunCount(outputsDir, showName string) (int, error) {
	entries, err := os.ReadDir(outputsDir)
	if err != nil {
		return 0, fmt.Errorf("list outputs dir: %w", err)
	}
	prefix := showName + "_run"
	last := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), prefix))
		if err != nil {
			continue
		}
		last = max(last, n)
	}
	return last, nil
}
