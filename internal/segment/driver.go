package segment

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/maauso/showrunner/internal/timeline"
	"github.com/maauso/showrunner/internal/transition"
)

// Announcer phrases an intro announcement from a prompt.
type Announcer interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Driver runs the configured operations for a list of entries and places
// the produced clips on a timeline.
type Driver struct {
	cfg       Config
	registry  *Registry
	tl        *timeline.Timeline
	resolver  *transition.Resolver
	announcer Announcer
	logger    *slog.Logger

	backgroundPlaced bool
	files            []string
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithAnnouncer sets the chat collaborator used to phrase intro announcements.
func WithAnnouncer(a Announcer) DriverOption {
	return func(d *Driver) {
		d.announcer = a
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = l
	}
}

// NewDriver validates cfg against the registry and binds it to tl.
func NewDriver(cfg Config, registry *Registry, tl *timeline.Timeline, opts ...DriverOption) (*Driver, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(registry); err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:      cfg,
		registry: registry,
		tl:       tl,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With(slog.String("stage", cfg.Name))
	d.resolver = transition.NewResolver(cfg.Transitions, tl, d.logger)
	return d, nil
}

// Config returns the effective configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// Files returns every clip file produced so far.
func (d *Driver) Files() []string {
	out := make([]string, len(d.files))
	copy(out, d.files)
	return out
}

// Placeholders returns one entry with empty text per configured type, in
// declaration order.
func (d *Driver) Placeholders() []Entry {
	names := d.cfg.SegmentTypes.Names()
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		out = append(out, Entry{Type: name})
	}
	return out
}

// Run processes entries in order and closes open background entries when
// done. An empty list runs one placeholder per configured type. Entries
// whose operation fails or produces nothing are skipped; placement and
// strict-mode configuration errors stop the run.
func (d *Driver) Run(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		entries = d.Placeholders()
		d.logger.Info("no entries given, using configured segment types",
			slog.Int("entries", len(entries)),
		)
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.runEntry(ctx, i, entry); err != nil {
			return fmt.Errorf("entry %d (%s): %w", i, entry.Type, err)
		}
	}

	d.tl.SetEndTimes()
	return nil
}

func (d *Driver) runEntry(ctx context.Context, i int, entry Entry) error {
	prefix := fmt.Sprintf("%s_%03d", d.cfg.Name, i)
	path := filepath.Join(d.cfg.OutputFolder, prefix+".wav")

	tc, ok := d.cfg.SegmentTypes.Get(entry.Type)
	if !ok {
		tc, ok = d.cfg.SegmentTypes.Get(DefaultType)
		if !ok {
			if d.cfg.Strict {
				return fmt.Errorf("%w: %q and no %q type configured", ErrUnknownSegmentType, entry.Type, DefaultType)
			}
			d.logger.Warn("no segment type configured, skipping entry",
				slog.Int("index", i),
				slog.String("type", entry.Type),
			)
			return nil
		}
		d.logger.Warn("no segment type configured, using default",
			slog.Int("index", i),
			slog.String("type", entry.Type),
		)
	}

	if tc.BackgroundMusic && d.cfg.SingleBackground && d.backgroundPlaced {
		d.logger.Debug("background already placed, skipping entry", slog.Int("index", i))
		return nil
	}

	op, err := d.registry.Lookup(tc.Operation)
	if err != nil {
		return err
	}

	d.logger.Info("generating segment",
		slog.Int("index", i),
		slog.String("type", entry.Type),
		slog.String("operation", tc.Operation),
	)
	res, err := op.Generate(ctx, Request{Text: entry.Value, OutputPath: path, Args: tc.Arguments})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Warn("segment generation failed, skipping entry",
			slog.Int("index", i),
			slog.String("type", entry.Type),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if res == nil {
		d.logger.Info("no audio produced, skipping entry", slog.Int("index", i))
		return nil
	}
	d.files = append(d.files, path)

	if tc.IntroName && res.Title != "" {
		if err := d.announce(ctx, i, prefix, entry, tc, res.Title); err != nil {
			return err
		}
	}
	if tc.IntroApplause {
		if err := d.applause(ctx, i, prefix); err != nil {
			return err
		}
	}

	label := timeline.Foreground
	if tc.BackgroundMusic {
		label = timeline.Background
	}
	name := res.Title
	if name == "" {
		name = fmt.Sprintf("%s_%d", entry.Type, i)
	}

	opts := d.resolver.Entry(entry.Type)
	if err := d.tl.AddAfterPrevious(ctx, timeline.File(path), label, name, entry.Type, opts); err != nil {
		return err
	}
	if label == timeline.Background {
		d.backgroundPlaced = true
	}
	return nil
}

const (
	introNameType     = "intro_name"
	introApplauseType = "intro_applause"
)

// announce places a spoken introduction of title. Failing to produce the
// announcement skips it; failing to place a produced one is an error.
func (d *Driver) announce(ctx context.Context, i int, prefix string, entry Entry, tc TypeConfig, title string) error {
	text := "Ladies and gentlemen... " + title
	if tc.IntroPrompt != "" && d.announcer != nil {
		reply, err := d.announcer.Chat(ctx, tc.IntroPrompt+entry.Value+":::"+title)
		switch {
		case err != nil:
			d.logger.Warn("announcer failed, using template",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
		case strings.TrimSpace(reply) != "":
			text = strings.Trim(strings.TrimSpace(reply), `"'`)
		}
	}

	path := filepath.Join(d.cfg.OutputFolder, prefix+"_intro_name.wav")
	if !d.produce(ctx, i, d.cfg.AnnounceOperation, Request{Text: text, OutputPath: path}) {
		return ctx.Err()
	}

	opts := d.resolver.Entry(introNameType)
	return d.tl.AddAfterPrevious(ctx, timeline.File(path), timeline.Foreground,
		fmt.Sprintf("%s_%d", introNameType, i), introNameType, opts)
}

func (d *Driver) applause(ctx context.Context, i int, prefix string) error {
	path := filepath.Join(d.cfg.OutputFolder, prefix+"_intro_applause.wav")
	req := Request{
		Text:       fmt.Sprintf("duration %d", d.cfg.ApplauseDuration/1000),
		OutputPath: path,
		Args:       map[string]any{"duration_ms": d.cfg.ApplauseDuration},
	}
	if !d.produce(ctx, i, d.cfg.ApplauseOperation, req) {
		return ctx.Err()
	}

	opts := d.resolver.Entry(introApplauseType)
	return d.tl.AddAfterPrevious(ctx, timeline.File(path), timeline.Foreground,
		fmt.Sprintf("%s_%d", introApplauseType, i), introApplauseType, opts)
}

// produce runs a helper operation and reports whether a clip was written.
func (d *Driver) produce(ctx context.Context, i int, name string, req Request) bool {
	op, err := d.registry.Lookup(name)
	if err != nil {
		d.logger.Warn("helper operation missing", slog.String("operation", name))
		return false
	}
	res, err := op.Generate(ctx, req)
	if err != nil {
		d.logger.Warn("helper operation failed, skipping it",
			slog.Int("index", i),
			slog.String("operation", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	if res == nil {
		return false
	}
	d.files = append(d.files, req.OutputPath)
	return true
}
