package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/showrunner/internal/audio"
)

// Render stages, reported in RenderError.
const (
	StagePrepare = "prepare"
	StageMix     = "mix"
	StageExport  = "export"
)

// RenderError reports a failed mix-down. No usable file exists at Path.
type RenderError struct {
	Path  string
	Stage string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %s: %v", e.Path, e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Render closes open entries, fits every clip to its span, mixes the
// foreground and background tracks and writes the result to path in
// fileFormat. When any entry starts before zero the whole mix is shifted
// so the earliest entry starts at zero.
func (t *Timeline) Render(ctx context.Context, path, fileFormat string) error {
	t.SetEndTimes()

	shift := 0
	for _, e := range t.entries {
		shift = max(shift, -e.Start)
	}

	spans := make([]*audio.Clip, len(t.entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, e := range t.entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			spans[i] = e.Clip.Loop(e.End-e.Start, true)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &RenderError{Path: path, Stage: StagePrepare, Err: err}
	}

	foreground := audio.Silent(0, t.format)
	background := audio.Silent(0, t.format)
	for i, e := range t.entries {
		if e.Label == Foreground {
			foreground = foreground.Overlay(spans[i], e.Start+shift)
		} else {
			background = background.Overlay(spans[i], e.Start+shift)
		}
	}

	t.logger.Info("mixed tracks",
		slog.Int("foreground_ms", foreground.Len()),
		slog.Int("background_ms", background.Len()),
		slog.Int("shift_ms", shift),
	)

	mix, err := t.mix(foreground, background)
	if err != nil {
		return &RenderError{Path: path, Stage: StageMix, Err: err}
	}

	if err := t.codec.Encode(ctx, mix, path, fileFormat); err != nil {
		return &RenderError{Path: path, Stage: StageExport, Err: err}
	}

	t.logger.Info("rendered timeline",
		slog.String("path", path),
		slog.Int("duration_ms", mix.Len()),
	)
	return nil
}

func (t *Timeline) mix(foreground, background *audio.Clip) (*audio.Clip, error) {
	if math.IsNaN(t.targetLoudness) || math.IsInf(t.targetLoudness, 0) {
		return nil, fmt.Errorf("target loudness %v is not finite", t.targetLoudness)
	}

	if background.IsEmpty() {
		return foreground.MatchLoudness(t.targetLoudness), nil
	}

	before := background.DBFS()
	background = background.MatchLoudness(t.targetLoudness)
	if fg := foreground.DBFS(); !math.IsInf(fg, -1) {
		background = background.MatchLoudness(fg)
	}
	background = background.ApplyGain(t.backgroundGain)
	t.logger.Debug("balanced background",
		slog.Float64("before_dbfs", before),
		slog.Float64("after_dbfs", background.DBFS()),
	)

	if foreground.Frames() > background.Frames() {
		return foreground.Overlay(background, 0), nil
	}
	return background.Overlay(foreground, 0), nil
}
