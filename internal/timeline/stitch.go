package timeline

import (
	"context"
	"log/slog"

	"github.com/maauso/showrunner/internal/audio"
)

const (
	// StitchCrossfadeMs is the overlap between consecutive stitched clips.
	StitchCrossfadeMs = 300
	// StitchLeadInMs is the silence a stitched episode starts with.
	StitchLeadInMs = 1000

	stitchSilenceDB = -50.0
	stitchSilenceMs = 50
)

// Stitch writes the foreground clips back to back to path in fileFormat,
// ignoring their placement. Each clip is leveled to the target loudness and
// faded in over the crossfade with the one before it. The first background
// clip, stripped of edge silence, is looped under the whole result.
func (t *Timeline) Stitch(ctx context.Context, path, fileFormat string) error {
	out := audio.Silent(StitchLeadInMs, t.format)
	var music *audio.Clip
	for _, e := range t.entries {
		if err := ctx.Err(); err != nil {
			return &RenderError{Path: path, Stage: StagePrepare, Err: err}
		}
		if e.Label == Background {
			if music == nil {
				music = e.Clip.StripSilence(stitchSilenceDB, stitchSilenceMs)
			}
			continue
		}
		clip := e.Clip
		if !clip.IsEmpty() {
			clip = clip.MatchLoudness(t.targetLoudness)
		}
		if clip.Len() >= StitchCrossfadeMs {
			out = out.Append(clip.FadeIn(StitchCrossfadeMs), StitchCrossfadeMs)
		} else {
			out = out.Append(clip, 0)
		}
	}
	out = out.MatchLoudness(t.targetLoudness)

	background := audio.Silent(0, t.format)
	if music != nil && !music.IsEmpty() {
		background = music.Loop(out.Len(), true)
	}
	mix, err := t.mix(out, background)
	if err != nil {
		return &RenderError{Path: path, Stage: StageMix, Err: err}
	}

	if err := t.codec.Encode(ctx, mix, path, fileFormat); err != nil {
		return &RenderError{Path: path, Stage: StageExport, Err: err}
	}
	t.logger.Info("stitched timeline",
		slog.String("path", path),
		slog.Int("duration_ms", mix.Len()),
		slog.Bool("background", !background.IsEmpty()),
	)
	return nil
}
