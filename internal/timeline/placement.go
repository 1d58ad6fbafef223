package timeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/showrunner/internal/audio"
)

func (t *Timeline) load(ctx context.Context, src Source) (*audio.Clip, error) {
	switch {
	case src.clip != nil:
		return src.clip.Convert(t.format), nil
	case src.path != "":
		clip, err := t.codec.Decode(ctx, src.path, t.format)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", src.path, err)
		}
		return clip, nil
	default:
		return nil, ErrNoSource
	}
}

// process runs the shared transform pipeline: loop to duration, strip
// silence, gain match against prev, explicit gain, fades.
func (t *Timeline) process(clip *audio.Clip, prev *Entry, opts Options) *audio.Clip {
	if opts.Duration > 0 {
		clip = clip.Loop(opts.Duration, true)
	}
	clip = clip.StripSilence(audio.DefaultSilenceThreshold, audio.DefaultMinSilence)
	if opts.GainMatch && prev != nil {
		clip = clip.MatchLoudness(prev.Clip.DBFS())
	}
	if opts.Gain != 0 {
		t.logger.Debug("applying gain", slog.Float64("gain_db", opts.Gain))
		clip = clip.ApplyGain(opts.Gain)
	}
	if opts.FadeIn > 0 {
		clip = clip.FadeIn(opts.FadeIn)
	}
	if opts.FadeOut > 0 {
		clip = clip.FadeOut(opts.FadeOut)
	}
	return clip
}

// Add places src at start on the given track. The start is pulled back by
// the resolved overlay so the clip overlaps the tail of the previous
// entry, and the end is the pulled-back start plus the processed length.
func (t *Timeline) Add(ctx context.Context, src Source, start int, label Label, name, typ string, opts Options) error {
	if label != Foreground && label != Background {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}

	clip, err := t.load(ctx, src)
	if err != nil {
		return err
	}
	sourceLen := clip.Len()

	prev := t.lastEntry(label)
	clip = t.process(clip, prev, opts)

	overlay := 0
	switch {
	case opts.OverlayDuration > 0:
		overlay = opts.OverlayDuration
	case opts.OverlayPercentage > 0 && prev != nil:
		overlay = int(float64(prev.SourceLength) * opts.OverlayPercentage / 100)
	}

	effective := start - overlay
	t.entries = append(t.entries, &Entry{
		Clip:         clip,
		Start:        effective,
		End:          effective + clip.Len(),
		Label:        label,
		Name:         name,
		Type:         typ,
		SourceLength: sourceLen,
		hasEnd:       true,
	})

	t.logger.Info("placed entry",
		slog.String("name", name),
		slog.String("type", typ),
		slog.String("label", string(label)),
		slog.Int("start_ms", effective),
		slog.Int("end_ms", effective+clip.Len()),
		slog.Int("overlay_ms", overlay),
	)
	return nil
}

// AddBackground places src on the background track at start. A negative
// end leaves the entry open so SetEndTimes closes it at the end of the
// foreground entry that follows. Overlay options are ignored; Duration
// only shapes the clip, the span comes from end or inference.
func (t *Timeline) AddBackground(ctx context.Context, src Source, start, end int, name, typ string, opts Options) error {
	if end >= 0 && end < start {
		return fmt.Errorf("%w: start=%d end=%d", ErrInvalidSpan, start, end)
	}

	clip, err := t.load(ctx, src)
	if err != nil {
		return err
	}
	sourceLen := clip.Len()
	clip = t.process(clip, t.lastEntry(Background), opts)

	e := &Entry{
		Clip:         clip,
		Start:        start,
		Label:        Background,
		Name:         name,
		Type:         typ,
		SourceLength: sourceLen,
	}
	if end >= 0 {
		e.End = end
		e.hasEnd = true
	}
	t.entries = append(t.entries, e)

	t.logger.Info("placed background entry",
		slog.String("name", name),
		slog.String("type", typ),
		slog.Int("start_ms", start),
		slog.Bool("open", end < 0),
	)
	return nil
}

// AddAfterPrevious anchors src after the track it belongs to. Foreground
// entries start at the last foreground end. Background entries start at
// the later of the last background end and the last foreground end, and
// are left open.
func (t *Timeline) AddAfterPrevious(ctx context.Context, src Source, label Label, name, typ string, opts Options) error {
	switch label {
	case Foreground:
		return t.Add(ctx, src, t.LastEndTime(Foreground), Foreground, name, typ, opts)
	case Background:
		start := max(t.LastEndTime(Background), t.LastEndTime(Foreground))
		return t.AddBackground(ctx, src, start, -1, name, typ, opts)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
}

// SetEndTimes closes open background entries. In one forward pass each
// foreground entry closes the pending open background entry, so the last
// foreground entry before the next open background wins. An entry that no
// foreground entry follows closes at its own start. Ends set by the caller
// are never changed; inferred ends are recomputed, so repeated calls give
// the same result.
func (t *Timeline) SetEndTimes() {
	var pending *Entry
	for _, e := range t.entries {
		switch {
		case e.Label == Background && e.open():
			e.End = e.Start
			e.hasEnd = true
			e.inferred = true
			pending = e
		case e.Label == Foreground && pending != nil:
			pending.End = max(e.End, pending.Start)
		}
	}

	for _, e := range t.entries {
		if e.inferred {
			t.logger.Debug("inferred background end",
				slog.String("name", e.Name),
				slog.Int("end_ms", e.End),
			)
		}
	}
}
