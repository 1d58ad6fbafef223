// Package timeline places audio clips on a foreground and a background
// track, infers the span of open-ended background entries and mixes both
// tracks down to a single file.
//
// A Timeline has a single owner. Every placement reads the current last
// end time of a track, so calls must not be made concurrently.
package timeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maauso/showrunner/internal/audio"
	"github.com/maauso/showrunner/internal/media"
)

// Label selects the track an entry is placed on.
type Label string

const (
	// Foreground is the spoken track; entries chain end to start.
	Foreground Label = "FOREGROUND"
	// Background is the music/ambience track; entries may stay open until
	// the next foreground entry closes them.
	Background Label = "BACKGROUND"
)

const (
	// DefaultTargetLoudness is the dBFS every mix-down is normalized to.
	DefaultTargetLoudness = -20.0
	// DefaultBackgroundGain is the attenuation applied to the background track after matching.
	DefaultBackgroundGain = -5.0
)

// Static errors for timeline placement.
var (
	// ErrNoSource is returned when a source carries neither a path nor a clip.
	ErrNoSource = errors.New("timeline: empty audio source")
	// ErrInvalidLabel is returned for a label other than Foreground or Background.
	ErrInvalidLabel = errors.New("timeline: invalid label")
	// ErrInvalidSpan is returned when an explicit end precedes the start.
	ErrInvalidSpan = errors.New("timeline: end precedes start")
)

// Codec loads clips from files and writes the final mix.
type Codec interface {
	Decode(ctx context.Context, path string, format audio.Format) (*audio.Clip, error)
	Encode(ctx context.Context, clip *audio.Clip, path, fileFormat string) error
}

// Source is either a path to an audio file or an already decoded clip.
type Source struct {
	path string
	clip *audio.Clip
}

// File returns a source that is decoded from path when placed.
func File(path string) Source {
	return Source{path: path}
}

// FromClip returns a source backed by an in-memory clip.
func FromClip(clip *audio.Clip) Source {
	return Source{clip: clip}
}

func (s Source) String() string {
	if s.clip != nil {
		return "<clip>"
	}
	return s.path
}

// Options are the per-placement transforms. The zero value applies none.
// The same type is the value of transition map entries.
type Options struct {
	// Duration loops or truncates the clip to exactly this many ms.
	Duration int `yaml:"duration,omitempty" json:"duration,omitempty"`
	// OverlayPercentage pulls the start back by this share of the previous
	// same-track entry's source length. Ignored when OverlayDuration is set.
	OverlayPercentage float64 `yaml:"overlay_percentage,omitempty" json:"overlay_percentage,omitempty"`
	// OverlayDuration pulls the start back by this many ms.
	OverlayDuration int `yaml:"overlay_duration,omitempty" json:"overlay_duration,omitempty"`
	FadeIn          int `yaml:"fade_in,omitempty" json:"fade_in,omitempty"`
	FadeOut         int `yaml:"fade_out,omitempty" json:"fade_out,omitempty"`
	// Gain is an explicit adjustment in dB applied after gain matching.
	Gain float64 `yaml:"gain,omitempty" json:"gain,omitempty"`
	// GainMatch matches loudness to the previous entry on the same track.
	GainMatch bool `yaml:"gain_match,omitempty" json:"gain_match,omitempty"`
}

// Merge returns o with every zero field filled from base.
func (o Options) Merge(base Options) Options {
	if o.Duration == 0 {
		o.Duration = base.Duration
	}
	if o.OverlayPercentage == 0 {
		o.OverlayPercentage = base.OverlayPercentage
	}
	if o.OverlayDuration == 0 {
		o.OverlayDuration = base.OverlayDuration
	}
	if o.FadeIn == 0 {
		o.FadeIn = base.FadeIn
	}
	if o.FadeOut == 0 {
		o.FadeOut = base.FadeOut
	}
	if o.Gain == 0 {
		o.Gain = base.Gain
	}
	o.GainMatch = o.GainMatch || base.GainMatch
	return o
}

// Entry is a placed clip. Times are in milliseconds.
type Entry struct {
	Clip  *audio.Clip
	Start int
	// End is meaningful only when HasEnd reports true.
	End   int
	Label Label
	Name  string
	Type  string
	// SourceLength is the decoded clip length before any transform.
	SourceLength int

	hasEnd bool
	// inferred marks an end assigned by SetEndTimes rather than by the caller.
	inferred bool
}

// HasEnd reports whether the entry has a known end time.
func (e Entry) HasEnd() bool {
	return e.hasEnd
}

// Inferred reports whether the end time was assigned by SetEndTimes.
func (e Entry) Inferred() bool {
	return e.inferred
}

// open reports whether the end is still subject to inference.
func (e Entry) open() bool {
	return !e.hasEnd || e.inferred
}

// Timeline is an ordered list of placed entries.
type Timeline struct {
	format         audio.Format
	codec          Codec
	logger         *slog.Logger
	backgroundGain float64
	targetLoudness float64

	entries []*Entry
}

// Option configures a Timeline.
type Option func(*Timeline)

// WithFormat sets the format every clip is converted to on load.
func WithFormat(f audio.Format) Option {
	return func(t *Timeline) {
		t.format = f
	}
}

// WithCodec sets the codec used to decode file sources and encode the mix.
func WithCodec(c Codec) Option {
	return func(t *Timeline) {
		t.codec = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Timeline) {
		t.logger = l
	}
}

// WithBackgroundGain sets the attenuation, in dB, applied to the background track on render.
func WithBackgroundGain(db float64) Option {
	return func(t *Timeline) {
		t.backgroundGain = db
	}
}

// WithTargetLoudness sets the dBFS the mix is normalized to.
func WithTargetLoudness(dbfs float64) Option {
	return func(t *Timeline) {
		t.targetLoudness = dbfs
	}
}

// New creates an empty timeline.
func New(opts ...Option) *Timeline {
	t := &Timeline{
		format:         audio.DefaultFormat,
		backgroundGain: DefaultBackgroundGain,
		targetLoudness: DefaultTargetLoudness,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.codec == nil {
		t.codec = media.NewFFmpegProcessor("")
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Format returns the format clips are converted to.
func (t *Timeline) Format() audio.Format {
	return t.format
}

// Len returns the number of placed entries.
func (t *Timeline) Len() int {
	return len(t.entries)
}

// Entries returns a snapshot of the placed entries in insertion order.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

// LastEntry returns the most recently placed entry with the given label.
func (t *Timeline) LastEntry(label Label) (Entry, bool) {
	if e := t.lastEntry(label); e != nil {
		return *e, true
	}
	return Entry{}, false
}

func (t *Timeline) lastEntry(label Label) *Entry {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Label == label {
			return t.entries[i]
		}
	}
	return nil
}

// LastType returns the type of the most recently placed entry with the
// given label, or "" when the track is empty.
func (t *Timeline) LastType(label Label) string {
	if e := t.lastEntry(label); e != nil {
		return e.Type
	}
	return ""
}

// LastEndTime returns the end of the most recently placed entry with the
// given label, or 0 when the track is empty. An open background entry
// reports the end SetEndTimes would give it now.
func (t *Timeline) LastEndTime(label Label) int {
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.Label != label {
			continue
		}
		if e.open() {
			return t.provisionalEnd(i)
		}
		return e.End
	}
	return 0
}

// provisionalEnd is the end inferred for the open background entry at i:
// the end of the last foreground entry placed after it and before the
// next open background entry, or its own start if there is none.
func (t *Timeline) provisionalEnd(i int) int {
	start := t.entries[i].Start
	end := start
	for _, e := range t.entries[i+1:] {
		if e.Label == Background && e.open() {
			break
		}
		if e.Label == Foreground {
			end = e.End
		}
	}
	return max(end, start)
}

// Duration returns the end of the latest-ending entry, with open entries
// measured at their provisional end.
func (t *Timeline) Duration() int {
	var d int
	for i, e := range t.entries {
		end := e.End
		if e.open() {
			end = t.provisionalEnd(i)
		}
		d = max(d, end)
	}
	return d
}
