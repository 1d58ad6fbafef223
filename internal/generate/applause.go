package generate

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"sync"

	"github.com/maauso/showrunner/internal/audio"
	"github.com/maauso/showrunner/internal/media"
	"github.com/maauso/showrunner/internal/segment"
)

// Applause cut points into the sample, in ms.
const (
	applauseStart     = 2000
	applauseEnd       = 4000
	applauseVariation = 500
	// DefaultApplauseMs is used when the request names no duration.
	DefaultApplauseMs = 3000
	synthSampleMs     = 6000
)

var applauseDurationRe = regexp.MustCompile(`duration (\d+)`)

// Applause builds applause of a requested length by chaining randomly cut
// portions of a sample recording, then fading out over the last tenth.
type Applause struct {
	codec      media.Processor
	format     audio.Format
	samplePath string
	rand       Rand
	logger     *slog.Logger

	mu     sync.Mutex
	sample *audio.Clip
}

// NewApplause creates the operation. With an empty samplePath a crowd
// recording is synthesized instead.
func NewApplause(codec media.Processor, format audio.Format, samplePath string, rnd Rand, logger *slog.Logger) *Applause {
	return &Applause{codec: codec, format: format, samplePath: samplePath, rand: rnd, logger: logger}
}

// Generate writes applause to req.OutputPath. The length is the duration_ms
// argument, else "duration N" (seconds) in the text, else three seconds.
func (a *Applause) Generate(ctx context.Context, req segment.Request) (*segment.Result, error) {
	durationMs := applauseDuration(req)

	sample, err := a.loadSample(ctx)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("generating applause", slog.Int("duration_ms", durationMs))
	clip := a.build(sample, durationMs)
	if err := writeWAV(req.OutputPath, clip); err != nil {
		return nil, err
	}
	// No title: applause is never announced.
	return &segment.Result{Metadata: map[string]any{"duration_ms": durationMs}}, nil
}

func applauseDuration(req segment.Request) int {
	if ms := argFloat(req.Args, "duration_ms", 0); ms > 0 {
		return int(ms)
	}
	if m := applauseDurationRe.FindStringSubmatch(req.Text); m != nil {
		if sec, err := strconv.Atoi(m[1]); err == nil {
			return sec * 1000
		}
	}
	return DefaultApplauseMs
}

// loadSample decodes the sample once it is first needed and keeps it for
// later runs. Failed decodes are not kept, so the next call tries again.
func (a *Applause) loadSample(ctx context.Context) (*audio.Clip, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sample != nil {
		return a.sample, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.samplePath == "" {
		a.sample = synthesizeCrowd(synthSampleMs, a.format, a.rand)
		return a.sample, nil
	}
	// The sample outlives the run that loads it.
	sample, err := a.codec.Decode(context.WithoutCancel(ctx), a.samplePath, a.format)
	if err != nil {
		return nil, err
	}
	a.sample = sample
	return a.sample, nil
}

func (a *Applause) build(sample *audio.Clip, durationMs int) *audio.Clip {
	out := audio.Silent(0, a.format)
	if durationMs <= 0 {
		return out
	}
	total := sample.Len()
	if total == 0 {
		return audio.Silent(durationMs, a.format)
	}

	for out.Len() < durationMs {
		lo := max(applauseStart-applauseVariation, 0)
		start := lo + a.rand.IntN(applauseStart+applauseVariation-lo+1)
		hi := min(applauseEnd+applauseVariation, total)
		endLo := applauseEnd - applauseVariation
		end := hi
		if hi > endLo {
			end = endLo + a.rand.IntN(hi-endLo+1)
		}
		if start >= total || end <= start {
			// Sample too short for the cut window; tile all of it.
			start, end = 0, total
		}
		out = out.Append(sample.Slice(start, end), 0)
	}

	return out.Slice(0, durationMs).FadeOut(durationMs / 10)
}

// synthesizeCrowd renders a bed of overlapping claps: short noise bursts
// with an exponential decay at random times and levels.
func synthesizeCrowd(ms int, format audio.Format, rnd Rand) *audio.Clip {
	frames := int(math.Round(float64(ms) * float64(format.SampleRate) / 1000))
	samples := make([]float64, frames*format.Channels)

	clapFrames := format.SampleRate * 30 / 1000
	clapsPerSecond := 60
	claps := clapsPerSecond * ms / 1000
	for range claps {
		at := rnd.IntN(max(frames-clapFrames, 1))
		level := 0.05 + float64(rnd.IntN(100))/1000
		for f := range clapFrames {
			env := level * math.Exp(-float64(f)/float64(clapFrames)*5)
			noise := float64(rnd.IntN(2001)-1000) / 1000
			for ch := range format.Channels {
				i := (at+f)*format.Channels + ch
				samples[i] += noise * env
			}
		}
	}

	for i, v := range samples {
		samples[i] = math.Max(-1, math.Min(1, v))
	}
	return audio.New(format, samples)
}
