// Package audio provides an in-memory PCM clip and the editing primitives
// used to compose an episode: slicing, looping, gain, fades, silence
// stripping, overlays and crossfaded concatenation.
//
// Every operation returns a new Clip; a Clip is never modified in place
// once it has been handed out.
package audio

import (
	"errors"
	"fmt"
	"math"
)

// Format describes the sample layout of a clip.
type Format struct {
	// SampleRate is the number of frames per second.
	SampleRate int
	// Channels is the number of interleaved channels per frame.
	Channels int
}

// DefaultFormat is the format every clip is converted to before mixing.
var DefaultFormat = Format{SampleRate: 44100, Channels: 2}

// ErrInvalidFormat is returned when a format has a non-positive rate or channel count.
var ErrInvalidFormat = errors.New("audio: invalid format")

// Validate checks that the format can hold audio.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: rate=%d channels=%d", ErrInvalidFormat, f.SampleRate, f.Channels)
	}
	return nil
}

// msToFrames converts milliseconds to a frame count, rounding to the nearest frame.
func (f Format) msToFrames(ms int) int {
	if ms <= 0 {
		return 0
	}
	return int(math.Round(float64(ms) * float64(f.SampleRate) / 1000))
}

// framesToMs converts a frame count to whole milliseconds, rounding to the nearest ms.
func (f Format) framesToMs(frames int) int {
	if frames <= 0 {
		return 0
	}
	return int(math.Round(float64(frames) * 1000 / float64(f.SampleRate)))
}

// Clip is a decoded audio buffer. Samples are interleaved and normalized
// to [-1, 1]; values outside that range are allowed in memory and are
// clamped only on export.
type Clip struct {
	format  Format
	samples []float64
}

// New creates a clip from interleaved samples. The slice is copied.
// Trailing samples that do not form a whole frame are dropped.
func New(format Format, samples []float64) *Clip {
	n := len(samples) - len(samples)%format.Channels
	data := make([]float64, n)
	copy(data, samples[:n])
	return &Clip{format: format, samples: data}
}

// Silent returns a clip of digital silence lasting ms milliseconds.
func Silent(ms int, format Format) *Clip {
	return &Clip{
		format:  format,
		samples: make([]float64, format.msToFrames(ms)*format.Channels),
	}
}

// Format returns the clip's sample layout.
func (c *Clip) Format() Format {
	return c.format
}

// Frames returns the number of frames in the clip.
func (c *Clip) Frames() int {
	return len(c.samples) / c.format.Channels
}

// Len returns the clip duration in milliseconds.
func (c *Clip) Len() int {
	return c.format.framesToMs(c.Frames())
}

// Samples returns a copy of the interleaved samples.
func (c *Clip) Samples() []float64 {
	out := make([]float64, len(c.samples))
	copy(out, c.samples)
	return out
}

// IsEmpty reports whether the clip holds no frames.
func (c *Clip) IsEmpty() bool {
	return len(c.samples) == 0
}

func (c *Clip) withSamples(samples []float64) *Clip {
	return &Clip{format: c.format, samples: samples}
}

// Slice returns the range [startMs, endMs). Both bounds are clamped to the clip.
func (c *Clip) Slice(startMs, endMs int) *Clip {
	frames := c.Frames()
	start := clamp(c.format.msToFrames(startMs), 0, frames)
	end := clamp(c.format.msToFrames(endMs), 0, frames)
	if end < start {
		end = start
	}
	ch := c.format.Channels
	out := make([]float64, (end-start)*ch)
	copy(out, c.samples[start*ch:end*ch])
	return c.withSamples(out)
}

// sliceFrames is Slice expressed in frames, used where ms rounding would drift.
func (c *Clip) sliceFrames(start, end int) *Clip {
	frames := c.Frames()
	start = clamp(start, 0, frames)
	end = clamp(end, start, frames)
	ch := c.format.Channels
	out := make([]float64, (end-start)*ch)
	copy(out, c.samples[start*ch:end*ch])
	return c.withSamples(out)
}

// Loop tiles the clip end to end until it covers targetMs. When trim is
// true the result is truncated to exactly targetMs; a clip that is already
// long enough is only truncated when trim is set. An empty clip loops to
// silence of the requested length.
func (c *Clip) Loop(targetMs int, trim bool) *Clip {
	if targetMs < 0 {
		targetMs = 0
	}
	target := c.format.msToFrames(targetMs)
	frames := c.Frames()

	if frames == 0 {
		if !trim {
			return c.withSamples(nil)
		}
		return Silent(targetMs, c.format)
	}

	if frames >= target {
		if trim {
			return c.sliceFrames(0, target)
		}
		return c.withSamples(c.Samples())
	}

	repeats := (target + frames - 1) / frames
	ch := c.format.Channels
	out := make([]float64, 0, repeats*len(c.samples))
	for i := 0; i < repeats; i++ {
		out = append(out, c.samples...)
	}
	if trim {
		out = out[:target*ch]
	}
	return c.withSamples(out)
}

// Append concatenates other after the clip. When crossfadeMs is positive
// and both clips are at least that long, the tail of the clip is faded out
// while the head of other is faded in over the overlap. Otherwise the clips
// are joined without a crossfade.
func (c *Clip) Append(other *Clip, crossfadeMs int) *Clip {
	other = other.Convert(c.format)
	ch := c.format.Channels

	xf := c.format.msToFrames(crossfadeMs)
	if xf <= 0 || c.Frames() < xf || other.Frames() < xf {
		out := make([]float64, 0, len(c.samples)+len(other.samples))
		out = append(out, c.samples...)
		out = append(out, other.samples...)
		return c.withSamples(out)
	}

	head := c.Frames() - xf
	out := make([]float64, 0, len(c.samples)+len(other.samples)-xf*ch)
	out = append(out, c.samples[:head*ch]...)
	for f := 0; f < xf; f++ {
		in := float64(f) / float64(xf)
		for k := 0; k < ch; k++ {
			a := c.samples[(head+f)*ch+k] * (1 - in)
			b := other.samples[f*ch+k] * in
			out = append(out, a+b)
		}
	}
	out = append(out, other.samples[xf*ch:]...)
	return c.withSamples(out)
}

// Overlay mixes other into the clip starting at atMs. The result is
// extended when other runs past the end of the clip. A negative offset
// drops the part of other that would land before zero.
func (c *Clip) Overlay(other *Clip, atMs int) *Clip {
	other = other.Convert(c.format)
	ch := c.format.Channels

	offset := c.format.msToFrames(abs(atMs))
	src := other.samples
	if atMs < 0 {
		if offset >= other.Frames() {
			return c.withSamples(c.Samples())
		}
		src = src[offset*ch:]
		offset = 0
	}

	need := offset*ch + len(src)
	size := len(c.samples)
	if need > size {
		size = need
	}
	out := make([]float64, size)
	copy(out, c.samples)
	for i, v := range src {
		out[offset*ch+i] += v
	}
	return c.withSamples(out)
}

// Convert returns the clip in the requested format, remixing channels and
// resampling with linear interpolation when needed.
func (c *Clip) Convert(format Format) *Clip {
	if c.format == format {
		return c
	}
	out := c.remix(format.Channels)
	if c.format.SampleRate != format.SampleRate {
		out = out.resample(format.SampleRate)
	}
	return out
}

func (c *Clip) remix(channels int) *Clip {
	src := c.format.Channels
	if src == channels {
		return c
	}
	frames := c.Frames()
	out := make([]float64, frames*channels)
	for f := 0; f < frames; f++ {
		frame := c.samples[f*src : (f+1)*src]
		switch {
		case channels == 1:
			var sum float64
			for _, v := range frame {
				sum += v
			}
			out[f] = sum / float64(src)
		case src == 1:
			for k := 0; k < channels; k++ {
				out[f*channels+k] = frame[0]
			}
		default:
			for k := 0; k < channels; k++ {
				out[f*channels+k] = frame[k%src]
			}
		}
	}
	return &Clip{format: Format{SampleRate: c.format.SampleRate, Channels: channels}, samples: out}
}

func (c *Clip) resample(rate int) *Clip {
	ch := c.format.Channels
	frames := c.Frames()
	target := int(math.Round(float64(frames) * float64(rate) / float64(c.format.SampleRate)))
	out := make([]float64, target*ch)
	ratio := float64(c.format.SampleRate) / float64(rate)
	for f := 0; f < target; f++ {
		pos := float64(f) * ratio
		i := int(pos)
		frac := pos - float64(i)
		j := i + 1
		if j >= frames {
			j = frames - 1
		}
		for k := 0; k < ch; k++ {
			a := c.samples[i*ch+k]
			b := c.samples[j*ch+k]
			out[f*ch+k] = a + (b-a)*frac
		}
	}
	return &Clip{format: Format{SampleRate: rate, Channels: ch}, samples: out}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
