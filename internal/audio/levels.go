package audio

import "math"

const (
	// DefaultSilenceThreshold is the dBFS below which a chunk counts as silence.
	DefaultSilenceThreshold = -50.0
	// DefaultMinSilence is the shortest edge silence, in ms, that StripSilence removes.
	DefaultMinSilence = 50

	silenceChunkMs = 10
)

// DBFS returns the RMS loudness of the clip relative to full scale.
// Silence, including an empty clip, is negative infinity.
func (c *Clip) DBFS() float64 {
	return rmsDBFS(c.samples)
}

func rmsDBFS(samples []float64) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

// Peak returns the largest absolute sample value.
func (c *Clip) Peak() float64 {
	var peak float64
	for _, v := range c.samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}

// ApplyGain scales every sample by db decibels.
func (c *Clip) ApplyGain(db float64) *Clip {
	if db == 0 {
		return c.withSamples(c.Samples())
	}
	factor := math.Pow(10, db/20)
	out := make([]float64, len(c.samples))
	for i, v := range c.samples {
		out[i] = v * factor
	}
	return c.withSamples(out)
}

// MatchLoudness applies the gain that brings the clip's RMS loudness to
// target dBFS. A silent clip cannot be matched and is returned unchanged.
func (c *Clip) MatchLoudness(target float64) *Clip {
	current := c.DBFS()
	if math.IsInf(current, -1) || math.IsInf(target, 0) || math.IsNaN(target) {
		return c.withSamples(c.Samples())
	}
	return c.ApplyGain(target - current)
}

// FadeIn ramps the first ms milliseconds linearly from silence.
func (c *Clip) FadeIn(ms int) *Clip {
	out := c.Samples()
	n := min(c.format.msToFrames(ms), c.Frames())
	ch := c.format.Channels
	for f := 0; f < n; f++ {
		g := float64(f) / float64(n)
		for k := 0; k < ch; k++ {
			out[f*ch+k] *= g
		}
	}
	return c.withSamples(out)
}

// FadeOut ramps the last ms milliseconds linearly to silence.
func (c *Clip) FadeOut(ms int) *Clip {
	out := c.Samples()
	frames := c.Frames()
	n := min(c.format.msToFrames(ms), frames)
	ch := c.format.Channels
	start := frames - n
	for f := 0; f < n; f++ {
		g := float64(n-f-1) / float64(n)
		for k := 0; k < ch; k++ {
			out[(start+f)*ch+k] *= g
		}
	}
	return c.withSamples(out)
}

// StripSilence trims leading and trailing silence. The clip is measured in
// 10 ms chunks; an edge run of chunks quieter than thresholdDB is removed
// only when it lasts at least minSilenceMs. Interior silence is kept. A clip
// that is silent throughout becomes empty.
func (c *Clip) StripSilence(thresholdDB float64, minSilenceMs int) *Clip {
	chunk := c.format.msToFrames(silenceChunkMs)
	frames := c.Frames()
	if chunk == 0 || frames == 0 {
		return c.withSamples(c.Samples())
	}
	ch := c.format.Channels
	chunks := (frames + chunk - 1) / chunk

	silent := func(i int) bool {
		lo := i * chunk * ch
		hi := min((i+1)*chunk, frames) * ch
		return rmsDBFS(c.samples[lo:hi]) < thresholdDB
	}

	lead := 0
	for lead < chunks && silent(lead) {
		lead++
	}
	if lead == chunks {
		return c.withSamples(nil)
	}
	trail := 0
	for trail < chunks-lead && silent(chunks-1-trail) {
		trail++
	}

	start := 0
	if lead*silenceChunkMs >= minSilenceMs {
		start = lead * chunk
	}
	end := frames
	if trail*silenceChunkMs >= minSilenceMs {
		end = (chunks - trail) * chunk
	}
	return c.sliceFrames(start, end)
}
