package audio

import (
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	exportBitDepth = 16
	wavFormatPCM   = 1
)

// ErrNotWAV is returned when a stream does not carry a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a valid wav stream")

// DecodeError reports a source that could not be decoded into a clip.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ReadWAV decodes an integer PCM wav stream. Any other encoding, including
// IEEE float and WAVE_FORMAT_EXTENSIBLE whose subformat is not exposed by
// the decoder, is reported as ErrNotWAV so callers can hand it to ffmpeg.
func ReadWAV(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrNotWAV
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: audio format %#x", ErrNotWAV, dec.WavAudioFormat)
	}

	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	buf, err := dec.FullPCMBuffer()
	if errors.Is(err, io.EOF) {
		return Silent(0, format), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pcm: %w", err)
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = buf.SourceBitDepth
	}
	scale := math.Pow(2, float64(depth-1))

	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		if depth == 8 {
			// 8-bit wav is unsigned.
			samples[i] = float64(v-128) / 128
			continue
		}
		samples[i] = float64(v) / scale
	}
	return New(format, samples), nil
}

// WriteWAV encodes the clip as 16-bit PCM. Samples outside [-1, 1] are clamped.
func WriteWAV(w io.WriteSeeker, c *Clip) error {
	enc := wav.NewEncoder(w, c.format.SampleRate, exportBitDepth, c.format.Channels, wavFormatPCM)

	data := make([]int, len(c.samples))
	for i, v := range c.samples {
		data[i] = quantize16(v)
	}

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: c.format.Channels,
			SampleRate:  c.format.SampleRate,
		},
		Data:           data,
		SourceBitDepth: exportBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return fmt.Errorf("write pcm: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// PCM16 returns the clip as interleaved little-endian signed 16-bit samples.
func (c *Clip) PCM16() []int16 {
	out := make([]int16, len(c.samples))
	for i, v := range c.samples {
		out[i] = int16(quantize16(v))
	}
	return out
}

// FromPCM16 builds a clip from interleaved signed 16-bit samples.
func FromPCM16(format Format, pcm []int16) *Clip {
	samples := make([]float64, len(pcm))
	for i, v := range pcm {
		samples[i] = float64(v) / 32768
	}
	return New(format, samples)
}

func quantize16(v float64) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	s := int(math.Round(v * 32767))
	return s
}
