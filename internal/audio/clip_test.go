package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monoFormat = Format{SampleRate: 1000, Channels: 1}

// constant returns a mono clip at 1 kHz holding ms samples of value v.
func constant(ms int, v float64) *Clip {
	samples := make([]float64, ms)
	for i := range samples {
		samples[i] = v
	}
	return New(monoFormat, samples)
}

func TestFormat_Validate(t *testing.T) {
	assert.NoError(t, DefaultFormat.Validate())
	assert.ErrorIs(t, Format{SampleRate: 0, Channels: 2}.Validate(), ErrInvalidFormat)
	assert.ErrorIs(t, Format{SampleRate: 8000, Channels: 0}.Validate(), ErrInvalidFormat)
}

func TestNew_DropsPartialFrame(t *testing.T) {
	c := New(Format{SampleRate: 1000, Channels: 2}, []float64{1, 2, 3})
	assert.Equal(t, 1, c.Frames())
	assert.Equal(t, []float64{1, 2}, c.Samples())
}

func TestSilent(t *testing.T) {
	c := Silent(250, DefaultFormat)

	assert.Equal(t, 250, c.Len())
	assert.True(t, math.IsInf(c.DBFS(), -1))
}

func TestSlice(t *testing.T) {
	c := constant(100, 0.5)

	tests := []struct {
		name       string
		start, end int
		want       int
	}{
		{"inner", 10, 40, 30},
		{"clamped end", 90, 500, 10},
		{"negative start", -20, 10, 10},
		{"inverted", 50, 20, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Slice(tt.start, tt.end).Len())
		})
	}
}

func TestLoop(t *testing.T) {
	t.Run("exact length with trim", func(t *testing.T) {
		c := New(DefaultFormat, make([]float64, 2*441)) // 10 ms
		for _, target := range []int{0, 1, 7, 10, 33, 1001, 4321} {
			assert.Equal(t, target, c.Loop(target, true).Len(), "target %d", target)
		}
	})

	t.Run("tiles content", func(t *testing.T) {
		c := New(monoFormat, []float64{1, 2, 3})
		got := c.Loop(7, true)
		assert.Equal(t, []float64{1, 2, 3, 1, 2, 3, 1}, got.Samples())
	})

	t.Run("without trim rounds up to whole copies", func(t *testing.T) {
		c := constant(30, 0.1)
		assert.Equal(t, 90, c.Loop(70, false).Len())
	})

	t.Run("longer source untouched without trim", func(t *testing.T) {
		c := constant(30, 0.1)
		assert.Equal(t, 30, c.Loop(10, false).Len())
	})

	t.Run("empty source becomes silence", func(t *testing.T) {
		c := New(monoFormat, nil)
		assert.Equal(t, 40, c.Loop(40, true).Len())
	})
}

func TestApplyGain(t *testing.T) {
	c := constant(10, 0.5)

	louder := c.ApplyGain(6.0206)
	assert.InDelta(t, 1.0, louder.Samples()[0], 0.001)

	quieter := c.ApplyGain(-6.0206)
	assert.InDelta(t, 0.25, quieter.Samples()[0], 0.001)

	// receiver untouched
	assert.Equal(t, 0.5, c.Samples()[0])
}

func TestDBFS(t *testing.T) {
	assert.InDelta(t, 0, constant(10, 1).DBFS(), 1e-9)
	assert.InDelta(t, -6.0206, constant(10, 0.5).DBFS(), 1e-3)
	assert.True(t, math.IsInf(New(monoFormat, nil).DBFS(), -1))
}

func TestMatchLoudness(t *testing.T) {
	c := constant(10, 0.5)

	matched := c.MatchLoudness(-20)
	assert.InDelta(t, -20, matched.DBFS(), 1e-6)

	silent := Silent(10, monoFormat)
	assert.True(t, math.IsInf(silent.MatchLoudness(-20).DBFS(), -1))

	assert.Equal(t, c.Samples(), c.MatchLoudness(math.Inf(-1)).Samples())
}

func TestFades(t *testing.T) {
	c := constant(10, 1)

	in := c.FadeIn(4).Samples()
	assert.Equal(t, 0.0, in[0])
	assert.InDelta(t, 0.5, in[2], 1e-9)
	assert.Equal(t, 1.0, in[4])

	out := c.FadeOut(4).Samples()
	assert.Equal(t, 1.0, out[5])
	assert.Equal(t, 0.0, out[9])

	assert.Equal(t, c.Samples(), c.FadeIn(0).Samples())

	long := c.FadeOut(100).Samples()
	assert.Less(t, long[0], 1.0)
	assert.Equal(t, 0.0, long[9])
}

func TestStripSilence(t *testing.T) {
	loud := constant(200, 0.5)
	quiet := Silent(100, monoFormat)
	short := Silent(30, monoFormat)

	t.Run("removes long edges", func(t *testing.T) {
		c := quiet.Append(loud, 0).Append(quiet, 0)
		assert.Equal(t, 200, c.StripSilence(DefaultSilenceThreshold, DefaultMinSilence).Len())
	})

	t.Run("keeps edges shorter than minimum", func(t *testing.T) {
		c := short.Append(loud, 0).Append(short, 0)
		assert.Equal(t, 260, c.StripSilence(DefaultSilenceThreshold, DefaultMinSilence).Len())
	})

	t.Run("keeps interior silence", func(t *testing.T) {
		c := loud.Append(quiet, 0).Append(loud, 0)
		assert.Equal(t, 500, c.StripSilence(DefaultSilenceThreshold, DefaultMinSilence).Len())
	})

	t.Run("all silent becomes empty", func(t *testing.T) {
		assert.True(t, quiet.StripSilence(DefaultSilenceThreshold, DefaultMinSilence).IsEmpty())
	})
}

func TestOverlay(t *testing.T) {
	base := constant(10, 0.25)
	top := constant(5, 0.5)

	t.Run("inside", func(t *testing.T) {
		got := base.Overlay(top, 2).Samples()
		assert.Len(t, got, 10)
		assert.Equal(t, 0.25, got[1])
		assert.Equal(t, 0.75, got[2])
		assert.Equal(t, 0.75, got[6])
		assert.Equal(t, 0.25, got[7])
	})

	t.Run("extends receiver", func(t *testing.T) {
		got := base.Overlay(top, 8)
		assert.Equal(t, 13, got.Len())
		assert.Equal(t, 0.5, got.Samples()[12])
	})

	t.Run("negative offset drops head", func(t *testing.T) {
		got := base.Overlay(top, -3).Samples()
		assert.Equal(t, 0.75, got[0])
		assert.Equal(t, 0.75, got[1])
		assert.Equal(t, 0.25, got[2])
	})

	t.Run("converts format", func(t *testing.T) {
		stereo := New(Format{SampleRate: 1000, Channels: 2}, []float64{0.1, 0.3})
		got := base.Overlay(stereo, 0).Samples()
		assert.InDelta(t, 0.45, got[0], 1e-9)
	})
}

func TestAppend(t *testing.T) {
	a := constant(100, 1)
	b := constant(100, 0)

	t.Run("plain", func(t *testing.T) {
		assert.Equal(t, 200, a.Append(b, 0).Len())
	})

	t.Run("crossfade shortens by overlap", func(t *testing.T) {
		got := a.Append(b, 20)
		assert.Equal(t, 180, got.Len())
		s := got.Samples()
		assert.Equal(t, 1.0, s[79])
		assert.InDelta(t, 0.5, s[90], 1e-9)
		assert.Equal(t, 0.0, s[179])
	})

	t.Run("crossfade longer than clip falls back", func(t *testing.T) {
		assert.Equal(t, 110, constant(10, 1).Append(b, 50).Len())
	})
}

func TestConvert(t *testing.T) {
	c := New(Format{SampleRate: 1000, Channels: 1}, []float64{0, 1, 0, -1})

	t.Run("same format returns receiver", func(t *testing.T) {
		assert.Same(t, c, c.Convert(c.Format()))
	})

	t.Run("upmix", func(t *testing.T) {
		got := c.Convert(Format{SampleRate: 1000, Channels: 2})
		assert.Equal(t, []float64{0, 0, 1, 1, 0, 0, -1, -1}, got.Samples())
	})

	t.Run("downmix", func(t *testing.T) {
		st := New(Format{SampleRate: 1000, Channels: 2}, []float64{1, 0, 0.5, 0.5})
		got := st.Convert(Format{SampleRate: 1000, Channels: 1})
		assert.Equal(t, []float64{0.5, 0.5}, got.Samples())
	})

	t.Run("resample keeps duration", func(t *testing.T) {
		long := constant(500, 0.2)
		got := long.Convert(Format{SampleRate: 44100, Channels: 2})
		assert.Equal(t, 500, got.Len())
		assert.InDelta(t, 0.2, got.Samples()[100], 1e-9)
	})
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	src := New(Format{SampleRate: 8000, Channels: 2}, []float64{0, 0, 0.5, -0.5, 1.5, -1.5})
	require.NoError(t, WriteWAV(f, src))
	require.NoError(t, f.Close())

	r, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	got, err := ReadWAV(r)
	require.NoError(t, err)
	assert.Equal(t, src.Format(), got.Format())
	s := got.Samples()
	require.Len(t, s, 6)
	assert.InDelta(t, 0.5, s[2], 0.001)
	assert.InDelta(t, -0.5, s[3], 0.001)
	// clamped on export
	assert.InDelta(t, 1.0, got.Peak(), 0.001)
	assert.InDelta(t, 1.0, s[4], 0.001)
	assert.InDelta(t, -1.0, s[5], 0.001)
}

func TestReadWAV_NotWAV(t *testing.T) {
	_, err := ReadWAV(bytes.NewReader([]byte("ID3 this is an mp3")))
	assert.ErrorIs(t, err, ErrNotWAV)
}

// floatWAV builds a mono 32-bit IEEE float wav. With extensible set the
// header uses WAVE_FORMAT_EXTENSIBLE with the float subformat GUID.
func floatWAV(rate int, samples []float32, extensible bool) []byte {
	var fmtChunk bytes.Buffer
	le := func(v any) { _ = binary.Write(&fmtChunk, binary.LittleEndian, v) }
	tag := uint16(3)
	if extensible {
		tag = 0xFFFE
	}
	le(tag)
	le(uint16(1))
	le(uint32(rate))
	le(uint32(rate * 4))
	le(uint16(4))
	le(uint16(32))
	if extensible {
		le(uint16(22))
		le(uint16(32))
		le(uint32(0x4))
		le([16]byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71})
	}

	var data bytes.Buffer
	_ = binary.Write(&data, binary.LittleEndian, samples)

	var out bytes.Buffer
	w := func(v any) { _ = binary.Write(&out, binary.LittleEndian, v) }
	out.WriteString("RIFF")
	w(uint32(4 + 8 + fmtChunk.Len() + 8 + data.Len()))
	out.WriteString("WAVEfmt ")
	w(uint32(fmtChunk.Len()))
	out.Write(fmtChunk.Bytes())
	out.WriteString("data")
	w(uint32(data.Len()))
	out.Write(data.Bytes())
	return out.Bytes()
}

func halfSine(n, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

func TestReadWAV_FloatIsNotPCM(t *testing.T) {
	for _, extensible := range []bool{false, true} {
		raw := floatWAV(8000, halfSine(8000, 8000), extensible)

		clip, err := ReadWAV(bytes.NewReader(raw))

		assert.ErrorIs(t, err, ErrNotWAV, "extensible=%v", extensible)
		assert.Nil(t, clip)
	}
}

func TestReadWAV_PeakSurvivesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	samples := make([]float64, 0, 8000)
	for _, v := range halfSine(8000, 8000) {
		samples = append(samples, float64(v))
	}
	require.NoError(t, WriteWAV(f, New(Format{SampleRate: 8000, Channels: 1}, samples)))
	require.NoError(t, f.Close())

	r, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	got, err := ReadWAV(r)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, got.Peak(), 0.001)
	assert.InDelta(t, -9.03, got.DBFS(), 0.05)
}

func TestPCM16(t *testing.T) {
	c := New(monoFormat, []float64{0, 1, -1, 2})
	assert.Equal(t, []int16{0, 32767, -32767, 32767}, c.PCM16())

	back := FromPCM16(monoFormat, []int16{16384, -32768})
	assert.Equal(t, []float64{0.5, -1}, back.Samples())
}
