package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/showrunner/internal/audio"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// createTestTone creates a sine tone in any container ffmpeg can write.
func createTestTone(t *testing.T, path string, seconds string) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", "sine=frequency=440:sample_rate=22050:duration="+seconds,
		"-ac", "1",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test tone: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpegProcessor(t *testing.T) {
	t.Run("default path", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		assert.Equal(t, "ffmpeg", p.ffmpegPath)
		assert.Equal(t, "ffprobe", p.ffprobePath)
	})

	t.Run("custom path", func(t *testing.T) {
		p := NewFFmpegProcessor("/usr/local/bin/ffmpeg")
		assert.Equal(t, "/usr/local/bin/ffmpeg", p.ffmpegPath)
		assert.Equal(t, "/usr/local/bin/ffprobe", p.ffprobePath)
	})
}

func TestDecode_MissingFile(t *testing.T) {
	p := NewFFmpegProcessor("")

	_, err := p.Decode(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), audio.DefaultFormat)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestDecode_InvalidFormat(t *testing.T) {
	p := NewFFmpegProcessor("")

	_, err := p.Decode(context.Background(), "x.wav", audio.Format{})

	assert.ErrorIs(t, err, audio.ErrInvalidFormat)
}

func TestEncodeDecode_WAVNative(t *testing.T) {
	p := NewFFmpegProcessor("/nonexistent/ffmpeg")
	path := filepath.Join(t.TempDir(), "out", "tone.wav")

	samples := make([]float64, 8000)
	for i := range samples {
		samples[i] = 0.25
	}
	clip := audio.New(audio.Format{SampleRate: 8000, Channels: 1}, samples)

	require.NoError(t, p.Encode(context.Background(), clip, path, "wav"))

	got, err := p.Decode(context.Background(), path, audio.Format{SampleRate: 8000, Channels: 2})
	require.NoError(t, err)
	assert.Equal(t, 1000, got.Len())
	assert.Equal(t, 2, got.Format().Channels)
	assert.InDelta(t, 0.25, got.Samples()[0], 0.001)
}

func TestDecode_CorruptWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF\x00\x00\x00\x00WAVEjunk"), 0o600))

	p := NewFFmpegProcessor("/nonexistent/ffmpeg")
	_, err := p.Decode(context.Background(), path, audio.DefaultFormat)

	require.Error(t, err)
	var decErr *audio.DecodeError
	assert.True(t, errors.As(err, &decErr))
}

// writeFloatWAV writes one second of a 0.5-peak sine as a mono 32-bit
// IEEE float wav at 8 kHz.
func writeFloatWAV(t *testing.T, path string) {
	t.Helper()
	const rate = 8000
	samples := make([]float32, rate)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}

	var buf bytes.Buffer
	w := func(v any) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	buf.WriteString("RIFF")
	w(uint32(36 + 4*len(samples)))
	buf.WriteString("WAVEfmt ")
	w(uint32(16))
	w(uint16(3)) // IEEE float
	w(uint16(1))
	w(uint32(rate))
	w(uint32(rate * 4))
	w(uint16(4))
	w(uint16(32))
	buf.WriteString("data")
	w(uint32(4 * len(samples)))
	w(samples)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestDecode_FloatWAV(t *testing.T) {
	skipIfNoFFmpeg(t)
	path := filepath.Join(t.TempDir(), "tts.wav")
	writeFloatWAV(t, path)

	p := NewFFmpegProcessor("")
	got, err := p.Decode(context.Background(), path, audio.Format{SampleRate: 8000, Channels: 1})

	require.NoError(t, err)
	assert.Equal(t, 1000, got.Len())
	assert.InDelta(t, 0.5, got.Peak(), 0.01)
	assert.InDelta(t, -9.03, got.DBFS(), 0.1)
}

func TestDecode_FloatWAVWithoutFFmpeg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tts.wav")
	writeFloatWAV(t, path)

	p := NewFFmpegProcessor("/nonexistent/ffmpeg")
	_, err := p.Decode(context.Background(), path, audio.DefaultFormat)

	// Never misread as integer PCM.
	var decErr *audio.DecodeError
	assert.True(t, errors.As(err, &decErr))
}

func TestEncode_EmptyFormat(t *testing.T) {
	p := NewFFmpegProcessor("")

	err := p.Encode(context.Background(), audio.Silent(10, audio.DefaultFormat), filepath.Join(t.TempDir(), "x"), "")

	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDecode_MP3(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "tone.mp3")
	createTestTone(t, path, "1.5")

	p := NewFFmpegProcessor("")
	clip, err := p.Decode(context.Background(), path, audio.DefaultFormat)

	require.NoError(t, err)
	assert.Equal(t, audio.DefaultFormat, clip.Format())
	// mp3 encoders pad the stream slightly
	assert.InDelta(t, 1500, clip.Len(), 100)
	assert.Greater(t, clip.DBFS(), -20.0)
}

func TestEncode_MP3(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "out.mp3")
	p := NewFFmpegProcessor("")

	samples := make([]float64, 44100*2)
	for i := range samples {
		samples[i] = 0.1
	}
	clip := audio.New(audio.DefaultFormat, samples)

	require.NoError(t, p.Encode(context.Background(), clip, path, "mp3"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	d, err := p.GetMediaDuration(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 0.1)
}

func TestDecode_NotAudio(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "notes.ogg")
	require.NoError(t, os.WriteFile(path, []byte("definitely not audio"), 0o600))

	p := NewFFmpegProcessor("")
	_, err := p.Decode(context.Background(), path, audio.DefaultFormat)

	var decErr *audio.DecodeError
	require.ErrorAs(t, err, &decErr)
	var ffErr *FFmpegError
	assert.ErrorAs(t, err, &ffErr)
	assert.Equal(t, path, decErr.Source)
}

func TestDecode_ContextCancelled(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "tone.ogg")
	createTestTone(t, path, "1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	p := NewFFmpegProcessor("")
	_, err := p.Decode(ctx, path, audio.DefaultFormat)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetMediaDuration(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "tone.wav")
	createTestTone(t, path, "2")

	p := NewFFmpegProcessor("")
	d, err := p.GetMediaDuration(context.Background(), path)

	require.NoError(t, err)
	assert.InDelta(t, 2.0, d, 0.05)
}

func TestFFmpegError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &FFmpegError{Args: []string{"-i", "x"}, Stderr: "boom", Err: inner}

	assert.Contains(t, err.Error(), "boom")
	assert.ErrorIs(t, err, inner)
}
