package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maauso/showrunner/internal/audio"
)

// Static errors for media operations.
var (
	// ErrSourceNotFound is returned when the file to decode does not exist.
	ErrSourceNotFound = errors.New("audio source not found")
	// ErrUnsupportedFormat is returned when an output format name is empty or unknown to ffmpeg.
	ErrUnsupportedFormat = errors.New("unsupported output format")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// FFmpegProcessor implements Processor using native WAV handling and the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

var _ Processor = (*FFmpegProcessor)(nil)

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH). ffprobe
// is looked up next to a custom ffmpeg binary.
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		return &FFmpegProcessor{ffmpegPath: "ffmpeg", ffprobePath: "ffprobe"}
	}
	probe := "ffprobe"
	if dir := filepath.Dir(ffmpegPath); dir != "." {
		probe = filepath.Join(dir, "ffprobe")
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: probe}
}

// Decode reads an audio file. WAV files are parsed natively; any other
// container is decoded by ffmpeg to raw 16-bit PCM already in the target format.
func (p *FFmpegProcessor) Decode(ctx context.Context, path string, format audio.Format) (*audio.Clip, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		clip, err := p.decodeWAV(path)
		if err == nil {
			return clip.Convert(format), nil
		}
		if !errors.Is(err, audio.ErrNotWAV) {
			return nil, &audio.DecodeError{Source: path, Err: err}
		}
		// Mislabelled file; let ffmpeg sniff the real container.
	}

	clip, err := p.decodeWithFFmpeg(ctx, path, format)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &audio.DecodeError{Source: path, Err: err}
	}
	return clip, nil
}

func (p *FFmpegProcessor) decodeWAV(path string) (*audio.Clip, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from the pipeline's own files
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()
	return audio.ReadWAV(f)
}

func (p *FFmpegProcessor) decodeWithFFmpeg(ctx context.Context, path string, format audio.Format) (*audio.Clip, error) {
	args := []string{
		"-v", "error",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"pipe:1",
	}

	var stdout bytes.Buffer
	if err := p.runFFmpeg(ctx, args, nil, &stdout); err != nil {
		return nil, err
	}

	raw := stdout.Bytes()
	pcm := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw[:len(pcm)*2]), binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("read pcm: %w", err)
	}
	return audio.FromPCM16(format, pcm), nil
}

// Encode writes clip to path. "wav" is written natively; other formats are
// produced by piping 16-bit PCM into ffmpeg.
func (p *FFmpegProcessor) Encode(ctx context.Context, clip *audio.Clip, path, fileFormat string) error {
	fileFormat = strings.ToLower(strings.TrimPrefix(fileFormat, "."))
	if fileFormat == "" {
		return fmt.Errorf("%w: empty", ErrUnsupportedFormat)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if fileFormat == "wav" {
		return p.encodeWAV(clip, path)
	}

	var stdin bytes.Buffer
	if err := binary.Write(&stdin, binary.LittleEndian, clip.PCM16()); err != nil {
		return fmt.Errorf("prepare pcm: %w", err)
	}

	format := clip.Format()
	args := []string{
		"-y",
		"-v", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-i", "pipe:0",
		"-f", fileFormat,
		path,
	}
	return p.runFFmpeg(ctx, args, &stdin, nil)
}

func (p *FFmpegProcessor) encodeWAV(clip *audio.Clip, path string) error {
	f, err := os.Create(path) // #nosec G304 - path is built by the pipeline
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := audio.WriteWAV(f, clip); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// GetMediaDuration returns the duration in seconds of a media file.
// It uses ffprobe to extract the duration metadata.
func (p *FFmpegProcessor) GetMediaDuration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	var duration float64
	_, err = fmt.Sscanf(strings.TrimSpace(stdout.String()), "%f", &duration)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}

	return duration, nil
}
