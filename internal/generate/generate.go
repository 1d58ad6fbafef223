// Package generate provides the clip-producing operations a show can
// reference from its segment type configuration: synthesized speech,
// applause, Freesound music, remote files, bucket objects and playlists.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/maauso/showrunner/internal/audio"
	"github.com/maauso/showrunner/internal/media"
	"github.com/maauso/showrunner/internal/segment"
	"github.com/maauso/showrunner/internal/speech"
	"github.com/maauso/showrunner/internal/storage"
)

// Operation names as referenced by segment_type in show files.
const (
	OpSpeech   = "speech"
	OpApplause = "applause"
	OpMusic    = "music"
	OpRemote   = "remote"
	OpBucket   = "bucket"
	OpPlaylist = "playlist"
)

// aliases keeps show files written against the older names working.
var aliases = map[string]string{
	"fast_TTS":                  OpSpeech,
	"music_generator_freesound": OpMusic,
}

// Rand is the randomness source of the operations. *rand.Rand satisfies it.
type Rand interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

type globalRand struct{}

func (globalRand) IntN(n int) int                     { return rand.IntN(n) }
func (globalRand) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// Deps are the collaborators of the operations. Speech and Music may be nil,
// in which case the operations depending on them are not registered.
type Deps struct {
	Speech     speech.Synthesizer
	Music      MusicSearcher
	Downloader Downloader
	Storage    storage.Storage
	Codec      media.Processor
	// Format is the format intermediate WAV files are written in.
	Format audio.Format
	// ApplauseSample is an optional recording applause is cut from.
	ApplauseSample string
	Rand           Rand
	Logger         *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Codec == nil {
		d.Codec = media.NewFFmpegProcessor("")
	}
	if d.Format == (audio.Format{}) {
		d.Format = audio.DefaultFormat
	}
	if d.Rand == nil {
		d.Rand = globalRand{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Register adds every operation whose dependencies are present to reg,
// under its name and its aliases.
func Register(reg *segment.Registry, d Deps) error {
	d = d.withDefaults()
	f := &fetcher{downloader: d.Downloader, storage: d.Storage, codec: d.Codec, format: d.Format}

	ops := map[string]segment.Operation{
		OpApplause: NewApplause(d.Codec, d.Format, d.ApplauseSample, d.Rand, d.Logger),
		OpRemote:   &Remote{fetch: f},
		OpBucket:   &Bucket{fetch: f},
		OpPlaylist: NewPlaylist(f, d.Rand, d.Logger),
	}
	if d.Speech != nil {
		ops[OpSpeech] = &Speech{synth: d.Speech}
	}
	if d.Music != nil {
		ops[OpMusic] = &Music{search: d.Music, fetch: f, rand: d.Rand, logger: d.Logger}
	}

	for name, op := range ops {
		if err := reg.Register(name, op); err != nil {
			return err
		}
	}
	for alias, name := range aliases {
		op, ok := ops[name]
		if !ok {
			continue
		}
		if err := reg.Register(alias, op); err != nil {
			return err
		}
	}
	return nil
}

// writeWAV writes clip to path as WAV, creating the parent directory.
func writeWAV(path string, clip *audio.Clip) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path) // #nosec G304 - path is built by the driver
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := audio.WriteWAV(f, clip); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func argString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func argFloat(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func argStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Speech speaks the entry text.
type Speech struct {
	synth speech.Synthesizer
}

// Generate synthesizes req.Text. Arguments voice, model and speed override the client defaults.
func (s *Speech) Generate(ctx context.Context, req segment.Request) (*segment.Result, error) {
	opts := speech.Options{
		Voice: argString(req.Args, "voice"),
		Model: argString(req.Args, "model"),
		Speed: argFloat(req.Args, "speed", 0),
	}
	if err := s.synth.Synthesize(ctx, req.Text, req.OutputPath, opts); err != nil {
		return nil, err
	}
	return &segment.Result{}, nil
}
