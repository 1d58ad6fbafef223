// Package show runs a show file end to end: it allocates a run folder,
// drives every stage onto one shared timeline, renders and visualizes the
// episode, optionally archives it, and finalizes the run.
package show

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/maauso/showrunner/internal/segment"
	"github.com/maauso/showrunner/internal/timeline"
)

// DefaultOutputFormat is the container of the rendered episode.
const DefaultOutputFormat = "wav"

// Render modes.
const (
	RenderModeTimeline = "timeline"
	RenderModeStitch   = "stitch"
)

// ErrInvalidConfig is returned when a show file fails validation.
var ErrInvalidConfig = errors.New("invalid show config")

// GlobalParameters apply to the whole run.
type GlobalParameters struct {
	// BackgroundMusicGain is applied to the background track after leveling, in dB.
	BackgroundMusicGain *float64 `yaml:"background_music_gain" json:"background_music_gain,omitempty" validate:"omitempty,lte=0"`
	// TargetLoudness is the dBFS the episode is leveled to.
	TargetLoudness *float64 `yaml:"target_loudness" json:"target_loudness,omitempty" validate:"omitempty,lt=0"`
	// OutputFormat names the episode container.
	OutputFormat string `yaml:"output_format" json:"output_format,omitempty" validate:"omitempty,oneof=wav mp3 ogg flac"`
	// RenderMode is "timeline" (default) or "stitch", which joins the
	// foreground clips back to back with a crossfade.
	RenderMode string `yaml:"render_mode" json:"render_mode,omitempty" validate:"omitempty,oneof=timeline stitch"`
}

// Stage is one segment driver run.
type Stage struct {
	segment.Config `yaml:",inline"`

	// Entries are the (type, value) instructions of the stage.
	Entries []segment.Entry `yaml:"entries"`
	// Records are raw entries keyed by segment_type_key and segment_value_key,
	// appended after Entries.
	Records []map[string]string `yaml:"records"`
}

// Config is a show file.
type Config struct {
	ShowName string           `yaml:"show_name" validate:"required,excludesall=/\\"`
	Global   GlobalParameters `yaml:"global_parameters"`
	Stages   []Stage          `yaml:"stages" validate:"min=1"`
	// Render defaults to true.
	Render *bool `yaml:"render"`
	// Archive uploads the rendered episode to the bucket.
	Archive bool `yaml:"archive"`
	// KeepIntermediate keeps the produced clips after a successful run.
	KeepIntermediate bool `yaml:"keep_intermediate"`
}

var validate = validator.New()

// Parse decodes a show file. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a show file from r.
func Decode(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// LoadFile reads a show file from disk.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path) // #nosec G304 - path is given by the operator
	if err != nil {
		return Config{}, fmt.Errorf("open show file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// ShouldRender reports whether the episode is rendered.
func (c Config) ShouldRender() bool {
	return c.Render == nil || *c.Render
}

// OutputFormat returns the episode container.
func (c Config) OutputFormat() string {
	if c.Global.OutputFormat == "" {
		return DefaultOutputFormat
	}
	return c.Global.OutputFormat
}

// Stitched reports whether the episode is stitched instead of mixed from placements.
func (c Config) Stitched() bool {
	return c.Global.RenderMode == RenderModeStitch
}

// TimelineOptions maps the global parameters to timeline options.
func (c Config) TimelineOptions() []timeline.Option {
	var opts []timeline.Option
	if c.Global.BackgroundMusicGain != nil {
		opts = append(opts, timeline.WithBackgroundGain(*c.Global.BackgroundMusicGain))
	}
	if c.Global.TargetLoudness != nil {
		opts = append(opts, timeline.WithTargetLoudness(*c.Global.TargetLoudness))
	}
	return opts
}

// stageConfig returns the driver configuration of stage i writing into dir.
func (c Config) stageConfig(i int, dir string) segment.Config {
	sc := c.Stages[i].Config
	if sc.Name == "" {
		sc.Name = fmt.Sprintf("%s_stage%d", c.ShowName, i)
	}
	sc.OutputFolder = dir
	return sc
}

// Validate checks the show file and every stage against the registry.
func (c Config) Validate(reg *segment.Registry) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for i := range c.Stages {
		if err := c.stageConfig(i, ".").WithDefaults().Validate(reg); err != nil {
			return fmt.Errorf("%w: stages[%d]: %w", ErrInvalidConfig, i, err)
		}
	}
	return nil
}
