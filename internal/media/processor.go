// Package media decodes audio containers into clips and encodes clips back
// into files, using native WAV handling and the ffmpeg CLI for everything else.
package media

import (
	"context"

	"github.com/maauso/showrunner/internal/audio"
)

// Processor defines the codec operations the timeline and generators rely on.
type Processor interface {
	// Decode reads the file at path and returns it converted to format.
	Decode(ctx context.Context, path string, format audio.Format) (*audio.Clip, error)

	// Encode writes clip to path in the container named by fileFormat
	// ("wav", "mp3", "ogg", ...).
	Encode(ctx context.Context, clip *audio.Clip, path, fileFormat string) error

	// GetMediaDuration returns the duration in seconds of a media file.
	GetMediaDuration(ctx context.Context, path string) (float64, error)
}
