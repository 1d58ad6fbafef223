package generate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/maauso/showrunner/internal/freesound"
	"github.com/maauso/showrunner/internal/segment"
)

// Default duration window of music searches, in seconds.
const (
	DefaultMusicMinSec = 20
	DefaultMusicMaxSec = 600
)

var musicTagRe = regexp.MustCompile(`\[MUSIC (.*?)\]`)

// MusicSearcher finds and downloads music. *freesound.Client satisfies it.
type MusicSearcher interface {
	Search(ctx context.Context, p freesound.SearchParams) ([]freesound.Sound, error)
	DownloadPreview(ctx context.Context, sound freesound.Sound, destPath string) error
}

// Music fetches a random well-rated Freesound track matching the entry.
type Music struct {
	search MusicSearcher
	fetch  *fetcher
	rand   Rand
	logger *slog.Logger
}

// Generate searches for the music type named by a "[MUSIC x]" tag in the
// text, or the whole text, plus the additional_query_text argument.
// Arguments duration_min_sec and duration_max_sec bound the track length.
func (m *Music) Generate(ctx context.Context, req segment.Request) (*segment.Result, error) {
	query := musicQuery(req.Text, argString(req.Args, "additional_query_text"))
	params := freesound.SearchParams{
		Query:       query,
		MinDuration: argFloat(req.Args, "duration_min_sec", DefaultMusicMinSec),
		MaxDuration: argFloat(req.Args, "duration_max_sec", DefaultMusicMaxSec),
	}

	m.logger.Info("searching music", slog.String("query", query))
	sounds, err := m.search.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(sounds) == 0 {
		m.logger.Warn("no music found", slog.String("query", query))
		return nil, nil
	}
	m.rand.Shuffle(len(sounds), func(i, j int) { sounds[i], sounds[j] = sounds[j], sounds[i] })

	var lastErr error
	for _, s := range sounds {
		tmp := downloadPath(req.OutputPath, s.PreviewURL(), fmt.Sprintf("preview%d", s.ID))
		if err := m.search.DownloadPreview(ctx, s, tmp); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			m.logger.Warn("preview download failed", slog.Int("sound_id", s.ID), slog.String("error", err.Error()))
			lastErr = err
			continue
		}
		if err := m.fetch.transcode(ctx, tmp, req.OutputPath); err != nil {
			return nil, err
		}
		return &segment.Result{
			Title: s.Name,
			URL:   s.PreviewURL(),
			Metadata: map[string]any{
				"freesound_id": s.ID,
				"username":     s.Username,
				"license":      s.License,
				"duration_sec": s.Duration,
			},
		}, nil
	}
	return nil, lastErr
}

// musicQuery strips a leading "[BACKGROUND" marker and joins the music type
// with extra query text.
func musicQuery(text, additional string) string {
	musicType := text
	if m := musicTagRe.FindStringSubmatch(text); m != nil {
		musicType = m[1]
	}
	musicType = strings.ReplaceAll(musicType, "[BACKGROUND", "")
	return strings.TrimSpace(strings.TrimSpace(musicType) + " " + strings.TrimSpace(additional))
}
