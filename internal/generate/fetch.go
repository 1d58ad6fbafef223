package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/maauso/showrunner/internal/audio"
	"github.com/maauso/showrunner/internal/media"
	"github.com/maauso/showrunner/internal/segment"
	"github.com/maauso/showrunner/internal/storage"
)

// Static errors for fetching operations.
var (
	// ErrNoSource is returned when neither the text nor the arguments name what to fetch.
	ErrNoSource = errors.New("no source to fetch")
	// ErrNoDownloader is returned when a URL is fetched without an HTTP client.
	ErrNoDownloader = errors.New("no downloader configured")
	// ErrNoStorage is returned when a bucket key is fetched without storage.
	ErrNoStorage = errors.New("no storage configured")
	// ErrDurationOutOfRange is returned when fetched audio is shorter or
	// longer than the duration_min_sec/duration_max_sec arguments allow.
	ErrDurationOutOfRange = errors.New("audio duration out of range")
)

// durationLimits bound the length of fetched audio in seconds. Zero means unbounded.
type durationLimits struct {
	minSec, maxSec float64
}

func limitsFrom(args map[string]any) durationLimits {
	return durationLimits{
		minSec: argFloat(args, "duration_min_sec", 0),
		maxSec: argFloat(args, "duration_max_sec", 0),
	}
}

func (l durationLimits) set() bool {
	return l.minSec > 0 || l.maxSec > 0
}

func (l durationLimits) allow(sec float64) bool {
	return sec >= l.minSec && (l.maxSec <= 0 || sec <= l.maxSec)
}

// Downloader fetches a URL to a local file. *httpapi.Client satisfies it.
type Downloader interface {
	Download(ctx context.Context, target, destPath string) error
}

// fetcher brings remote audio into the run folder as WAV.
type fetcher struct {
	downloader Downloader
	storage    storage.Storage
	codec      media.Processor
	format     audio.Format
}

// fromURL downloads target next to dst and transcodes it into dst.
func (f *fetcher) fromURL(ctx context.Context, target, dst string, lim durationLimits) error {
	if f.downloader == nil {
		return ErrNoDownloader
	}
	tmp := downloadPath(dst, target, "download")
	if err := f.downloader.Download(ctx, target, tmp); err != nil {
		return err
	}
	if err := f.checkDuration(ctx, tmp, lim); err != nil {
		f.remove(tmp)
		return err
	}
	return f.transcode(ctx, tmp, dst)
}

// downloadPath names the scratch file a download of target is kept in
// before it is transcoded into dst. The extension of target is kept.
func downloadPath(dst, target, tag string) string {
	ext := ""
	if u, err := url.Parse(target); err == nil {
		ext = path.Ext(u.Path)
	}
	return strings.TrimSuffix(dst, filepath.Ext(dst)) + "." + tag + ext
}

// fromBucket copies a bucket object into temp storage and transcodes it into dst.
func (f *fetcher) fromBucket(ctx context.Context, key, dst string, lim durationLimits) error {
	if f.storage == nil {
		return ErrNoStorage
	}
	body, err := f.storage.FetchFromS3(ctx, key)
	if err != nil {
		return err
	}
	tmp, err := f.storage.SaveTemp(ctx, path.Base(key), body)
	_ = body.Close()
	if err != nil {
		return err
	}
	if err := f.checkDuration(ctx, tmp, lim); err != nil {
		f.remove(tmp)
		return err
	}
	return f.transcode(ctx, tmp, dst)
}

// source fetches a URL or, for anything else, a bucket key.
func (f *fetcher) source(ctx context.Context, src, dst string, lim durationLimits) error {
	if isURL(src) {
		return f.fromURL(ctx, src, dst, lim)
	}
	return f.fromBucket(ctx, src, dst, lim)
}

// checkDuration reads the container duration of src before anything is decoded.
func (f *fetcher) checkDuration(ctx context.Context, src string, lim durationLimits) error {
	if !lim.set() {
		return nil
	}
	sec, err := f.codec.GetMediaDuration(ctx, src)
	if err != nil {
		return fmt.Errorf("duration of %s: %w", filepath.Base(src), err)
	}
	if !lim.allow(sec) {
		return fmt.Errorf("%w: %.1fs not in [%g, %g]", ErrDurationOutOfRange, sec, lim.minSec, lim.maxSec)
	}
	return nil
}

// transcode decodes src, writes it to dst as WAV and removes src.
func (f *fetcher) transcode(ctx context.Context, src, dst string) error {
	defer f.remove(src)

	clip, err := f.codec.Decode(ctx, src, f.format)
	if err != nil {
		return err
	}
	if err := f.codec.Encode(ctx, clip, dst, "wav"); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func (f *fetcher) remove(p string) {
	if f.storage != nil {
		_ = f.storage.CleanupTemp(context.Background(), []string{p})
		return
	}
	_ = os.Remove(p)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Remote downloads the audio file at the URL given as text or "url" argument.
// Arguments duration_min_sec and duration_max_sec reject files of the wrong length.
type Remote struct {
	fetch *fetcher
}

// Generate fetches the URL into req.OutputPath.
func (r *Remote) Generate(ctx context.Context, req segment.Request) (*segment.Result, error) {
	target := strings.TrimSpace(req.Text)
	if !isURL(target) {
		target = argString(req.Args, "url")
	}
	if target == "" {
		return nil, ErrNoSource
	}
	if err := r.fetch.fromURL(ctx, target, req.OutputPath, limitsFrom(req.Args)); err != nil {
		return nil, err
	}
	return &segment.Result{Title: titleFromPath(target), URL: target}, nil
}

// Bucket fetches an object of the configured bucket by the key given as
// "key" argument or text.
type Bucket struct {
	fetch *fetcher
}

// Generate fetches the object into req.OutputPath.
func (b *Bucket) Generate(ctx context.Context, req segment.Request) (*segment.Result, error) {
	key := argString(req.Args, "key")
	if key == "" {
		key = strings.TrimSpace(req.Text)
	}
	if key == "" {
		return nil, ErrNoSource
	}
	if err := b.fetch.fromBucket(ctx, key, req.OutputPath, limitsFrom(req.Args)); err != nil {
		return nil, err
	}
	return &segment.Result{Title: titleFromPath(key), Metadata: map[string]any{"key": key}}, nil
}

// Playlist plays a random item of the "items" argument that has not been
// played yet by this process. Items are URLs or bucket keys.
type Playlist struct {
	fetch  *fetcher
	rand   Rand
	logger *slog.Logger

	mu     sync.Mutex
	played map[string]struct{}
}

// NewPlaylist creates the operation.
func NewPlaylist(f *fetcher, rnd Rand, logger *slog.Logger) *Playlist {
	return &Playlist{fetch: f, rand: rnd, logger: logger, played: make(map[string]struct{})}
}

// Generate fetches one unplayed item. When every item has been played no
// audio is produced. An item outside the duration bounds stays played.
func (p *Playlist) Generate(ctx context.Context, req segment.Request) (*segment.Result, error) {
	items := argStrings(req.Args, "items")
	if len(items) == 0 {
		return nil, ErrNoSource
	}

	item, ok := p.pick(items)
	if !ok {
		p.logger.Warn("playlist exhausted", slog.Int("items", len(items)))
		return nil, nil
	}

	if err := p.fetch.source(ctx, item, req.OutputPath, limitsFrom(req.Args)); err != nil {
		if !errors.Is(err, ErrDurationOutOfRange) {
			p.release(item)
		}
		return nil, err
	}
	res := &segment.Result{Title: titleFromPath(item)}
	if isURL(item) {
		res.URL = item
	}
	return res, nil
}

func (p *Playlist) pick(items []string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fresh []string
	for _, it := range items {
		if _, done := p.played[it]; !done {
			fresh = append(fresh, it)
		}
	}
	if len(fresh) == 0 {
		return "", false
	}
	item := fresh[p.rand.IntN(len(fresh))]
	p.played[item] = struct{}{}
	return item, true
}

func (p *Playlist) release(item string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.played, item)
}

func titleFromPath(s string) string {
	if u, err := url.Parse(s); err == nil && u.Path != "" {
		s = u.Path
	}
	base := path.Base(s)
	name := strings.TrimSuffix(base, path.Ext(base))
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return strings.NewReplacer("_", " ", "-", " ").Replace(name)
}
