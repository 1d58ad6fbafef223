// Package freesound provides a client for the Freesound API v2 text search
// and sound preview downloads.
package freesound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/maauso/showrunner/internal/httpapi"
)

// DefaultBaseURL is the public Freesound API root.
const DefaultBaseURL = "https://freesound.org/apiv2"

// Static errors for Freesound operations.
var (
	// ErrEmptyQuery is returned when a search is attempted without a query.
	ErrEmptyQuery = errors.New("freesound: query is empty")
	// ErrNoPreview is returned when a sound has no downloadable preview.
	ErrNoPreview = errors.New("freesound: sound has no preview")
)

// Sound is one search result.
type Sound struct {
	ID       int               `json:"id"`
	Name     string            `json:"name"`
	Username string            `json:"username"`
	License  string            `json:"license"`
	Duration float64           `json:"duration"`
	Previews map[string]string `json:"previews"`
}

// PreviewURL returns the best available preview, high quality mp3 first.
func (s Sound) PreviewURL() string {
	for _, k := range []string{"preview-hq-mp3", "preview-lq-mp3", "preview-hq-ogg", "preview-lq-ogg"} {
		if u := s.Previews[k]; u != "" {
			return u
		}
	}
	return ""
}

// SearchParams narrows a text search.
type SearchParams struct {
	Query string
	// MinDuration and MaxDuration are in seconds; zero means unbounded.
	MinDuration float64
	MaxDuration float64
	PageSize    int
}

type searchResponse struct {
	Count   int     `json:"count"`
	Results []Sound `json:"results"`
}

// Client talks to the Freesound API.
type Client struct {
	api *httpapi.Client
}

// NewClient creates a client authenticated with a Freesound API token.
func NewClient(baseURL, token string, opts ...httpapi.Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if token != "" {
		opts = append([]httpapi.Option{httpapi.WithHeader("Authorization", "Token "+token)}, opts...)
	}
	return &Client{api: httpapi.New("freesound", baseURL, opts...)}
}

// Search runs a text search sorted by rating.
func (c *Client) Search(ctx context.Context, p SearchParams) ([]Sound, error) {
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("sort", "rating_desc")
	q.Set("fields", "id,name,username,license,duration,previews")
	if f := durationFilter(p.MinDuration, p.MaxDuration); f != "" {
		q.Set("filter", f)
	}
	if p.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(p.PageSize))
	}

	var resp searchResponse
	if err := c.api.JSON(ctx, http.MethodGet, c.api.URL("/search/text/", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// DownloadPreview writes the preview of sound to destPath.
func (c *Client) DownloadPreview(ctx context.Context, sound Sound, destPath string) error {
	u := sound.PreviewURL()
	if u == "" {
		return fmt.Errorf("%w: %d", ErrNoPreview, sound.ID)
	}
	return c.api.Download(ctx, u, destPath)
}

func durationFilter(minSec, maxSec float64) string {
	if minSec <= 0 && maxSec <= 0 {
		return ""
	}
	lo, hi := "*", "*"
	if minSec > 0 {
		lo = strconv.FormatFloat(minSec, 'f', -1, 64)
	}
	if maxSec > 0 {
		hi = strconv.FormatFloat(maxSec, 'f', -1, 64)
	}
	return fmt.Sprintf("duration:[%s TO %s]", lo, hi)
}
