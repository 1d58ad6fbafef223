// Package server provides the HTTP API for submitting show files and
// fetching the produced episodes. DTOs live here, apart from domain types.
package server

import "time"

// CreateEpisodeRequest is the JSON body for submitting a show file.
type CreateEpisodeRequest struct {
	// Show is the YAML text of the show file.
	Show string `json:"show" validate:"required"`
	// Archive overrides the archive flag of the show file.
	Archive *bool `json:"archive,omitempty"`
	// KeepIntermediate overrides keep_intermediate of the show file.
	KeepIntermediate *bool `json:"keep_intermediate,omitempty"`
}

// CreateEpisodeResponse is returned after a show file was accepted.
type CreateEpisodeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// EpisodeResponse describes one episode job.
type EpisodeResponse struct {
	ID       string `json:"id"`
	ShowName string `json:"show_name"`
	Status   string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`

	Entries    int `json:"entries,omitempty"`
	DurationMs int `json:"duration_ms,omitempty"`
	// AudioURL and TimelineURL point back at this API once the files exist.
	AudioURL    string `json:"audio_url,omitempty"`
	TimelineURL string `json:"timeline_url,omitempty"`
	// ArchiveURL is the bucket URL when the episode was archived.
	ArchiveURL string `json:"archive_url,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListEpisodesResponse lists episode jobs, newest first.
type ListEpisodesResponse struct {
	Episodes []EpisodeResponse `json:"episodes"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	// Operations lists the segment operations show files may use.
	Operations []string `json:"operations,omitempty"`
}
