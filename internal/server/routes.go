package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /episodes", h.CreateEpisode)
	mux.HandleFunc("GET /episodes", h.ListEpisodes)
	mux.HandleFunc("GET /episodes/{id}", h.GetEpisode)
	mux.HandleFunc("GET /episodes/{id}/audio", h.GetEpisodeAudio)
	mux.HandleFunc("GET /episodes/{id}/timeline", h.GetEpisodeTimeline)
	mux.HandleFunc("POST /episodes/{id}/cancel", h.CancelEpisode)
	mux.HandleFunc("DELETE /episodes/{id}", h.DeleteEpisode)

	chain := ChainMiddleware(
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
