package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/showrunner/internal/httpapi"
)

func TestClient_Synthesize(t *testing.T) {
	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("RIFFfakeWAVE"))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "sk-test", Voice: "nova", Speed: 1.1})
	out := filepath.Join(t.TempDir(), "a", "line.wav")

	err := c.Synthesize(context.Background(), "  Hello there ", out, Options{Model: "tts-1-hd"})

	require.NoError(t, err)
	assert.Equal(t, speechRequest{Model: "tts-1-hd", Input: "Hello there", Voice: "nova", ResponseFormat: "wav", Speed: 1.1}, got)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "RIFFfakeWAVE", string(data))
}

func TestClient_SynthesizeEmptyText(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused"})

	err := c.Synthesize(context.Background(), "   ", filepath.Join(t.TempDir(), "x.wav"), Options{})

	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestClient_SynthesizeEmptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	err := c.Synthesize(context.Background(), "hi", filepath.Join(t.TempDir(), "x.wav"), Options{})

	assert.ErrorIs(t, err, ErrEmptyAudio)
}

func TestClient_SynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, httpapi.WithMaxRetries(1), httpapi.WithBaseBackoff(time.Millisecond))
	out := filepath.Join(t.TempDir(), "x.wav")
	err := c.Synthesize(context.Background(), "hi", out, Options{})

	assert.ErrorIs(t, err, httpapi.ErrServerError)
	assert.NoFileExists(t, out)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})

	assert.Equal(t, "https://api.openai.com", c.api.BaseURL())
	assert.Equal(t, "tts-1", c.model)
	assert.Equal(t, "alloy", c.voice)
}
