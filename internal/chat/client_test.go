package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Chat(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: ` "Please welcome Blue Train!" `, Done: true})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "llama3", System: "You are a host.", Temperature: 0.9, MaxTokens: 64})

	reply, err := c.Chat(context.Background(), "Introduce: jazz:::Blue Train")

	require.NoError(t, err)
	assert.Equal(t, "Please welcome Blue Train!", reply)
	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "You are a host.", got.System)
	assert.False(t, got.Stream)
	assert.Equal(t, 0.9, got.Options["temperature"])
	assert.Equal(t, float64(64), got.Options["num_predict"])
}

func TestClient_ChatEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: `""`, Done: true})
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).Chat(context.Background(), "x")

	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestStripQuotes(t *testing.T) {
	tests := map[string]string{
		`"hello"`:    "hello",
		`'hello'`:    "hello",
		` "a" `:      "a",
		`"mismatch'`: `"mismatch'`,
		`"`:          `"`,
		"plain":      "plain",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripQuotes(in), in)
	}
}
