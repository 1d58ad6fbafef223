package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/showrunner/internal/job"
	"github.com/maauso/showrunner/internal/show"
)

const testShow = `
show_name: pilot
stages:
  - segment_type_map:
      host: {segment_type: speech}
    entries:
      - {type: host, value: hello}
`

// mockExecutor implements job.Executor for testing.
type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Validate(cfg show.Config) error {
	args := m.Called(cfg)
	return args.Error(0)
}

func (m *mockExecutor) Execute(ctx context.Context, cfg show.Config, _ ...show.ExecOption) (*show.Result, error) {
	args := m.Called(ctx, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*show.Result), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(t *testing.T) (*Handlers, *mockExecutor, job.Repository) {
	t.Helper()
	repo := job.NewMemoryRepository()
	exec := &mockExecutor{}
	exec.On("Validate", mock.Anything).Return(nil).Maybe()

	svc := job.NewEpisodeService(repo, exec, testLogger())

	// Runs are driven by the tests themselves.
	handlers := NewHandlers(svc, testLogger(), WithAsyncProcessing(false), WithOperations([]string{"speech", "applause"}))
	return handlers, exec, repo
}

func createBody(t *testing.T, req CreateEpisodeRequest) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

// completedJob stores a finished job whose run folder holds the episode.
func completedJob(t *testing.T, repo job.Repository) *job.Job {
	t.Helper()
	cfg, err := show.Parse([]byte(testShow))
	require.NoError(t, err)

	runDir := filepath.Join(t.TempDir(), "pilot_run1")
	require.NoError(t, os.MkdirAll(runDir, 0o750))
	audioPath := filepath.Join(runDir, "pilot.wav")
	htmlPath := filepath.Join(runDir, "pilot_timeline.html")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF-episode"), 0o600))
	require.NoError(t, os.WriteFile(htmlPath, []byte("<html></html>"), 0o600))

	j := job.New(cfg)
	require.NoError(t, j.Start())
	j.SetOutput(job.Output{RunDir: runDir, AudioPath: audioPath, TimelinePath: htmlPath, Entries: 1, DurationMs: 1200})
	require.NoError(t, j.Complete())
	require.NoError(t, repo.Save(context.Background(), j))
	return j
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"speech", "applause"}, resp.Operations)
}

func TestCreateEpisode_Success(t *testing.T) {
	h, exec, repo := newTestHandlers(t)
	archive := false

	req := httptest.NewRequest(http.MethodPost, "/episodes", createBody(t, CreateEpisodeRequest{Show: testShow, Archive: &archive}))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.CreateEpisode(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateEpisodeResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.ID, "ep-"))
	assert.Equal(t, "IN_QUEUE", resp.Status)

	saved, err := repo.FindByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "pilot", saved.ShowName)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestCreateEpisode_YAMLBody(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/episodes", strings.NewReader(testShow))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()

	h.CreateEpisode(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCreateEpisode_InvalidJSON(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/episodes", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.CreateEpisode(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, rec).Code)
}

func TestCreateEpisode_MissingShow(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/episodes", createBody(t, CreateEpisodeRequest{}))
	rec := httptest.NewRecorder()

	h.CreateEpisode(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
}

func TestCreateEpisode_UnparsableShow(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/episodes", createBody(t, CreateEpisodeRequest{Show: "show_name: x\nbogus_key: 1\n"}))
	rec := httptest.NewRecorder()

	h.CreateEpisode(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_SHOW", decodeError(t, rec).Code)
}

func TestCreateEpisode_RejectedShow(t *testing.T) {
	repo := job.NewMemoryRepository()
	exec := &mockExecutor{}
	exec.On("Validate", mock.Anything).Return(fmt.Errorf("%w: stages[0]: unknown operation", show.ErrInvalidConfig))
	h := NewHandlers(job.NewEpisodeService(repo, exec, testLogger()), testLogger(), WithAsyncProcessing(false))

	req := httptest.NewRequest(http.MethodPost, "/episodes", createBody(t, CreateEpisodeRequest{Show: testShow}))
	rec := httptest.NewRecorder()

	h.CreateEpisode(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "INVALID_SHOW", resp.Code)
	assert.Contains(t, resp.Error, "stages[0]")
	jobs, _ := repo.List(context.Background(), job.Filter{})
	assert.Empty(t, jobs)
}

func TestListEpisodes_Filter(t *testing.T) {
	h, _, repo := newTestHandlers(t)
	done := completedJob(t, repo)
	queued := job.New(show.Config{ShowName: "finale"})
	require.NoError(t, repo.Save(context.Background(), queued))

	tests := []struct {
		query string
		want  []string
	}{
		{query: "", want: []string{queued.ID, done.ID}},
		{query: "?show=pilot", want: []string{done.ID}},
		{query: "?status=in_queue", want: []string{queued.ID}},
		{query: "?show=finale&status=COMPLETED", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ListEpisodes(rec, httptest.NewRequest(http.MethodGet, "/episodes"+tt.query, nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var resp ListEpisodesResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			ids := []string{}
			for _, e := range resp.Episodes {
				ids = append(ids, e.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestListEpisodes_UnknownStatus(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.ListEpisodes(rec, httptest.NewRequest(http.MethodGet, "/episodes?status=paused", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STATUS", decodeError(t, rec).Code)
}

func TestGetEpisode_Success(t *testing.T) {
	h, _, repo := newTestHandlers(t)
	j := completedJob(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/episodes/"+j.ID, nil)
	req.SetPathValue("id", j.ID)
	rec := httptest.NewRecorder()

	h.GetEpisode(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp EpisodeResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, j.ID, resp.ID)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, 1200, resp.DurationMs)
	assert.Equal(t, "/episodes/"+j.ID+"/audio", resp.AudioURL)
	assert.Equal(t, "/episodes/"+j.ID+"/timeline", resp.TimelineURL)
	assert.NotNil(t, resp.CompletedAt)
}

func TestGetEpisode_NotFound(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/episodes/nonexistent", nil)
	req.SetPathValue("id", "nonexistent")
	rec := httptest.NewRecorder()

	h.GetEpisode(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec).Code)
}

func TestGetEpisode_MissingID(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/episodes/", nil)
	rec := httptest.NewRecorder()

	h.GetEpisode(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_JOB_ID", decodeError(t, rec).Code)
}

func TestGetEpisodeAudio(t *testing.T) {
	h, _, repo := newTestHandlers(t)
	j := completedJob(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/episodes/"+j.ID+"/audio", nil)
	req.SetPathValue("id", j.ID)
	rec := httptest.NewRecorder()

	h.GetEpisodeAudio(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RIFF-episode", rec.Body.String())
}

func TestGetEpisodeTimeline(t *testing.T) {
	h, _, repo := newTestHandlers(t)
	j := completedJob(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/episodes/"+j.ID+"/timeline", nil)
	req.SetPathValue("id", j.ID)
	rec := httptest.NewRecorder()

	h.GetEpisodeTimeline(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestGetEpisodeAudio_NotReady(t *testing.T) {
	h, _, repo := newTestHandlers(t)
	cfg, _ := show.Parse([]byte(testShow))
	j := job.New(cfg)
	require.NoError(t, repo.Save(context.Background(), j))

	req := httptest.NewRequest(http.MethodGet, "/episodes/"+j.ID+"/audio", nil)
	req.SetPathValue("id", j.ID)
	rec := httptest.NewRecorder()

	h.GetEpisodeAudio(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EPISODE_NOT_READY", decodeError(t, rec).Code)
}

func TestGetEpisodeAudio_FileGone(t *testing.T) {
	h, _, repo := newTestHandlers(t)
	j := completedJob(t, repo)
	require.NoError(t, os.Remove(j.AudioPath))

	req := httptest.NewRequest(http.MethodGet, "/episodes/"+j.ID+"/audio", nil)
	req.SetPathValue("id", j.ID)
	rec := httptest.NewRecorder()

	h.GetEpisodeAudio(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "OUTPUT_NOT_FOUND", decodeError(t, rec).Code)
}

func TestDeleteEpisode(t *testing.T) {
	h, _, repo := newTestHandlers(t)
	j := completedJob(t, repo)

	req := httptest.NewRequest(http.MethodDelete, "/episodes/"+j.ID, nil)
	req.SetPathValue("id", j.ID)
	rec := httptest.NewRecorder()

	h.DeleteEpisode(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoDirExists(t, j.RunDir)
	_, err := repo.FindByID(context.Background(), j.ID)
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestDeleteEpisode_NotFinished(t *testing.T) {
	h, _, repo := newTestHandlers(t)
	cfg, _ := show.Parse([]byte(testShow))
	j := job.New(cfg)
	require.NoError(t, repo.Save(context.Background(), j))

	req := httptest.NewRequest(http.MethodDelete, "/episodes/"+j.ID, nil)
	req.SetPathValue("id", j.ID)
	rec := httptest.NewRecorder()

	h.DeleteEpisode(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_NOT_FINISHED", decodeError(t, rec).Code)
}

func TestCancelEpisode(t *testing.T) {
	h, _, repo := newTestHandlers(t)
	cfg, _ := show.Parse([]byte(testShow))
	j := job.New(cfg)
	require.NoError(t, repo.Save(context.Background(), j))

	req := httptest.NewRequest(http.MethodPost, "/episodes/"+j.ID+"/cancel", nil)
	req.SetPathValue("id", j.ID)
	rec := httptest.NewRecorder()

	h.CancelEpisode(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.CancelEpisode(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_NOT_RUNNING", decodeError(t, rec).Code)
}

func TestRouter_Integration(t *testing.T) {
	h, exec, _ := newTestHandlers(t)
	router := NewRouter(h, testLogger(), DefaultConfig())
	exec.On("Execute", mock.Anything, mock.Anything).Return(&show.Result{}, nil).Maybe()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/episodes", createBody(t, CreateEpisodeRequest{Show: testShow}))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var createResp CreateEpisodeResponse
	err := json.NewDecoder(rec.Body).Decode(&createResp)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/episodes/"+createResp.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/episodes", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	var list ListEpisodesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Episodes, 1)
	assert.Equal(t, createResp.ID, list.Episodes[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/episodes/"+createResp.ID+"/audio", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, testLogger(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/episodes", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}
