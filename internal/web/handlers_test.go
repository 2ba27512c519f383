package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/choco2105/magic-reading/internal/engine"
	"github.com/choco2105/magic-reading/internal/generators"
	"github.com/choco2105/magic-reading/internal/interfaces"
	"github.com/choco2105/magic-reading/internal/logger"
	"github.com/choco2105/magic-reading/internal/models"
	"github.com/choco2105/magic-reading/internal/pipeline"
	"github.com/choco2105/magic-reading/internal/progress"
	"github.com/choco2105/magic-reading/internal/storage"
)

type fakeStories struct {
	story *models.Story
	err   error
	last  models.GenerationRequest
}

func (f *fakeStories) AssembleAndPersist(_ context.Context, req models.GenerationRequest) (*models.Story, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.story, nil
}

func (f *fakeStories) Lookup(_ context.Context, id string) (*models.Story, error) {
	if f.story != nil && f.story.ID == id {
		return f.story, nil
	}
	return nil, pipeline.ErrStoryNotFound
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(stories *fakeStories) http.Handler {
	store := storage.NewMemoryStore()
	return NewRouter(Deps{
		Stories:  stories,
		Progress: progress.NewService(store, logger.Nop()),
		Checks:   map[string]Pinger{"store": store},
		Logger:   logger.Nop(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestGenerateStory(t *testing.T) {
	stories := &fakeStories{story: &models.Story{ID: "s-1", Title: "The Brave Kite", Level: models.LevelBasic}}
	router := newTestRouter(stories)

	rec, body := do(t, router, http.MethodPost, "/generate-story", `{"level":"básico","topic":"kites","userId":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	story := body["story"].(map[string]any)
	assert.Equal(t, "The Brave Kite", story["title"])
	assert.Equal(t, models.Level("básico"), stories.last.Level)
	assert.Equal(t, "u1", stories.last.UserID)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestGenerateStoryStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"bad level", &pipeline.RequestError{Field: "level", Reason: "must be one of basic, intermediate, advanced"}, http.StatusBadRequest, "level must be one of"},
		{"generation", &engine.StoryGenerationFailed{Stage: "parse", Err: errors.New("model said: secret prompt")}, http.StatusInternalServerError, msgGenerateFailed},
		{"persistence", &pipeline.PersistenceError{Op: "save", Err: errors.New("dial tcp 10.0.0.3:3306")}, http.StatusInternalServerError, msgGenerateFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&fakeStories{err: tc.err})
			rec, body := do(t, router, http.MethodPost, "/generate-story", `{"level":"basic","userId":"u1"}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["error"], tc.msg)
			assert.NotContains(t, rec.Body.String(), "secret")
			assert.NotContains(t, rec.Body.String(), "10.0.0.3")
		})
	}
}

func TestGenerateStoryRejectsMalformedJSON(t *testing.T) {
	router := newTestRouter(&fakeStories{})
	rec, body := do(t, router, http.MethodPost, "/generate-story", `{"level":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgBadJSON, body["error"])
}

func TestGetStory(t *testing.T) {
	router := newTestRouter(&fakeStories{story: &models.Story{ID: "s-1", Title: "Found"}})

	rec, body := do(t, router, http.MethodGet, "/stories/s-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Found", body["story"].(map[string]any)["title"])

	rec, body = do(t, router, http.MethodGet, "/stories/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "story not found", body["error"])
}

func TestProgressFlow(t *testing.T) {
	router := newTestRouter(&fakeStories{})

	rec, body := do(t, router, http.MethodPost, "/users", `{"name":"Ana","age":9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	user := body["user"].(map[string]any)
	userID := user["userId"].(string)
	assert.Equal(t, "intermediate", user["recommendedLevel"])

	for i := 0; i < 3; i++ {
		payload := fmt.Sprintf(`{"userId":%q,"storyId":"s-%d","level":"intermediate","correct":3,"incorrect":1,"total":4}`, userID, i)
		rec, body = do(t, router, http.MethodPost, "/save-progress", payload)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(113), body["pointsAwarded"])
		assert.Equal(t, true, body["completed"])
		assert.NotEmpty(t, body["progressId"])
	}

	rec, body = do(t, router, http.MethodGet, "/progress?userId="+userID+"&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Len(t, data["records"], 2)
	assert.Equal(t, "Ana", data["user"].(map[string]any)["name"])

	rec, _ = do(t, router, http.MethodGet, "/progress?userId="+userID+"&limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, router, http.MethodPost, "/save-progress", `{"userId":"u","storyId":"s","level":"basic","correct":5,"total":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid answer counts", body["error"])

	rec, _ = do(t, router, http.MethodPost, "/users", `{"name":"Ana","age":15}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory(t *testing.T) {
	router := newTestRouter(&fakeStories{})

	rec, body := do(t, router, http.MethodGet, "/history?userId=nobody", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["data"])

	rec, _ = do(t, router, http.MethodGet, "/history", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&fakeStories{})
	rec, body := do(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["checks"].(map[string]any)["store"])

	down := NewRouter(Deps{
		Stories:  &fakeStories{},
		Progress: progress.NewService(storage.NewMemoryStore(), nil),
		Checks: map[string]Pinger{"redis": pingerFunc(func(context.Context) error {
			return errors.New("connection refused")
		})},
	})
	rec, body = do(t, down, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unavailable", body["checks"].(map[string]any)["redis"])
}

type stubImages struct{ calls int }

func (s *stubImages) Name() string { return "openai" }

func (s *stubImages) RequestImage(context.Context, string) (*interfaces.ProviderImage, error) {
	s.calls++
	return &interfaces.ProviderImage{URL: "https://signed/img.png", Cost: 0.04}, nil
}

func TestHealthCheckReportsImageCache(t *testing.T) {
	cache := generators.NewImageCache(&stubImages{}, 10, time.Minute)
	for i := 0; i < 3; i++ {
		_, err := cache.RequestImage(context.Background(), "castle")
		require.NoError(t, err)
	}

	router := NewRouter(Deps{
		Stories:    &fakeStories{},
		Progress:   progress.NewService(storage.NewMemoryStore(), nil),
		Stats:      generators.NewCascade(generators.CascadeOptions{}).Stats(),
		ImageCache: cache,
	})
	rec, body := do(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "images")

	stats := body["imageCache"].(map[string]any)
	assert.Equal(t, float64(2), stats["hits"])
	assert.Equal(t, float64(1), stats["misses"])
	assert.Equal(t, float64(1), stats["total_entries"])

	rec, body = do(t, newTestRouter(&fakeStories{}), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, body, "imageCache")
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(&fakeStories{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/generate-story", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGenerationStreamDeliversStagesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewStageHub(logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	srv := httptest.NewServer(NewRouter(Deps{
		Stories:  &fakeStories{},
		Progress: progress.NewService(storage.NewMemoryStore(), nil),
		Hub:      hub,
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/generation?userId=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	read := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	welcome := read()
	assert.Equal(t, "connected", welcome["type"])
	assert.Equal(t, 1, hub.ClientCount())

	stages := []pipeline.Stage{pipeline.StageReceived, pipeline.StageGenerating, pipeline.StageIllustrating, pipeline.StagePersisting, pipeline.StageDone}
	for i, stage := range stages {
		if i == 2 {
			hub.OnStage(pipeline.StageEvent{RequestID: "other", UserID: "u2", Stage: pipeline.StageFailed})
		}
		hub.OnStage(pipeline.StageEvent{RequestID: "r1", UserID: "u1", Stage: stage, StoryID: "s-1"})
	}

	for _, want := range stages {
		msg := read()
		assert.Equal(t, "stage", msg["type"])
		data := msg["data"].(map[string]any)
		assert.Equal(t, "r1", data["requestId"])
		assert.Equal(t, string(want), data["stage"])
	}

	require.NoError(t, conn.Close())
	cancel()
	<-hubDone
	srv.Close()
	assert.Equal(t, 0, hub.ClientCount())
}

func TestGenerationStreamRequiresUser(t *testing.T) {
	hub := NewStageHub(nil)
	router := NewRouter(Deps{Stories: &fakeStories{}, Progress: progress.NewService(storage.NewMemoryStore(), nil), Hub: hub})

	rec, body := do(t, router, http.MethodGet, "/ws/generation", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "userId is required", body["error"])
}
