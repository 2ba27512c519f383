package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/choco2105/magic-reading/internal/generators"
	"github.com/choco2105/magic-reading/internal/logger"
	"github.com/choco2105/magic-reading/internal/models"
	"github.com/choco2105/magic-reading/internal/progress"
)

const maxBodyBytes = 1 << 20

// StoryService builds and looks up stories
type StoryService interface {
	AssembleAndPersist(ctx context.Context, req models.GenerationRequest) (*models.Story, error)
	Lookup(ctx context.Context, id string) (*models.Story, error)
}

// ProgressService records reading sessions and reader profiles
type ProgressService interface {
	Save(ctx context.Context, in progress.SaveInput) (*progress.SaveResult, error)
	Overview(ctx context.Context, userID string, limit int) (*progress.Overview, error)
	History(ctx context.Context, userID string, limit int) ([]models.Story, error)
	RegisterUser(ctx context.Context, name string, age int) (*models.UserProfile, error)
}

// Pinger is a dependency reported by /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP API. Hub, Stats, ImageCache and Checks are optional.
type Deps struct {
	Stories    StoryService
	Progress   ProgressService
	Hub        *StageHub
	Stats      *generators.Stats
	ImageCache *generators.ImageCache
	Checks     map[string]Pinger
	Logger     *logger.Logger
}

type Handlers struct {
	stories    StoryService
	progress   ProgressService
	hub        *StageHub
	stats      *generators.Stats
	imageCache *generators.ImageCache
	checks     map[string]Pinger
	log        *logger.Logger
}

func NewHandlers(deps Deps) *Handlers {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Handlers{
		stories:    deps.Stories,
		progress:   deps.Progress,
		hub:        deps.Hub,
		stats:      deps.Stats,
		imageCache: deps.ImageCache,
		checks:     deps.Checks,
		log:        log.With("component", "http"),
	}
}

type generateRequest struct {
	Level  string `json:"level"`
	Topic  string `json:"topic"`
	UserID string `json:"userId"`
}

func (h *Handlers) GenerateStory(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	story, err := h.stories.AssembleAndPersist(r.Context(), models.GenerationRequest{
		Level:  models.Level(req.Level),
		Topic:  req.Topic,
		UserID: req.UserID,
	})
	if err != nil {
		status, msg := statusFor(err, msgGenerateFailed)
		if status >= http.StatusInternalServerError {
			h.log.Error("generate story failed", "user_id", req.UserID, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"story":   story,
	})
}

func (h *Handlers) SaveProgress(w http.ResponseWriter, r *http.Request) {
	var in progress.SaveInput
	if !decodeBody(w, r, &in) {
		return
	}

	res, err := h.progress.Save(r.Context(), in)
	if err != nil {
		status, msg := statusFor(err, msgInternal)
		if status >= http.StatusInternalServerError {
			h.log.Error("save progress failed", "user_id", in.UserID, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"progressId":     res.ProgressID,
		"pointsAwarded":  res.PointsAwarded,
		"completed":      res.Completed,
		"percentCorrect": res.PercentCorrect,
		"message":        res.Message,
	})
}

func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, progress.DefaultProgressLimit)
	if !ok {
		return
	}

	ov, err := h.progress.Overview(r.Context(), r.URL.Query().Get("userId"), limit)
	if err != nil {
		status, msg := statusFor(err, msgInternal)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    ov,
	})
}

func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, progress.DefaultHistoryLimit)
	if !ok {
		return
	}

	stories, err := h.progress.History(r.Context(), r.URL.Query().Get("userId"), limit)
	if err != nil {
		status, msg := statusFor(err, msgInternal)
		if status >= http.StatusInternalServerError {
			h.log.Error("history lookup failed", "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    stories,
	})
}

func (h *Handlers) GetStory(w http.ResponseWriter, r *http.Request) {
	story, err := h.stories.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status, msg := statusFor(err, msgInternal)
		if status >= http.StatusInternalServerError {
			h.log.Error("story lookup failed", "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"story":   story,
	})
}

type registerRequest struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.progress.RegisterUser(r.Context(), req.Name, req.Age)
	if err != nil {
		status, msg := statusFor(err, msgInternal)
		if status >= http.StatusInternalServerError {
			h.log.Error("register user failed", "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.log.Warn("health check failed", "check", name, "error", err)
			checks[name] = "unavailable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":  status,
		"service": "magic-reading",
		"checks":  checks,
	}
	if h.stats != nil {
		body["images"] = h.stats.Snapshot()
	}
	if h.imageCache != nil {
		body["imageCache"] = h.imageCache.GetStats()
	}
	if h.hub != nil {
		body["listeners"] = h.hub.ClientCount()
	}
	writeJSON(w, code, body)
}

func (h *Handlers) GenerationStream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stage stream not available")
		return
	}
	h.hub.ServeWS(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, msgBadJSON)
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

func NewRouter(deps Deps) *chi.Mux {
	h := NewHandlers(deps)
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Post("/generate-story", h.GenerateStory)
	r.Get("/stories/{id}", h.GetStory)

	r.Post("/save-progress", h.SaveProgress)
	r.Get("/progress", h.GetProgress)
	r.Get("/history", h.GetHistory)
	r.Post("/users", h.RegisterUser)

	r.Get("/ws/generation", h.GenerationStream)

	return r
}
