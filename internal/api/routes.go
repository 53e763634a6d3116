package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"mirror-sync-service/internal/logger"
	"mirror-sync-service/internal/sync"
)

const defaultLogLimit = 50

type Handler struct {
	syncManager *sync.Manager
	authToken   string
	// ctx bounds runs started from the API; cancelled on shutdown.
	ctx context.Context
	// runs tracks cycles started by TriggerSync.
	runs gosync.WaitGroup
}

func NewHandler(ctx context.Context, manager *sync.Manager, authToken string) *Handler {
	return &Handler{
		syncManager: manager,
		authToken:   authToken,
		ctx:         ctx,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.authToken))

		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/logs", h.ListSyncLogs)
		r.Post("/sync/replay", h.ReplayFailed)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// TriggerSync starts a cycle in the background and answers immediately.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	mode, err := sync.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if h.syncManager.IsRunning(mode) {
		respondError(w, http.StatusConflict, sync.ErrRunInProgress)
		return
	}

	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		_, err := h.syncManager.RunCycle(h.ctx, mode)
		switch {
		case errors.Is(err, sync.ErrRunInProgress):
			logger.Log.Info("Triggered sync skipped, already running", zap.String("mode", string(mode)))
		case err != nil:
			logger.Log.Error("Triggered sync failed", zap.String("mode", string(mode)), zap.Error(err))
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started", "mode": string(mode)})
}

// Wait blocks until every cycle started through the API has returned. Cancel
// the handler's context first to make in-flight runs stop early.
func (h *Handler) Wait() {
	h.runs.Wait()
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.syncManager.Status())
}

func (h *Handler) ListSyncLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultLogLimit)
	if err != nil || limit <= 0 {
		respondError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		respondError(w, http.StatusBadRequest, errors.New("offset must be a non-negative integer"))
		return
	}

	logs, err := h.syncManager.SyncLogs().List(r.Context(), q.Get("entity"), limit, offset)
	if err != nil {
		logger.Log.Error("Failed to list sync logs", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *Handler) ReplayFailed(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	if entity == "" {
		respondError(w, http.StatusBadRequest, errors.New("entity is required"))
		return
	}

	report, err := h.syncManager.ReplayFailed(r.Context(), entity)
	switch {
	case errors.Is(err, sync.ErrUnknownEntity):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, sync.ErrRunInProgress):
		respondError(w, http.StatusConflict, err)
	case err != nil && report == nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		// A batch-aborting failure still returns the partial report.
		status := http.StatusOK
		if err != nil {
			status = http.StatusBadGateway
		}
		respondJSON(w, status, report)
	}
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware requires "Authorization: Bearer <token>". An empty token
// leaves the API open.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respondError(w, http.StatusUnauthorized, errors.New("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
