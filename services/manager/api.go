package manager

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
)

// API exposes the manager over HTTP.
type API struct {
	mgr    *Manager
	logger *slog.Logger
}

func NewAPI(mgr *Manager, logger *slog.Logger) *API {
	return &API{mgr: mgr, logger: logger}
}

// Router builds the HTTP route tree.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(a.requestLogger)
	r.Get("/healthz", a.healthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", a.submitTask)
		r.Get("/tasks/{id}", a.getTask)
		r.Get("/stats", a.getStats)
		r.Get("/workers", a.getWorkers)
		r.Get("/deadletter", a.getDeadLetter)
		r.Post("/deadletter/{id}/requeue", a.requeueDead)
	})
	return r
}

// submitRequest is the JSON body for POST /api/v1/tasks.
type submitRequest struct {
	Payload      json.RawMessage `json:"payload"`
	Priority     string          `json:"priority"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	Wait         bool            `json:"wait,omitempty"`
}

type submitResponse struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (a *API) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	sub := SubmitRequest{Payload: req.Payload, Priority: priority, ScheduledFor: req.ScheduledFor}

	if req.Wait {
		id, result, err := a.mgr.SubmitWait(r.Context(), sub)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, submitResponse{TaskID: id, Status: "completed", Result: result})
		return
	}

	id, err := a.mgr.Submit(r.Context(), sub)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	status := string(domain.StatusPending)
	if req.ScheduledFor != nil && req.ScheduledFor.After(time.Now()) {
		status = string(domain.StatusScheduled)
	}
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: id, Status: status})
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	info, err := a.mgr.TaskStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.mgr.Stats(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) getWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := a.mgr.Workers(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	if workers == nil {
		workers = []WorkerInfo{}
	}
	writeJSON(w, http.StatusOK, workers)
}

func (a *API) getDeadLetter(w http.ResponseWriter, r *http.Request) {
	dead, err := a.mgr.DeadLetter(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dead)
}

func (a *API) requeueDead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.mgr.RequeueDead(r.Context(), id); err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": string(domain.StatusPending)})
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	var (
		cfgErr  *domain.ConfigurationError
		nfErr   *domain.TaskNotFoundError
		downErr *domain.ShuttingDownError
		deadErr *domain.TaskDeadError
	)
	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, cfgErr.Error())
	case errors.As(err, &nfErr):
		writeError(w, http.StatusNotFound, nfErr.Error())
	case errors.As(err, &downErr):
		writeError(w, http.StatusServiceUnavailable, downErr.Error())
	case errors.As(err, &deadErr):
		writeError(w, http.StatusUnprocessableEntity, deadErr.Error())
	default:
		a.logger.Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLogger logs every HTTP request with method, path, status, and duration.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		a.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("remote_addr", r.RemoteAddr),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
