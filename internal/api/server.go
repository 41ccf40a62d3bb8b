// Package api is the boundary HTTP surface: job submission/inspection and
// schedule management. It never touches orchestration internals beyond the
// queue service facade and the store's read side.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
	"github.com/jsaddiction/Metarr-sub001/internal/queue"
	"github.com/jsaddiction/Metarr-sub001/internal/scheduler"
	"github.com/jsaddiction/Metarr-sub001/internal/worker"
)

type Server struct {
	svc       *worker.Service
	store     queue.Store
	schedules queue.ScheduleStore // nil when the backend has no schedule support
}

// NewServer builds the router. schedules may be nil; the schedule routes
// then respond 404.
func NewServer(svc *worker.Service, store queue.Store, schedules queue.ScheduleStore) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	s := &Server{svc: svc, store: store, schedules: schedules}

	r.Get("/health", s.health)
	r.Post("/api/jobs", s.submitJob)
	r.Get("/api/jobs", s.listJobs)
	r.Get("/api/jobs/{id}", s.getJob)
	if schedules != nil {
		r.Post("/api/schedules", s.createSchedule)
		r.Get("/api/schedules", s.listSchedules)
		r.Get("/api/schedules/{id}", s.getSchedule)
		r.Put("/api/schedules/{id}", s.updateSchedule)
		r.Delete("/api/schedules/{id}", s.deleteSchedule)
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"breaker": s.svc.BreakerState(),
	})
}

type submitReq struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
}

type submitResp struct {
	ID string `json:"id"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	id, err := s.svc.Submit(r.Context(), domain.JobType(req.Type), req.Payload, req.Priority, req.MaxAttempts)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResp{ID: id})
}

type jobResp struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Priority    int    `json:"priority"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toJobResp(j domain.Job) jobResp {
	return jobResp{
		ID:          j.ID,
		Type:        string(j.Type),
		Status:      string(j.Status),
		Priority:    j.Priority,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListRecent(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]jobResp, len(jobs))
	for i, j := range jobs {
		out[i] = toJobResp(j)
	}
	writeJSON(w, http.StatusOK, out)
}

type createScheduleReq struct {
	Name        string          `json:"name"`
	CronExpr    string          `json:"cron_expr"`
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
	Enabled     bool            `json:"enabled"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.CronExpr == "" || req.JobType == "" {
		http.Error(w, "name, cron_expr and job_type are required", http.StatusBadRequest)
		return
	}
	if err := scheduler.ValidateCronExpression(req.CronExpr); err != nil {
		http.Error(w, "invalid cron expression: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := domain.DecodePayload(domain.JobType(req.JobType), req.Payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	nextRun, err := scheduler.NextRunTime(req.CronExpr, time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.schedules.CreateSchedule(r.Context(), domain.Schedule{
		Name:        req.Name,
		CronExpr:    req.CronExpr,
		JobType:     domain.JobType(req.JobType),
		Payload:     req.Payload,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		Enabled:     req.Enabled,
		NextRun:     nextRun,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, submitResp{ID: id})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.schedules.ListSchedules(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	schedule, err := s.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var req createScheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.CronExpr == "" || req.JobType == "" {
		http.Error(w, "name, cron_expr and job_type are required", http.StatusBadRequest)
		return
	}
	if err := scheduler.ValidateCronExpression(req.CronExpr); err != nil {
		http.Error(w, "invalid cron expression: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := domain.DecodePayload(domain.JobType(req.JobType), req.Payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	nextRun := existing.NextRun
	if req.CronExpr != existing.CronExpr {
		nextRun, err = scheduler.NextRunTime(req.CronExpr, time.Now())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	existing.Name = req.Name
	existing.CronExpr = req.CronExpr
	existing.JobType = domain.JobType(req.JobType)
	existing.Payload = req.Payload
	existing.Priority = req.Priority
	existing.MaxAttempts = req.MaxAttempts
	existing.Enabled = req.Enabled
	existing.NextRun = nextRun
	if err := s.schedules.UpdateSchedule(r.Context(), existing); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.schedules.DeleteSchedule(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
