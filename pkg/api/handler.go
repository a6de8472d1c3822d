package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/ratelimit"
	"github.com/clipforge/clipforge/pkg/renderer"
	"github.com/clipforge/clipforge/pkg/store"
)

// Submitter accepts new job requests. The pipeline dispatcher is the
// production implementation.
type Submitter interface {
	Submit(req models.JobRequest) (*models.Job, error)
}

// Handler serves the job submission and status API
type Handler struct {
	store     store.Store
	submitter Submitter
	hub       *Hub
	limiter   *ratelimit.Limiter
	log       *logging.Logger
}

func NewHandler(s store.Store, submitter Submitter, hub *Hub, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}
	return &Handler{
		store:     s,
		submitter: submitter,
		hub:       hub,
		log:       log.WithField("component", "api"),
	}
}

// SetRateLimiter applies per-client limiting to mutating routes
func (h *Handler) SetRateLimiter(l *ratelimit.Limiter) {
	h.limiter = l
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	submit := http.Handler(http.HandlerFunc(h.SubmitJob))
	callback := http.Handler(http.HandlerFunc(h.RenderCallback))
	if h.limiter != nil {
		mw := h.limiter.Middleware(ratelimit.IPKeyFunc)
		submit = mw(submit)
		callback = mw(callback)
	}

	r.Handle("/jobs", submit).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}/history", h.GetJobHistory).Methods("GET")
	r.Handle("/callbacks/render/{id}", callback).Methods("POST")
	if h.hub != nil {
		r.HandleFunc("/ws", h.ServeWS).Methods("GET")
	}
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// SubmitJob accepts a render request and returns the queued job
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req models.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SourceRef == "" {
		http.Error(w, "source_ref is required", http.StatusBadRequest)
		return
	}

	job, err := h.submitter.Submit(req)
	if err != nil {
		h.log.Error("failed to submit job", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to submit job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

// ListJobs returns snapshots of all jobs, optionally filtered by status
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	var jobs []*models.Job
	if status != "" {
		filtered, err := h.store.GetJobs(models.JobStatus(status))
		if err != nil {
			http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
			return
		}
		jobs = make([]*models.Job, 0, len(filtered))
		for i := range filtered {
			jobs = append(jobs, &filtered[i])
		}
	} else {
		jobs = h.store.ListJobs()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// GetJob returns one job snapshot
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.store.GetJob(id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// GetJobHistory returns the job's stage audit trail
func (h *Handler) GetJobHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.store.GetJob(id); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return
	}

	history, err := h.store.GetHistory(id)
	if err != nil {
		http.Error(w, "Failed to get job history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// RenderCallback records a completion delivered by a remote render
// service. Duplicate deliveries are rejected by terminal-state guards.
func (h *Handler) RenderCallback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var result renderer.Result
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result.JobID = id

	if err := renderer.ApplyResult(h.store, result); err != nil {
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			http.Error(w, "Job not found", http.StatusNotFound)
		case errors.Is(err, store.ErrTerminalState):
			http.Error(w, "Job already finished", http.StatusConflict)
		default:
			h.log.Warn("failed to apply render callback", map[string]interface{}{
				"job_id": id,
				"error":  err.Error(),
			})
			http.Error(w, "Failed to apply render result", http.StatusBadRequest)
		}
		return
	}

	if h.hub != nil {
		if job, err := h.store.GetJob(id); err == nil {
			h.hub.JobUpdated(job)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// ServeWS upgrades the connection and attaches it to the hub
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	h.hub.RegisterClient(conn)

	// reads are discarded; the socket exists for pushed updates
	go func() {
		defer h.hub.UnregisterClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Health reports store connectivity
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.HealthCheck(); err != nil {
		http.Error(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
