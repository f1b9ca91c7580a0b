package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/receipt-capture/internal/api/middleware"
	"github.com/dvloznov/receipt-capture/internal/jobs"
	"github.com/dvloznov/receipt-capture/internal/logger"
)

// JobsHandler exposes recognition job state. Jobs of other tenants are
// reported as not found.
type JobsHandler struct {
	store jobs.JobStore
}

func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
}

func (h *JobsHandler) list(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	q := r.URL.Query()
	filter := jobs.JobFilter{
		TenantID: tc.ID,
		RecordID: q.Get("record_id"),
		Status:   jobs.JobStatus(q.Get("status")),
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, log, err, "Failed to list jobs")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

func (h *JobsHandler) get(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	job, err := h.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err == nil && job.TenantID != tc.ID {
		err = jobs.ErrJobNotFound
	}
	if err != nil {
		writeError(w, log, err, "Failed to get job")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}
