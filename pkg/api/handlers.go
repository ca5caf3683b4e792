package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/AndPuQing/gflow/pkg/models"
	"github.com/AndPuQing/gflow/pkg/scheduler"
	"github.com/AndPuQing/gflow/pkg/store"
	"github.com/AndPuQing/gflow/pkg/tracing"
)

// writeError maps the error taxonomy of §7 onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	var nf *models.NotFoundError
	var ce *models.ConflictError
	var su *models.ServiceUnavailableError

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error()})
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, map[string]string{"error": ce.Error()})
	case errors.As(err, &su):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": su.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func jobID(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &models.ValidationError{Field: "id", Detail: "must be an integer"}
	}
	return id, nil
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Detail: "invalid JSON"})
		return
	}
	job, err := h.sched.Submit(req)
	if err != nil {
		writeError(w, err)
		return
	}
	tracing.SpanFromContext(r.Context()).SetAttributes(tracing.JobAttributes(job.ID, job.Name)...)
	h.metrics.Transitions.WithLabelValues(string(job.State)).Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": job.ID, "name": job.Name})
}

func (h *Handler) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []models.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Detail: "invalid JSON array"})
		return
	}
	if len(reqs) == 0 {
		writeError(w, &models.ValidationError{Field: "body", Detail: "empty batch"})
		return
	}

	groupID := reqs[0].GroupID
	if groupID == "" {
		groupID = uuid.NewString()
	}

	type submitted struct {
		ID   uint64 `json:"id"`
		Name string `json:"name"`
	}
	results := make([]submitted, 0, len(reqs))
	for _, req := range reqs {
		req.GroupID = groupID
		job, err := h.sched.Submit(req)
		if err != nil {
			writeError(w, err)
			return
		}
		results = append(results, submitted{ID: job.ID, Name: job.Name})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"group_id": groupID, "jobs": results})
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := scheduler.JobFilter{}

	if states := q.Get("states"); states != "" {
		for _, s := range splitCSV(states) {
			filter.States = append(filter.States, models.JobState(s))
		}
	}
	if ids := q.Get("ids"); ids != "" {
		for _, s := range splitCSV(ids) {
			n, err := strconv.ParseUint(s, 10, 64)
			if err == nil {
				filter.IDs = append(filter.IDs, n)
			}
		}
	}
	if names := q.Get("names"); names != "" {
		filter.Names = splitCSV(names)
	}
	if since := q.Get("since"); since != "" {
		if n, err := strconv.ParseInt(since, 10, 64); err == nil {
			filter.Since = n
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}

	writeJSON(w, http.StatusOK, h.sched.ListJobs(filter))
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := h.sched.GetJob(id)
	if err != nil {
		writeError(w, err)
		return
	}
	tracing.SpanFromContext(r.Context()).SetAttributes(tracing.JobAttributes(job.ID, job.Name)...)
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := h.sched.Cancel(r.Context(), id, body.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleHold(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.sched.Hold(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.sched.Release(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleGPUs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.GPUs())
}

func (h *Handler) handleSetAllowedGPUs(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Spec string `json:"spec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Detail: "invalid JSON"})
		return
	}
	if err := h.sched.SetAllowedGPUs(body.Spec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSetGroupLimit(w http.ResponseWriter, r *http.Request) {
	gid := mux.Vars(r)["gid"]
	var body models.GroupLimit
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Detail: "invalid JSON"})
		return
	}
	if err := h.sched.SetGroupLimit(gid, body.Limit); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]store.Status{"status": h.sched.Health()})
}

func (h *Handler) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Shutdown(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	if h.shutdown != nil {
		go h.shutdown()
	}
}
