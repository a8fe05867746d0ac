package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"draftplane/internal/apierror"
	"draftplane/internal/jobs"
	"draftplane/internal/logger"
	"draftplane/pkg/api"
)

// CreateJob handles POST /api/v1/projects/{projectId}/jobs.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	job, err := h.jobs.Create(r.Context(), p.UserID, r.PathValue("projectId"))
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toAPIJob(*job))
}

// GetJob handles GET /api/v1/jobs/{jobId}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	job, err := h.jobs.Get(r.Context(), p.UserID, r.PathValue("jobId"))
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toAPIJob(*job))
}

// ConfirmUpload handles POST /api/v1/jobs/{jobId}/confirm-upload.
func (h *Handlers) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	var req api.ConfirmUploadRequest
	if err := decode(r, &req); err != nil {
		h.httpError(w, r, apierror.Validation("Invalid request body", nil))
		return
	}

	res, err := h.jobs.ConfirmUpload(r.Context(), p.UserID, r.PathValue("jobId"), req.VideoURI)
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.ConfirmUploadResponse{Job: toAPIJob(res.Job), Replayed: res.Replayed})
}

// RunJob handles POST /api/v1/jobs/{jobId}/run. A fresh dispatch answers
// 202, a replay of the live dispatch 200.
func (h *Handlers) RunJob(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	res, err := h.jobs.Run(r.Context(), p.UserID, r.PathValue("jobId"))
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if res.Replayed {
		status = http.StatusOK
	}
	h.respondJson(w, status, api.RunJobResponse{
		JobID:      res.JobID,
		Status:     string(res.Status),
		DispatchID: res.DispatchID,
		Replayed:   res.Replayed,
	})
}

// RetryJob handles POST /api/v1/jobs/{jobId}/retry.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	var req api.RetryJobRequest
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.ClientRequestID) == "" {
		h.httpError(w, r, apierror.Validation("Invalid retry payload", map[string]any{"required": []string{"model_profile", "client_request_id"}}))
		return
	}

	res, err := h.jobs.Retry(r.Context(), p.UserID, r.PathValue("jobId"), jobs.RetryInput{
		ModelProfile:    req.ModelProfile,
		ClientRequestID: req.ClientRequestID,
	})
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if res.Replayed {
		status = http.StatusOK
	}
	h.respondJson(w, status, api.RetryJobResponse{
		JobID:            res.JobID,
		Status:           string(res.Status),
		ResumeFromStatus: string(res.ResumeFromStatus),
		CheckpointRef:    res.CheckpointRef,
		ModelProfile:     res.ModelProfile,
		DispatchID:       res.DispatchID,
		Replayed:         res.Replayed,
	})
}

// CancelJob handles POST /api/v1/jobs/{jobId}/cancel. The request's
// correlation id is recorded on the audit entry.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	correlationID := logger.RequestIDFromContext(r.Context())
	job, err := h.jobs.Cancel(r.Context(), p.UserID, r.PathValue("jobId"), correlationID)
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toAPIJob(job))
}

// GetTranscript handles GET /api/v1/jobs/{jobId}/transcript.
func (h *Handlers) GetTranscript(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	limit := jobs.DefaultTranscriptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			h.httpError(w, r, apierror.InvalidParameter("limit must be an integer.", map[string]any{
				"limit":     raw,
				"min_limit": jobs.MinTranscriptLimit,
				"max_limit": jobs.MaxTranscriptLimit,
			}))
			return
		}
		limit = v
	}

	page, err := h.jobs.Transcript(r.Context(), p.UserID, r.PathValue("jobId"), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	resp := api.TranscriptPage{
		Items:      make([]api.TranscriptSegment, 0, len(page.Items)),
		Limit:      page.Limit,
		NextCursor: page.NextCursor,
	}
	for _, s := range page.Items {
		resp.Items = append(resp.Items, api.TranscriptSegment{StartMS: s.StartMS, EndMS: s.EndMS, Text: s.Text})
	}
	h.respondJson(w, http.StatusOK, resp)
}
