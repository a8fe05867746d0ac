package handlers

import (
	"net/http"

	"draftplane/internal/apierror"
	"draftplane/internal/callbacks"
	"draftplane/internal/fsm"
	"draftplane/pkg/api"
)

// StatusCallback handles POST /api/v1/internal/jobs/{jobId}/status.
// It is called by the workflow orchestrator. Applied callbacks answer 204,
// replays 200 with the current job state.
func (h *Handlers) StatusCallback(w http.ResponseWriter, r *http.Request) {
	var req api.StatusCallbackRequest
	if err := decode(r, &req); err != nil {
		h.httpError(w, r, apierror.Validation("Invalid callback payload", nil))
		return
	}

	cb := callbacks.StatusCallback{
		EventID:         req.EventID,
		Status:          fsm.Status(req.Status),
		CorrelationID:   req.CorrelationID,
		ActorType:       req.ActorType,
		ArtifactUpdates: req.ArtifactUpdates,
		FailureCode:     req.FailureCode,
		FailureMessage:  req.FailureMessage,
		FailedStage:     req.FailedStage,
	}
	if req.OccurredAt != nil {
		cb.OccurredAt = *req.OccurredAt
	}

	res, err := h.callbacks.Process(r.Context(), r.PathValue("jobId"), cb)
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	if !res.Replayed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respondJson(w, http.StatusOK, api.StatusCallbackReplayResponse{
		JobID:                   res.JobID,
		EventID:                 res.EventID,
		Replayed:                true,
		CurrentStatus:           string(res.CurrentStatus),
		LatestAppliedOccurredAt: res.LatestAppliedOccurredAt,
	})
}
