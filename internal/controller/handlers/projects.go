package handlers

import (
	"net/http"
	"strconv"

	"draftplane/internal/apierror"
	"draftplane/pkg/api"
)

// CreateProject handles POST /api/v1/projects.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	var req api.CreateProjectRequest
	if err := decode(r, &req); err != nil {
		h.httpError(w, r, apierror.Validation("Invalid request body", nil))
		return
	}

	project, err := h.projects.Create(r.Context(), p.UserID, req.Name)
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toAPIProject(*project))
}

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	list, err := h.projects.List(r.Context(), p.UserID)
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	resp := api.ListProjectsResponse{Items: make([]api.Project, 0, len(list))}
	for _, project := range list {
		resp.Items = append(resp.Items, toAPIProject(project))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetProject handles GET /api/v1/projects/{projectId}.
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	project, err := h.projects.Get(r.Context(), p.UserID, r.PathValue("projectId"))
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toAPIProject(*project))
}

// GetInstruction handles GET /api/v1/projects/{projectId}/instructions.
// Without ?version the latest version is returned.
func (h *Handlers) GetInstruction(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	version := 0
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			h.httpError(w, r, apierror.InvalidParameter("version must be a positive integer.", map[string]any{"version": raw}))
			return
		}
		version = v
	}

	in, err := h.projects.Instruction(r.Context(), p.UserID, r.PathValue("projectId"), version)
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toAPIInstruction(*in))
}

// PutInstruction handles PUT /api/v1/projects/{projectId}/instructions.
func (h *Handlers) PutInstruction(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.httpError(w, r, err)
		return
	}

	var req api.PutInstructionRequest
	if err := decode(r, &req); err != nil || req.BaseVersion == nil || req.Markdown == nil {
		h.httpError(w, r, apierror.Validation("Invalid instruction payload", nil))
		return
	}

	in, err := h.projects.PutInstruction(r.Context(), p.UserID, r.PathValue("projectId"), *req.BaseVersion, *req.Markdown)
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toAPIInstruction(*in))
}
