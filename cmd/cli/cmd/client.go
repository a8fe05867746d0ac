package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"draftplane/pkg/api"
)

// DraftClient handles API calls to the draftplane controller.
type DraftClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewDraftClient creates a new client with the given base URL and token.
func NewDraftClient(baseURL, token string) *DraftClient {
	return &DraftClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends one request and decodes the body into out when the status is one
// of ok. It returns the status code so callers can tell replays apart.
func (c *DraftClient) do(method, path string, body, out any, ok ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.BaseURL+"/api/v1"+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if !slices.Contains(ok, resp.StatusCode) {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed api.ErrorResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Code != "" {
			apiErr.Code = parsed.Code
			apiErr.Message = parsed.Message
		}
		return resp.StatusCode, apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// CreateProject sends POST /projects.
func (c *DraftClient) CreateProject(name string) (*api.Project, error) {
	var result api.Project
	if _, err := c.do(http.MethodPost, "/projects", api.CreateProjectRequest{Name: name}, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListProjects sends GET /projects.
func (c *DraftClient) ListProjects() ([]api.Project, error) {
	var result api.ListProjectsResponse
	if _, err := c.do(http.MethodGet, "/projects", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// GetInstruction sends GET /projects/{id}/instructions. version 0 asks for the latest.
func (c *DraftClient) GetInstruction(projectID string, version int) (*api.Instruction, error) {
	path := "/projects/" + url.PathEscape(projectID) + "/instructions"
	if version > 0 {
		path += "?version=" + strconv.Itoa(version)
	}
	var result api.Instruction
	if _, err := c.do(http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// PutInstruction sends PUT /projects/{id}/instructions.
func (c *DraftClient) PutInstruction(projectID string, baseVersion int, markdown string) (*api.Instruction, error) {
	req := api.PutInstructionRequest{BaseVersion: &baseVersion, Markdown: &markdown}
	var result api.Instruction
	if _, err := c.do(http.MethodPut, "/projects/"+url.PathEscape(projectID)+"/instructions", req, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateJob sends POST /projects/{id}/jobs.
func (c *DraftClient) CreateJob(projectID string) (*api.Job, error) {
	var result api.Job
	if _, err := c.do(http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/jobs", nil, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id}.
func (c *DraftClient) GetJob(jobID string) (*api.Job, error) {
	var result api.Job
	if _, err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// ConfirmUpload sends POST /jobs/{id}/confirm-upload.
func (c *DraftClient) ConfirmUpload(jobID, videoURI string) (*api.ConfirmUploadResponse, error) {
	var result api.ConfirmUploadResponse
	_, err := c.do(http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/confirm-upload",
		api.ConfirmUploadRequest{VideoURI: videoURI}, &result, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RunJob sends POST /jobs/{id}/run.
func (c *DraftClient) RunJob(jobID string) (*api.RunJobResponse, error) {
	var result api.RunJobResponse
	if _, err := c.do(http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/run", nil, &result, http.StatusAccepted, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// RetryJob sends POST /jobs/{id}/retry.
func (c *DraftClient) RetryJob(jobID string, req api.RetryJobRequest) (*api.RetryJobResponse, error) {
	var result api.RetryJobResponse
	if _, err := c.do(http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/retry", req, &result, http.StatusAccepted, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelJob sends POST /jobs/{id}/cancel.
func (c *DraftClient) CancelJob(jobID string) (*api.Job, error) {
	var result api.Job
	if _, err := c.do(http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/cancel", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTranscript sends GET /jobs/{id}/transcript.
func (c *DraftClient) GetTranscript(jobID string, limit int, cursor string) (*api.TranscriptPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/jobs/" + url.PathEscape(jobID) + "/transcript"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result api.TranscriptPage
	if _, err := c.do(http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateAPIKey sends POST /admin/api-keys. The token must be the admin secret.
func (c *DraftClient) CreateAPIKey(req api.CreateAPIKeyRequest) (*api.CreateAPIKeyResponse, error) {
	var result api.CreateAPIKeyResponse
	if _, err := c.do(http.MethodPost, "/admin/api-keys", req, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}
