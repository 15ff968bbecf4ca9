// Package httpx provides the HTTP API for submitting and inspecting
// evolutionary search jobs.
package httpx

import (
	"errors"
	"net/http"

	"github.com/venturekit/evosearch/config"
	"github.com/venturekit/evosearch/internal/core"
	"github.com/venturekit/evosearch/internal/domain/model"
)

// JobHandlers provides HTTP handlers for search job operations.
type JobHandlers struct {
	Svc      *core.JobService
	Defaults config.EvolutionDefaults
}

// CreateJob handles HTTP requests to submit a new search job.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	h.Defaults.Apply(&req.Config)

	job, err := h.Svc.Submit(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// GetJob handles HTTP requests for a job's status.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("job id is required"),
		})
		return
	}

	status, err := h.Svc.Status(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// GetJobResult handles HTTP requests for a completed job's aggregate result.
func (h *JobHandlers) GetJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("job id is required"),
		})
		return
	}

	result, err := h.Svc.Result(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
