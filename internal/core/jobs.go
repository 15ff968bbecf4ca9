package core

import (
	"context"
	"log/slog"

	apperrors "github.com/venturekit/evosearch/internal/errors"

	"github.com/venturekit/evosearch/internal/domain/model"
)

// JobServiceOptions bundles dependencies for NewJobService.
type JobServiceOptions struct {
	Store        JobStateStore
	Orchestrator *OrchestratorService
	Logger       *slog.Logger
}

// JobService handles job submission and status queries for the HTTP surface.
type JobService struct {
	store        JobStateStore
	orchestrator *OrchestratorService
	logger       *slog.Logger
}

// NewJobService creates a new JobService.
func NewJobService(opts JobServiceOptions) *JobService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		store:        opts.Store,
		orchestrator: opts.Orchestrator,
		logger:       logger,
	}
}

// Submit validates the request, persists a pending job, and enqueues the
// first orchestrator check.
func (s *JobService) Submit(ctx context.Context, req *model.CreateJobRequest) (*model.SearchJob, error) {
	if req == nil {
		return nil, apperrors.Validation("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	job, err := s.store.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.orchestrator.StartJob(ctx, job.ID); err != nil {
		// The job exists but nothing will drive it; surface the failure so
		// the caller can resubmit.
		s.logger.ErrorContext(ctx, "enqueue initial orchestrator check failed",
			"job_id", job.ID, "error", err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "schedule job").WithJob(job.ID)
	}

	s.logger.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"generations", job.Config.Generations,
		"population_size", job.Config.PopulationSize)
	return job, nil
}

// Status returns the job's status view.
func (s *JobService) Status(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	updatedAt := job.UpdatedAt
	return &model.JobStatusResponse{
		ID:                job.ID,
		Status:            job.Status,
		CurrentGeneration: job.CurrentGeneration,
		Generations:       job.Config.Generations,
		FailureReason:     job.FailureReason,
		UpdatedAt:         &updatedAt,
	}, nil
}

// Result returns the finalized aggregate, or NotFound until the job completes.
func (s *JobService) Result(ctx context.Context, jobID string) (*model.SearchResult, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted || job.Result == nil {
		return nil, apperrors.NotFoundf("job %s has no result yet (status %s)", jobID, job.Status)
	}
	return job.Result, nil
}
