package core

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venturekit/evosearch/internal/domain/model"
	apperrors "github.com/venturekit/evosearch/internal/errors"
	"go.uber.org/mock/gomock"
)

func newJobServiceWithMocks(t *testing.T) (*JobService, *MockJobStateStore, *MockTaskDispatcher, *gomock.Controller) {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := NewMockJobStateStore(ctrl)
	dispatcher := NewMockTaskDispatcher(ctrl)
	logger := slog.New(slog.DiscardHandler)
	orch := NewOrchestratorService(OrchestratorServiceOptions{
		Store:      store,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	svc := NewJobService(JobServiceOptions{Store: store, Orchestrator: orch, Logger: logger})
	return svc, store, dispatcher, ctrl
}

func validCreateRequest() *model.CreateJobRequest {
	return &model.CreateJobRequest{
		Config: model.EvolutionConfig{
			Generations:           2,
			PopulationSize:        4,
			TopPerformerRatio:     0.5,
			DiversificationFactor: 0.05,
			EnrichmentConcurrency: 2,
			EnrichmentStrategy:    model.EnrichmentStrategyBatch,
		},
		Problem: model.ProblemStatement{Description: "expand into adjacent markets"},
	}
}

func TestJobService_Submit(t *testing.T) {
	svc, store, dispatcher, ctrl := newJobServiceWithMocks(t)
	defer ctrl.Finish()

	req := validCreateRequest()
	created := &model.SearchJob{ID: "job-1", Status: model.JobStatusPending, Config: req.Config}

	store.EXPECT().Create(gomock.Any(), req).Return(created, nil)
	dispatcher.EXPECT().
		Enqueue(gomock.Any(), gomock.Any(), time.Duration(0)).
		DoAndReturn(func(_ context.Context, task Task, _ time.Duration) (string, error) {
			assert.Equal(t, TaskTypeOrchestratorCheck, task.Type)
			assert.Equal(t, "job-1", task.JobID)
			assert.Equal(t, 1, task.CheckAttempt)
			return "task-1", nil
		})

	job, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, created, job)
}

func TestJobService_Submit_ValidationFailsBeforePersist(t *testing.T) {
	svc, _, _, ctrl := newJobServiceWithMocks(t)
	defer ctrl.Finish()

	req := validCreateRequest()
	req.Config.Generations = 0

	_, err := svc.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "generations")
}

func TestJobService_Submit_NilRequest(t *testing.T) {
	svc, _, _, ctrl := newJobServiceWithMocks(t)
	defer ctrl.Finish()

	_, err := svc.Submit(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestJobService_Submit_EnqueueFailureSurfaces(t *testing.T) {
	svc, store, dispatcher, ctrl := newJobServiceWithMocks(t)
	defer ctrl.Finish()

	req := validCreateRequest()
	store.EXPECT().Create(gomock.Any(), req).
		Return(&model.SearchJob{ID: "job-1", Status: model.JobStatusPending}, nil)
	dispatcher.EXPECT().
		Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", fmt.Errorf("queue unavailable"))

	_, err := svc.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
	assert.Equal(t, "job-1", apperrors.GetJobID(err))
}

func TestJobService_Status(t *testing.T) {
	svc, store, _, ctrl := newJobServiceWithMocks(t)
	defer ctrl.Finish()

	updated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.EXPECT().Get(gomock.Any(), "job-1").Return(&model.SearchJob{
		ID:                "job-1",
		Status:            model.JobStatusProcessing,
		CurrentGeneration: 2,
		Config:            validCreateRequest().Config,
		UpdatedAt:         updated,
	}, nil)

	status, err := svc.Status(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, status.Status)
	assert.Equal(t, 2, status.CurrentGeneration)
	assert.Equal(t, 2, status.Generations)
	require.NotNil(t, status.UpdatedAt)
	assert.Equal(t, updated, *status.UpdatedAt)
}

func TestJobService_Result_PendingJobIsNotFound(t *testing.T) {
	svc, store, _, ctrl := newJobServiceWithMocks(t)
	defer ctrl.Finish()

	store.EXPECT().Get(gomock.Any(), "job-1").Return(&model.SearchJob{
		ID:     "job-1",
		Status: model.JobStatusProcessing,
	}, nil)

	_, err := svc.Result(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestJobService_Result_CompletedJob(t *testing.T) {
	svc, store, _, ctrl := newJobServiceWithMocks(t)
	defer ctrl.Finish()

	result := &model.SearchResult{AllSolutions: []model.Solution{{ID: "job-1:g1:s0"}}}
	store.EXPECT().Get(gomock.Any(), "job-1").Return(&model.SearchJob{
		ID:     "job-1",
		Status: model.JobStatusCompleted,
		Result: result,
	}, nil)

	got, err := svc.Result(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, result, got)
}
