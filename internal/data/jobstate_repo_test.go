package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturekit/evosearch/internal/core"
	"github.com/venturekit/evosearch/internal/domain/model"
	apperrors "github.com/venturekit/evosearch/internal/errors"
	"github.com/venturekit/evosearch/internal/testutil"
)

func newTestRepo(db *sql.DB) *JobStateRepo {
	return NewJobStateRepo(db, RepoConfig{})
}

func createTestJob(t *testing.T, repo *JobStateRepo) *model.SearchJob {
	t.Helper()
	job, err := repo.Create(context.Background(), testutil.NewJobRequest().Build())
	require.NoError(t, err)
	return job
}

func TestJobStateRepo_CreateAndGet(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)
		ctx := context.Background()

		job := createTestJob(t, repo)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, model.JobStatusPending, job.Status)
		assert.Equal(t, 1, job.CurrentGeneration)
		assert.Zero(t, job.CheckAttempt)

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, job.Config, got.Config)
		assert.Equal(t, job.Problem, got.Problem)
	})
}

func TestJobStateRepo_GetUnknownJob(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)

		_, err := repo.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestJobStateRepo_CreateRejectsInvalidRequest(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)

		_, err := repo.Create(context.Background(), testutil.NewJobRequest().WithGenerations(0).Build())
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))

		_, err = repo.Create(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestJobStateRepo_PhaseTransitions(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)
		ctx := context.Background()
		job := createTestJob(t, repo)

		// First start creates the record and wins.
		outcome, err := repo.TransitionPhase(ctx, job.ID, 1, model.PhaseVariator, model.TransitionStart)
		require.NoError(t, err)
		assert.Equal(t, model.TransitionUpdated, outcome)

		// Duplicate start loses without error.
		outcome, err = repo.TransitionPhase(ctx, job.ID, 1, model.PhaseVariator, model.TransitionStart)
		require.NoError(t, err)
		assert.Equal(t, model.TransitionAlreadyStarted, outcome)

		// Completing an unstarted phase is a conflict.
		_, err = repo.TransitionPhase(ctx, job.ID, 1, model.PhaseEnricher, model.TransitionComplete)
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))

		outcome, err = repo.TransitionPhase(ctx, job.ID, 1, model.PhaseVariator, model.TransitionComplete)
		require.NoError(t, err)
		assert.Equal(t, model.TransitionUpdated, outcome)

		// Double completion is rejected.
		_, err = repo.TransitionPhase(ctx, job.ID, 1, model.PhaseVariator, model.TransitionComplete)
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))

		rec, err := repo.GetRecord(ctx, job.ID, 1)
		require.NoError(t, err)
		assert.True(t, rec.Variator.Started)
		assert.True(t, rec.Variator.Complete)
		require.NotNil(t, rec.Variator.StartedAt)
		require.NotNil(t, rec.Variator.CompletedAt)

		// Reset clears the flags so the phase can start again.
		outcome, err = repo.TransitionPhase(ctx, job.ID, 1, model.PhaseVariator, model.TransitionReset)
		require.NoError(t, err)
		assert.Equal(t, model.TransitionResetDone, outcome)

		rec, err = repo.GetRecord(ctx, job.ID, 1)
		require.NoError(t, err)
		assert.False(t, rec.Variator.Started)
		assert.Nil(t, rec.Variator.StartedAt)

		outcome, err = repo.TransitionPhase(ctx, job.ID, 1, model.PhaseVariator, model.TransitionStart)
		require.NoError(t, err)
		assert.Equal(t, model.TransitionUpdated, outcome)
	})
}

func TestJobStateRepo_TransitionRejectsInvalidInputs(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)
		ctx := context.Background()
		job := createTestJob(t, repo)

		_, err := repo.TransitionPhase(ctx, job.ID, 1, "compactor", model.TransitionStart)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))

		_, err = repo.TransitionPhase(ctx, job.ID, 1, model.PhaseVariator, "pause")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestJobStateRepo_AppendPhaseOutputRoundTrips(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)
		ctx := context.Background()
		job := createTestJob(t, repo)

		_, err := repo.TransitionPhase(ctx, job.ID, 1, model.PhaseVariator, model.TransitionStart)
		require.NoError(t, err)

		candidates := []model.Solution{
			testutil.NewSolution(job.ID, 1, 0).Build(),
			testutil.NewSolution(job.ID, 1, 1).Build(),
		}
		require.NoError(t, repo.AppendPhaseOutput(ctx, core.AppendPhaseOutputParams{
			JobID: job.ID, Generation: 1, Phase: model.PhaseVariator,
			Candidates: candidates,
		}))

		enriched := []model.Solution{
			testutil.NewSolution(job.ID, 1, 0).Enriched(0.8, 10, 2).Build(),
		}
		failed := []model.FailedCandidate{{
			SolutionID: candidates[1].ID,
			Title:      candidates[1].Title,
			Error:      "oracle returned no usable projection",
		}}
		require.NoError(t, repo.AppendPhaseOutput(ctx, core.AppendPhaseOutputParams{
			JobID: job.ID, Generation: 1, Phase: model.PhaseEnricher,
			Enriched: enriched, FailedEnrichment: failed,
		}))

		rec, err := repo.GetRecord(ctx, job.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, candidates, rec.Candidates)
		assert.Equal(t, enriched, rec.Enriched)
		assert.Equal(t, failed, rec.FailedEnrichment)
	})
}

func TestJobStateRepo_CompletedPhaseOutputIsImmutable(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)
		ctx := context.Background()
		job := createTestJob(t, repo)

		_, err := repo.TransitionPhase(ctx, job.ID, 1, model.PhaseVariator, model.TransitionStart)
		require.NoError(t, err)
		fresh := testutil.NewSolution(job.ID, 1, 0).WithTitle("fresh").Build()
		require.NoError(t, repo.AppendPhaseOutput(ctx, core.AppendPhaseOutputParams{
			JobID: job.ID, Generation: 1, Phase: model.PhaseVariator,
			Candidates: []model.Solution{fresh},
		}))
		_, err = repo.TransitionPhase(ctx, job.ID, 1, model.PhaseVariator, model.TransitionComplete)
		require.NoError(t, err)

		// A worker from before a timeout retry finishing late must not replace
		// the completed phase's outputs.
		stale := testutil.NewSolution(job.ID, 1, 0).WithTitle("stale").Build()
		require.NoError(t, repo.AppendPhaseOutput(ctx, core.AppendPhaseOutputParams{
			JobID: job.ID, Generation: 1, Phase: model.PhaseVariator,
			Candidates: []model.Solution{stale},
		}))

		rec, err := repo.GetRecord(ctx, job.ID, 1)
		require.NoError(t, err)
		require.Len(t, rec.Candidates, 1)
		assert.Equal(t, "fresh", rec.Candidates[0].Title)
		assert.True(t, rec.Variator.Complete)
	})
}

func TestJobStateRepo_AppendPhaseOutputUnknownGeneration(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)
		job := createTestJob(t, repo)

		err := repo.AppendPhaseOutput(context.Background(), core.AppendPhaseOutputParams{
			JobID: job.ID, Generation: 7, Phase: model.PhaseVariator,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestJobStateRepo_SetProcessingAdvancesGeneration(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)
		ctx := context.Background()
		job := createTestJob(t, repo)

		require.NoError(t, repo.SetProcessing(ctx, job.ID, 2))
		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, got.Status)
		assert.Equal(t, 2, got.CurrentGeneration)

		// Out-of-order checks never move the index backwards.
		require.NoError(t, repo.SetProcessing(ctx, job.ID, 1))
		got, err = repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.CurrentGeneration)
	})
}

func TestJobStateRepo_IncrementCheckAttempt(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)
		ctx := context.Background()
		job := createTestJob(t, repo)

		attempt, err := repo.IncrementCheckAttempt(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, attempt)

		attempt, err = repo.IncrementCheckAttempt(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, attempt)

		_, err = repo.IncrementCheckAttempt(ctx, "00000000-0000-0000-0000-000000000000")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestJobStateRepo_FinalizeIsExactlyOnce(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)
		ctx := context.Background()
		job := createTestJob(t, repo)

		sol := testutil.NewSolution(job.ID, 1, 0).Enriched(0.8, 10, 2).WithScore(1.2).Build()
		result := &model.SearchResult{
			TopPerformers: []model.Solution{sol},
			AllSolutions:  []model.Solution{sol},
			GenerationHistory: []model.GenerationSummary{
				{Generation: 1, Ranked: []model.Solution{sol}, TopPerformers: []model.Solution{sol}},
			},
		}

		applied, err := repo.Finalize(ctx, job.ID, result)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = repo.Finalize(ctx, job.ID, result)
		require.NoError(t, err)
		assert.False(t, applied, "second finalize must lose the race")

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, result.AllSolutions, got.Result.AllSolutions)

		// A completed job cannot be failed or reactivated.
		require.NoError(t, repo.MarkFailed(ctx, job.ID, "late failure"))
		got, err = repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.Nil(t, got.FailureReason)

		err = repo.SetProcessing(ctx, job.ID, 2)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestJobStateRepo_MarkFailed(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)
		ctx := context.Background()
		job := createTestJob(t, repo)

		require.NoError(t, repo.MarkFailed(ctx, job.ID, "orchestration exhausted after 101 check attempts"))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		require.NotNil(t, got.FailureReason)
		assert.Contains(t, *got.FailureReason, "exhausted")

		// Failing an already-failed job is a no-op, not an error.
		require.NoError(t, repo.MarkFailed(ctx, job.ID, "second reason"))
		got, err = repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Contains(t, *got.FailureReason, "exhausted")
	})
}

func TestJobStateRepo_SnapshotCollectsGenerations(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(db)
		ctx := context.Background()
		job := createTestJob(t, repo)

		for gen := 1; gen <= 2; gen++ {
			_, err := repo.TransitionPhase(ctx, job.ID, gen, model.PhaseVariator, model.TransitionStart)
			require.NoError(t, err)
		}

		snap, err := repo.Snapshot(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, snap.Job.ID)
		require.Len(t, snap.Generations, 2)
		assert.True(t, snap.Generations[1].Variator.Started)
		assert.True(t, snap.Generations[2].Variator.Started)
	})
}

func TestJobStateRepo_TimestampsAdvance(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		clock := NewFixedTimeProvider(start)
		repo := NewJobStateRepo(db, RepoConfig{TimeProvider: clock})
		ctx := context.Background()

		job := createTestJob(t, repo)
		assert.True(t, job.CreatedAt.Equal(start))

		clock.AddTime(time.Minute)
		require.NoError(t, repo.SetProcessing(ctx, job.ID, 1))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	})
}
