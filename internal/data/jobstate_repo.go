// Package data contains the PostgreSQL and Redis repositories backing the
// core service layer.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/venturekit/evosearch/internal/core"
	"github.com/venturekit/evosearch/internal/domain/model"
	"github.com/venturekit/evosearch/internal/domain/orchestrator"
	apperrors "github.com/venturekit/evosearch/internal/errors"
)

// RepoConfig holds configuration options for the data repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobStateRepo is the PostgreSQL implementation of the durable job state
// store. Phase transitions are single guarded UPDATE statements so concurrent
// orchestrator checks and duplicate task deliveries resolve at the database
// without advisory locks.
type JobStateRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.JobStateStore = (*JobStateRepo)(nil)

// NewJobStateRepo creates a new JobStateRepo with the given database connection.
func NewJobStateRepo(db *sql.DB, cfg RepoConfig) *JobStateRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobStateRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger,
	}
}

const jobColumns = `
  id,
  status,
  config,
  problem,
  current_generation,
  check_attempt,
  failure_reason,
  result,
  created_at,
  updated_at
`

const generationColumns = `
  job_id,
  generation,
  variator_started, variator_started_at, variator_complete, variator_completed_at,
  enricher_started, enricher_started_at, enricher_complete, enricher_completed_at,
  ranker_started, ranker_started_at, ranker_complete, ranker_completed_at,
  candidates,
  enriched,
  ranked,
  top_performers,
  failed_enrichment,
  created_at,
  updated_at
`

// Create persists a new pending job.
func (r *JobStateRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.SearchJob, error) {
	if req == nil {
		return nil, apperrors.Validation("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	config, err := json.Marshal(req.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	problem, err := json.Marshal(req.Problem)
	if err != nil {
		return nil, fmt.Errorf("marshal problem: %w", err)
	}

	now := r.timeProvider.Now()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO search_jobs (id, status, config, problem, current_generation, check_attempt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, 0, $5, $5)
		RETURNING `+jobColumns,
		uuid.NewString(), model.JobStatusPending, config, problem, now,
	)

	job, err := scanJob(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// Get returns the job by id.
func (r *JobStateRepo) Get(ctx context.Context, jobID string) (*model.SearchJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM search_jobs
		WHERE id = $1`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("job %s not found", jobID).WithJob(jobID)
		}
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// Snapshot returns the job together with all its generation records.
func (r *JobStateRepo) Snapshot(ctx context.Context, jobID string) (orchestrator.Snapshot, error) {
	job, err := r.Get(ctx, jobID)
	if err != nil {
		return orchestrator.Snapshot{}, err
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+generationColumns+`
		FROM generation_records
		WHERE job_id = $1
		ORDER BY generation`, jobID)
	if err != nil {
		return orchestrator.Snapshot{}, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	generations := make(map[int]*model.GenerationRecord)
	for rows.Next() {
		rec, scanErr := scanGenerationRecord(rows)
		if scanErr != nil {
			return orchestrator.Snapshot{}, fmt.Errorf("scan generation record: %w", scanErr)
		}
		generations[rec.Generation] = rec
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return orchestrator.Snapshot{}, apperrors.MapDBError(rowsErr)
	}

	return orchestrator.Snapshot{Job: *job, Generations: generations}, nil
}

// GetRecord returns one generation record, or a NotFound error.
func (r *JobStateRepo) GetRecord(ctx context.Context, jobID string, generation int) (*model.GenerationRecord, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+generationColumns+`
		FROM generation_records
		WHERE job_id = $1 AND generation = $2`, jobID, generation)

	rec, err := scanGenerationRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("generation %d of job %s not found", generation, jobID).WithJob(jobID)
		}
		return nil, apperrors.MapDBError(err)
	}
	return rec, nil
}

// phaseColumnPrefix maps a phase to its fixed column prefix. The prefix is
// interpolated into SQL, so only these literals may ever be returned.
func phaseColumnPrefix(phase model.Phase) (string, error) {
	switch phase {
	case model.PhaseVariator:
		return "variator", nil
	case model.PhaseEnricher:
		return "enricher", nil
	case model.PhaseRanker:
		return "ranker", nil
	default:
		return "", apperrors.Validationf("invalid phase: %q", phase)
	}
}

// TransitionPhase atomically applies a start/complete/reset transition.
//
// Start lazily creates the generation record, then flips the started flag
// with a guard on it being unset; zero rows updated means a concurrent start
// won and the caller must not dispatch a duplicate phase task.
func (r *JobStateRepo) TransitionPhase(
	ctx context.Context,
	jobID string,
	generation int,
	phase model.Phase,
	action model.TransitionAction,
) (model.TransitionOutcome, error) {
	prefix, err := phaseColumnPrefix(phase)
	if err != nil {
		return "", err
	}

	now := r.timeProvider.Now()

	switch action {
	case model.TransitionStart:
		return r.startPhase(ctx, jobID, generation, prefix, now)
	case model.TransitionComplete:
		return r.completePhase(ctx, jobID, generation, prefix, now)
	case model.TransitionReset:
		return r.resetPhase(ctx, jobID, generation, prefix, now)
	default:
		return "", apperrors.Validationf("invalid transition action: %q", action)
	}
}

func (r *JobStateRepo) startPhase(
	ctx context.Context,
	jobID string,
	generation int,
	prefix string,
	now time.Time,
) (model.TransitionOutcome, error) {
	if _, err := r.DB.ExecContext(ctx, `
		INSERT INTO generation_records (job_id, generation, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (job_id, generation) DO NOTHING`,
		jobID, generation, now,
	); err != nil {
		return "", apperrors.MapDBError(err)
	}

	query := fmt.Sprintf(`
		UPDATE generation_records
		SET %[1]s_started = TRUE,
		    %[1]s_started_at = $3,
		    updated_at = $3
		WHERE job_id = $1 AND generation = $2 AND %[1]s_started = FALSE`, prefix)

	res, err := r.DB.ExecContext(ctx, query, jobID, generation, now)
	if err != nil {
		return "", apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return model.TransitionAlreadyStarted, nil
	}
	return model.TransitionUpdated, nil
}

func (r *JobStateRepo) completePhase(
	ctx context.Context,
	jobID string,
	generation int,
	prefix string,
	now time.Time,
) (model.TransitionOutcome, error) {
	query := fmt.Sprintf(`
		UPDATE generation_records
		SET %[1]s_complete = TRUE,
		    %[1]s_completed_at = $3,
		    updated_at = $3
		WHERE job_id = $1 AND generation = $2
		  AND %[1]s_started = TRUE AND %[1]s_complete = FALSE`, prefix)

	res, err := r.DB.ExecContext(ctx, query, jobID, generation, now)
	if err != nil {
		return "", apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return "", apperrors.Conflictf(
			"phase %s of job %s generation %d is not in a completable state",
			prefix, jobID, generation,
		).WithJob(jobID)
	}
	return model.TransitionUpdated, nil
}

func (r *JobStateRepo) resetPhase(
	ctx context.Context,
	jobID string,
	generation int,
	prefix string,
	now time.Time,
) (model.TransitionOutcome, error) {
	query := fmt.Sprintf(`
		UPDATE generation_records
		SET %[1]s_started = FALSE,
		    %[1]s_started_at = NULL,
		    %[1]s_complete = FALSE,
		    %[1]s_completed_at = NULL,
		    updated_at = $3
		WHERE job_id = $1 AND generation = $2`, prefix)

	res, err := r.DB.ExecContext(ctx, query, jobID, generation, now)
	if err != nil {
		return "", apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return "", apperrors.NotFoundf("generation %d of job %s not found", generation, jobID).WithJob(jobID)
	}
	return model.TransitionResetDone, nil
}

// AppendPhaseOutput writes a completing phase's outputs to its record. The
// UPDATE is guarded on the phase's complete flag, so a stale worker that
// finishes after a timeout retry already completed the phase cannot replace
// the outputs the completed phase recorded; the stale write is dropped.
func (r *JobStateRepo) AppendPhaseOutput(ctx context.Context, params core.AppendPhaseOutputParams) error {
	prefix, err := phaseColumnPrefix(params.Phase)
	if err != nil {
		return err
	}
	now := r.timeProvider.Now()

	var (
		query string
		args  []any
	)
	switch params.Phase {
	case model.PhaseVariator:
		candidates, err := marshalSolutions(params.Candidates)
		if err != nil {
			return err
		}
		query = `
			UPDATE generation_records
			SET candidates = $3, updated_at = $4`
		args = []any{params.JobID, params.Generation, candidates, now}
	case model.PhaseEnricher:
		enriched, err := marshalSolutions(params.Enriched)
		if err != nil {
			return err
		}
		failed, err := json.Marshal(params.FailedEnrichment)
		if err != nil {
			return fmt.Errorf("marshal failed enrichment: %w", err)
		}
		query = `
			UPDATE generation_records
			SET enriched = $3, failed_enrichment = $4, updated_at = $5`
		args = []any{params.JobID, params.Generation, enriched, failed, now}
	case model.PhaseRanker:
		ranked, err := marshalSolutions(params.Ranked)
		if err != nil {
			return err
		}
		top, err := marshalSolutions(params.TopPerformers)
		if err != nil {
			return err
		}
		query = `
			UPDATE generation_records
			SET ranked = $3, top_performers = $4, updated_at = $5`
		args = []any{params.JobID, params.Generation, ranked, top, now}
	default:
		return apperrors.Validationf("invalid phase: %q", params.Phase)
	}
	query += fmt.Sprintf(`
			WHERE job_id = $1 AND generation = $2 AND %s_complete = FALSE`, prefix)

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if scanErr := r.DB.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM generation_records WHERE job_id = $1 AND generation = $2)`,
			params.JobID, params.Generation,
		).Scan(&exists); scanErr != nil {
			return apperrors.MapDBError(scanErr)
		}
		if !exists {
			return apperrors.NotFoundf(
				"generation %d of job %s not found", params.Generation, params.JobID,
			).WithJob(params.JobID)
		}
		r.logger.WarnContext(ctx, "dropped stale phase output: phase already complete",
			slog.String("job_id", params.JobID),
			slog.Int("generation", params.Generation),
			slog.String("phase", string(params.Phase)))
	}
	return nil
}

// SetProcessing moves a job to processing and advances its current generation
// index. GREATEST keeps the index from moving backwards under out-of-order
// orchestrator checks.
func (r *JobStateRepo) SetProcessing(ctx context.Context, jobID string, generation int) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE search_jobs
		SET status = $3,
		    current_generation = GREATEST(current_generation, $2),
		    updated_at = $4
		WHERE id = $1 AND status NOT IN ($5, $6)`,
		jobID, generation, model.JobStatusProcessing, r.timeProvider.Now(),
		model.JobStatusCompleted, model.JobStatusFailed,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("job %s not found or already finalized", jobID).WithJob(jobID)
	}
	return nil
}

// IncrementCheckAttempt bumps and returns the job's persisted check-attempt counter.
func (r *JobStateRepo) IncrementCheckAttempt(ctx context.Context, jobID string) (int, error) {
	var attempt int
	err := r.DB.QueryRowContext(ctx, `
		UPDATE search_jobs
		SET check_attempt = check_attempt + 1,
		    updated_at = $2
		WHERE id = $1
		RETURNING check_attempt`,
		jobID, r.timeProvider.Now(),
	).Scan(&attempt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperrors.NotFoundf("job %s not found", jobID).WithJob(jobID)
		}
		return 0, apperrors.MapDBError(err)
	}
	return attempt, nil
}

// Finalize writes the aggregate result and marks the job completed. The
// status guard makes finalization exactly-once under concurrent checks.
func (r *JobStateRepo) Finalize(ctx context.Context, jobID string, result *model.SearchResult) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal search result: %w", err)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE search_jobs
		SET status = $3,
		    result = $2,
		    updated_at = $4
		WHERE id = $1 AND status NOT IN ($3, $5)`,
		jobID, payload, model.JobStatusCompleted, r.timeProvider.Now(), model.JobStatusFailed,
	)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkFailed marks the job permanently failed with the given reason.
func (r *JobStateRepo) MarkFailed(ctx context.Context, jobID, reason string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE search_jobs
		SET status = $3,
		    failure_reason = $2,
		    updated_at = $4
		WHERE id = $1 AND status NOT IN ($3, $5)`,
		jobID, reason, model.JobStatusFailed, r.timeProvider.Now(), model.JobStatusCompleted,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		r.logger.WarnContext(ctx, "mark failed skipped: job missing or already terminal",
			slog.String("job_id", jobID))
	}
	return nil
}

func marshalSolutions(solutions []model.Solution) ([]byte, error) {
	if solutions == nil {
		solutions = []model.Solution{}
	}
	b, err := json.Marshal(solutions)
	if err != nil {
		return nil, fmt.Errorf("marshal solutions: %w", err)
	}
	return b, nil
}
