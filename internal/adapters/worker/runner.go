// Package worker executes dispatched tasks: orchestrator self-checks and the
// variator/enricher/ranker phases of a generation.
package worker

import (
	"context"
	"errors"
	"log/slog"

	apperrors "github.com/venturekit/evosearch/internal/errors"

	"github.com/venturekit/evosearch/internal/core"
	"github.com/venturekit/evosearch/internal/domain/model"
	"github.com/venturekit/evosearch/internal/domain/scoring"
)

// phaseHandler executes one phase and returns its completion outputs.
type phaseHandler func(ctx context.Context, job *model.SearchJob, task core.Task, rec *model.GenerationRecord) (core.AppendPhaseOutputParams, error)

// RunnerOptions configures the task runner.
type RunnerOptions struct {
	Store        core.JobStateStore
	Orchestrator *core.OrchestratorService
	Variation    *core.VariationService
	Enrichment   *core.EnrichmentService
	Logger       *slog.Logger
}

// Runner routes dispatched tasks to their handlers. It implements
// core.TaskHandler and is driven by a dispatcher consumer.
type Runner struct {
	store        core.JobStateStore
	orchestrator *core.OrchestratorService
	variation    *core.VariationService
	enrichment   *core.EnrichmentService
	logger       *slog.Logger
	phases       map[model.Phase]phaseHandler
}

// NewRunner creates a task runner with handlers for every phase.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("job state store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:        opts.Store,
		orchestrator: opts.Orchestrator,
		variation:    opts.Variation,
		enrichment:   opts.Enrichment,
		logger:       logger,
	}
	r.phases = map[model.Phase]phaseHandler{
		model.PhaseVariator: r.runVariator,
		model.PhaseEnricher: r.runEnricher,
		model.PhaseRanker:   r.runRanker,
	}
	return r, nil
}

// Handle processes one dispatched task.
func (r *Runner) Handle(ctx context.Context, task core.Task) error {
	switch task.Type {
	case core.TaskTypeOrchestratorCheck:
		if r.orchestrator == nil {
			return errors.New("orchestrator service not configured")
		}
		return r.orchestrator.HandleCheck(ctx, task.JobID, task.CheckAttempt)
	case core.TaskTypePhaseWorker:
		return r.handlePhase(ctx, task)
	default:
		return apperrors.Internalf("no handler for task type %s", task.Type)
	}
}

// handlePhase executes one phase task. Duplicate delivery is safe: completed
// phases are skipped, and phases that lost their started flag (reset by a
// timeout retry) are left to the fresher task.
func (r *Runner) handlePhase(ctx context.Context, task core.Task) error {
	job, err := r.store.Get(ctx, task.JobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			r.logger.WarnContext(ctx, "phase task for unknown job", "job_id", task.JobID)
			return nil
		}
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	rec, err := r.store.GetRecord(ctx, task.JobID, task.Generation)
	if err != nil {
		return err
	}
	state := rec.PhaseState(task.Phase)
	if state.Complete {
		r.logger.InfoContext(ctx, "phase already complete, skipping",
			"job_id", task.JobID, "generation", task.Generation, "phase", string(task.Phase))
		return nil
	}
	if !state.Started {
		r.logger.WarnContext(ctx, "phase task without started flag, skipping",
			"job_id", task.JobID, "generation", task.Generation, "phase", string(task.Phase))
		return nil
	}

	handler, ok := r.phases[task.Phase]
	if !ok {
		return apperrors.Internalf("no handler for phase %s", task.Phase)
	}

	output, err := handler(ctx, job, task, rec)
	if err != nil {
		return r.handlePhaseError(ctx, job, task, err)
	}

	if err := r.store.AppendPhaseOutput(ctx, output); err != nil {
		return err
	}
	if _, err := r.store.TransitionPhase(
		ctx, task.JobID, task.Generation, task.Phase, model.TransitionComplete,
	); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "phase complete",
		"job_id", task.JobID, "generation", task.Generation, "phase", string(task.Phase))
	return nil
}

// handlePhaseError applies the error taxonomy: validation failures are
// non-retriable and fail the job immediately; phase failures and transient
// oracle failures leave the phase incomplete for the orchestrator's
// timeout-retry path; everything else propagates to the queue.
func (r *Runner) handlePhaseError(ctx context.Context, job *model.SearchJob, task core.Task, err error) error {
	switch {
	case apperrors.IsValidation(err):
		r.logger.ErrorContext(ctx, "phase validation failure, failing job",
			"job_id", job.ID, "generation", task.Generation,
			"phase", string(task.Phase), "error", err)
		return r.store.MarkFailed(ctx, job.ID, err.Error())
	case apperrors.IsPhaseFailure(err) || apperrors.IsOracleTransient(err):
		r.logger.WarnContext(ctx, "phase failed, leaving incomplete for retry",
			"job_id", job.ID, "generation", task.Generation,
			"phase", string(task.Phase), "error", err)
		return nil
	default:
		return err
	}
}

func (r *Runner) runVariator(
	ctx context.Context,
	job *model.SearchJob,
	task core.Task,
	_ *model.GenerationRecord,
) (core.AppendPhaseOutputParams, error) {
	candidates, err := r.variation.Produce(ctx, core.VariationInput{
		Job:           job,
		Generation:    task.Generation,
		TopPerformers: task.Inputs.TopPerformers,
	})
	if err != nil {
		return core.AppendPhaseOutputParams{}, err
	}
	return core.AppendPhaseOutputParams{
		JobID:      job.ID,
		Generation: task.Generation,
		Phase:      model.PhaseVariator,
		Candidates: candidates,
	}, nil
}

func (r *Runner) runEnricher(
	ctx context.Context,
	job *model.SearchJob,
	task core.Task,
	rec *model.GenerationRecord,
) (core.AppendPhaseOutputParams, error) {
	if len(rec.Candidates) == 0 {
		return core.AppendPhaseOutputParams{}, apperrors.PhaseFailure("no candidates to enrich")
	}
	out, err := r.enrichment.Enrich(ctx, core.EnrichmentInput{
		Job:        job,
		Generation: task.Generation,
		Candidates: rec.Candidates,
	})
	if err != nil {
		return core.AppendPhaseOutputParams{}, err
	}
	return core.AppendPhaseOutputParams{
		JobID:            job.ID,
		Generation:       task.Generation,
		Phase:            model.PhaseEnricher,
		Enriched:         out.Enriched,
		FailedEnrichment: out.Failed,
	}, nil
}

func (r *Runner) runRanker(
	ctx context.Context,
	job *model.SearchJob,
	task core.Task,
	rec *model.GenerationRecord,
) (core.AppendPhaseOutputParams, error) {
	if len(rec.Enriched) == 0 {
		return core.AppendPhaseOutputParams{}, apperrors.PhaseFailure("no enriched candidates to rank")
	}
	result, err := scoring.RankAndSelect(rec.Enriched, scoring.FromEvolutionConfig(job.Config))
	if err != nil {
		return core.AppendPhaseOutputParams{}, err
	}
	return core.AppendPhaseOutputParams{
		JobID:         job.ID,
		Generation:    task.Generation,
		Phase:         model.PhaseRanker,
		Ranked:        result.Ranked,
		TopPerformers: result.TopPerformers,
	}, nil
}
