package core

import (
	"context"
	"log/slog"
	"sort"
	"time"

	apperrors "github.com/venturekit/evosearch/internal/errors"

	"github.com/venturekit/evosearch/internal/domain/model"
	"github.com/venturekit/evosearch/internal/domain/orchestrator"
)

// OrchestratorServiceOptions bundles dependencies for NewOrchestratorService.
type OrchestratorServiceOptions struct {
	Store      JobStateStore
	Dispatcher TaskDispatcher
	Timeouts   orchestrator.PhaseTimeouts
	Backoff    orchestrator.BackoffConfig
	// Now supplies the current time; defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// OrchestratorService executes the actions decided by the pure state machine:
// it starts phases, dispatches worker tasks, re-enqueues its own checks with
// backoff, and finalizes or fails jobs. It makes one decision per invocation
// and owns no threads of its own.
type OrchestratorService struct {
	store      JobStateStore
	dispatcher TaskDispatcher
	timeouts   orchestrator.PhaseTimeouts
	backoff    orchestrator.BackoffConfig
	now        func() time.Time
	logger     *slog.Logger
}

// NewOrchestratorService creates a new OrchestratorService.
func NewOrchestratorService(opts OrchestratorServiceOptions) *OrchestratorService {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeouts := opts.Timeouts
	if timeouts == (orchestrator.PhaseTimeouts{}) {
		timeouts = orchestrator.DefaultPhaseTimeouts()
	}
	backoff := opts.Backoff
	if backoff == (orchestrator.BackoffConfig{}) {
		backoff = orchestrator.DefaultBackoffConfig()
	}
	return &OrchestratorService{
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		timeouts:   timeouts,
		backoff:    backoff,
		now:        now,
		logger:     logger,
	}
}

// StartJob enqueues the first orchestrator check for a freshly created job.
func (s *OrchestratorService) StartJob(ctx context.Context, jobID string) error {
	_, err := s.dispatcher.Enqueue(ctx, Task{
		Type:         TaskTypeOrchestratorCheck,
		JobID:        jobID,
		CheckAttempt: 1,
	}, 0)
	return err
}

// HandleCheck processes one orchestrator-check task: inspect job state,
// decide, execute. Duplicate delivery is safe; the store rejects duplicate
// phase starts and finalization is exactly-once.
func (s *OrchestratorService) HandleCheck(ctx context.Context, jobID string, checkAttempt int) error {
	snap, err := s.store.Snapshot(ctx, jobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.logger.WarnContext(ctx, "orchestrator check for unknown job", "job_id", jobID)
			return nil
		}
		return err
	}
	if snap.Job.Status.Terminal() {
		return nil
	}

	// The durable counter is the exhaustion authority: duplicated check
	// chains each carry their own task attempt, but they all increment the
	// same stored counter.
	attempt, err := s.store.IncrementCheckAttempt(ctx, jobID)
	if err != nil {
		s.logger.WarnContext(ctx, "increment check attempt failed", "job_id", jobID, "error", err)
		attempt = checkAttempt
	}

	if s.backoff.Exhausted(attempt) {
		exhausted := apperrors.OrchestrationExhausted(jobID, attempt)
		s.logger.ErrorContext(ctx, "orchestration exhausted, failing job",
			"job_id", jobID, "check_attempt", attempt)
		return s.store.MarkFailed(ctx, jobID, exhausted.Message)
	}

	action := orchestrator.DetermineNextAction(snap, s.now(), s.timeouts)
	s.logger.InfoContext(ctx, "orchestrator decision",
		"job_id", jobID, "check_attempt", attempt,
		"action", string(action.Kind), "phase", string(action.Phase),
		"generation", action.Generation)

	switch action.Kind {
	case orchestrator.ActionAlreadyComplete:
		return nil
	case orchestrator.ActionWait:
		return s.enqueueCheck(ctx, jobID, attempt)
	case orchestrator.ActionMarkComplete:
		return s.finalize(ctx, snap)
	case orchestrator.ActionCreateTask, orchestrator.ActionRetryTask:
		return s.startPhase(ctx, snap.Job, action, attempt)
	default:
		return apperrors.Internalf("unknown orchestrator action: %s", action.Kind)
	}
}

// startPhase atomically marks the phase started (resetting stale flags first
// for retries), dispatches the worker task, and re-enqueues a self-check.
func (s *OrchestratorService) startPhase(
	ctx context.Context,
	job model.SearchJob,
	action orchestrator.Action,
	checkAttempt int,
) error {
	if action.Kind == orchestrator.ActionRetryTask {
		s.logger.WarnContext(ctx, "retrying timed-out phase",
			"job_id", job.ID, "generation", action.Generation,
			"phase", string(action.Phase), "reason", action.Reason)
		if _, err := s.store.TransitionPhase(
			ctx, job.ID, action.Generation, action.Phase, model.TransitionReset,
		); err != nil {
			return err
		}
	}

	if err := s.store.SetProcessing(ctx, job.ID, action.Generation); err != nil {
		return err
	}

	outcome, err := s.store.TransitionPhase(
		ctx, job.ID, action.Generation, action.Phase, model.TransitionStart,
	)
	if err != nil {
		return err
	}
	if outcome == model.TransitionAlreadyStarted {
		// Lost to a concurrent start; the winner dispatched the work.
		s.logger.InfoContext(ctx, "phase already started, skipping dispatch",
			"job_id", job.ID, "generation", action.Generation, "phase", string(action.Phase))
		return s.enqueueCheck(ctx, job.ID, checkAttempt)
	}

	if _, err := s.dispatcher.Enqueue(ctx, Task{
		Type:       TaskTypePhaseWorker,
		JobID:      job.ID,
		Generation: action.Generation,
		Phase:      action.Phase,
		Inputs:     PhaseInputs{TopPerformers: action.TopPerformers},
	}, 0); err != nil {
		return err
	}

	return s.enqueueCheck(ctx, job.ID, checkAttempt)
}

func (s *OrchestratorService) enqueueCheck(ctx context.Context, jobID string, checkAttempt int) error {
	delay := orchestrator.CalculateBackoff(checkAttempt, s.backoff)
	_, err := s.dispatcher.Enqueue(ctx, Task{
		Type:         TaskTypeOrchestratorCheck,
		JobID:        jobID,
		CheckAttempt: checkAttempt + 1,
	}, delay)
	return err
}

// finalize aggregates every generation's ranked output and completes the job.
// The store applies finalization at most once.
func (s *OrchestratorService) finalize(ctx context.Context, snap orchestrator.Snapshot) error {
	result := AggregateResult(snap)
	applied, err := s.store.Finalize(ctx, snap.Job.ID, result)
	if err != nil {
		return err
	}
	if !applied {
		s.logger.InfoContext(ctx, "job already finalized", "job_id", snap.Job.ID)
		return nil
	}
	s.logger.InfoContext(ctx, "job completed",
		"job_id", snap.Job.ID,
		"generations", len(result.GenerationHistory),
		"solutions", len(result.AllSolutions))
	return nil
}

// AggregateResult builds the final SearchResult from all generation records:
// the full solution list, the cross-generation top performers ordered by
// score, and the per-generation history.
func AggregateResult(snap orchestrator.Snapshot) *model.SearchResult {
	result := &model.SearchResult{}
	for gen := 1; gen <= snap.Job.Config.Generations; gen++ {
		rec := snap.Record(gen)
		if rec == nil {
			continue
		}
		result.AllSolutions = append(result.AllSolutions, rec.Ranked...)
		result.TopPerformers = append(result.TopPerformers, rec.TopPerformers...)
		result.GenerationHistory = append(result.GenerationHistory, model.GenerationSummary{
			Generation:    gen,
			Ranked:        rec.Ranked,
			TopPerformers: rec.TopPerformers,
			FailedCount:   len(rec.FailedEnrichment),
		})
	}
	sort.SliceStable(result.TopPerformers, func(i, j int) bool {
		si, sj := result.TopPerformers[i].Score, result.TopPerformers[j].Score
		switch {
		case si == nil:
			return false
		case sj == nil:
			return true
		default:
			return *si > *sj
		}
	})
	return result
}
