// Package core provides the business logic and service layer for the
// evosearch system. It defines the ports (interfaces) the data and adapter
// layers implement, following the hexagonal architecture of the codebase.
package core

import (
	"context"
	"time"

	"github.com/venturekit/evosearch/internal/domain/model"
	"github.com/venturekit/evosearch/internal/domain/orchestrator"
)

// TaskType identifies the kind of dispatched task.
type TaskType string

const (
	// TaskTypeOrchestratorCheck re-invokes the orchestrator for a job.
	TaskTypeOrchestratorCheck TaskType = "orchestrator-check"
	// TaskTypePhaseWorker executes one phase of one generation.
	TaskTypePhaseWorker TaskType = "phase-worker"
)

// Valid returns true if the TaskType is valid.
func (t TaskType) Valid() bool {
	return t == TaskTypeOrchestratorCheck || t == TaskTypePhaseWorker
}

// PhaseInputs carries the phase-specific inputs of a phase-worker task.
// Candidate lists for enricher/ranker are read from the generation record;
// only the variator seed travels with the task.
type PhaseInputs struct {
	TopPerformers []model.Solution `json:"top_performers,omitempty"`
}

// Task is the unit of work exchanged through the dispatcher.
type Task struct {
	Type         TaskType    `json:"type"`
	JobID        string      `json:"job_id"`
	CheckAttempt int         `json:"check_attempt,omitempty"`
	Generation   int         `json:"generation,omitempty"`
	Phase        model.Phase `json:"phase,omitempty"`
	Inputs       PhaseInputs `json:"inputs,omitempty"`
}

// TaskDispatcher enqueues tasks for asynchronous execution. Two backends
// exist (Redis queue and in-process); one is selected at construction.
type TaskDispatcher interface {
	// Enqueue schedules the task after the given delay (0 for immediate)
	// and returns an opaque handle.
	Enqueue(ctx context.Context, task Task, delay time.Duration) (string, error)
}

// TaskHandler consumes dispatched tasks.
type TaskHandler interface {
	Handle(ctx context.Context, task Task) error
}

// AppendPhaseOutputParams carries a phase's outputs to the store. Only the
// fields of the completed phase are set.
type AppendPhaseOutputParams struct {
	JobID      string
	Generation int
	Phase      model.Phase

	Candidates       []model.Solution
	Enriched         []model.Solution
	FailedEnrichment []model.FailedCandidate
	Ranked           []model.Solution
	TopPerformers    []model.Solution
}

// JobStateStore is the durable, transactionally-mutable record of a search's
// configuration and per-generation progress.
type JobStateStore interface {
	// Create persists a new pending job.
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.SearchJob, error)

	// Get returns the job by id.
	Get(ctx context.Context, jobID string) (*model.SearchJob, error)

	// Snapshot returns the job together with all its generation records.
	Snapshot(ctx context.Context, jobID string) (orchestrator.Snapshot, error)

	// GetRecord returns one generation record, or a NotFound error.
	GetRecord(ctx context.Context, jobID string, generation int) (*model.GenerationRecord, error)

	// TransitionPhase atomically applies a start/complete/reset transition.
	// A start against an already-started phase is rejected with
	// TransitionAlreadyStarted rather than applied. Start transitions
	// lazily create the generation record.
	TransitionPhase(
		ctx context.Context,
		jobID string,
		generation int,
		phase model.Phase,
		action model.TransitionAction,
	) (model.TransitionOutcome, error)

	// AppendPhaseOutput writes a completed phase's outputs to its record.
	AppendPhaseOutput(ctx context.Context, params AppendPhaseOutputParams) error

	// SetProcessing moves a job to processing and advances its current
	// generation index (never backwards).
	SetProcessing(ctx context.Context, jobID string, generation int) error

	// IncrementCheckAttempt bumps and returns the job's persisted
	// orchestrator check-attempt counter.
	IncrementCheckAttempt(ctx context.Context, jobID string) (int, error)

	// Finalize writes the aggregate result and marks the job completed.
	// Returns false if the job was already finalized.
	Finalize(ctx context.Context, jobID string, result *model.SearchResult) (bool, error)

	// MarkFailed marks the job permanently failed with the given reason.
	MarkFailed(ctx context.Context, jobID, reason string) error
}

// GenerateRequest is a request to the external generative oracle.
type GenerateRequest struct {
	SystemPrompt string
	UserPrompt   string
	// Schema constrains the output to a JSON schema where the oracle
	// supports structured output; otherwise the adapter falls back to a
	// raw-text parse with repair.
	Schema *ResponseSchema
}

// ResponseSchema names a JSON schema for structured oracle output.
type ResponseSchema struct {
	Name   string
	Schema map[string]any
}

// GenerateResult is the oracle's structured response.
type GenerateResult struct {
	Content    string
	Model      string
	TokensUsed int
}

// Oracle is the external generative service invoked by variation and
// enrichment. Implementations retry transient failures (rate limit, 5xx,
// timeout) with bounded backoff before escalating.
type Oracle interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// CacheRepository defines the interface for caching operations. The core
// defines the port; the data layer provides the Redis implementation.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}
