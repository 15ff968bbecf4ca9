// Package orchestrator holds the pure decision logic of the phase/generation
// state machine. It has no side effects; the core layer executes the actions
// it produces.
package orchestrator

import (
	"time"

	"github.com/venturekit/evosearch/internal/domain/model"
)

// ActionKind enumerates the decisions the orchestrator can make for a job.
type ActionKind string

const (
	// ActionCreateTask dispatches a new phase task.
	ActionCreateTask ActionKind = "create_task"
	// ActionRetryTask resets a timed-out phase and redispatches its task.
	ActionRetryTask ActionKind = "retry_task"
	// ActionWait leaves a running phase alone and re-enqueues a self-check.
	ActionWait ActionKind = "wait"
	// ActionMarkComplete finalizes the job after the last generation's ranking.
	ActionMarkComplete ActionKind = "mark_complete"
	// ActionAlreadyComplete is a no-op for jobs in a terminal status.
	ActionAlreadyComplete ActionKind = "already_complete"
)

// Action is the orchestrator's decision for one invocation.
type Action struct {
	Kind       ActionKind
	Phase      model.Phase
	Generation int
	// Reason annotates retries ("timeout").
	Reason string
	// TopPerformers seeds a next-generation variator task.
	TopPerformers []model.Solution
}

// PhaseTimeouts holds the independently configured per-phase timeout
// thresholds used to detect stalled phases out-of-band.
type PhaseTimeouts struct {
	Variator time.Duration
	Enricher time.Duration
	Ranker   time.Duration
}

// DefaultPhaseTimeouts returns production defaults. Variator calls the oracle
// once; enricher and ranker budgets account for the enrichment fan-out and
// oracle latency.
func DefaultPhaseTimeouts() PhaseTimeouts {
	return PhaseTimeouts{
		Variator: 3 * time.Minute,
		Enricher: 10 * time.Minute,
		Ranker:   5 * time.Minute,
	}
}

// For returns the timeout for the named phase.
func (t PhaseTimeouts) For(phase model.Phase) time.Duration {
	switch phase {
	case model.PhaseVariator:
		return t.Variator
	case model.PhaseEnricher:
		return t.Enricher
	case model.PhaseRanker:
		return t.Ranker
	default:
		return 0
	}
}

// Snapshot is the read-only view of job state the decision runs against.
type Snapshot struct {
	Job model.SearchJob
	// Generations maps generation index to its record. Missing indexes mean
	// the record has not been created yet.
	Generations map[int]*model.GenerationRecord
}

// Record returns the generation record for the given index, or nil.
func (s Snapshot) Record(generation int) *model.GenerationRecord {
	if s.Generations == nil {
		return nil
	}
	return s.Generations[generation]
}
