package model

import (
	"fmt"
	"strings"
	"time"
)

// Phase identifies one of the three phases of a generation cycle.
type Phase string

const (
	// PhaseVariator produces new candidate solutions.
	PhaseVariator Phase = "variator"
	// PhaseEnricher attaches a financial projection to each candidate.
	PhaseEnricher Phase = "enricher"
	// PhaseRanker scores, orders and selects top performers.
	PhaseRanker Phase = "ranker"
)

// Phases lists the phases of a generation in execution order.
func Phases() []Phase {
	return []Phase{PhaseVariator, PhaseEnricher, PhaseRanker}
}

// Valid returns true if the Phase is valid.
func (p Phase) Valid() bool {
	return p == PhaseVariator || p == PhaseEnricher || p == PhaseRanker
}

// UnmarshalText implements encoding.TextUnmarshaler for Phase.
func (p *Phase) UnmarshalText(text []byte) error {
	v := Phase(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid Phase: %q", string(text))
	}
	*p = v
	return nil
}

// Next returns the phase following p within a generation, or false when p is
// the last phase of the cycle.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhaseVariator:
		return PhaseEnricher, true
	case PhaseEnricher:
		return PhaseRanker, true
	default:
		return "", false
	}
}

// PhaseState tracks the start/completion flags of one phase.
// Complete is never true while Started is false.
type PhaseState struct {
	Started     bool       `json:"started"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Complete    bool       `json:"complete"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Running reports whether the phase has started but not completed.
func (s PhaseState) Running() bool {
	return s.Started && !s.Complete
}

// TimedOut reports whether a running phase exceeded the given timeout at now.
func (s PhaseState) TimedOut(now time.Time, timeout time.Duration) bool {
	if !s.Running() || s.StartedAt == nil {
		return false
	}
	return now.Sub(*s.StartedAt) > timeout
}

// TransitionAction is the requested mutation of a phase's state.
type TransitionAction string

const (
	// TransitionStart atomically marks a phase started.
	TransitionStart TransitionAction = "start"
	// TransitionComplete atomically marks a started phase complete.
	TransitionComplete TransitionAction = "complete"
	// TransitionReset clears started/complete flags ahead of a timeout retry.
	TransitionReset TransitionAction = "reset"
)

// TransitionOutcome reports how the store resolved a phase transition.
type TransitionOutcome string

const (
	// TransitionUpdated means the transition was applied.
	TransitionUpdated TransitionOutcome = "updated"
	// TransitionAlreadyStarted means a start lost to a concurrent start and
	// was rejected; duplicate task delivery cannot double-dispatch work.
	TransitionAlreadyStarted TransitionOutcome = "alreadyStarted"
	// TransitionResetDone means the phase flags were cleared.
	TransitionResetDone TransitionOutcome = "reset"
)

// FailedCandidate records one candidate that failed to enrich, with the
// failure message for later inspection.
type FailedCandidate struct {
	SolutionID string `json:"solution_id"`
	Title      string `json:"title,omitempty"`
	Error      string `json:"error"`
}

// GenerationRecord holds per-generation phase progress and outputs.
// Records are created lazily on the first orchestrator action touching the
// generation index and mutated only by phase components (on completion) and
// the orchestrator (phase-start / timeout-reset).
type GenerationRecord struct {
	JobID      string `json:"job_id"     db:"job_id"`
	Generation int    `json:"generation" db:"generation"`

	Variator PhaseState `json:"variator"`
	Enricher PhaseState `json:"enricher"`
	Ranker   PhaseState `json:"ranker"`

	Candidates       []Solution        `json:"candidates,omitempty"`
	Enriched         []Solution        `json:"enriched,omitempty"`
	Ranked           []Solution        `json:"ranked,omitempty"`
	TopPerformers    []Solution        `json:"top_performers,omitempty"`
	FailedEnrichment []FailedCandidate `json:"failed_enrichment,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PhaseState returns the state of the named phase.
func (g *GenerationRecord) PhaseState(phase Phase) PhaseState {
	switch phase {
	case PhaseVariator:
		return g.Variator
	case PhaseEnricher:
		return g.Enricher
	case PhaseRanker:
		return g.Ranker
	default:
		return PhaseState{}
	}
}

// SetPhaseState replaces the state of the named phase.
func (g *GenerationRecord) SetPhaseState(phase Phase, state PhaseState) {
	switch phase {
	case PhaseVariator:
		g.Variator = state
	case PhaseEnricher:
		g.Enricher = state
	case PhaseRanker:
		g.Ranker = state
	}
}
