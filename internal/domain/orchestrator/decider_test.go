package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venturekit/evosearch/internal/domain/model"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testJob(generations int) model.SearchJob {
	return model.SearchJob{
		ID:                "job-1",
		Status:            model.JobStatusProcessing,
		CurrentGeneration: 1,
		Config: model.EvolutionConfig{
			Generations:    generations,
			PopulationSize: 4,
		},
	}
}

func startedAt(ts time.Time) model.PhaseState {
	return model.PhaseState{Started: true, StartedAt: &ts}
}

func completeState() model.PhaseState {
	now := testNow
	return model.PhaseState{Started: true, StartedAt: &now, Complete: true, CompletedAt: &now}
}

func TestDetermineNextAction_TerminalJob(t *testing.T) {
	t.Parallel()

	for _, status := range []model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed} {
		job := testJob(2)
		job.Status = status
		action := DetermineNextAction(Snapshot{Job: job}, testNow, DefaultPhaseTimeouts())
		assert.Equal(t, ActionAlreadyComplete, action.Kind, "status %s", status)
	}
}

func TestDetermineNextAction_FreshJobStartsVariator(t *testing.T) {
	t.Parallel()

	action := DetermineNextAction(Snapshot{Job: testJob(2)}, testNow, DefaultPhaseTimeouts())

	assert.Equal(t, ActionCreateTask, action.Kind)
	assert.Equal(t, model.PhaseVariator, action.Phase)
	assert.Equal(t, 1, action.Generation)
	assert.Nil(t, action.TopPerformers, "first generation has no seed")
}

func TestDetermineNextAction_PhaseOrderWithinGeneration(t *testing.T) {
	t.Parallel()

	// Variator complete, enricher untouched: enricher is next.
	snap := Snapshot{
		Job: testJob(2),
		Generations: map[int]*model.GenerationRecord{
			1: {JobID: "job-1", Generation: 1, Variator: completeState()},
		},
	}
	action := DetermineNextAction(snap, testNow, DefaultPhaseTimeouts())
	assert.Equal(t, ActionCreateTask, action.Kind)
	assert.Equal(t, model.PhaseEnricher, action.Phase)
	assert.Nil(t, action.TopPerformers, "only variator tasks carry a seed")

	// Enricher complete too: ranker is next.
	snap.Generations[1].Enricher = completeState()
	action = DetermineNextAction(snap, testNow, DefaultPhaseTimeouts())
	assert.Equal(t, ActionCreateTask, action.Kind)
	assert.Equal(t, model.PhaseRanker, action.Phase)
}

func TestDetermineNextAction_RunningPhaseWaits(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		Job: testJob(2),
		Generations: map[int]*model.GenerationRecord{
			1: {JobID: "job-1", Generation: 1, Variator: startedAt(testNow.Add(-time.Minute))},
		},
	}
	action := DetermineNextAction(snap, testNow, DefaultPhaseTimeouts())

	assert.Equal(t, ActionWait, action.Kind)
	assert.Equal(t, model.PhaseVariator, action.Phase)
	assert.Equal(t, 1, action.Generation)
}

func TestDetermineNextAction_TimedOutPhaseRetries(t *testing.T) {
	t.Parallel()

	timeouts := DefaultPhaseTimeouts()
	snap := Snapshot{
		Job: testJob(2),
		Generations: map[int]*model.GenerationRecord{
			1: {
				JobID:      "job-1",
				Generation: 1,
				Variator:   startedAt(testNow.Add(-timeouts.Variator - time.Second)),
			},
		},
	}
	action := DetermineNextAction(snap, testNow, timeouts)

	assert.Equal(t, ActionRetryTask, action.Kind)
	assert.Equal(t, model.PhaseVariator, action.Phase)
	assert.Equal(t, "timeout", action.Reason)
}

func TestDetermineNextAction_RunningPhaseAtExactTimeoutWaits(t *testing.T) {
	t.Parallel()

	timeouts := DefaultPhaseTimeouts()
	snap := Snapshot{
		Job: testJob(2),
		Generations: map[int]*model.GenerationRecord{
			1: {
				JobID:      "job-1",
				Generation: 1,
				Enricher:   startedAt(testNow.Add(-timeouts.Enricher)),
				Variator:   completeState(),
			},
		},
	}
	action := DetermineNextAction(snap, testNow, timeouts)
	assert.Equal(t, ActionWait, action.Kind)
}

func TestDetermineNextAction_NextGenerationSeededByTopPerformers(t *testing.T) {
	t.Parallel()

	top := []model.Solution{{ID: "job-1:g1:s0", Title: "winner"}}
	job := testJob(3)
	snap := Snapshot{
		Job: job,
		Generations: map[int]*model.GenerationRecord{
			1: {
				JobID:         "job-1",
				Generation:    1,
				Variator:      completeState(),
				Enricher:      completeState(),
				Ranker:        completeState(),
				TopPerformers: top,
			},
		},
	}
	action := DetermineNextAction(snap, testNow, DefaultPhaseTimeouts())

	assert.Equal(t, ActionCreateTask, action.Kind)
	assert.Equal(t, model.PhaseVariator, action.Phase)
	assert.Equal(t, 2, action.Generation)
	require.Len(t, action.TopPerformers, 1)
	assert.Equal(t, "winner", action.TopPerformers[0].Title)
}

func TestDetermineNextAction_LastGenerationCompleteFinalizes(t *testing.T) {
	t.Parallel()

	job := testJob(1)
	snap := Snapshot{
		Job: job,
		Generations: map[int]*model.GenerationRecord{
			1: {
				JobID:      "job-1",
				Generation: 1,
				Variator:   completeState(),
				Enricher:   completeState(),
				Ranker:     completeState(),
			},
		},
	}
	action := DetermineNextAction(snap, testNow, DefaultPhaseTimeouts())

	assert.Equal(t, ActionMarkComplete, action.Kind)
	assert.Equal(t, 1, action.Generation)
}

func TestDetermineNextAction_LaterGenerationVariatorRetryIsSeeded(t *testing.T) {
	t.Parallel()

	timeouts := DefaultPhaseTimeouts()
	top := []model.Solution{{ID: "job-1:g1:s0"}}
	job := testJob(2)
	job.CurrentGeneration = 2
	snap := Snapshot{
		Job: job,
		Generations: map[int]*model.GenerationRecord{
			1: {
				JobID: "job-1", Generation: 1,
				Variator: completeState(), Enricher: completeState(), Ranker: completeState(),
				TopPerformers: top,
			},
			2: {
				JobID: "job-1", Generation: 2,
				Variator: startedAt(testNow.Add(-timeouts.Variator - time.Minute)),
			},
		},
	}
	action := DetermineNextAction(snap, testNow, timeouts)

	assert.Equal(t, ActionRetryTask, action.Kind)
	assert.Equal(t, model.PhaseVariator, action.Phase)
	assert.Equal(t, 2, action.Generation)
	assert.Equal(t, top, action.TopPerformers)
}

func TestDetermineNextAction_Deterministic(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		Job: testJob(2),
		Generations: map[int]*model.GenerationRecord{
			1: {JobID: "job-1", Generation: 1, Variator: startedAt(testNow.Add(-time.Minute))},
		},
	}
	first := DetermineNextAction(snap, testNow, DefaultPhaseTimeouts())
	second := DetermineNextAction(snap, testNow, DefaultPhaseTimeouts())
	assert.Equal(t, first, second)
}
