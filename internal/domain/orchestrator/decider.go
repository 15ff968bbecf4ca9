package orchestrator

import (
	"time"

	"github.com/venturekit/evosearch/internal/domain/model"
)

// DetermineNextAction inspects the job snapshot and decides the next action.
// It is a pure function of its inputs: identical snapshots at the same instant
// always yield the same action.
//
// Per generation the phases run strictly in order
// variator -> enricher -> ranker; the next generation's variator cannot start
// until the current generation's ranker is complete.
func DetermineNextAction(snap Snapshot, now time.Time, timeouts PhaseTimeouts) Action {
	job := snap.Job
	if job.Status.Terminal() {
		return Action{Kind: ActionAlreadyComplete}
	}

	gen := job.CurrentGeneration
	if gen < 1 {
		gen = 1
	}

	rec := snap.Record(gen)
	if rec == nil {
		// First touch of this generation: create its variator task, seeded by
		// the previous generation's selection when there is one.
		return Action{
			Kind:          ActionCreateTask,
			Phase:         model.PhaseVariator,
			Generation:    gen,
			TopPerformers: previousTopPerformers(snap, gen),
		}
	}

	for _, phase := range model.Phases() {
		state := rec.PhaseState(phase)
		if state.Complete {
			continue
		}
		if !state.Started {
			return Action{
				Kind:          ActionCreateTask,
				Phase:         phase,
				Generation:    gen,
				TopPerformers: variatorSeed(snap, phase, gen),
			}
		}
		if state.TimedOut(now, timeouts.For(phase)) {
			return Action{
				Kind:          ActionRetryTask,
				Phase:         phase,
				Generation:    gen,
				Reason:        "timeout",
				TopPerformers: variatorSeed(snap, phase, gen),
			}
		}
		return Action{Kind: ActionWait, Phase: phase, Generation: gen}
	}

	// All three phases of the active generation are complete.
	if gen < job.Config.Generations {
		return Action{
			Kind:          ActionCreateTask,
			Phase:         model.PhaseVariator,
			Generation:    gen + 1,
			TopPerformers: rec.TopPerformers,
		}
	}
	return Action{Kind: ActionMarkComplete, Generation: gen}
}

// variatorSeed resolves the top-performer seed for variator tasks; other
// phases take their inputs from the generation record.
func variatorSeed(snap Snapshot, phase model.Phase, gen int) []model.Solution {
	if phase != model.PhaseVariator {
		return nil
	}
	return previousTopPerformers(snap, gen)
}

func previousTopPerformers(snap Snapshot, gen int) []model.Solution {
	if gen <= 1 {
		return nil
	}
	prev := snap.Record(gen - 1)
	if prev == nil {
		return nil
	}
	return prev.TopPerformers
}
