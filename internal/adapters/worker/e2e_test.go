package worker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venturekit/evosearch/internal/adapters/dispatch"
	"github.com/venturekit/evosearch/internal/core"
	"github.com/venturekit/evosearch/internal/domain/model"
	"github.com/venturekit/evosearch/internal/domain/orchestrator"
	searchmocks "github.com/venturekit/evosearch/internal/mocks/search"
	"github.com/venturekit/evosearch/internal/testutil"
)

// e2eHarness wires the full pipeline with in-memory backends: state store,
// oracle, cache, dispatcher, orchestrator, and runner.
type e2eHarness struct {
	store      *searchmocks.MemoryJobStateStore
	oracle     *searchmocks.ScriptedOracle
	cache      *searchmocks.MemoryCacheRepository
	dispatcher *dispatch.InProcessDispatcher
	orch       *core.OrchestratorService
	runner     *Runner
}

func newE2EHarness(t *testing.T) *e2eHarness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := searchmocks.NewMemoryJobStateStore()
	oracle := searchmocks.NewScriptedOracle()
	cacheRepo := searchmocks.NewMemoryCacheRepository()
	dispatcher := dispatch.NewInProcessDispatcher(dispatch.InProcessOptions{Logger: logger})

	orch := core.NewOrchestratorService(core.OrchestratorServiceOptions{
		Store:      store,
		Dispatcher: dispatcher,
		Backoff: orchestrator.BackoffConfig{
			Base:        time.Millisecond,
			Max:         5 * time.Millisecond,
			MaxJitter:   time.Millisecond,
			MaxAttempts: 10000,
		},
		Logger: logger,
	})
	cache := core.NewIdeaCacheService(cacheRepo, core.DefaultIdeaCacheConfig())
	runner, err := NewRunner(RunnerOptions{
		Store:        store,
		Orchestrator: orch,
		Variation:    core.NewVariationService(core.VariationServiceOptions{Oracle: oracle, Logger: logger}),
		Enrichment:   core.NewEnrichmentService(core.EnrichmentServiceOptions{Oracle: oracle, Cache: cache, Logger: logger}),
		Logger:       logger,
	})
	require.NoError(t, err)

	return &e2eHarness{
		store:      store,
		oracle:     oracle,
		cache:      cacheRepo,
		dispatcher: dispatcher,
		orch:       orch,
		runner:     runner,
	}
}

// run submits the job, consumes tasks until the job reaches a terminal
// status, and returns the final job state.
func (h *e2eHarness) run(t *testing.T, req *model.CreateJobRequest) *model.SearchJob {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.dispatcher.Run(ctx, h.runner, 4)
	}()

	job, err := h.store.Create(ctx, req)
	require.NoError(t, err)
	require.NoError(t, h.orch.StartJob(ctx, job.ID))

	deadline := time.After(5 * time.Second)
	for {
		got, err := h.store.Get(ctx, job.ID)
		require.NoError(t, err)
		if got.Status.Terminal() {
			cancel()
			<-done
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("job %s did not finish: status=%s generation=%d",
				job.ID, got.Status, got.CurrentGeneration)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEndToEnd_TwoGenerationRunCompletes(t *testing.T) {
	h := newE2EHarness(t)

	job := h.run(t, testutil.NewJobRequest().
		WithGenerations(2).
		WithPopulationSize(2).
		Build())

	require.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)

	result := job.Result
	assert.Len(t, result.AllSolutions, 4, "two generations of two candidates each")
	require.Len(t, result.GenerationHistory, 2)
	assert.Equal(t, 1, result.GenerationHistory[0].Generation)
	assert.Equal(t, 2, result.GenerationHistory[1].Generation)
	for _, gen := range result.GenerationHistory {
		assert.Len(t, gen.Ranked, 2)
		assert.Len(t, gen.TopPerformers, 1)
		assert.Zero(t, gen.FailedCount)
	}

	// Every solution carries enrichment and ranking artifacts.
	for _, sol := range result.AllSolutions {
		require.NotNil(t, sol.BusinessCase, "solution %s", sol.ID)
		require.NotNil(t, sol.Score, "solution %s", sol.ID)
		require.NotNil(t, sol.Rank, "solution %s", sol.ID)
	}

	// Cross-generation top performers are re-ranked by score.
	require.NotEmpty(t, result.TopPerformers)
	for i := 1; i < len(result.TopPerformers); i++ {
		assert.GreaterOrEqual(t, *result.TopPerformers[i-1].Score, *result.TopPerformers[i].Score)
	}
}

func TestEndToEnd_SurvivesTransientOracleFailures(t *testing.T) {
	h := newE2EHarness(t)
	h.oracle.FailNext(2)

	job := h.run(t, testutil.NewJobRequest().
		WithGenerations(1).
		WithPopulationSize(2).
		Build())

	require.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Len(t, job.Result.AllSolutions, 2)
}

func TestEndToEnd_LargerPopulationPreservesElites(t *testing.T) {
	h := newE2EHarness(t)

	job := h.run(t, testutil.NewJobRequest().
		WithGenerations(2).
		WithPopulationSize(10).
		WithEnrichmentConcurrency(4).
		Build())

	require.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Len(t, job.Result.AllSolutions, 20)

	// Generation two preserves min(2, floor(10*0.2)) = 2 elites.
	var elites int
	for _, sol := range job.Result.AllSolutions {
		if sol.Elite {
			require.Equal(t, 2, sol.Generation, "elites only appear after the first generation")
			elites++
		}
	}
	assert.Equal(t, 2, elites)

	// The enricher never exceeded the configured fan-out width.
	assert.LessOrEqual(t, h.oracle.MaxInFlight(), 4)
}
