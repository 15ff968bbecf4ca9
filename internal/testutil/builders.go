package testutil

import (
	"fmt"

	"github.com/venturekit/evosearch/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest
// objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with a valid default
// configuration and problem statement.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Config: model.EvolutionConfig{
				Generations:           2,
				PopulationSize:        4,
				OffspringRatio:        0.5,
				TopPerformerRatio:     0.5,
				DiversificationFactor: 0.05,
				EnrichmentConcurrency: 2,
				EnrichmentStrategy:    model.EnrichmentStrategyBatch,
			},
			Problem: model.ProblemStatement{
				Title:       "test problem",
				Description: "Find new revenue streams for a regional logistics company.",
			},
		},
	}
}

// WithGenerations sets the generation count.
func (b *JobRequestBuilder) WithGenerations(n int) *JobRequestBuilder {
	b.req.Config.Generations = n
	return b
}

// WithPopulationSize sets the per-generation population size.
func (b *JobRequestBuilder) WithPopulationSize(n int) *JobRequestBuilder {
	b.req.Config.PopulationSize = n
	return b
}

// WithOffspringRatio sets the offspring ratio.
func (b *JobRequestBuilder) WithOffspringRatio(r float64) *JobRequestBuilder {
	b.req.Config.OffspringRatio = r
	return b
}

// WithTopPerformerRatio sets the top performer selection ratio.
func (b *JobRequestBuilder) WithTopPerformerRatio(r float64) *JobRequestBuilder {
	b.req.Config.TopPerformerRatio = r
	return b
}

// WithEnrichmentConcurrency sets the enrichment fan-out width.
func (b *JobRequestBuilder) WithEnrichmentConcurrency(n int) *JobRequestBuilder {
	b.req.Config.EnrichmentConcurrency = n
	return b
}

// WithPreferences sets the soft preference thresholds.
func (b *JobRequestBuilder) WithPreferences(maxCapex, minProfits float64) *JobRequestBuilder {
	b.req.Config.MaxCapex = maxCapex
	b.req.Config.MinProfits = minProfits
	return b
}

// WithProblem sets the problem description.
func (b *JobRequestBuilder) WithProblem(description string) *JobRequestBuilder {
	b.req.Problem.Description = description
	return b
}

// WithConfig replaces the whole evolution configuration.
func (b *JobRequestBuilder) WithConfig(cfg model.EvolutionConfig) *JobRequestBuilder {
	b.req.Config = cfg
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	req := *b.req
	return &req
}

// SolutionBuilder provides a fluent interface for building Solution objects
// for testing.
type SolutionBuilder struct {
	sol model.Solution
}

// NewSolution creates a SolutionBuilder for the given sequence position of a
// job's generation.
func NewSolution(jobID string, generation, sequence int) *SolutionBuilder {
	return &SolutionBuilder{
		sol: model.Solution{
			ID:          model.SolutionID(jobID, generation, sequence),
			Generation:  generation,
			Title:       fmt.Sprintf("idea %d", sequence),
			Description: fmt.Sprintf("description of idea %d", sequence),
			Mechanism:   "subscription revenue",
		},
	}
}

// WithTitle sets the solution title.
func (b *SolutionBuilder) WithTitle(title string) *SolutionBuilder {
	b.sol.Title = title
	return b
}

// WithBusinessCase attaches a business case.
func (b *SolutionBuilder) WithBusinessCase(bc model.BusinessCase) *SolutionBuilder {
	b.sol.BusinessCase = &bc
	return b
}

// Enriched attaches a valid business case with the given economics.
func (b *SolutionBuilder) Enriched(probability, npv, capex float64) *SolutionBuilder {
	b.sol.BusinessCase = &model.BusinessCase{
		SuccessNPV:         npv,
		CapitalRequired:    capex,
		TimelineMonths:     12,
		SuccessProbability: probability,
		RiskFactors:        []string{"market adoption"},
		CashFlows:          []float64{-capex, npv / 4, npv / 4, npv / 4, npv / 4},
	}
	return b
}

// WithScore sets the computed score.
func (b *SolutionBuilder) WithScore(score float64) *SolutionBuilder {
	b.sol.Score = &score
	return b
}

// Elite marks the solution as a preserved top performer.
func (b *SolutionBuilder) Elite() *SolutionBuilder {
	b.sol.Elite = true
	return b
}

// Build returns the constructed Solution.
func (b *SolutionBuilder) Build() model.Solution {
	return b.sol
}
