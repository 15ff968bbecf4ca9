package config

import "github.com/venturekit/evosearch/internal/domain/model"

// EvolutionDefaults contains server-side defaults for evolution parameters
// omitted from a job submission. A submission that sets a field keeps it;
// zero-valued fields are filled from here before validation.
type EvolutionDefaults struct {
	Generations           int     `env:"EVOLUTION_GENERATIONS"            envDefault:"3"`
	PopulationSize        int     `env:"EVOLUTION_POPULATION_SIZE"        envDefault:"10"`
	TopPerformerRatio     float64 `env:"EVOLUTION_TOP_PERFORMER_RATIO"    envDefault:"0.3"`
	DiversificationFactor float64 `env:"EVOLUTION_DIVERSIFICATION_FACTOR" envDefault:"0.05"`
	EnrichmentConcurrency int     `env:"EVOLUTION_ENRICHMENT_CONCURRENCY" envDefault:"3"`

	EnrichmentStrategy model.EnrichmentStrategy `env:"EVOLUTION_ENRICHMENT_STRATEGY" envDefault:"batch"`
}

// Sanitize applies guardrails to evolution default values.
func (e *EvolutionDefaults) Sanitize() {
	if e.Generations < 1 {
		e.Generations = 1
	}
	if e.PopulationSize < 1 {
		e.PopulationSize = 1
	}
	if e.TopPerformerRatio <= 0 || e.TopPerformerRatio > 1 {
		e.TopPerformerRatio = 0.3
	}
	if e.DiversificationFactor <= 0 {
		e.DiversificationFactor = 0.05
	}
	if e.EnrichmentConcurrency < 1 {
		e.EnrichmentConcurrency = 1
	}
	if e.EnrichmentStrategy == "" {
		e.EnrichmentStrategy = model.EnrichmentStrategyBatch
	}
}

// Apply fills zero-valued fields of cfg from the defaults. OffspringRatio,
// MaxCapex and MinProfits are left alone: zero is a meaningful value for all
// three (all-wildcard generations, preference not enforced).
func (e EvolutionDefaults) Apply(cfg *model.EvolutionConfig) {
	if cfg.Generations == 0 {
		cfg.Generations = e.Generations
	}
	if cfg.PopulationSize == 0 {
		cfg.PopulationSize = e.PopulationSize
	}
	if cfg.TopPerformerRatio == 0 {
		cfg.TopPerformerRatio = e.TopPerformerRatio
	}
	if cfg.DiversificationFactor == 0 {
		cfg.DiversificationFactor = e.DiversificationFactor
	}
	if cfg.EnrichmentConcurrency == 0 {
		cfg.EnrichmentConcurrency = e.EnrichmentConcurrency
	}
	if cfg.EnrichmentStrategy == "" {
		cfg.EnrichmentStrategy = e.EnrichmentStrategy
	}
}
