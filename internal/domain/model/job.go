// Package model defines the core data types and structures used throughout the evosearch system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a search job.
type JobStatus string

const (
	// JobStatusPending indicates a job has been accepted but no generation has started.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates the evolutionary search is in progress.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the final generation's ranking finished and the job was finalized.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed permanently.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusProcessing ||
		s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal returns true if the status admits no further orchestration.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// EnrichmentStrategy selects how candidates are sent to the oracle for enrichment.
// The variant is chosen once at job creation and stored in the job configuration.
type EnrichmentStrategy string

const (
	// EnrichmentStrategyBatch enriches candidates in concurrent batches of
	// EnrichmentConcurrency oracle calls.
	EnrichmentStrategyBatch EnrichmentStrategy = "batch"
	// EnrichmentStrategyPerIdea enriches candidates one at a time.
	EnrichmentStrategyPerIdea EnrichmentStrategy = "per-idea"
)

// UnmarshalText implements encoding.TextUnmarshaler for EnrichmentStrategy to allow env parsing.
func (e *EnrichmentStrategy) UnmarshalText(text []byte) error {
	v := EnrichmentStrategy(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case EnrichmentStrategyBatch, EnrichmentStrategyPerIdea:
		*e = v
		return nil
	}
	return fmt.Errorf("invalid EnrichmentStrategy: %q", string(text))
}

// EvolutionConfig is the immutable configuration of one search job. It is
// validated once at submission and threaded through every phase unchanged.
type EvolutionConfig struct {
	// Generations is the number of vary/enrich/rank cycles to run.
	Generations int `json:"generations"`
	// PopulationSize is the number of candidates per generation.
	PopulationSize int `json:"population_size"`
	// OffspringRatio is the fraction of each generation derived from prior
	// top performers (the remainder are wildcards).
	OffspringRatio float64 `json:"offspring_ratio"`
	// TopPerformerRatio is the fraction of the ranked list selected to seed
	// the next generation.
	TopPerformerRatio float64 `json:"top_performer_ratio"`
	// DiversificationFactor is the unit capital cost used by the
	// diversification penalty.
	DiversificationFactor float64 `json:"diversification_factor"`
	// MaxCapex is a soft preference ceiling on capital required.
	MaxCapex float64 `json:"max_capex"`
	// MinProfits is a soft preference floor on success-case NPV.
	MinProfits float64 `json:"min_profits"`
	// EnrichmentConcurrency bounds the fan-out width of enrichment batches.
	EnrichmentConcurrency int `json:"enrichment_concurrency"`
	// EnrichmentStrategy selects the batch or per-idea enrichment variant.
	EnrichmentStrategy EnrichmentStrategy `json:"enrichment_strategy"`
	// HardFilter excludes preference-violating candidates from ranking when
	// set. The default keeps violators ranked and merely flags them.
	HardFilter bool `json:"hard_filter,omitempty"`
}

// Validate validates the EvolutionConfig fields.
func (c *EvolutionConfig) Validate() error {
	if c.Generations < 1 {
		return errors.New("generations must be >= 1")
	}
	if c.PopulationSize < 1 {
		return errors.New("population size must be >= 1")
	}
	if c.OffspringRatio < 0 || c.OffspringRatio > 1 {
		return errors.New("offspring ratio must be within [0, 1]")
	}
	if c.TopPerformerRatio <= 0 || c.TopPerformerRatio > 1 {
		return errors.New("top performer ratio must be within (0, 1]")
	}
	if c.DiversificationFactor <= 0 {
		return errors.New("diversification factor must be > 0")
	}
	if c.EnrichmentConcurrency < 1 {
		return errors.New("enrichment concurrency must be >= 1")
	}
	switch c.EnrichmentStrategy {
	case EnrichmentStrategyBatch, EnrichmentStrategyPerIdea:
	case "":
		return errors.New("enrichment strategy is required")
	default:
		return fmt.Errorf("invalid enrichment strategy: %q", c.EnrichmentStrategy)
	}
	return nil
}

// ProblemStatement describes the business problem the search explores.
type ProblemStatement struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Constraints string `json:"constraints,omitempty"`
}

// Validate validates the ProblemStatement fields.
func (p *ProblemStatement) Validate() error {
	if strings.TrimSpace(p.Description) == "" {
		return errors.New("problem description is required")
	}
	return nil
}

// SearchJob represents one evolutionary search with all its metadata and progress.
type SearchJob struct {
	ID                string           `json:"id"                       db:"id"`
	Status            JobStatus        `json:"status"                   db:"status"`
	Config            EvolutionConfig  `json:"config"                   db:"config"`
	Problem           ProblemStatement `json:"problem"                  db:"problem"`
	CurrentGeneration int              `json:"current_generation"       db:"current_generation"`
	CheckAttempt      int              `json:"check_attempt"            db:"check_attempt"`
	FailureReason     *string          `json:"failure_reason,omitempty" db:"failure_reason"`
	Result            *SearchResult    `json:"result,omitempty"         db:"result"`
	CreatedAt         time.Time        `json:"created_at"               db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"               db:"updated_at"`
}

// CreateJobRequest represents a request to start a new search job.
type CreateJobRequest struct {
	Config  EvolutionConfig  `json:"config"`
	Problem ProblemStatement `json:"problem"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if err := r.Config.Validate(); err != nil {
		return err
	}
	return r.Problem.Validate()
}

// SearchResult is the aggregate written exactly once when a job is finalized.
type SearchResult struct {
	// TopPerformers are the selected top performers across all generations,
	// re-ranked by score.
	TopPerformers []Solution `json:"top_performers"`
	// AllSolutions is every ranked solution from every generation.
	AllSolutions []Solution `json:"all_solutions"`
	// GenerationHistory summarizes each generation in order.
	GenerationHistory []GenerationSummary `json:"generation_history"`
}

// GenerationSummary is the per-generation slice of a SearchResult.
type GenerationSummary struct {
	Generation    int        `json:"generation"`
	Ranked        []Solution `json:"ranked"`
	TopPerformers []Solution `json:"top_performers"`
	FailedCount   int        `json:"failed_count"`
}

// JobStatusResponse represents the status information for a specific job.
type JobStatusResponse struct {
	ID                string     `json:"id"`
	Status            JobStatus  `json:"status"`
	CurrentGeneration int        `json:"current_generation"`
	Generations       int        `json:"generations"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// RawConfig round-trips the config through JSON for storage.
func (c EvolutionConfig) RawConfig() (json.RawMessage, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal evolution config: %w", err)
	}
	return b, nil
}
