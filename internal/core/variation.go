package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"

	apperrors "github.com/venturekit/evosearch/internal/errors"

	"github.com/venturekit/evosearch/internal/domain/model"
)

const (
	// variationMaxParseRetries bounds same-phase internal retries on
	// malformed or short oracle output before the phase is left incomplete
	// for the orchestrator's timeout-retry path.
	variationMaxParseRetries = 3

	// eliteCap and eliteFraction bound how many prior top performers are
	// preserved verbatim into the next generation.
	eliteCap      = 2
	eliteFraction = 0.2
)

// VariationServiceOptions bundles dependencies for NewVariationService.
type VariationServiceOptions struct {
	Oracle Oracle
	Logger *slog.Logger
}

// VariationService produces the new candidate solutions of a generation:
// an elitism + offspring/wildcard mix requested from the oracle.
type VariationService struct {
	oracle Oracle
	logger *slog.Logger
}

// NewVariationService creates a new VariationService.
func NewVariationService(opts VariationServiceOptions) *VariationService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VariationService{oracle: opts.Oracle, logger: logger}
}

// VariationInput carries one variator task's inputs.
type VariationInput struct {
	Job           *model.SearchJob
	Generation    int
	TopPerformers []model.Solution
}

// EliteCount returns how many prior top performers generation gen preserves
// verbatim: min(2, floor(N*0.2)), never more than are available, and zero for
// the first generation.
func EliteCount(gen, populationSize, available int) int {
	if gen <= 1 || available == 0 {
		return 0
	}
	n := int(math.Floor(float64(populationSize) * eliteFraction))
	if n > eliteCap {
		n = eliteCap
	}
	if n > available {
		n = available
	}
	return n
}

// OffspringSplit splits a requested candidate count into offspring and
// wildcards: offspring = floor(count*ratio), zero without prior performers.
func OffspringSplit(count int, offspringRatio float64, priorPerformers int) (offspring, wildcards int) {
	if priorPerformers > 0 {
		offspring = int(math.Floor(float64(count) * offspringRatio))
	}
	return offspring, count - offspring
}

// oracleIdea is the wire shape of one proposed candidate. The oracle never
// assigns identifiers; any it proposes are discarded by this decoding.
type oracleIdea struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Mechanism   string `json:"mechanism"`
}

type oracleIdeaList struct {
	Ideas []oracleIdea `json:"ideas"`
}

// Produce returns the generation's full candidate list: preserved elites
// followed by newly generated candidates, with deterministically assigned
// identifiers. Under-delivery by the oracle is logged, not fatal; zero
// usable candidates after bounded retries is a phase failure.
func (s *VariationService) Produce(ctx context.Context, in VariationInput) ([]model.Solution, error) {
	cfg := in.Job.Config
	n := cfg.PopulationSize

	elites := s.selectElites(in, n)
	request := n - len(elites)
	if request <= 0 {
		return elites, nil
	}

	offspring, wildcards := OffspringSplit(request, cfg.OffspringRatio, len(in.TopPerformers))
	prompt := variationUserPrompt(in.Job.Problem, in.TopPerformers, offspring, wildcards)

	ideas, err := s.requestIdeas(ctx, in, prompt, request)
	if err != nil {
		return nil, err
	}
	if len(ideas) < request {
		s.logger.WarnContext(ctx, "oracle under-delivered candidates",
			"job_id", in.Job.ID, "generation", in.Generation,
			"requested", request, "received", len(ideas))
	}

	out := make([]model.Solution, 0, len(elites)+len(ideas))
	out = append(out, elites...)
	for i, idea := range ideas {
		out = append(out, model.Solution{
			ID:          model.SolutionID(in.Job.ID, in.Generation, len(elites)+i),
			Generation:  in.Generation,
			Title:       idea.Title,
			Description: idea.Description,
			Mechanism:   idea.Mechanism,
		})
	}
	return out, nil
}

// selectElites preserves prior top performers verbatim for generations after
// the first, resetting only their ranking artifacts.
func (s *VariationService) selectElites(in VariationInput, populationSize int) []model.Solution {
	count := EliteCount(in.Generation, populationSize, len(in.TopPerformers))
	if count == 0 {
		return nil
	}
	elites := make([]model.Solution, count)
	copy(elites, in.TopPerformers[:count])
	for i := range elites {
		elites[i].Elite = true
		elites[i].Generation = in.Generation
		elites[i].Score = nil
		elites[i].Rank = nil
	}
	return elites
}

// requestIdeas calls the oracle, retrying malformed or empty output up to
// variationMaxParseRetries times. It returns the best usable list seen,
// trimmed to the requested count.
func (s *VariationService) requestIdeas(
	ctx context.Context,
	in VariationInput,
	prompt string,
	request int,
) ([]oracleIdea, error) {
	var best []oracleIdea
	var lastErr error

	for attempt := 0; attempt <= variationMaxParseRetries; attempt++ {
		result, err := s.oracle.Generate(ctx, GenerateRequest{
			SystemPrompt: variationSystemPrompt,
			UserPrompt:   prompt,
			Schema:       ideasSchema(),
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}

		ideas, parseErr := parseIdeas(result.Content)
		if parseErr != nil {
			lastErr = parseErr
			s.logger.WarnContext(ctx, "malformed variation output",
				"job_id", in.Job.ID, "generation", in.Generation,
				"attempt", attempt, "error", parseErr)
			continue
		}
		if len(ideas) > len(best) {
			best = ideas
		}
		if len(best) >= request {
			return best[:request], nil
		}
	}

	if len(best) == 0 {
		return nil, apperrors.Wrapf(lastErr, apperrors.ErrCodePhaseFailure,
			"variation produced no usable candidates after %d attempts", variationMaxParseRetries+1)
	}
	return best, nil
}

func parseIdeas(content string) ([]oracleIdea, error) {
	var list oracleIdeaList
	if err := json.Unmarshal([]byte(content), &list); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "decode idea list")
	}
	ideas := make([]oracleIdea, 0, len(list.Ideas))
	for _, idea := range list.Ideas {
		if strings.TrimSpace(idea.Title) == "" || strings.TrimSpace(idea.Description) == "" {
			continue
		}
		ideas = append(ideas, idea)
	}
	if len(ideas) == 0 {
		return nil, apperrors.Validation("idea list contained no usable entries")
	}
	return ideas, nil
}
