package core

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/venturekit/evosearch/internal/errors"

	"github.com/venturekit/evosearch/internal/domain/model"
)

// DefaultEnrichmentConcurrency bounds the fan-out width when the job
// configuration leaves it unset.
const DefaultEnrichmentConcurrency = 25

// EnrichmentServiceOptions bundles dependencies for NewEnrichmentService.
type EnrichmentServiceOptions struct {
	Oracle Oracle
	Cache  *IdeaCacheService
	Logger *slog.Logger
}

// EnrichmentService independently attaches a financial projection to each
// candidate, in batches bounded by the configured fan-out width. Batch i+1
// does not start until every call of batch i has settled.
type EnrichmentService struct {
	oracle Oracle
	cache  *IdeaCacheService
	logger *slog.Logger
}

// NewEnrichmentService creates a new EnrichmentService.
func NewEnrichmentService(opts EnrichmentServiceOptions) *EnrichmentService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EnrichmentService{
		oracle: opts.Oracle,
		cache:  opts.Cache,
		logger: logger,
	}
}

// EnrichmentInput carries one enricher task's inputs.
type EnrichmentInput struct {
	Job        *model.SearchJob
	Generation int
	Candidates []model.Solution
}

// EnrichmentOutput is the settled outcome of one enrichment phase. Enriched
// retains the relative input order of its candidates; failures are collected
// separately and do not abort the phase.
type EnrichmentOutput struct {
	Enriched []model.Solution
	Failed   []model.FailedCandidate
}

// Enrich runs the enrichment phase. The phase fails only if zero candidates
// enrich successfully.
func (s *EnrichmentService) Enrich(ctx context.Context, in EnrichmentInput) (EnrichmentOutput, error) {
	width := in.Job.Config.EnrichmentConcurrency
	if width < 1 {
		width = DefaultEnrichmentConcurrency
	}
	if in.Job.Config.EnrichmentStrategy == model.EnrichmentStrategyPerIdea {
		width = 1
	}

	type slot struct {
		sol model.Solution
		err error
	}
	results := make([]slot, len(in.Candidates))

	for start := 0; start < len(in.Candidates); start += width {
		end := start + width
		if end > len(in.Candidates) {
			end = len(in.Candidates)
		}

		// One batch: up to width concurrent oracle calls, joined before the
		// next batch starts. Individual failures are captured per slot, so
		// the group itself never errors.
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				sol, err := s.enrichOne(gctx, in.Job, in.Candidates[i])
				results[i] = slot{sol: sol, err: err}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return EnrichmentOutput{}, err
		}
		if ctx.Err() != nil {
			return EnrichmentOutput{}, ctx.Err()
		}
	}

	out := EnrichmentOutput{}
	for i, r := range results {
		if r.err != nil {
			out.Failed = append(out.Failed, model.FailedCandidate{
				SolutionID: in.Candidates[i].ID,
				Title:      in.Candidates[i].Title,
				Error:      r.err.Error(),
			})
			continue
		}
		out.Enriched = append(out.Enriched, r.sol)
	}

	if len(out.Enriched) == 0 {
		return out, apperrors.PhaseFailuref(
			"enrichment produced zero successful candidates out of %d", len(in.Candidates))
	}
	if len(out.Failed) > 0 {
		s.logger.WarnContext(ctx, "some candidates failed enrichment",
			"job_id", in.Job.ID, "generation", in.Generation,
			"failed", len(out.Failed), "enriched", len(out.Enriched))
	}
	return out, nil
}

// enrichOne enriches a single candidate, consulting the idea cache before any
// oracle call and populating it after a validated success.
func (s *EnrichmentService) enrichOne(
	ctx context.Context,
	job *model.SearchJob,
	sol model.Solution,
) (model.Solution, error) {
	if cached, err := s.cache.Get(ctx, sol); err == nil && cached != nil {
		sol.BusinessCase = cached
		return sol, nil
	} else if err != nil {
		s.logger.WarnContext(ctx, "idea cache lookup failed", "job_id", job.ID, "error", err)
	}

	result, err := s.oracle.Generate(ctx, GenerateRequest{
		SystemPrompt: enrichmentSystemPrompt,
		UserPrompt:   enrichmentUserPrompt(job.Problem, sol),
		Schema:       businessCaseSchema(),
	})
	if err != nil {
		return model.Solution{}, err
	}

	var bc model.BusinessCase
	if err := json.Unmarshal([]byte(result.Content), &bc); err != nil {
		return model.Solution{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, "decode business case")
	}
	if err := bc.Validate(); err != nil {
		return model.Solution{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid business case")
	}

	if err := s.cache.Put(ctx, sol, bc); err != nil {
		s.logger.WarnContext(ctx, "idea cache write failed", "job_id", job.ID, "error", err)
	}

	sol.BusinessCase = &bc
	return sol, nil
}
