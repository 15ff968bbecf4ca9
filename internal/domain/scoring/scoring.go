// Package scoring computes risk-adjusted scores for enriched candidates,
// orders them, and selects the top performers that seed the next generation.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	apperrors "github.com/venturekit/evosearch/internal/errors"

	"github.com/venturekit/evosearch/internal/domain/model"
)

// Config carries the scoring-relevant slice of the evolution configuration.
type Config struct {
	// DiversificationFactor is the unit capital cost C0 of the penalty term.
	DiversificationFactor float64
	// MaxCapex is the soft ceiling on capital required; 0 disables the check.
	MaxCapex float64
	// MinProfits is the soft floor on success-case NPV; 0 disables the check.
	MinProfits float64
	// TopPerformerRatio selects ceil(PopulationSize*ratio) top performers.
	TopPerformerRatio float64
	PopulationSize    int
	// HardFilter excludes preference violators from ranking entirely.
	// Off by default: violators are flagged but still scored and ranked.
	HardFilter bool
}

// FromEvolutionConfig extracts the scoring configuration from a job's
// evolution configuration.
func FromEvolutionConfig(cfg model.EvolutionConfig) Config {
	return Config{
		DiversificationFactor: cfg.DiversificationFactor,
		MaxCapex:              cfg.MaxCapex,
		MinProfits:            cfg.MinProfits,
		TopPerformerRatio:     cfg.TopPerformerRatio,
		PopulationSize:        cfg.PopulationSize,
		HardFilter:            cfg.HardFilter,
	}
}

// ExpectedValue returns the probability-weighted value of a business case:
// p*NPV_success - (1-p)*capex.
func ExpectedValue(bc model.BusinessCase) float64 {
	return bc.SuccessProbability*bc.SuccessNPV - (1-bc.SuccessProbability)*bc.CapitalRequired
}

// DiversificationPenalty returns sqrt(capex/C0), discounting high-capital
// candidates relative to the configured unit cost.
func DiversificationPenalty(capex, c0 float64) float64 {
	return math.Sqrt(capex / c0)
}

// Score returns the risk-adjusted score of a business case.
func Score(bc model.BusinessCase, c0 float64) float64 {
	penalty := DiversificationPenalty(bc.CapitalRequired, c0)
	if penalty == 0 {
		// Zero-capital candidates carry no diversification penalty.
		return ExpectedValue(bc)
	}
	return ExpectedValue(bc) / penalty
}

// Result is the outcome of ranking one generation's enriched candidates.
type Result struct {
	// Ranked is the full candidate list, stable-sorted descending by score,
	// with contiguous 1-based ranks.
	Ranked []model.Solution
	// TopPerformers is the leading ceil(PopulationSize*TopPerformerRatio)
	// slice of Ranked.
	TopPerformers []model.Solution
	// Excluded holds candidates removed by the opt-in hard filter.
	Excluded []model.Solution
}

// RankAndSelect validates, scores, orders and selects the given enriched
// candidates. Validation collects every violation across all candidates
// before failing; a single malformed candidate never hides the others.
func RankAndSelect(candidates []model.Solution, cfg Config) (Result, error) {
	if err := validateAll(candidates); err != nil {
		return Result{}, err
	}

	result := Result{}
	scored := make([]model.Solution, 0, len(candidates))
	for _, s := range candidates {
		score := Score(*s.BusinessCase, cfg.DiversificationFactor)
		s.Score = &score
		s.ViolatesPreferences, s.PreferenceNote = checkPreferences(*s.BusinessCase, cfg)
		if s.ViolatesPreferences && cfg.HardFilter {
			result.Excluded = append(result.Excluded, s)
			continue
		}
		scored = append(scored, s)
	}

	// Stable sort keeps relative input order for equal scores.
	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].Score > *scored[j].Score
	})
	for i := range scored {
		rank := i + 1
		scored[i].Rank = &rank
	}
	result.Ranked = scored
	result.TopPerformers = selectTop(scored, cfg)
	return result, nil
}

// validateAll checks every candidate's business case, collecting all
// violations into one validation error.
func validateAll(candidates []model.Solution) error {
	var violations []string
	for _, s := range candidates {
		if s.BusinessCase == nil {
			violations = append(violations, fmt.Sprintf("%s: missing business case", s.ID))
			continue
		}
		if err := s.BusinessCase.Validate(); err != nil {
			violations = append(violations, fmt.Sprintf("%s: %v", s.ID, err))
		}
	}
	if len(violations) > 0 {
		return apperrors.Validationf(
			"%d candidate(s) failed business case validation: %s",
			len(violations), strings.Join(violations, "; "),
		)
	}
	return nil
}

func checkPreferences(bc model.BusinessCase, cfg Config) (bool, string) {
	var notes []string
	if cfg.MaxCapex > 0 && bc.CapitalRequired > cfg.MaxCapex {
		notes = append(notes, fmt.Sprintf(
			"capital required %.2f exceeds preferred maximum %.2f", bc.CapitalRequired, cfg.MaxCapex))
	}
	if cfg.MinProfits > 0 && bc.SuccessNPV < cfg.MinProfits {
		notes = append(notes, fmt.Sprintf(
			"success NPV %.2f is below preferred minimum %.2f", bc.SuccessNPV, cfg.MinProfits))
	}
	if len(notes) == 0 {
		return false, ""
	}
	return true, strings.Join(notes, "; ")
}

// selectTop returns the first ceil(PopulationSize*TopPerformerRatio) ranked
// candidates, never more than are available.
func selectTop(ranked []model.Solution, cfg Config) []model.Solution {
	if len(ranked) == 0 {
		return nil
	}
	n := int(math.Ceil(float64(cfg.PopulationSize) * cfg.TopPerformerRatio))
	if n < 1 {
		n = 1
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	top := make([]model.Solution, n)
	copy(top, ranked[:n])
	return top
}
