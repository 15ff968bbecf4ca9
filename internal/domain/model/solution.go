package model

import (
	"errors"
	"fmt"
)

// CashFlowPeriods is the required length of a business case's cash-flow series.
const CashFlowPeriods = 5

// BusinessCase is the financial projection attached to a solution by the
// enrichment phase.
type BusinessCase struct {
	// SuccessNPV is the net present value in the success case.
	SuccessNPV float64 `json:"success_npv"`
	// CapitalRequired is the upfront capital the solution needs.
	CapitalRequired float64 `json:"capital_required"`
	// TimelineMonths is the estimated months to first revenue.
	TimelineMonths int `json:"timeline_months"`
	// SuccessProbability is the estimated probability of success, in (0, 1].
	SuccessProbability float64 `json:"success_probability"`
	// RiskFactors lists at least one material risk.
	RiskFactors []string `json:"risk_factors"`
	// CashFlows is the projected cash flow over exactly five periods.
	CashFlows []float64 `json:"cash_flows"`
}

// Validate checks every required business case field is present and
// numerically sane.
func (b *BusinessCase) Validate() error {
	if b.SuccessProbability <= 0 || b.SuccessProbability > 1 {
		return fmt.Errorf("success probability must be within (0, 1], got %v", b.SuccessProbability)
	}
	if b.CapitalRequired < 0 {
		return fmt.Errorf("capital required must be >= 0, got %v", b.CapitalRequired)
	}
	if b.TimelineMonths <= 0 {
		return fmt.Errorf("timeline months must be > 0, got %d", b.TimelineMonths)
	}
	if len(b.RiskFactors) < 1 {
		return errors.New("at least one risk factor is required")
	}
	if len(b.CashFlows) != CashFlowPeriods {
		return fmt.Errorf("cash flows must have exactly %d periods, got %d", CashFlowPeriods, len(b.CashFlows))
	}
	return nil
}

// Solution is one proposed business idea under evaluation in a generation.
// IDs are always assigned by the core from (job, generation, sequence);
// identifiers proposed by the oracle are discarded.
type Solution struct {
	ID          string `json:"id"`
	Generation  int    `json:"generation"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// Mechanism is the core mechanism by which the idea makes money.
	Mechanism string `json:"mechanism,omitempty"`
	// Elite marks a top performer carried unchanged from the prior generation.
	Elite bool `json:"elite,omitempty"`

	BusinessCase *BusinessCase `json:"business_case,omitempty"`

	Score *float64 `json:"score,omitempty"`
	Rank  *int     `json:"rank,omitempty"`
	// ViolatesPreferences flags a candidate breaching the soft preference
	// thresholds. Violators are still scored, ranked and selectable.
	ViolatesPreferences bool   `json:"violates_preferences,omitempty"`
	PreferenceNote      string `json:"preference_note,omitempty"`
}

// SolutionID derives the deterministic core-assigned identifier for the
// candidate at the given sequence position of a generation.
func SolutionID(jobID string, generation, sequence int) string {
	return fmt.Sprintf("%s:g%d:s%d", jobID, generation, sequence)
}
