package core

import (
	"fmt"
	"strings"

	"github.com/venturekit/evosearch/internal/domain/model"
)

// Prompt construction for the generative oracle. Wording is deliberately
// plain; the schemas carry the structural contract.

const variationSystemPrompt = `You are a business strategist generating candidate business solutions. ` +
	`Respond only with JSON matching the requested schema.`

const enrichmentSystemPrompt = `You are a financial analyst producing a business case for a proposed business solution. ` +
	`Respond only with JSON matching the requested schema. All monetary figures are in millions.`

func variationUserPrompt(problem model.ProblemStatement, performers []model.Solution, offspring, wildcards int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n", problem.Description)
	if problem.Constraints != "" {
		fmt.Fprintf(&b, "Constraints: %s\n", problem.Constraints)
	}
	if offspring > 0 && len(performers) > 0 {
		b.WriteString("\nPrior top-performing solutions to derive offspring from:\n")
		for _, p := range performers {
			fmt.Fprintf(&b, "- %s: %s\n", p.Title, p.Description)
		}
		fmt.Fprintf(&b,
			"\nPropose %d offspring solutions that recombine or refine the prior top performers, "+
				"and %d wildcard solutions unrelated to them.\n", offspring, wildcards)
	} else {
		fmt.Fprintf(&b, "\nPropose %d distinct wildcard solutions.\n", wildcards)
	}
	fmt.Fprintf(&b, "Return exactly %d ideas.", offspring+wildcards)
	return b.String()
}

func enrichmentUserPrompt(problem model.ProblemStatement, sol model.Solution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n", problem.Description)
	fmt.Fprintf(&b, "Solution: %s\n%s\n", sol.Title, sol.Description)
	if sol.Mechanism != "" {
		fmt.Fprintf(&b, "Mechanism: %s\n", sol.Mechanism)
	}
	fmt.Fprintf(&b, "\nProduce the business case: success-case NPV, capital required, "+
		"timeline in months, success probability, risk factors, and a %d-period annual cash-flow series.",
		model.CashFlowPeriods)
	return b.String()
}

func ideasSchema() *ResponseSchema {
	return &ResponseSchema{
		Name: "candidate_ideas",
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"ideas"},
			"properties": map[string]any{
				"ideas": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []string{"title", "description", "mechanism"},
						"properties": map[string]any{
							"title":       map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"mechanism":   map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	}
}

func businessCaseSchema() *ResponseSchema {
	return &ResponseSchema{
		Name: "business_case",
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required": []string{
				"success_npv", "capital_required", "timeline_months",
				"success_probability", "risk_factors", "cash_flows",
			},
			"properties": map[string]any{
				"success_npv":         map[string]any{"type": "number"},
				"capital_required":    map[string]any{"type": "number"},
				"timeline_months":     map[string]any{"type": "integer"},
				"success_probability": map[string]any{"type": "number"},
				"risk_factors": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"cash_flows": map[string]any{
					"type":     "array",
					"items":    map[string]any{"type": "number"},
					"minItems": model.CashFlowPeriods,
					"maxItems": model.CashFlowPeriods,
				},
			},
		},
	}
}
