package data

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/venturekit/evosearch/internal/domain/model"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.SearchJob, error) {
	var (
		job           model.SearchJob
		config        []byte
		problem       []byte
		failureReason sql.NullString
		result        []byte
	)

	if err := row.Scan(
		&job.ID,
		&job.Status,
		&config,
		&problem,
		&job.CurrentGeneration,
		&job.CheckAttempt,
		&failureReason,
		&result,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(config, &job.Config); err != nil {
		return nil, fmt.Errorf("unmarshal job config: %w", err)
	}
	if err := json.Unmarshal(problem, &job.Problem); err != nil {
		return nil, fmt.Errorf("unmarshal job problem: %w", err)
	}
	if failureReason.Valid {
		job.FailureReason = &failureReason.String
	}
	if len(result) > 0 {
		var sr model.SearchResult
		if err := json.Unmarshal(result, &sr); err != nil {
			return nil, fmt.Errorf("unmarshal job result: %w", err)
		}
		job.Result = &sr
	}

	return &job, nil
}

func scanGenerationRecord(row rowScanner) (*model.GenerationRecord, error) {
	var (
		rec              model.GenerationRecord
		variatorStartAt  sql.NullTime
		variatorDoneAt   sql.NullTime
		enricherStartAt  sql.NullTime
		enricherDoneAt   sql.NullTime
		rankerStartAt    sql.NullTime
		rankerDoneAt     sql.NullTime
		candidates       []byte
		enriched         []byte
		ranked           []byte
		topPerformers    []byte
		failedEnrichment []byte
	)

	if err := row.Scan(
		&rec.JobID,
		&rec.Generation,
		&rec.Variator.Started, &variatorStartAt, &rec.Variator.Complete, &variatorDoneAt,
		&rec.Enricher.Started, &enricherStartAt, &rec.Enricher.Complete, &enricherDoneAt,
		&rec.Ranker.Started, &rankerStartAt, &rec.Ranker.Complete, &rankerDoneAt,
		&candidates,
		&enriched,
		&ranked,
		&topPerformers,
		&failedEnrichment,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if variatorStartAt.Valid {
		rec.Variator.StartedAt = &variatorStartAt.Time
	}
	if variatorDoneAt.Valid {
		rec.Variator.CompletedAt = &variatorDoneAt.Time
	}
	if enricherStartAt.Valid {
		rec.Enricher.StartedAt = &enricherStartAt.Time
	}
	if enricherDoneAt.Valid {
		rec.Enricher.CompletedAt = &enricherDoneAt.Time
	}
	if rankerStartAt.Valid {
		rec.Ranker.StartedAt = &rankerStartAt.Time
	}
	if rankerDoneAt.Valid {
		rec.Ranker.CompletedAt = &rankerDoneAt.Time
	}

	if err := unmarshalSolutions(candidates, &rec.Candidates); err != nil {
		return nil, fmt.Errorf("unmarshal candidates: %w", err)
	}
	if err := unmarshalSolutions(enriched, &rec.Enriched); err != nil {
		return nil, fmt.Errorf("unmarshal enriched: %w", err)
	}
	if err := unmarshalSolutions(ranked, &rec.Ranked); err != nil {
		return nil, fmt.Errorf("unmarshal ranked: %w", err)
	}
	if err := unmarshalSolutions(topPerformers, &rec.TopPerformers); err != nil {
		return nil, fmt.Errorf("unmarshal top performers: %w", err)
	}
	if len(failedEnrichment) > 0 {
		if err := json.Unmarshal(failedEnrichment, &rec.FailedEnrichment); err != nil {
			return nil, fmt.Errorf("unmarshal failed enrichment: %w", err)
		}
	}

	return &rec, nil
}

func unmarshalSolutions(raw []byte, dst *[]model.Solution) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
