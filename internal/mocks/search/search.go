// Package search contains hand-written test doubles for the search ports.
// These are lightweight, stateful and suitable for driving whole search runs
// in tests without a database or a live oracle.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/venturekit/evosearch/internal/core"
	"github.com/venturekit/evosearch/internal/domain/model"
	"github.com/venturekit/evosearch/internal/domain/orchestrator"
	apperrors "github.com/venturekit/evosearch/internal/errors"
)

// Ensure compile-time conformance to the core ports.
var (
	_ core.JobStateStore   = (*MemoryJobStateStore)(nil)
	_ core.Oracle          = (*ScriptedOracle)(nil)
	_ core.CacheRepository = (*MemoryCacheRepository)(nil)
)

// MemoryJobStateStore is an in-memory JobStateStore with the same transition
// semantics as the database repository: duplicate phase starts are rejected,
// completion requires a started phase, and finalization applies at most once.
type MemoryJobStateStore struct {
	mu      sync.Mutex
	jobs    map[string]*model.SearchJob
	records map[string]map[int]*model.GenerationRecord

	// Now supplies timestamps; defaults to time.Now.
	Now func() time.Time
}

// NewMemoryJobStateStore creates an empty in-memory store.
func NewMemoryJobStateStore() *MemoryJobStateStore {
	return &MemoryJobStateStore{
		jobs:    make(map[string]*model.SearchJob),
		records: make(map[string]map[int]*model.GenerationRecord),
		Now:     time.Now,
	}
}

// Create persists a new pending job.
func (s *MemoryJobStateStore) Create(_ context.Context, req *model.CreateJobRequest) (*model.SearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	job := &model.SearchJob{
		ID:                uuid.NewString(),
		Status:            model.JobStatusPending,
		Config:            req.Config,
		Problem:           req.Problem,
		CurrentGeneration: 1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.jobs[job.ID] = job
	s.records[job.ID] = make(map[int]*model.GenerationRecord)
	out := *job
	return &out, nil
}

// Get returns the job by id.
func (s *MemoryJobStateStore) Get(_ context.Context, jobID string) (*model.SearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", jobID).WithJob(jobID)
	}
	out := *job
	return &out, nil
}

// Snapshot returns the job together with all its generation records.
func (s *MemoryJobStateStore) Snapshot(_ context.Context, jobID string) (orchestrator.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return orchestrator.Snapshot{}, apperrors.NotFoundf("job %s not found", jobID).WithJob(jobID)
	}
	snap := orchestrator.Snapshot{
		Job:         *job,
		Generations: make(map[int]*model.GenerationRecord, len(s.records[jobID])),
	}
	for gen, rec := range s.records[jobID] {
		copied := *rec
		snap.Generations[gen] = &copied
	}
	return snap, nil
}

// GetRecord returns one generation record, or a NotFound error.
func (s *MemoryJobStateStore) GetRecord(_ context.Context, jobID string, generation int) (*model.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(jobID, generation)
	if err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// TransitionPhase applies a start/complete/reset transition atomically under
// the store lock.
func (s *MemoryJobStateStore) TransitionPhase(
	_ context.Context,
	jobID string,
	generation int,
	phase model.Phase,
	action model.TransitionAction,
) (model.TransitionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	switch action {
	case model.TransitionStart:
		rec := s.ensureRecord(jobID, generation, now)
		state := rec.PhaseState(phase)
		if state.Started {
			return model.TransitionAlreadyStarted, nil
		}
		state.Started = true
		state.StartedAt = &now
		rec.SetPhaseState(phase, state)
		rec.UpdatedAt = now
		return model.TransitionUpdated, nil

	case model.TransitionComplete:
		rec, err := s.record(jobID, generation)
		if err != nil {
			return "", err
		}
		state := rec.PhaseState(phase)
		if !state.Started || state.Complete {
			return "", apperrors.Conflictf(
				"phase %s of job %s generation %d is not completable", phase, jobID, generation)
		}
		state.Complete = true
		state.CompletedAt = &now
		rec.SetPhaseState(phase, state)
		rec.UpdatedAt = now
		return model.TransitionUpdated, nil

	case model.TransitionReset:
		rec, err := s.record(jobID, generation)
		if err != nil {
			return "", err
		}
		rec.SetPhaseState(phase, model.PhaseState{})
		rec.UpdatedAt = now
		return model.TransitionResetDone, nil

	default:
		return "", apperrors.Validationf("invalid transition action: %q", action)
	}
}

// AppendPhaseOutput writes a completing phase's outputs to its record.
// Writes against an already-complete phase are dropped, matching the
// guarded UPDATE of the durable store.
func (s *MemoryJobStateStore) AppendPhaseOutput(_ context.Context, params core.AppendPhaseOutputParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(params.JobID, params.Generation)
	if err != nil {
		return err
	}
	if rec.PhaseState(params.Phase).Complete {
		return nil
	}
	switch params.Phase {
	case model.PhaseVariator:
		rec.Candidates = copySolutions(params.Candidates)
	case model.PhaseEnricher:
		rec.Enriched = copySolutions(params.Enriched)
		rec.FailedEnrichment = append([]model.FailedCandidate(nil), params.FailedEnrichment...)
	case model.PhaseRanker:
		rec.Ranked = copySolutions(params.Ranked)
		rec.TopPerformers = copySolutions(params.TopPerformers)
	default:
		return apperrors.Validationf("invalid phase: %q", params.Phase)
	}
	rec.UpdatedAt = s.Now()
	return nil
}

// SetProcessing moves the job to processing and advances its generation index.
func (s *MemoryJobStateStore) SetProcessing(_ context.Context, jobID string, generation int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return apperrors.NotFoundf("job %s not found or already finalized", jobID).WithJob(jobID)
	}
	job.Status = model.JobStatusProcessing
	if generation > job.CurrentGeneration {
		job.CurrentGeneration = generation
	}
	job.UpdatedAt = s.Now()
	return nil
}

// IncrementCheckAttempt bumps and returns the job's check-attempt counter.
func (s *MemoryJobStateStore) IncrementCheckAttempt(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return 0, apperrors.NotFoundf("job %s not found", jobID).WithJob(jobID)
	}
	job.CheckAttempt++
	job.UpdatedAt = s.Now()
	return job.CheckAttempt, nil
}

// Finalize writes the aggregate result and marks the job completed, at most once.
func (s *MemoryJobStateStore) Finalize(_ context.Context, jobID string, result *model.SearchResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = model.JobStatusCompleted
	job.Result = result
	job.UpdatedAt = s.Now()
	return true, nil
}

// MarkFailed marks the job permanently failed with the given reason.
func (s *MemoryJobStateStore) MarkFailed(_ context.Context, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return nil
	}
	job.Status = model.JobStatusFailed
	job.FailureReason = &reason
	job.UpdatedAt = s.Now()
	return nil
}

func (s *MemoryJobStateStore) record(jobID string, generation int) (*model.GenerationRecord, error) {
	recs, ok := s.records[jobID]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", jobID).WithJob(jobID)
	}
	rec, ok := recs[generation]
	if !ok {
		return nil, apperrors.NotFoundf(
			"generation %d of job %s not found", generation, jobID).WithJob(jobID)
	}
	return rec, nil
}

func (s *MemoryJobStateStore) ensureRecord(jobID string, generation int, now time.Time) *model.GenerationRecord {
	recs, ok := s.records[jobID]
	if !ok {
		recs = make(map[int]*model.GenerationRecord)
		s.records[jobID] = recs
	}
	rec, ok := recs[generation]
	if !ok {
		rec = &model.GenerationRecord{
			JobID:      jobID,
			Generation: generation,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		recs[generation] = rec
	}
	return rec
}

func copySolutions(in []model.Solution) []model.Solution {
	if in == nil {
		return nil
	}
	return append([]model.Solution(nil), in...)
}

// reIdeaCount extracts the requested idea count from a variation prompt:
// "Return exactly N ideas.".
var reIdeaCount = regexp.MustCompile(`Return exactly (\d+) ideas`)

// ScriptedOracle is a deterministic Oracle double. By default it answers
// variation requests with the requested number of ideas and enrichment
// requests with a valid business case. Set GenerateFunc to override, or
// FailNext to script transient failures.
type ScriptedOracle struct {
	// GenerateFunc overrides the default response when set.
	GenerateFunc func(ctx context.Context, req core.GenerateRequest) (*core.GenerateResult, error)
	// Latency is slept per call, making concurrency observable in tests.
	Latency time.Duration

	mu          sync.Mutex
	calls       []core.GenerateRequest
	failNext    int
	inFlight    int
	maxInFlight int
}

// NewScriptedOracle creates a ScriptedOracle with default behavior.
func NewScriptedOracle() *ScriptedOracle {
	return &ScriptedOracle{}
}

// FailNext scripts the next n calls to fail with a transient oracle error.
func (o *ScriptedOracle) FailNext(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failNext = n
}

// Calls returns a copy of every request received so far.
func (o *ScriptedOracle) Calls() []core.GenerateRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]core.GenerateRequest(nil), o.calls...)
}

// CallCount returns the number of requests received so far.
func (o *ScriptedOracle) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (o *ScriptedOracle) MaxInFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxInFlight
}

// Generate implements core.Oracle.
func (o *ScriptedOracle) Generate(ctx context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	o.mu.Lock()
	o.calls = append(o.calls, req)
	call := len(o.calls)
	o.inFlight++
	if o.inFlight > o.maxInFlight {
		o.maxInFlight = o.inFlight
	}
	fail := o.failNext > 0
	if fail {
		o.failNext--
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight--
		o.mu.Unlock()
	}()

	if o.Latency > 0 {
		select {
		case <-time.After(o.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, apperrors.OracleTransient(fmt.Errorf("scripted failure on call %d", call), "oracle unavailable")
	}
	if o.GenerateFunc != nil {
		return o.GenerateFunc(ctx, req)
	}
	return o.defaultResponse(req, call)
}

func (o *ScriptedOracle) defaultResponse(req core.GenerateRequest, call int) (*core.GenerateResult, error) {
	schema := ""
	if req.Schema != nil {
		schema = req.Schema.Name
	}
	switch schema {
	case "candidate_ideas":
		return ideasResponse(req.UserPrompt, call)
	case "business_case":
		return businessCaseResponse(call)
	default:
		return nil, fmt.Errorf("scripted oracle: unrecognized schema %q", schema)
	}
}

func ideasResponse(prompt string, call int) (*core.GenerateResult, error) {
	count := 1
	if m := reIdeaCount.FindStringSubmatch(prompt); len(m) == 2 {
		if n, err := strconv.Atoi(m[1]); err == nil {
			count = n
		}
	}
	type idea struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Mechanism   string `json:"mechanism"`
	}
	ideas := make([]idea, count)
	for i := range ideas {
		ideas[i] = idea{
			Title:       fmt.Sprintf("idea %d-%d", call, i),
			Description: fmt.Sprintf("scripted idea %d of call %d", i, call),
			Mechanism:   "recurring revenue",
		}
	}
	payload, err := json.Marshal(map[string]any{"ideas": ideas})
	if err != nil {
		return nil, err
	}
	return &core.GenerateResult{Content: string(payload), Model: "scripted"}, nil
}

func businessCaseResponse(call int) (*core.GenerateResult, error) {
	bc := model.BusinessCase{
		SuccessNPV:         10 + float64(call),
		CapitalRequired:    2,
		TimelineMonths:     12,
		SuccessProbability: 0.8,
		RiskFactors:        []string{"execution risk"},
		CashFlows:          []float64{-2, 2, 3, 4, 5},
	}
	payload, err := json.Marshal(bc)
	if err != nil {
		return nil, err
	}
	return &core.GenerateResult{Content: string(payload), Model: "scripted"}, nil
}

// MemoryCacheRepository is a map-backed CacheRepository with TTL support.
type MemoryCacheRepository struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCacheRepository creates an empty in-memory cache.
func NewMemoryCacheRepository() *MemoryCacheRepository {
	return &MemoryCacheRepository{entries: make(map[string]cacheEntry)}
}

// Set stores a value; a zero TTL never expires.
func (c *MemoryCacheRepository) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

// Get returns the value for key, or nil on a miss.
func (c *MemoryCacheRepository) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, nil
	}
	return append([]byte(nil), entry.value...), nil
}

// Delete removes a key, reporting whether it existed.
func (c *MemoryCacheRepository) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok, nil
}

// Exists reports whether the key is present and unexpired.
func (c *MemoryCacheRepository) Exists(ctx context.Context, key string) (bool, error) {
	v, err := c.Get(ctx, key)
	return v != nil, err
}

// Health always succeeds.
func (c *MemoryCacheRepository) Health(context.Context) error {
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCacheRepository) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
