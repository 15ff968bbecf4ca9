package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/venturekit/evosearch/internal/domain/model"
)

// IdeaCacheConfig holds configuration for the enrichment idea cache.
type IdeaCacheConfig struct {
	TTL time.Duration `json:"ttl"`
}

// DefaultIdeaCacheConfig returns an IdeaCacheConfig with sensible defaults.
func DefaultIdeaCacheConfig() IdeaCacheConfig {
	return IdeaCacheConfig{
		TTL: 24 * time.Hour,
	}
}

// IdeaCacheService caches business cases keyed by a content hash of the idea,
// so identical candidates across retries and generations skip the oracle.
// Writes are idempotent per key; last-writer-wins is acceptable under
// concurrent writers.
type IdeaCacheService struct {
	cache CacheRepository
	ttl   time.Duration
}

// NewIdeaCacheService creates a new IdeaCacheService. A nil cache repository
// yields a service whose lookups always miss.
func NewIdeaCacheService(cache CacheRepository, cfg IdeaCacheConfig) *IdeaCacheService {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultIdeaCacheConfig().TTL
	}
	return &IdeaCacheService{cache: cache, ttl: ttl}
}

// Key derives the cache key from the idea's identity and content.
func (s *IdeaCacheService) Key(sol model.Solution) string {
	h := sha256.New()
	h.Write([]byte(sol.ID))
	h.Write([]byte{0})
	h.Write([]byte(sol.Description))
	h.Write([]byte{0})
	h.Write([]byte(sol.Mechanism))
	return "enrichment:idea:" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached business case for the idea, or nil on a miss.
// Cache errors degrade to a miss; the cache is an optimization, not a
// source of truth.
func (s *IdeaCacheService) Get(ctx context.Context, sol model.Solution) (*model.BusinessCase, error) {
	if s == nil || s.cache == nil {
		return nil, nil
	}
	raw, err := s.cache.Get(ctx, s.Key(sol))
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	var bc model.BusinessCase
	if unmarshalErr := json.Unmarshal(raw, &bc); unmarshalErr != nil {
		// Stale or corrupt entry; drop it and treat as a miss.
		_, _ = s.cache.Delete(ctx, s.Key(sol))
		return nil, nil
	}
	return &bc, nil
}

// Put stores a successfully validated business case for the idea.
func (s *IdeaCacheService) Put(ctx context.Context, sol model.Solution, bc model.BusinessCase) error {
	if s == nil || s.cache == nil {
		return nil
	}
	raw, err := json.Marshal(bc)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.Key(sol), raw, s.ttl)
}
