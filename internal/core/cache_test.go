package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venturekit/evosearch/internal/domain/model"
	"go.uber.org/mock/gomock"
)

func cacheTestSolution() model.Solution {
	return model.Solution{
		ID:          "job-1:g1:s0",
		Generation:  1,
		Title:       "pop-up kitchens",
		Description: "rent idle restaurant kitchens off-hours",
		Mechanism:   "marketplace fees",
	}
}

func TestIdeaCacheService_KeyIsStableAndContentSensitive(t *testing.T) {
	t.Parallel()

	svc := NewIdeaCacheService(nil, DefaultIdeaCacheConfig())
	sol := cacheTestSolution()

	assert.Equal(t, svc.Key(sol), svc.Key(sol))
	assert.Contains(t, svc.Key(sol), "enrichment:idea:")

	changed := sol
	changed.Description = "different description"
	assert.NotEqual(t, svc.Key(sol), svc.Key(changed))
}

func TestIdeaCacheService_NilRepositoryAlwaysMisses(t *testing.T) {
	t.Parallel()

	svc := NewIdeaCacheService(nil, DefaultIdeaCacheConfig())
	ctx := context.Background()
	sol := cacheTestSolution()

	got, err := svc.Get(ctx, sol)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, svc.Put(ctx, sol, model.BusinessCase{}))
}

func TestIdeaCacheService_RoundTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := NewMockCacheRepository(ctrl)
	svc := NewIdeaCacheService(repo, IdeaCacheConfig{TTL: time.Hour})
	ctx := context.Background()
	sol := cacheTestSolution()

	bc := model.BusinessCase{
		SuccessNPV:         12,
		CapitalRequired:    3,
		TimelineMonths:     9,
		SuccessProbability: 0.7,
		RiskFactors:        []string{"regulation"},
		CashFlows:          []float64{-3, 3, 4, 4, 4},
	}
	payload, err := json.Marshal(bc)
	require.NoError(t, err)

	repo.EXPECT().Set(ctx, svc.Key(sol), payload, time.Hour).Return(nil)
	require.NoError(t, svc.Put(ctx, sol, bc))

	repo.EXPECT().Get(ctx, svc.Key(sol)).Return(payload, nil)
	got, err := svc.Get(ctx, sol)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, bc, *got)
}

func TestIdeaCacheService_CorruptEntryIsDroppedAsMiss(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := NewMockCacheRepository(ctrl)
	svc := NewIdeaCacheService(repo, DefaultIdeaCacheConfig())
	ctx := context.Background()
	sol := cacheTestSolution()

	repo.EXPECT().Get(ctx, svc.Key(sol)).Return([]byte("{corrupt"), nil)
	repo.EXPECT().Delete(ctx, svc.Key(sol)).Return(true, nil)

	got, err := svc.Get(ctx, sol)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewIdeaCacheService_DefaultsZeroTTL(t *testing.T) {
	t.Parallel()

	svc := NewIdeaCacheService(nil, IdeaCacheConfig{})
	assert.Equal(t, DefaultIdeaCacheConfig().TTL, svc.ttl)
}
