package core

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venturekit/evosearch/internal/domain/model"
	apperrors "github.com/venturekit/evosearch/internal/errors"
	"go.uber.org/mock/gomock"
)

func TestEliteCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		gen            int
		populationSize int
		available      int
		want           int
	}{
		{"first generation never preserves", 1, 10, 5, 0},
		{"min of cap and fraction", 2, 10, 5, 2},
		{"small population floors to zero", 2, 4, 5, 0},
		{"population of five preserves one", 2, 5, 5, 1},
		{"bounded by available", 2, 10, 1, 1},
		{"no performers available", 2, 10, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, EliteCount(tt.gen, tt.populationSize, tt.available))
		})
	}
}

func TestOffspringSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		count         int
		ratio         float64
		prior         int
		wantOffspring int
		wantWildcards int
	}{
		{"all wildcards at ratio zero", 5, 0, 3, 0, 5},
		{"even split", 8, 0.5, 3, 4, 4},
		{"floor of fraction", 5, 0.5, 3, 2, 3},
		{"no prior performers forces wildcards", 5, 0.8, 0, 0, 5},
		{"full offspring", 4, 1, 2, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			offspring, wildcards := OffspringSplit(tt.count, tt.ratio, tt.prior)
			assert.Equal(t, tt.wantOffspring, offspring)
			assert.Equal(t, tt.wantWildcards, wildcards)
		})
	}
}

func variationJob(populationSize int, offspringRatio float64) *model.SearchJob {
	return &model.SearchJob{
		ID:     "job-1",
		Status: model.JobStatusProcessing,
		Config: model.EvolutionConfig{
			Generations:    3,
			PopulationSize: populationSize,
			OffspringRatio: offspringRatio,
		},
		Problem: model.ProblemStatement{Description: "grow revenue"},
	}
}

func ideasJSON(n int) string {
	out := `{"ideas":[`
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"title":"idea %d","description":"desc %d","mechanism":"m"}`, i, i)
	}
	return out + `]}`
}

func newVariationWithMock(t *testing.T) (*VariationService, *MockOracle, *gomock.Controller) {
	t.Helper()
	ctrl := gomock.NewController(t)
	oracle := NewMockOracle(ctrl)
	svc := NewVariationService(VariationServiceOptions{
		Oracle: oracle,
		Logger: slog.New(slog.DiscardHandler),
	})
	return svc, oracle, ctrl
}

func TestVariationService_FirstGenerationAllWildcards(t *testing.T) {
	svc, oracle, ctrl := newVariationWithMock(t)
	defer ctrl.Finish()

	oracle.EXPECT().
		Generate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req GenerateRequest) (*GenerateResult, error) {
			assert.Contains(t, req.UserPrompt, "Propose 5 distinct wildcard solutions")
			assert.Contains(t, req.UserPrompt, "Return exactly 5 ideas")
			require.NotNil(t, req.Schema)
			assert.Equal(t, "candidate_ideas", req.Schema.Name)
			return &GenerateResult{Content: ideasJSON(5)}, nil
		})

	out, err := svc.Produce(context.Background(), VariationInput{
		Job:        variationJob(5, 0.5), // ratio irrelevant without prior performers
		Generation: 1,
	})
	require.NoError(t, err)
	require.Len(t, out, 5)

	for i, sol := range out {
		assert.Equal(t, model.SolutionID("job-1", 1, i), sol.ID)
		assert.Equal(t, 1, sol.Generation)
		assert.False(t, sol.Elite)
		assert.NotEmpty(t, sol.Title)
	}
}

func TestVariationService_SecondGenerationPreservesElites(t *testing.T) {
	svc, oracle, ctrl := newVariationWithMock(t)
	defer ctrl.Finish()

	score := 2.0
	rank := 1
	top := []model.Solution{
		{ID: "job-1:g1:s0", Generation: 1, Title: "alpha", Description: "a", Score: &score, Rank: &rank},
		{ID: "job-1:g1:s1", Generation: 1, Title: "beta", Description: "b", Score: &score, Rank: &rank},
		{ID: "job-1:g1:s2", Generation: 1, Title: "gamma", Description: "c", Score: &score, Rank: &rank},
	}

	oracle.EXPECT().
		Generate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req GenerateRequest) (*GenerateResult, error) {
			// 10 - 2 elites = 8 requested, split 4/4 at ratio 0.5.
			assert.Contains(t, req.UserPrompt, "Propose 4 offspring solutions")
			assert.Contains(t, req.UserPrompt, "4 wildcard solutions")
			assert.Contains(t, req.UserPrompt, "alpha")
			assert.Contains(t, req.UserPrompt, "Return exactly 8 ideas")
			return &GenerateResult{Content: ideasJSON(8)}, nil
		})

	out, err := svc.Produce(context.Background(), VariationInput{
		Job:           variationJob(10, 0.5),
		Generation:    2,
		TopPerformers: top,
	})
	require.NoError(t, err)
	require.Len(t, out, 10)

	// Two elites lead, with ranking artifacts cleared.
	assert.True(t, out[0].Elite)
	assert.Equal(t, "alpha", out[0].Title)
	assert.Equal(t, 2, out[0].Generation)
	assert.Nil(t, out[0].Score)
	assert.Nil(t, out[0].Rank)
	assert.True(t, out[1].Elite)
	assert.Equal(t, "beta", out[1].Title)

	// Fresh candidates get sequence positions after the elites.
	assert.False(t, out[2].Elite)
	assert.Equal(t, model.SolutionID("job-1", 2, 2), out[2].ID)
}

func TestVariationService_RetriesMalformedOutput(t *testing.T) {
	svc, oracle, ctrl := newVariationWithMock(t)
	defer ctrl.Finish()

	gomock.InOrder(
		oracle.EXPECT().Generate(gomock.Any(), gomock.Any()).
			Return(&GenerateResult{Content: "not json"}, nil),
		oracle.EXPECT().Generate(gomock.Any(), gomock.Any()).
			Return(&GenerateResult{Content: ideasJSON(3)}, nil),
	)

	out, err := svc.Produce(context.Background(), VariationInput{
		Job:        variationJob(3, 0),
		Generation: 1,
	})
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestVariationService_UnderDeliveryIsNotFatal(t *testing.T) {
	svc, oracle, ctrl := newVariationWithMock(t)
	defer ctrl.Finish()

	// Every attempt delivers two of the five requested; the best list is kept.
	oracle.EXPECT().Generate(gomock.Any(), gomock.Any()).
		Return(&GenerateResult{Content: ideasJSON(2)}, nil).
		Times(variationMaxParseRetries + 1)

	out, err := svc.Produce(context.Background(), VariationInput{
		Job:        variationJob(5, 0),
		Generation: 1,
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestVariationService_NoUsableOutputFailsPhase(t *testing.T) {
	svc, oracle, ctrl := newVariationWithMock(t)
	defer ctrl.Finish()

	oracle.EXPECT().Generate(gomock.Any(), gomock.Any()).
		Return(&GenerateResult{Content: `{"ideas":[]}`}, nil).
		Times(variationMaxParseRetries + 1)

	_, err := svc.Produce(context.Background(), VariationInput{
		Job:        variationJob(3, 0),
		Generation: 1,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsPhaseFailure(err))
}

func TestVariationService_DiscardsBlankIdeas(t *testing.T) {
	svc, oracle, ctrl := newVariationWithMock(t)
	defer ctrl.Finish()

	content := `{"ideas":[` +
		`{"title":"good","description":"usable","mechanism":"m"},` +
		`{"title":"  ","description":"blank title","mechanism":"m"}]}`
	oracle.EXPECT().Generate(gomock.Any(), gomock.Any()).
		Return(&GenerateResult{Content: content}, nil).
		Times(variationMaxParseRetries + 1)

	out, err := svc.Produce(context.Background(), VariationInput{
		Job:        variationJob(2, 0),
		Generation: 1,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "good", out[0].Title)
}
