package search

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/model"
)

func trainingData(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	features := make([][]float64, n)
	labels := make([]float64, n)
	for i := range features {
		x0 := rng.Float64()
		x1 := rng.Float64()
		features[i] = []float64{x0, x1}
		if x0+x1 > 1 {
			labels[i] = 1
		}
	}
	return features, labels
}

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.TrialBudget = 12
	cfg.Parallelism = 3
	cfg.StartupTrials = 4
	cfg.CVFolds = 3
	cfg.ConvergenceWindow = 4
	return cfg
}

func TestOptimizeRunsFullBudget(t *testing.T) {
	features, labels := trainingData(150, 1)
	engine := New(testEngineConfig(), zap.NewNop())

	result, err := engine.Optimize(context.Background(), model.LogisticRegression, features, labels)
	require.NoError(t, err)

	assert.Len(t, result.Trials, 12)
	assert.Equal(t, model.LogisticRegression, result.Family)
	assert.NotEmpty(t, result.BestParams)
	assert.Positive(t, result.Elapsed)
}

func TestOptimizeBestScoreIsMaxTrialScore(t *testing.T) {
	features, labels := trainingData(150, 2)
	engine := New(testEngineConfig(), zap.NewNop())

	result, err := engine.Optimize(context.Background(), model.DecisionTree, features, labels)
	require.NoError(t, err)

	max := -1.0
	for _, trial := range result.Trials {
		if trial.Err == "" && trial.Score > max {
			max = trial.Score
		}
	}
	assert.Equal(t, max, result.BestScore)
	assert.Equal(t, result.BestScore, result.Trials[result.BestTrial].Score)
}

func TestOptimizeTrialIndexesAreAppendOrder(t *testing.T) {
	features, labels := trainingData(120, 3)
	engine := New(testEngineConfig(), zap.NewNop())

	result, err := engine.Optimize(context.Background(), model.LogisticRegression, features, labels)
	require.NoError(t, err)

	for i, trial := range result.Trials {
		assert.Equal(t, i, trial.Index)
	}
}

func TestOptimizeEmptyTrainingSet(t *testing.T) {
	engine := New(testEngineConfig(), zap.NewNop())
	_, err := engine.Optimize(context.Background(), model.LogisticRegression, nil, nil)
	assert.Error(t, err)
}

func TestOptimizePreCancelledContextStartsNothing(t *testing.T) {
	features, labels := trainingData(200, 4)
	cfg := testEngineConfig()
	cfg.TrialBudget = 50
	engine := New(cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Optimize(ctx, model.LogisticRegression, features, labels)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result, "no trials launch once the context is cancelled")

	// A second call must not launch anything either.
	result, err = engine.Optimize(ctx, model.LogisticRegression, features, labels)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

func TestSampledParamsStayInRange(t *testing.T) {
	features, labels := trainingData(120, 5)
	engine := New(testEngineConfig(), zap.NewNop())

	result, err := engine.Optimize(context.Background(), model.GradientBoosting, features, labels)
	require.NoError(t, err)

	space := model.GradientBoosting.ParamSpace()
	for _, trial := range result.Trials {
		for _, spec := range space {
			v, ok := trial.Params[spec.Name]
			require.True(t, ok, "missing param %s", spec.Name)
			assert.GreaterOrEqual(t, v, spec.Min)
			assert.LessOrEqual(t, v, spec.Max)
			if spec.Kind == model.IntParam {
				assert.Equal(t, float64(int(v+0.5)), v, "integer params are rounded")
			}
		}
	}
}

func TestConvergenceAnalysis(t *testing.T) {
	cfg := testEngineConfig()
	cfg.ConvergenceWindow = 3
	engine := New(cfg, zap.NewNop())

	flat := make([]Trial, 10)
	for i := range flat {
		flat[i] = Trial{Index: i, Score: 0.8}
	}
	converged, improvement := engine.convergence(flat)
	assert.True(t, converged)
	assert.InDelta(t, 0, improvement, 1e-9)

	rising := make([]Trial, 10)
	for i := range rising {
		rising[i] = Trial{Index: i, Score: 0.5 + float64(i)*0.04}
	}
	converged, improvement = engine.convergence(rising)
	assert.False(t, converged)
	assert.Greater(t, improvement, cfg.ConvergenceThreshold)

	short := flat[:4]
	converged, _ = engine.convergence(short)
	assert.False(t, converged, "too little history to call convergence")
}

func TestStratifiedFolds(t *testing.T) {
	labels := make([]float64, 100)
	for i := 0; i < 20; i++ {
		labels[i] = 1
	}

	folds := stratifiedFolds(labels, 5, 42)
	require.Len(t, folds, 5)

	seen := make(map[int]bool)
	for _, fold := range folds {
		assert.Len(t, fold, 20)
		pos := 0
		for _, i := range fold {
			assert.False(t, seen[i], "row assigned twice")
			seen[i] = true
			if labels[i] == 1 {
				pos++
			}
		}
		assert.Equal(t, 4, pos, "each fold keeps the positive ratio")
	}
	assert.Len(t, seen, 100)
}

func TestStratifiedFoldsDeterministic(t *testing.T) {
	labels := []float64{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}
	a := stratifiedFolds(labels, 2, 7)
	b := stratifiedFolds(labels, 2, 7)
	assert.Equal(t, a, b)
}

func TestRocAUC(t *testing.T) {
	t.Run("PerfectRanking", func(t *testing.T) {
		labels := []float64{0, 0, 1, 1}
		scores := []float64{0.1, 0.2, 0.8, 0.9}
		assert.InDelta(t, 1.0, RocAUC(labels, scores), 1e-9)
	})

	t.Run("InvertedRanking", func(t *testing.T) {
		labels := []float64{1, 1, 0, 0}
		scores := []float64{0.1, 0.2, 0.8, 0.9}
		assert.InDelta(t, 0.0, RocAUC(labels, scores), 1e-9)
	})

	t.Run("AllTiedScores", func(t *testing.T) {
		labels := []float64{0, 1, 0, 1}
		scores := []float64{0.5, 0.5, 0.5, 0.5}
		assert.InDelta(t, 0.5, RocAUC(labels, scores), 1e-9)
	})

	t.Run("SingleClass", func(t *testing.T) {
		assert.Equal(t, 0.5, RocAUC([]float64{1, 1}, []float64{0.3, 0.4}))
	})
}

func TestOptimizeWallClockDeadline(t *testing.T) {
	features, labels := trainingData(150, 6)
	cfg := testEngineConfig()
	cfg.TrialBudget = 100
	cfg.WallClockBudget = time.Nanosecond
	engine := New(cfg, zap.NewNop())

	result, err := engine.Optimize(context.Background(), model.LogisticRegression, features, labels)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Trials), cfg.Parallelism,
		"deadline already passed, only the initial batch runs")
}
