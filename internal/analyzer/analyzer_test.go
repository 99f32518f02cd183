package analyzer

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/advisory"
	"github.com/modelpilot/modelpilot/internal/dataset"
)

type fakeAdvisor struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeAdvisor) Ask(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func buildDataset(t *testing.T, rows int, positives int, missingAge int) *dataset.Dataset {
	t.Helper()
	age := make([]float64, rows)
	income := make([]float64, rows)
	target := make([]float64, rows)
	plan := make([]string, rows)
	for i := 0; i < rows; i++ {
		age[i] = 20 + float64(i%50)
		income[i] = 30000 + float64(i%100)*900
		plan[i] = []string{"basic", "pro", "enterprise"}[i%3]
		if i < positives {
			target[i] = 1
		}
	}
	for i := 0; i < missingAge; i++ {
		age[i] = math.NaN()
	}
	schema := dataset.NewSchema([]dataset.Column{
		{Name: "age", Type: dataset.Numeric},
		{Name: "income", Type: dataset.Numeric},
		{Name: "plan", Type: dataset.Categorical},
		{Name: "churned", Type: dataset.Numeric},
	})
	ds, err := dataset.New(schema, rows,
		map[string][]float64{"age": age, "income": income, "churned": target},
		map[string][]string{"plan": plan})
	require.NoError(t, err)
	return ds
}

func TestAnalyzeMissingTargetIsValidationFailure(t *testing.T) {
	ds := buildDataset(t, 20, 5, 0)
	a := New(&fakeAdvisor{}, DefaultConfig(), zap.NewNop())

	_, err := a.Analyze(context.Background(), ds, "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)
}

func TestAnalyzeWithAdvisory(t *testing.T) {
	advisor := &fakeAdvisor{response: "The dataset looks healthy overall.\n\n- drop the plan column\n* income correlates with churn"}
	ds := buildDataset(t, 100, 30, 0)
	a := New(advisor, DefaultConfig(), zap.NewNop())

	analysis, err := a.Analyze(context.Background(), ds, "churned")
	require.NoError(t, err)

	assert.False(t, analysis.FallbackUsed)
	assert.Equal(t, "The dataset looks healthy overall.", analysis.Summary)
	assert.Contains(t, analysis.Recommendations, "drop the plan column")
	assert.Contains(t, analysis.FeatureInsights, "income correlates with churn")
	assert.Len(t, advisor.prompts, 1)
	assert.Contains(t, advisor.prompts[0], "churned")
}

func TestAnalyzeFallbackOnAdvisoryFailure(t *testing.T) {
	advisor := &fakeAdvisor{err: advisory.ErrServiceError}
	ds := buildDataset(t, 100, 30, 0)
	a := New(advisor, DefaultConfig(), zap.NewNop())

	analysis, err := a.Analyze(context.Background(), ds, "churned")
	require.NoError(t, err, "advisory failure must not fail the stage")

	assert.True(t, analysis.FallbackUsed)
	assert.NotEmpty(t, analysis.Summary)
	assert.NotEmpty(t, analysis.Recommendations)
}

func TestAnalyzeCleanDataFallback(t *testing.T) {
	advisor := &fakeAdvisor{err: advisory.ErrTimeout}
	ds := buildDataset(t, 100, 40, 0)
	a := New(advisor, DefaultConfig(), zap.NewNop())

	analysis, err := a.Analyze(context.Background(), ds, "churned")
	require.NoError(t, err)

	assert.Empty(t, analysis.QualityIssues)
	assert.Empty(t, analysis.Anomalies)
	assert.Contains(t, analysis.Recommendations, "no quality issues detected; proceed to feature engineering")
}

func TestAnalyzeDetectionRules(t *testing.T) {
	t.Run("MissingValues", func(t *testing.T) {
		ds := buildDataset(t, 50, 20, 5)
		a := New(&fakeAdvisor{response: "ok"}, DefaultConfig(), zap.NewNop())

		analysis, err := a.Analyze(context.Background(), ds, "churned")
		require.NoError(t, err)

		require.NotEmpty(t, analysis.QualityIssues)
		assert.Contains(t, analysis.QualityIssues[0], `"age"`)
		assert.Contains(t, analysis.QualityIssues[0], "5 missing")
	})

	t.Run("Imbalance", func(t *testing.T) {
		ds := buildDataset(t, 100, 5, 0)
		a := New(&fakeAdvisor{response: "ok"}, DefaultConfig(), zap.NewNop())

		analysis, err := a.Analyze(context.Background(), ds, "churned")
		require.NoError(t, err)

		assert.True(t, analysis.Target.Imbalanced)
		assert.InDelta(t, 0.05, analysis.Target.MinorityShare, 1e-9)
		require.NotEmpty(t, analysis.Anomalies)
		assert.Contains(t, analysis.Anomalies[0], "imbalanced")
	})

	t.Run("BalancedAtThreshold", func(t *testing.T) {
		// Minority share exactly at the threshold is not flagged.
		ds := buildDataset(t, 100, 10, 0)
		a := New(&fakeAdvisor{response: "ok"}, DefaultConfig(), zap.NewNop())

		analysis, err := a.Analyze(context.Background(), ds, "churned")
		require.NoError(t, err)
		assert.False(t, analysis.Target.Imbalanced)
	})

	t.Run("HighCardinality", func(t *testing.T) {
		rows := 50
		ids := make([]string, rows)
		target := make([]float64, rows)
		for i := range ids {
			ids[i] = string(rune('a'+i%26)) + string(rune('a'+i/26))
			if i%3 == 0 {
				target[i] = 1
			}
		}
		schema := dataset.NewSchema([]dataset.Column{
			{Name: "user_id", Type: dataset.Categorical},
			{Name: "churned", Type: dataset.Numeric},
		})
		ds, err := dataset.New(schema, rows,
			map[string][]float64{"churned": target},
			map[string][]string{"user_id": ids})
		require.NoError(t, err)

		a := New(&fakeAdvisor{response: "ok"}, DefaultConfig(), zap.NewNop())
		analysis, err := a.Analyze(context.Background(), ds, "churned")
		require.NoError(t, err)

		found := false
		for _, issue := range analysis.QualityIssues {
			if strings.Contains(issue, "user_id") && strings.Contains(issue, "cardinality") {
				found = true
			}
		}
		assert.True(t, found, "near-unique categorical column should be flagged: %v", analysis.QualityIssues)
	})
}
