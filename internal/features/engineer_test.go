package features

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/advisory"
	"github.com/modelpilot/modelpilot/internal/analyzer"
	"github.com/modelpilot/modelpilot/internal/dataset"
)

type fakeAdvisor struct {
	response string
	err      error
}

func (f *fakeAdvisor) Ask(_ context.Context, _ string) (string, error) {
	return f.response, f.err
}

func buildDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	// "amount" is strongly right-skewed and non-negative.
	amount := []float64{1, 1, 2, 2, 3, 3, 4, 5, 6, 500}
	visits := []float64{10, 12, 8, 9, 11, 10, 13, 9, 12, 10}
	target := []float64{0, 0, 0, 1, 0, 1, 0, 1, 0, 1}
	plan := []string{"basic", "pro", "basic", "pro", "basic", "pro", "basic", "pro", "basic", "pro"}

	schema := dataset.NewSchema([]dataset.Column{
		{Name: "amount", Type: dataset.Numeric},
		{Name: "visits", Type: dataset.Numeric},
		{Name: "plan", Type: dataset.Categorical},
		{Name: "churned", Type: dataset.Numeric},
	})
	ds, err := dataset.New(schema, 10,
		map[string][]float64{"amount": amount, "visits": visits, "churned": target},
		map[string][]string{"plan": plan})
	require.NoError(t, err)
	return ds
}

func analysisFor(t *testing.T, ds *dataset.Dataset) *analyzer.Analysis {
	t.Helper()
	a := analyzer.New(&fakeAdvisor{err: advisory.ErrServiceError}, analyzer.DefaultConfig(), zap.NewNop())
	analysis, err := a.Analyze(context.Background(), ds, "churned")
	require.NoError(t, err)
	return analysis
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RatioPairs = []RatioPair{{Numerator: "amount", Denominator: "visits"}}
	cfg.BinColumns = []string{"visits"}
	return cfg
}

func TestSuggestIsDeterministic(t *testing.T) {
	ds := buildDataset(t)
	analysis := analysisFor(t, ds)
	e := New(&fakeAdvisor{response: "ratio features matter most"}, testConfig(), zap.NewNop())

	sugg, err := e.Suggest(context.Background(), ds, "churned", analysis)
	require.NoError(t, err)

	assert.False(t, sugg.FallbackUsed)
	assert.Equal(t, "ratio features matter most", sugg.Rationale)

	t.Run("LogTransformForSkewedColumn", func(t *testing.T) {
		require.Len(t, sugg.Transformations, 1)
		assert.Equal(t, LogTransform, sugg.Transformations[0].Kind)
		assert.Equal(t, "amount", sugg.Transformations[0].Column)
		assert.Equal(t, "amount_log", sugg.Transformations[0].NewColumn)
	})

	t.Run("RatioAndBin", func(t *testing.T) {
		require.Len(t, sugg.NewFeatures, 2)
		assert.Equal(t, Ratio, sugg.NewFeatures[0].Kind)
		assert.Equal(t, "amount_per_visits", sugg.NewFeatures[0].NewColumn)
		assert.Equal(t, Bin, sugg.NewFeatures[1].Kind)
		assert.Equal(t, "visits_bin", sugg.NewFeatures[1].NewColumn)
	})

	t.Run("LowCardinalityGetsOneHot", func(t *testing.T) {
		require.Len(t, sugg.Encodings, 1)
		assert.Equal(t, OneHot, sugg.Encodings[0].Kind)
		assert.Equal(t, "plan", sugg.Encodings[0].Column)
	})

	t.Run("ScalingListsNumericFeatures", func(t *testing.T) {
		assert.Equal(t, []string{"amount", "visits"}, sugg.Scaling)
	})
}

func TestSuggestFallbackRationale(t *testing.T) {
	ds := buildDataset(t)
	analysis := analysisFor(t, ds)
	e := New(&fakeAdvisor{err: advisory.ErrTimeout}, testConfig(), zap.NewNop())

	sugg, err := e.Suggest(context.Background(), ds, "churned", analysis)
	require.NoError(t, err)

	assert.True(t, sugg.FallbackUsed)
	assert.NotEmpty(t, sugg.Rationale)
	// Operations stay identical regardless of advisory availability.
	assert.Len(t, sugg.Transformations, 1)
	assert.Len(t, sugg.NewFeatures, 2)
	assert.Len(t, sugg.Encodings, 1)
}

func TestSuggestMergesAdvisoryProposals(t *testing.T) {
	ds := buildDataset(t)
	analysis := analysisFor(t, ds)
	response := "Volume-derived features help here.\n" +
		"- bin: amount\n" +
		"- ratio: visits / amount\n" +
		"- log_transform: amount\n" +
		"- log_transform: plan\n" +
		"- bin: signup_date\n"
	e := New(&fakeAdvisor{response: response}, testConfig(), zap.NewNop())

	sugg, err := e.Suggest(context.Background(), ds, "churned", analysis)
	require.NoError(t, err)
	assert.False(t, sugg.FallbackUsed)

	names := make(map[string]bool)
	for _, s := range sugg.All() {
		names[s.NewColumn] = true
	}
	assert.True(t, names["amount_bin"], "numeric bin proposal is accepted")
	assert.True(t, names["visits_per_amount"], "reverse ratio proposal is accepted")
	assert.False(t, names["plan_log"], "log transform on a categorical column is rejected")
	assert.False(t, names["signup_date_bin"], "unknown column is rejected")

	logCount := 0
	for _, s := range sugg.Transformations {
		if s.NewColumn == "amount_log" {
			logCount++
		}
	}
	assert.Equal(t, 1, logCount, "restating an existing proposal does not duplicate it")

	t.Run("MergedSetStillApplies", func(t *testing.T) {
		out, err := e.Apply(ds, sugg)
		require.NoError(t, err)
		assert.True(t, out.HasColumn("amount_bin"))
		assert.True(t, out.HasColumn("visits_per_amount"))
	})
}

func TestApply(t *testing.T) {
	ds := buildDataset(t)
	analysis := analysisFor(t, ds)
	e := New(&fakeAdvisor{err: advisory.ErrTimeout}, testConfig(), zap.NewNop())

	sugg, err := e.Suggest(context.Background(), ds, "churned", analysis)
	require.NoError(t, err)

	out, err := e.Apply(ds, sugg)
	require.NoError(t, err)

	t.Run("DerivedColumnsExist", func(t *testing.T) {
		assert.True(t, out.HasColumn("amount_log"))
		assert.True(t, out.HasColumn("amount_per_visits"))
		assert.True(t, out.HasColumn("visits_bin"))
		assert.True(t, out.HasColumn("plan__basic"))
		assert.True(t, out.HasColumn("plan__pro"))
	})

	t.Run("SourceDatasetUntouched", func(t *testing.T) {
		assert.False(t, ds.HasColumn("amount_log"))
	})

	t.Run("LogValues", func(t *testing.T) {
		logs, err := out.NumericColumn("amount_log")
		require.NoError(t, err)
		assert.InDelta(t, math.Log1p(500), logs[9], 1e-9)
	})

	t.Run("RatioValues", func(t *testing.T) {
		ratios, err := out.NumericColumn("amount_per_visits")
		require.NoError(t, err)
		assert.InDelta(t, 1.0/10.0, ratios[0], 1e-9)
	})

	t.Run("OneHotIndicators", func(t *testing.T) {
		basic, err := out.NumericColumn("plan__basic")
		require.NoError(t, err)
		pro, err := out.NumericColumn("plan__pro")
		require.NoError(t, err)
		for i := range basic {
			assert.Equal(t, 1.0, basic[i]+pro[i], "exactly one indicator per row")
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		again, err := e.Apply(out, sugg)
		require.NoError(t, err)
		assert.Equal(t, out.Schema().Len(), again.Schema().Len())
	})
}

func TestApplyOrdinalEncoding(t *testing.T) {
	rows := 30
	ids := make([]string, rows)
	target := make([]float64, rows)
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
		target[i] = float64(i % 2)
	}
	schema := dataset.NewSchema([]dataset.Column{
		{Name: "code", Type: dataset.Categorical},
		{Name: "y", Type: dataset.Numeric},
	})
	ds, err := dataset.New(schema, rows,
		map[string][]float64{"y": target},
		map[string][]string{"code": ids})
	require.NoError(t, err)

	a := analyzer.New(&fakeAdvisor{err: advisory.ErrServiceError}, analyzer.DefaultConfig(), zap.NewNop())
	an, err := a.Analyze(context.Background(), ds, "y")
	require.NoError(t, err)

	e := New(&fakeAdvisor{err: advisory.ErrTimeout}, DefaultConfig(), zap.NewNop())
	sugg, err := e.Suggest(context.Background(), ds, "y", an)
	require.NoError(t, err)

	require.Len(t, sugg.Encodings, 1)
	assert.Equal(t, Ordinal, sugg.Encodings[0].Kind, "cardinality above the one-hot cap uses ordinal encoding")

	out, err := e.Apply(ds, sugg)
	require.NoError(t, err)
	assert.True(t, out.HasColumn("code_ordinal"))
}
