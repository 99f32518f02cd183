package dataset

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDataset(t *testing.T) *Dataset {
	t.Helper()
	schema := NewSchema([]Column{
		{Name: "age", Type: Numeric},
		{Name: "income", Type: Numeric},
		{Name: "plan", Type: Categorical},
		{Name: "churned", Type: Numeric},
	})
	ds, err := New(schema, 5,
		map[string][]float64{
			"age":     {25, 30, math.NaN(), 45, 50},
			"income":  {40000, 52000, 61000, math.NaN(), 98000},
			"churned": {0, 1, 0, 1, 0},
		},
		map[string][]string{
			"plan": {"basic", "pro", "basic", "", "pro"},
		})
	require.NoError(t, err)
	return ds
}

func TestDatasetAccessors(t *testing.T) {
	ds := testDataset(t)

	assert.Equal(t, 5, ds.Rows())
	assert.Equal(t, 4, ds.Schema().Len())
	assert.True(t, ds.HasColumn("plan"))
	assert.False(t, ds.HasColumn("missing"))

	t.Run("ColumnNamesKeepSchemaOrder", func(t *testing.T) {
		assert.Equal(t, []string{"age", "income"}, ds.NumericColumnNames("churned"))
		assert.Equal(t, []string{"plan"}, ds.CategoricalColumnNames())
	})

	t.Run("UnknownColumnError", func(t *testing.T) {
		_, err := ds.NumericColumn("nope")
		assert.ErrorIs(t, err, ErrColumnNotFound)
		_, err = ds.CategoricalColumn("nope")
		assert.ErrorIs(t, err, ErrColumnNotFound)
	})
}

func TestNewValidatesColumnStorage(t *testing.T) {
	schema := NewSchema([]Column{{Name: "x", Type: Numeric}})

	_, err := New(schema, 2, map[string][]float64{}, nil)
	assert.Error(t, err)

	_, err = New(schema, 2, map[string][]float64{"x": {1}}, nil)
	assert.Error(t, err)
}

func TestWithColumnDerivation(t *testing.T) {
	ds := testDataset(t)

	derived, err := ds.WithNumericColumn("age_log", []float64{1, 2, 3, 4, 5})
	require.NoError(t, err)

	t.Run("ParentUntouched", func(t *testing.T) {
		assert.False(t, ds.HasColumn("age_log"))
		assert.True(t, derived.HasColumn("age_log"))
		assert.Equal(t, ds.Rows(), derived.Rows())
	})

	t.Run("DuplicateNameRejected", func(t *testing.T) {
		_, err := ds.WithNumericColumn("age", []float64{1, 2, 3, 4, 5})
		assert.Error(t, err)
		_, err = derived.WithCategoricalColumn("age_log", make([]string, 5))
		assert.Error(t, err)
	})

	t.Run("LengthMismatchRejected", func(t *testing.T) {
		_, err := ds.WithNumericColumn("short", []float64{1})
		assert.Error(t, err)
	})
}

func TestTargetVector(t *testing.T) {
	ds := testDataset(t)

	t.Run("NumericNonzeroIsPositive", func(t *testing.T) {
		labels, err := ds.TargetVector("churned")
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1, 0, 1, 0}, labels)
	})

	t.Run("CategoricalFirstValueIsNegative", func(t *testing.T) {
		labels, err := ds.TargetVector("plan")
		require.NoError(t, err)
		// "basic" sorts before "pro"; empty cells count as positive.
		assert.Equal(t, []float64{0, 1, 0, 1, 1}, labels)
	})

	t.Run("MissingTarget", func(t *testing.T) {
		_, err := ds.TargetVector("nope")
		assert.ErrorIs(t, err, ErrColumnNotFound)
	})
}

func TestFeatureMatrixImputesColumnMean(t *testing.T) {
	ds := testDataset(t)

	rows, names := ds.FeatureMatrix("churned")
	require.Equal(t, []string{"age", "income"}, names)
	require.Len(t, rows, 5)

	ageMean := (25.0 + 30 + 45 + 50) / 4
	incomeMean := (40000.0 + 52000 + 61000 + 98000) / 4
	assert.InDelta(t, ageMean, rows[2][0], 1e-9)
	assert.InDelta(t, incomeMean, rows[3][1], 1e-9)
	assert.Equal(t, 25.0, rows[0][0])
}

func TestReadCSVInference(t *testing.T) {
	input := strings.Join([]string{
		"age,plan,churned",
		"25,basic,0",
		"30,pro,1",
		",basic,0",
	}, "\n")

	ds, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Rows())

	typ, err := ds.Schema().Type("age")
	require.NoError(t, err)
	assert.Equal(t, Numeric, typ)

	typ, err = ds.Schema().Type("plan")
	require.NoError(t, err)
	assert.Equal(t, Categorical, typ)

	age, err := ds.NumericColumn("age")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(age[2]), "empty numeric cell should read as NaN")
}

func TestStats(t *testing.T) {
	t.Run("NanMeanSkipsMissing", func(t *testing.T) {
		assert.InDelta(t, 2.0, NanMean([]float64{1, math.NaN(), 3}), 1e-9)
		assert.True(t, math.IsNaN(NanMean([]float64{math.NaN()})))
	})

	t.Run("SkewnessSign", func(t *testing.T) {
		rightSkewed := []float64{1, 1, 1, 2, 2, 3, 50}
		assert.Greater(t, Skewness(rightSkewed), 1.0)

		symmetric := []float64{1, 2, 3, 4, 5}
		assert.InDelta(t, 0, Skewness(symmetric), 1e-9)
	})

	t.Run("OutlierCountIQR", func(t *testing.T) {
		values := []float64{10, 11, 12, 13, 14, 15, 1000}
		assert.Equal(t, 1, OutlierCountIQR(values))
		assert.Equal(t, 0, OutlierCountIQR([]float64{1, 2, 3}))
	})

	t.Run("ClassShares", func(t *testing.T) {
		zero, one := ClassShares([]float64{0, 0, 0, 1})
		assert.InDelta(t, 0.75, zero, 1e-9)
		assert.InDelta(t, 0.25, one, 1e-9)
		assert.InDelta(t, 0.25, MinorityShare([]float64{0, 0, 0, 1}), 1e-9)
	})

	t.Run("DuplicateRows", func(t *testing.T) {
		schema := NewSchema([]Column{
			{Name: "x", Type: Numeric},
			{Name: "tag", Type: Categorical},
		})
		ds, err := New(schema, 4,
			map[string][]float64{"x": {1, 2, 1, 1}},
			map[string][]string{"tag": {"a", "b", "a", "a"}})
		require.NoError(t, err)
		assert.Equal(t, 2, DuplicateRowCount(ds))
	})
}
