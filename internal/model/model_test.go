package model

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separableData generates a two-feature dataset where the positive class sits
// well above the decision boundary x0 + x1 = 1.
func separableData(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	features := make([][]float64, n)
	labels := make([]float64, n)
	for i := range features {
		if i%2 == 0 {
			features[i] = []float64{rng.Float64() * 0.4, rng.Float64() * 0.4}
			labels[i] = 0
		} else {
			features[i] = []float64{0.6 + rng.Float64()*0.4, 0.6 + rng.Float64()*0.4}
			labels[i] = 1
		}
	}
	return features, labels
}

func TestFamilyRoundTrip(t *testing.T) {
	for _, meta := range Catalog() {
		parsed, err := ParseFamily(meta.Family.String())
		require.NoError(t, err)
		assert.Equal(t, meta.Family, parsed)
	}

	_, err := ParseFamily("perceptron")
	assert.Error(t, err)
}

func TestFamilyJSON(t *testing.T) {
	data, err := json.Marshal(RandomForest)
	require.NoError(t, err)
	assert.Equal(t, `"random_forest"`, string(data))

	var f Family
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, RandomForest, f)

	assert.Error(t, json.Unmarshal([]byte(`"perceptron"`), &f))
}

func TestMetaFor(t *testing.T) {
	meta, err := MetaFor(BalancedForest)
	require.NoError(t, err)
	assert.True(t, meta.ImbalanceRobust)
	assert.True(t, meta.TreeEnsemble)

	meta, err = MetaFor(LogisticRegression)
	require.NoError(t, err)
	assert.True(t, meta.Linear)
	assert.False(t, meta.Boosted)
}

func TestParamSpaceCoversAllFamilies(t *testing.T) {
	for _, meta := range Catalog() {
		space := meta.Family.ParamSpace()
		require.NotEmpty(t, space, "family %s has no parameter space", meta.Family)
		for _, spec := range space {
			assert.Less(t, spec.Min, spec.Max, "%s.%s", meta.Family, spec.Name)
		}
	}
}

func TestParamsAccessors(t *testing.T) {
	p := Params{"max_depth": 3.6, "learning_rate": 0.05}
	assert.Equal(t, 4, p.Int("max_depth", 1))
	assert.Equal(t, 7, p.Int("absent", 7))
	assert.Equal(t, 0.05, p.Float("learning_rate", 0.1))
	assert.Equal(t, 0.1, p.Float("absent", 0.1))
}

func TestClassifiersLearnSeparableData(t *testing.T) {
	features, labels := separableData(200, 7)

	for _, meta := range Catalog() {
		meta := meta
		t.Run(meta.Family.String(), func(t *testing.T) {
			clf, err := New(meta.Family, Params{}, 42)
			require.NoError(t, err)
			require.NoError(t, clf.Fit(features, labels))

			probs := clf.PredictProba(features)
			require.Len(t, probs, len(labels))

			correct := 0
			for i, p := range probs {
				assert.GreaterOrEqual(t, p, 0.0)
				assert.LessOrEqual(t, p, 1.0)
				if (p >= 0.5) == (labels[i] == 1) {
					correct++
				}
			}
			accuracy := float64(correct) / float64(len(labels))
			assert.Greater(t, accuracy, 0.9, "family %s failed to separate trivially separable data", meta.Family)
		})
	}
}

func TestSeedReproducibility(t *testing.T) {
	features, labels := separableData(120, 3)
	params := Params{"n_estimators": 20, "max_depth": 4}

	a, err := New(RandomForest, params, 42)
	require.NoError(t, err)
	require.NoError(t, a.Fit(features, labels))

	b, err := New(RandomForest, params, 42)
	require.NoError(t, err)
	require.NoError(t, b.Fit(features, labels))

	assert.Equal(t, a.PredictProba(features), b.PredictProba(features))
}

func TestUnknownFamily(t *testing.T) {
	_, err := New(Family(99), Params{}, 0)
	assert.Error(t, err)
}
