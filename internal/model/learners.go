package model

import (
	"fmt"
	"math"
	"math/rand"
)

// logisticRegression is full-batch gradient descent over standardized features
// with L2 regularization.
type logisticRegression struct {
	learningRate float64
	epochs       int
	l2           float64

	weights []float64
	bias    float64
	means   []float64
	scales  []float64
}

func newLogisticRegression(p Params) *logisticRegression {
	return &logisticRegression{
		learningRate: p.Float("learning_rate", 0.1),
		epochs:       p.Int("epochs", 100),
		l2:           p.Float("l2", 1e-4),
	}
}

func (m *logisticRegression) Fit(features [][]float64, labels []float64) error {
	if len(features) == 0 {
		return fmt.Errorf("logistic regression: empty training set")
	}
	n := len(features)
	d := len(features[0])

	m.means = make([]float64, d)
	m.scales = make([]float64, d)
	for j := 0; j < d; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += features[i][j]
		}
		mean := sum / float64(n)
		varSum := 0.0
		for i := 0; i < n; i++ {
			diff := features[i][j] - mean
			varSum += diff * diff
		}
		scale := math.Sqrt(varSum / float64(n))
		if scale == 0 {
			scale = 1
		}
		m.means[j] = mean
		m.scales[j] = scale
	}

	m.weights = make([]float64, d)
	m.bias = 0
	grad := make([]float64, d)
	for epoch := 0; epoch < m.epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		biasGrad := 0.0
		for i := 0; i < n; i++ {
			z := m.bias
			for j := 0; j < d; j++ {
				z += m.weights[j] * (features[i][j] - m.means[j]) / m.scales[j]
			}
			err := sigmoid(z) - labels[i]
			for j := 0; j < d; j++ {
				grad[j] += err * (features[i][j] - m.means[j]) / m.scales[j]
			}
			biasGrad += err
		}
		for j := 0; j < d; j++ {
			m.weights[j] -= m.learningRate * (grad[j]/float64(n) + m.l2*m.weights[j])
		}
		m.bias -= m.learningRate * biasGrad / float64(n)
	}
	return nil
}

func (m *logisticRegression) PredictProba(features [][]float64) []float64 {
	probs := make([]float64, len(features))
	for i, row := range features {
		z := m.bias
		for j, w := range m.weights {
			if j < len(row) {
				z += w * (row[j] - m.means[j]) / m.scales[j]
			}
		}
		probs[i] = sigmoid(z)
	}
	return probs
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// decisionTree is a single variance-split tree.
type decisionTree struct {
	maxDepth        int
	minSamplesSplit int
	root            *treeNode
}

func newDecisionTree(p Params) *decisionTree {
	return &decisionTree{
		maxDepth:        p.Int("max_depth", 6),
		minSamplesSplit: p.Int("min_samples_split", 2),
	}
}

func (m *decisionTree) Fit(features [][]float64, labels []float64) error {
	if len(features) == 0 {
		return fmt.Errorf("decision tree: empty training set")
	}
	idx := make([]int, len(features))
	for i := range idx {
		idx[i] = i
	}
	m.root = buildTree(features, labels, idx, 0, treeConfig{
		maxDepth:        m.maxDepth,
		minSamplesSplit: m.minSamplesSplit,
		featureFrac:     1,
	})
	return nil
}

func (m *decisionTree) PredictProba(features [][]float64) []float64 {
	probs := make([]float64, len(features))
	for i, row := range features {
		probs[i] = m.root.predict(row)
	}
	return probs
}

// randomForest bags variance-split trees over bootstrap samples with sqrt
// feature subsampling. The balanced variant equalizes class counts in each
// bootstrap sample.
type randomForest struct {
	nEstimators int
	maxDepth    int
	subsample   float64
	balanced    bool
	seed        int64
	trees       []*treeNode
}

func newRandomForest(p Params, seed int64, balanced bool) *randomForest {
	return &randomForest{
		nEstimators: p.Int("n_estimators", 50),
		maxDepth:    p.Int("max_depth", 8),
		subsample:   p.Float("subsample", 1.0),
		balanced:    balanced,
		seed:        seed,
	}
}

func (m *randomForest) Fit(features [][]float64, labels []float64) error {
	if len(features) == 0 {
		return fmt.Errorf("random forest: empty training set")
	}
	n := len(features)
	d := len(features[0])
	featureFrac := math.Sqrt(float64(d)) / float64(d)

	var positives, negatives []int
	if m.balanced {
		for i, y := range labels {
			if y == 1 {
				positives = append(positives, i)
			} else {
				negatives = append(negatives, i)
			}
		}
	}

	m.trees = make([]*treeNode, m.nEstimators)
	for t := 0; t < m.nEstimators; t++ {
		rng := rand.New(rand.NewSource(m.seed + int64(t)))
		size := int(m.subsample * float64(n))
		if size < 1 {
			size = 1
		}
		idx := make([]int, 0, size)
		if m.balanced && len(positives) > 0 && len(negatives) > 0 {
			half := size / 2
			if half < 1 {
				half = 1
			}
			for i := 0; i < half; i++ {
				idx = append(idx, positives[rng.Intn(len(positives))])
				idx = append(idx, negatives[rng.Intn(len(negatives))])
			}
		} else {
			for i := 0; i < size; i++ {
				idx = append(idx, rng.Intn(n))
			}
		}
		m.trees[t] = buildTree(features, labels, idx, 0, treeConfig{
			maxDepth:        m.maxDepth,
			minSamplesSplit: 2,
			featureFrac:     featureFrac,
			rng:             rng,
		})
	}
	return nil
}

func (m *randomForest) PredictProba(features [][]float64) []float64 {
	probs := make([]float64, len(features))
	if len(m.trees) == 0 {
		return probs
	}
	for i, row := range features {
		sum := 0.0
		for _, tree := range m.trees {
			sum += tree.predict(row)
		}
		probs[i] = sum / float64(len(m.trees))
	}
	return probs
}

// gradientBoosting fits shallow regression trees to logistic-loss residuals.
type gradientBoosting struct {
	nEstimators  int
	learningRate float64
	maxDepth     int
	seed         int64

	base  float64
	trees []*treeNode
}

func newGradientBoosting(p Params, seed int64) *gradientBoosting {
	return &gradientBoosting{
		nEstimators:  p.Int("n_estimators", 50),
		learningRate: p.Float("learning_rate", 0.1),
		maxDepth:     p.Int("max_depth", 3),
		seed:         seed,
	}
}

func (m *gradientBoosting) Fit(features [][]float64, labels []float64) error {
	if len(features) == 0 {
		return fmt.Errorf("gradient boosting: empty training set")
	}
	n := len(features)

	pos := 0.0
	for _, y := range labels {
		pos += y
	}
	rate := pos / float64(n)
	rate = math.Min(math.Max(rate, 1e-6), 1-1e-6)
	m.base = math.Log(rate / (1 - rate))

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = m.base
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	residuals := make([]float64, n)
	m.trees = make([]*treeNode, 0, m.nEstimators)
	for t := 0; t < m.nEstimators; t++ {
		for i := 0; i < n; i++ {
			residuals[i] = labels[i] - sigmoid(raw[i])
		}
		tree := buildTree(features, residuals, idx, 0, treeConfig{
			maxDepth:        m.maxDepth,
			minSamplesSplit: 2,
			featureFrac:     1,
			rng:             rand.New(rand.NewSource(m.seed + int64(t))),
		})
		m.trees = append(m.trees, tree)
		for i := 0; i < n; i++ {
			raw[i] += m.learningRate * tree.predict(features[i])
		}
	}
	return nil
}

func (m *gradientBoosting) PredictProba(features [][]float64) []float64 {
	probs := make([]float64, len(features))
	for i, row := range features {
		z := m.base
		for _, tree := range m.trees {
			z += m.learningRate * tree.predict(row)
		}
		probs[i] = sigmoid(z)
	}
	return probs
}
