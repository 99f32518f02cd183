package model

import (
	"math"
	"math/rand"
	"sort"
)

// treeNode is one node of a regression tree. Leaves predict the mean label of
// their training rows, which for binary labels is the positive-class rate.
type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
	value     float64
	leaf      bool
}

func (n *treeNode) predict(row []float64) float64 {
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

// treeConfig bounds tree growth.
type treeConfig struct {
	maxDepth        int
	minSamplesSplit int
	// featureFrac < 1 samples a random feature subset per split.
	featureFrac float64
	rng         *rand.Rand
}

func buildTree(features [][]float64, labels []float64, idx []int, depth int, cfg treeConfig) *treeNode {
	mean := meanAt(labels, idx)
	if depth >= cfg.maxDepth || len(idx) < cfg.minSamplesSplit || pureAt(labels, idx) {
		return &treeNode{leaf: true, value: mean}
	}

	feature, threshold, ok := bestSplit(features, labels, idx, cfg)
	if !ok {
		return &treeNode{leaf: true, value: mean}
	}

	var left, right []int
	for _, i := range idx {
		if features[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{leaf: true, value: mean}
	}

	return &treeNode{
		feature:   feature,
		threshold: threshold,
		left:      buildTree(features, labels, left, depth+1, cfg),
		right:     buildTree(features, labels, right, depth+1, cfg),
	}
}

// bestSplit scans candidate thresholds per feature and picks the variance-
// minimizing split. Thresholds come from up to ten quantiles of the feature
// values to keep trial evaluation cheap.
func bestSplit(features [][]float64, labels []float64, idx []int, cfg treeConfig) (int, float64, bool) {
	if len(idx) == 0 || len(features[idx[0]]) == 0 {
		return 0, 0, false
	}
	nFeatures := len(features[idx[0]])

	candidates := make([]int, nFeatures)
	for j := range candidates {
		candidates[j] = j
	}
	if cfg.featureFrac > 0 && cfg.featureFrac < 1 && cfg.rng != nil {
		cfg.rng.Shuffle(nFeatures, func(a, b int) {
			candidates[a], candidates[b] = candidates[b], candidates[a]
		})
		k := int(math.Ceil(cfg.featureFrac * float64(nFeatures)))
		if k < 1 {
			k = 1
		}
		candidates = candidates[:k]
		sort.Ints(candidates)
	}

	bestScore := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0
	values := make([]float64, 0, len(idx))
	for _, j := range candidates {
		values = values[:0]
		for _, i := range idx {
			values = append(values, features[i][j])
		}
		sort.Float64s(values)
		for q := 1; q < 10; q++ {
			threshold := values[len(values)*q/10]
			score, ok := splitVariance(features, labels, idx, j, threshold)
			if ok && score < bestScore {
				bestScore = score
				bestFeature = j
				bestThreshold = threshold
			}
		}
	}
	if bestFeature < 0 {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}

// splitVariance returns the size-weighted variance of the two children.
func splitVariance(features [][]float64, labels []float64, idx []int, feature int, threshold float64) (float64, bool) {
	var lSum, lSq, rSum, rSq float64
	var lN, rN int
	for _, i := range idx {
		y := labels[i]
		if features[i][feature] <= threshold {
			lSum += y
			lSq += y * y
			lN++
		} else {
			rSum += y
			rSq += y * y
			rN++
		}
	}
	if lN == 0 || rN == 0 {
		return 0, false
	}
	lVar := lSq/float64(lN) - (lSum/float64(lN))*(lSum/float64(lN))
	rVar := rSq/float64(rN) - (rSum/float64(rN))*(rSum/float64(rN))
	return (float64(lN)*lVar + float64(rN)*rVar) / float64(lN+rN), true
}

func meanAt(labels []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += labels[i]
	}
	return sum / float64(len(idx))
}

func pureAt(labels []float64, idx []int) bool {
	if len(idx) == 0 {
		return true
	}
	first := labels[idx[0]]
	for _, i := range idx[1:] {
		if labels[i] != first {
			return false
		}
	}
	return true
}
