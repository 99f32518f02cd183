package search

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/modelpilot/modelpilot/internal/model"
)

// stratifiedFolds partitions row indices into k folds preserving the class
// ratio. Assignment is deterministic for a given seed.
func stratifiedFolds(labels []float64, k int, seed int64) [][]int {
	if k < 2 {
		k = 2
	}
	var positives, negatives []int
	for i, y := range labels {
		if y == 1 {
			positives = append(positives, i)
		} else {
			negatives = append(negatives, i)
		}
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(positives), func(a, b int) { positives[a], positives[b] = positives[b], positives[a] })
	rng.Shuffle(len(negatives), func(a, b int) { negatives[a], negatives[b] = negatives[b], negatives[a] })

	folds := make([][]int, k)
	for i, idx := range positives {
		folds[i%k] = append(folds[i%k], idx)
	}
	for i, idx := range negatives {
		folds[i%k] = append(folds[i%k], idx)
	}
	for _, fold := range folds {
		sort.Ints(fold)
	}
	return folds
}

// crossValidate trains one classifier per fold on the remaining folds and
// returns the mean held-out ROC AUC.
func crossValidate(family model.Family, params model.Params, features [][]float64, labels []float64, folds [][]int, seed int64) (float64, error) {
	total := 0.0
	scored := 0
	for f, holdout := range folds {
		if len(holdout) == 0 {
			continue
		}
		holdoutSet := make(map[int]bool, len(holdout))
		for _, i := range holdout {
			holdoutSet[i] = true
		}
		var trainX [][]float64
		var trainY []float64
		for i := range features {
			if !holdoutSet[i] {
				trainX = append(trainX, features[i])
				trainY = append(trainY, labels[i])
			}
		}

		clf, err := model.New(family, params, seed+int64(f))
		if err != nil {
			return 0, err
		}
		if err := clf.Fit(trainX, trainY); err != nil {
			return 0, fmt.Errorf("fold %d: %w", f, err)
		}

		testX := make([][]float64, len(holdout))
		testY := make([]float64, len(holdout))
		for j, i := range holdout {
			testX[j] = features[i]
			testY[j] = labels[i]
		}
		total += RocAUC(testY, clf.PredictProba(testX))
		scored++
	}
	if scored == 0 {
		return 0, fmt.Errorf("no non-empty folds")
	}
	return total / float64(scored), nil
}

// RocAUC computes the area under the ROC curve via the rank statistic, with
// average ranks for tied scores. A degenerate single-class sample scores 0.5.
func RocAUC(labels, scores []float64) float64 {
	n := len(labels)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && scores[order[j]] == scores[order[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[order[k]] = avg
		}
		i = j
	}

	var nPos, nNeg int
	var rankSum float64
	for i, y := range labels {
		if y == 1 {
			nPos++
			rankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}
	return (rankSum - float64(nPos)*float64(nPos+1)/2) / (float64(nPos) * float64(nNeg))
}
