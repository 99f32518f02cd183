// Package evaluator computes quantitative and business-impact metrics for a
// trained classifier and produces a structured narrative report.
package evaluator

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// ConfusionMatrix holds classification counts at the 0.5 threshold.
type ConfusionMatrix struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalseNegatives int `json:"false_negatives"`
}

// BusinessImpact prices the confusion-matrix error cells.
type BusinessImpact struct {
	FalsePositiveCost decimal.Decimal `json:"false_positive_cost"`
	FalseNegativeCost decimal.Decimal `json:"false_negative_cost"`
	TotalCost         decimal.Decimal `json:"total_cost"`
}

// Metrics is the quantitative bundle of an evaluation.
type Metrics struct {
	Accuracy  float64         `json:"accuracy"`
	ROCAUC    float64         `json:"roc_auc"`
	PRAUC     float64         `json:"pr_auc"`
	Precision float64         `json:"precision"`
	Recall    float64         `json:"recall"`
	F1        float64         `json:"f1"`
	Confusion ConfusionMatrix `json:"confusion_matrix"`
	Business  BusinessImpact  `json:"business_impact"`

	// Threshold-free summaries for ranking-based deployment decisions.
	PrecisionAtTopK         float64 `json:"precision_at_top_k"`
	TopKPercent             float64 `json:"top_k_percent"`
	RecallAtTargetPrecision float64 `json:"recall_at_target_precision"`
	TargetPrecision         float64 `json:"target_precision"`
}

// computeMetrics derives the full metric bundle from holdout labels and
// predicted positive-class probabilities.
func computeMetrics(labels, probs []float64, fpCost, fnCost decimal.Decimal, topKPercent, targetPrecision float64) Metrics {
	m := Metrics{
		ROCAUC:          rocAUC(labels, probs),
		PRAUC:           averagePrecision(labels, probs),
		TopKPercent:     topKPercent,
		TargetPrecision: targetPrecision,
	}

	for i, y := range labels {
		predicted := probs[i] >= 0.5
		switch {
		case predicted && y == 1:
			m.Confusion.TruePositives++
		case predicted && y != 1:
			m.Confusion.FalsePositives++
		case !predicted && y == 1:
			m.Confusion.FalseNegatives++
		default:
			m.Confusion.TrueNegatives++
		}
	}

	n := len(labels)
	if n > 0 {
		m.Accuracy = float64(m.Confusion.TruePositives+m.Confusion.TrueNegatives) / float64(n)
	}
	if tp := m.Confusion.TruePositives; tp+m.Confusion.FalsePositives > 0 {
		m.Precision = float64(tp) / float64(tp+m.Confusion.FalsePositives)
	}
	if tp := m.Confusion.TruePositives; tp+m.Confusion.FalseNegatives > 0 {
		m.Recall = float64(tp) / float64(tp+m.Confusion.FalseNegatives)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}

	m.Business.FalsePositiveCost = fpCost.Mul(decimal.NewFromInt(int64(m.Confusion.FalsePositives)))
	m.Business.FalseNegativeCost = fnCost.Mul(decimal.NewFromInt(int64(m.Confusion.FalseNegatives)))
	m.Business.TotalCost = m.Business.FalsePositiveCost.Add(m.Business.FalseNegativeCost)

	m.PrecisionAtTopK = precisionAtTopK(labels, probs, topKPercent)
	m.RecallAtTargetPrecision = recallAtPrecision(labels, probs, targetPrecision)

	return m
}

// byScoreDesc returns row indices ordered by descending score, ties by index
// for determinism.
func byScoreDesc(probs []float64) []int {
	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return probs[order[a]] > probs[order[b]] })
	return order
}

// precisionAtTopK is the positive rate within the top k% highest-scored rows.
func precisionAtTopK(labels, probs []float64, kPercent float64) float64 {
	n := len(labels)
	if n == 0 {
		return 0
	}
	k := int(math.Ceil(kPercent / 100 * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	order := byScoreDesc(probs)
	positives := 0
	for _, i := range order[:k] {
		if labels[i] == 1 {
			positives++
		}
	}
	return float64(positives) / float64(k)
}

// recallAtPrecision is the highest recall achievable at any score threshold
// where precision stays at or above target.
func recallAtPrecision(labels, probs []float64, target float64) float64 {
	order := byScoreDesc(probs)
	totalPos := 0
	for _, y := range labels {
		if y == 1 {
			totalPos++
		}
	}
	if totalPos == 0 {
		return 0
	}
	best := 0.0
	tp := 0
	for rank, i := range order {
		if labels[i] == 1 {
			tp++
		}
		precision := float64(tp) / float64(rank+1)
		recall := float64(tp) / float64(totalPos)
		if precision >= target && recall > best {
			best = recall
		}
	}
	return best
}

// averagePrecision computes area under the precision-recall curve as the mean
// precision at each positive hit.
func averagePrecision(labels, probs []float64) float64 {
	order := byScoreDesc(probs)
	totalPos := 0
	for _, y := range labels {
		if y == 1 {
			totalPos++
		}
	}
	if totalPos == 0 {
		return 0
	}
	sum := 0.0
	tp := 0
	for rank, i := range order {
		if labels[i] == 1 {
			tp++
			sum += float64(tp) / float64(rank+1)
		}
	}
	return sum / float64(totalPos)
}

// rocAUC is the rank-statistic area under the ROC curve with tie handling.
func rocAUC(labels, scores []float64) float64 {
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
		avg := float64(i+j+1) / 2
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
