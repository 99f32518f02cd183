// Package selector ranks candidate model families against dataset
// characteristics. The candidate set itself is always rule-derived from the
// static catalog; the advisory service contributes per-family rationale and
// may reorder the priority ranking within that set.
package selector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/analyzer"
	"github.com/modelpilot/modelpilot/internal/dataset"
	"github.com/modelpilot/modelpilot/internal/features"
	"github.com/modelpilot/modelpilot/internal/model"
)

// Advisor is the advisory capability the selector consumes.
type Advisor interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Config holds the selection thresholds.
type Config struct {
	// LargeDatasetRows adds a second boosted candidate above this row count.
	LargeDatasetRows int
}

// DefaultConfig mirrors the shipped selector defaults.
func DefaultConfig() Config {
	return Config{LargeDatasetRows: 100000}
}

// Selection is the stage output handed to the search engine.
type Selection struct {
	RecommendedModels []model.Family    `json:"recommended_models"`
	Rationale         map[string]string `json:"rationale"`
	EnsembleStrategy  string            `json:"ensemble_strategy"`
	EvaluationMetrics []string          `json:"evaluation_metrics"`
	CVStrategy        string            `json:"cv_strategy"`
	PriorityOrder     []model.Family    `json:"priority_order"`
	FallbackUsed      bool              `json:"fallback_used"`
}

// Selector runs the model-selection stage.
type Selector struct {
	advisor Advisor
	cfg     Config
	logger  *zap.Logger
}

// New creates a selector.
func New(advisor Advisor, cfg Config, logger *zap.Logger) *Selector {
	return &Selector{advisor: advisor, cfg: cfg, logger: logger.Named("selector")}
}

// Select picks candidate families for ds. The base slate is one linear, one
// tree-ensemble and one gradient-boosted family; large datasets add a second
// boosted candidate and imbalanced targets add an imbalance-robust one.
func (s *Selector) Select(ctx context.Context, ds *dataset.Dataset, target string, analysis *analyzer.Analysis, featureReport *features.Suggestions) (*Selection, error) {
	candidates := []model.Family{
		model.LogisticRegression,
		model.RandomForest,
		model.GradientBoosting,
	}
	if ds.Rows() > s.cfg.LargeDatasetRows {
		candidates = append(candidates, model.HistGradientBoosting)
	}
	if analysis.Target.Imbalanced {
		candidates = append(candidates, model.BalancedForest)
	}

	sel := &Selection{
		RecommendedModels: candidates,
		Rationale:         make(map[string]string, len(candidates)),
		EnsembleStrategy:  "none",
		EvaluationMetrics: []string{"roc_auc", "pr_auc", "accuracy", "precision", "recall"},
		CVStrategy:        "stratified_k_fold",
		PriorityOrder:     append([]model.Family(nil), candidates...),
	}
	if len(candidates) > 3 {
		sel.EnsembleStrategy = "soft_voting"
	}

	if text, err := s.advisor.Ask(ctx, s.buildPrompt(ds, target, analysis, featureReport, candidates)); err == nil {
		text = strings.TrimSpace(text)
		sel.PriorityOrder = rankedByMention(text, sel.PriorityOrder)
		for _, f := range candidates {
			sel.Rationale[f.String()] = rationaleFor(text, f)
		}
	} else {
		s.logger.Warn("advisory selection rationale unavailable, using deterministic fallback", zap.Error(err))
		sel.FallbackUsed = true
		for _, f := range candidates {
			sel.Rationale[f.String()] = fallbackRationale(f, analysis)
		}
	}

	return sel, nil
}

// rankedByMention reorders candidates by where the advisory text first names
// them. Unmentioned candidates keep their rule order after the mentioned
// ones, so the advisory can rank but never add or drop a family.
func rankedByMention(text string, candidates []model.Family) []model.Family {
	lower := strings.ToLower(text)
	type mention struct {
		family model.Family
		at     int
	}
	var ranked []mention
	var rest []model.Family
	for _, f := range candidates {
		at := strings.Index(lower, f.String())
		if at < 0 {
			if meta, err := model.MetaFor(f); err == nil {
				at = strings.Index(lower, strings.ToLower(meta.DisplayName))
			}
		}
		if at < 0 {
			rest = append(rest, f)
			continue
		}
		ranked = append(ranked, mention{family: f, at: at})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].at < ranked[j].at })

	out := make([]model.Family, 0, len(candidates))
	for _, m := range ranked {
		out = append(out, m.family)
	}
	return append(out, rest...)
}

// rationaleFor extracts the advisory line naming f, falling back to the full
// text when no single line does.
func rationaleFor(text string, f model.Family) string {
	name := f.String()
	display := ""
	if meta, err := model.MetaFor(f); err == nil {
		display = strings.ToLower(meta.DisplayName)
	}
	for _, line := range strings.Split(text, "\n") {
		l := strings.ToLower(line)
		if strings.Contains(l, name) || (display != "" && strings.Contains(l, display)) {
			return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-* "))
		}
	}
	return text
}

func fallbackRationale(f model.Family, analysis *analyzer.Analysis) string {
	meta, err := model.MetaFor(f)
	if err != nil {
		return "catalog candidate"
	}
	switch {
	case meta.Linear:
		return "interpretable linear baseline for calibration and sanity checks"
	case meta.ImbalanceRobust:
		return fmt.Sprintf("robust to the imbalanced target (minority share %.1f%%)", analysis.Target.MinorityShare*100)
	case meta.Boosted:
		return "boosted trees typically lead on tabular classification"
	default:
		return "bagged trees capture non-linear feature interactions with low tuning risk"
	}
}

func (s *Selector) buildPrompt(ds *dataset.Dataset, target string, analysis *analyzer.Analysis, featureReport *features.Suggestions, candidates []model.Family) string {
	var sb strings.Builder
	sb.WriteString("You are a model selection advisor. For the dataset and candidate model families below, give a short rationale for the ranking.\n\n")
	fmt.Fprintf(&sb, "Target: %s\nRows: %d\nMinority class share: %.3f\n", target, ds.Rows(), analysis.Target.MinorityShare)
	if featureReport != nil {
		fmt.Fprintf(&sb, "Derived features: %d\n", len(featureReport.All()))
	}
	sb.WriteString("Candidates:\n")
	for _, f := range candidates {
		meta, _ := model.MetaFor(f)
		fmt.Fprintf(&sb, "- %s (interpretability=%s speed=%s)\n", meta.DisplayName, meta.Interpretability, meta.Speed)
	}
	return sb.String()
}
