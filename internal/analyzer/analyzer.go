// Package analyzer profiles a dataset ahead of feature engineering. Advisory
// output enriches the analysis; a deterministic rule set guarantees a usable
// result when the advisory service is unavailable.
package analyzer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/dataset"
)

// Advisor is the advisory capability the analyzer consumes.
type Advisor interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Config holds the deterministic detection thresholds.
type Config struct {
	// HighCardinalityRatio flags categorical columns whose distinct count
	// exceeds this share of the row count.
	HighCardinalityRatio float64
	// ImbalanceShare flags the target when the minority class share is below it.
	ImbalanceShare float64
}

// DefaultConfig mirrors the shipped analyzer defaults.
func DefaultConfig() Config {
	return Config{HighCardinalityRatio: 0.8, ImbalanceShare: 0.10}
}

// ColumnProfile is the per-column statistical summary.
type ColumnProfile struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Missing     int     `json:"missing"`
	Outliers    int     `json:"outliers,omitempty"`
	Cardinality int     `json:"cardinality,omitempty"`
	Mean        float64 `json:"mean,omitempty"`
	StdDev      float64 `json:"std_dev,omitempty"`
	Skewness    float64 `json:"skewness,omitempty"`
}

// TargetAnalysis summarizes the classification target.
type TargetAnalysis struct {
	Column        string  `json:"column"`
	PositiveShare float64 `json:"positive_share"`
	MinorityShare float64 `json:"minority_share"`
	Imbalanced    bool    `json:"imbalanced"`
}

// Analysis is the stage output consumed by feature engineering and selection.
type Analysis struct {
	Summary         string          `json:"summary"`
	Rows            int             `json:"rows"`
	Columns         int             `json:"columns"`
	DuplicateRows   int             `json:"duplicate_rows"`
	Profiles        []ColumnProfile `json:"profiles"`
	Anomalies       []string        `json:"anomalies"`
	QualityIssues   []string        `json:"quality_issues"`
	Recommendations []string        `json:"recommendations"`
	FeatureInsights []string        `json:"feature_insights"`
	Target          TargetAnalysis  `json:"target"`
	FallbackUsed    bool            `json:"fallback_used"`
}

// Analyzer runs the data-analysis stage.
type Analyzer struct {
	advisor Advisor
	cfg     Config
	logger  *zap.Logger
}

// New creates an analyzer.
func New(advisor Advisor, cfg Config, logger *zap.Logger) *Analyzer {
	return &Analyzer{advisor: advisor, cfg: cfg, logger: logger.Named("analyzer")}
}

// Analyze profiles ds with respect to the target column. A missing target is a
// validation failure; an unavailable advisory service is not.
func (a *Analyzer) Analyze(ctx context.Context, ds *dataset.Dataset, target string) (*Analysis, error) {
	if !ds.HasColumn(target) {
		return nil, fmt.Errorf("target column %q: %w", target, dataset.ErrColumnNotFound)
	}

	analysis := &Analysis{
		Rows:          ds.Rows(),
		Columns:       ds.Schema().Len(),
		DuplicateRows: dataset.DuplicateRowCount(ds),
	}

	for _, name := range ds.NumericColumnNames(target) {
		values, err := ds.NumericColumn(name)
		if err != nil {
			return nil, err
		}
		analysis.Profiles = append(analysis.Profiles, ColumnProfile{
			Name:     name,
			Type:     dataset.Numeric.String(),
			Missing:  dataset.MissingCount(values),
			Outliers: dataset.OutlierCountIQR(values),
			Mean:     dataset.NanMean(values),
			StdDev:   dataset.NanStdDev(values),
			Skewness: dataset.Skewness(values),
		})
	}
	for _, name := range ds.CategoricalColumnNames(target) {
		values, err := ds.CategoricalColumn(name)
		if err != nil {
			return nil, err
		}
		analysis.Profiles = append(analysis.Profiles, ColumnProfile{
			Name:        name,
			Type:        dataset.Categorical.String(),
			Missing:     dataset.MissingCountStrings(values),
			Cardinality: dataset.Cardinality(values),
		})
	}

	labels, err := ds.TargetVector(target)
	if err != nil {
		return nil, err
	}
	_, positiveShare := dataset.ClassShares(labels)
	minority := dataset.MinorityShare(labels)
	analysis.Target = TargetAnalysis{
		Column:        target,
		PositiveShare: positiveShare,
		MinorityShare: minority,
		Imbalanced:    minority < a.cfg.ImbalanceShare,
	}

	a.applyRules(analysis)

	if text, err := a.advisor.Ask(ctx, a.buildPrompt(analysis)); err == nil {
		analysis.Summary = firstParagraph(text)
		analysis.Recommendations = append(analysis.Recommendations, bulletLines(text)...)
		analysis.FeatureInsights = append(analysis.FeatureInsights, insightLines(text)...)
	} else {
		a.logger.Warn("advisory analysis unavailable, using deterministic fallback", zap.Error(err))
		analysis.FallbackUsed = true
		analysis.Summary = fmt.Sprintf(
			"Dataset with %d rows and %d columns; %d quality issue(s) and %d anomaly(ies) detected by rule-based analysis.",
			analysis.Rows, analysis.Columns, len(analysis.QualityIssues), len(analysis.Anomalies))
		analysis.Recommendations = append(analysis.Recommendations, a.fallbackRecommendations(analysis)...)
	}

	return analysis, nil
}

// applyRules runs the deterministic detection rules shared by both paths.
func (a *Analyzer) applyRules(analysis *Analysis) {
	for _, p := range analysis.Profiles {
		if p.Missing > 0 {
			analysis.QualityIssues = append(analysis.QualityIssues,
				fmt.Sprintf("column %q has %d missing value(s)", p.Name, p.Missing))
		}
		if p.Type == dataset.Categorical.String() &&
			float64(p.Cardinality) > a.cfg.HighCardinalityRatio*float64(analysis.Rows) {
			analysis.QualityIssues = append(analysis.QualityIssues,
				fmt.Sprintf("categorical column %q has near-unique cardinality (%d of %d rows)", p.Name, p.Cardinality, analysis.Rows))
		}
	}
	if analysis.DuplicateRows > 0 {
		analysis.QualityIssues = append(analysis.QualityIssues,
			fmt.Sprintf("%d duplicate row(s) detected", analysis.DuplicateRows))
	}
	if analysis.Target.Imbalanced {
		analysis.Anomalies = append(analysis.Anomalies,
			fmt.Sprintf("target %q is imbalanced: minority class share %.1f%%", analysis.Target.Column, analysis.Target.MinorityShare*100))
	}
}

func (a *Analyzer) fallbackRecommendations(analysis *Analysis) []string {
	var recs []string
	if len(analysis.QualityIssues) == 0 && len(analysis.Anomalies) == 0 {
		recs = append(recs, "no quality issues detected; proceed to feature engineering")
		return recs
	}
	for _, p := range analysis.Profiles {
		if p.Missing > 0 {
			recs = append(recs, fmt.Sprintf("impute or drop missing values in %q", p.Name))
		}
	}
	if analysis.DuplicateRows > 0 {
		recs = append(recs, "deduplicate rows before training")
	}
	if analysis.Target.Imbalanced {
		recs = append(recs, "consider class weighting or resampling for the imbalanced target")
	}
	return recs
}

func (a *Analyzer) buildPrompt(analysis *Analysis) string {
	var sb strings.Builder
	sb.WriteString("You are a data quality analyst. Review this tabular dataset profile and respond with a one-paragraph summary, then bullet recommendations prefixed with \"- \" and feature insights prefixed with \"* \".\n\n")
	fmt.Fprintf(&sb, "Rows: %d\nColumns: %d\nDuplicate rows: %d\n", analysis.Rows, analysis.Columns, analysis.DuplicateRows)
	fmt.Fprintf(&sb, "Target %q: positive share %.3f, minority share %.3f\n\n", analysis.Target.Column, analysis.Target.PositiveShare, analysis.Target.MinorityShare)
	for _, p := range analysis.Profiles {
		if p.Type == dataset.Numeric.String() {
			fmt.Fprintf(&sb, "%s (numeric): missing=%d outliers=%d mean=%.4f std=%.4f skew=%.2f\n",
				p.Name, p.Missing, p.Outliers, p.Mean, p.StdDev, p.Skewness)
		} else {
			fmt.Fprintf(&sb, "%s (categorical): missing=%d cardinality=%d\n", p.Name, p.Missing, p.Cardinality)
		}
	}
	return sb.String()
}

// firstParagraph returns text up to the first blank line.
func firstParagraph(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), "\n\n", 2)
	return strings.TrimSpace(parts[0])
}

// bulletLines extracts "- " prefixed lines.
func bulletLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			out = append(out, strings.TrimPrefix(line, "- "))
		}
	}
	return out
}

// insightLines extracts "* " prefixed lines.
func insightLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "* ") {
			out = append(out, strings.TrimPrefix(line, "* "))
		}
	}
	return out
}
