package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/model"
)

// Advisor is the advisory capability the evaluator consumes.
type Advisor interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Config holds the business-impact and summary-metric settings.
type Config struct {
	FalsePositiveCost decimal.Decimal
	FalseNegativeCost decimal.Decimal
	TopKPercent       float64
	TargetPrecision   float64
}

// DefaultConfig mirrors the shipped evaluator defaults.
func DefaultConfig() Config {
	return Config{
		FalsePositiveCost: decimal.NewFromInt(10),
		FalseNegativeCost: decimal.NewFromInt(100),
		TopKPercent:       10,
		TargetPrecision:   0.9,
	}
}

// Narrative is the eight-part evaluation narrative.
type Narrative struct {
	ExecutiveSummary      string `json:"executive_summary"`
	TechnicalSummary      string `json:"technical_summary"`
	PerformanceAnalysis   string `json:"performance_analysis"`
	BusinessImpact        string `json:"business_impact"`
	Recommendations       string `json:"recommendations"`
	RiskAssessment        string `json:"risk_assessment"`
	DeploymentReadiness   string `json:"deployment_readiness"`
	MonitoringSuggestions string `json:"monitoring_suggestions"`
}

// Report is the immutable evaluation output.
type Report struct {
	Metrics      Metrics   `json:"metrics"`
	Narrative    Narrative `json:"narrative"`
	FallbackUsed bool      `json:"fallback_used"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Evaluator runs the evaluation stage.
type Evaluator struct {
	advisor Advisor
	cfg     Config
	logger  *zap.Logger
}

// New creates an evaluator.
func New(advisor Advisor, cfg Config, logger *zap.Logger) *Evaluator {
	return &Evaluator{advisor: advisor, cfg: cfg, logger: logger.Named("evaluator")}
}

// Evaluate scores clf on the holdout set and produces the full report.
func (e *Evaluator) Evaluate(ctx context.Context, clf model.Classifier, features [][]float64, labels []float64) (*Report, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("evaluator: empty holdout set")
	}
	probs := clf.PredictProba(features)
	m := computeMetrics(labels, probs,
		e.cfg.FalsePositiveCost, e.cfg.FalseNegativeCost,
		e.cfg.TopKPercent, e.cfg.TargetPrecision)

	report := &Report{Metrics: m, GeneratedAt: time.Now()}

	if text, err := e.advisor.Ask(ctx, e.buildPrompt(m)); err == nil {
		report.Narrative = parseNarrative(text, m)
	} else {
		e.logger.Warn("advisory narrative unavailable, using deterministic fallback", zap.Error(err))
		report.FallbackUsed = true
		report.Narrative = fallbackNarrative(m)
	}

	return report, nil
}

var sectionTitles = []string{
	"Executive Summary",
	"Technical Summary",
	"Performance Analysis",
	"Business Impact",
	"Recommendations",
	"Risk Assessment",
	"Deployment Readiness",
	"Monitoring Suggestions",
}

func (e *Evaluator) buildPrompt(m Metrics) string {
	var sb strings.Builder
	sb.WriteString("You are a model evaluation advisor. Write a report with exactly these sections, each introduced by its title followed by a colon: ")
	sb.WriteString(strings.Join(sectionTitles, ", "))
	sb.WriteString(".\n\nMetrics:\n")
	fmt.Fprintf(&sb, "accuracy=%.4f roc_auc=%.4f pr_auc=%.4f precision=%.4f recall=%.4f f1=%.4f\n",
		m.Accuracy, m.ROCAUC, m.PRAUC, m.Precision, m.Recall, m.F1)
	fmt.Fprintf(&sb, "confusion: tp=%d fp=%d tn=%d fn=%d\n",
		m.Confusion.TruePositives, m.Confusion.FalsePositives, m.Confusion.TrueNegatives, m.Confusion.FalseNegatives)
	fmt.Fprintf(&sb, "business cost: fp=%s fn=%s total=%s\n",
		m.Business.FalsePositiveCost, m.Business.FalseNegativeCost, m.Business.TotalCost)
	fmt.Fprintf(&sb, "precision@top%.0f%%=%.4f recall@precision%.2f=%.4f\n",
		m.TopKPercent, m.PrecisionAtTopK, m.TargetPrecision, m.RecallAtTargetPrecision)
	return sb.String()
}

// parseNarrative extracts the titled sections from advisory text, filling any
// missing section from the deterministic templates.
func parseNarrative(text string, m Metrics) Narrative {
	fallback := fallbackNarrative(m)
	sections := map[string]string{}
	current := ""
	var buf strings.Builder
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(buf.String())
		}
		buf.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(strings.TrimLeft(line, "#* "))
		matched := false
		for _, title := range sectionTitles {
			if strings.HasPrefix(strings.ToLower(trimmed), strings.ToLower(title)) {
				flush()
				current = title
				rest := strings.TrimSpace(strings.TrimPrefix(trimmed[len(title):], ":"))
				if rest != "" {
					buf.WriteString(rest)
					buf.WriteByte('\n')
				}
				matched = true
				break
			}
		}
		if !matched && current != "" {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	flush()

	pick := func(title, def string) string {
		if v, ok := sections[title]; ok && v != "" {
			return v
		}
		return def
	}
	return Narrative{
		ExecutiveSummary:      pick("Executive Summary", fallback.ExecutiveSummary),
		TechnicalSummary:      pick("Technical Summary", fallback.TechnicalSummary),
		PerformanceAnalysis:   pick("Performance Analysis", fallback.PerformanceAnalysis),
		BusinessImpact:        pick("Business Impact", fallback.BusinessImpact),
		Recommendations:       pick("Recommendations", fallback.Recommendations),
		RiskAssessment:        pick("Risk Assessment", fallback.RiskAssessment),
		DeploymentReadiness:   pick("Deployment Readiness", fallback.DeploymentReadiness),
		MonitoringSuggestions: pick("Monitoring Suggestions", fallback.MonitoringSuggestions),
	}
}

// tier maps ROC AUC onto the reporting tier.
func tier(auc float64) string {
	switch {
	case auc >= 0.9:
		return "Excellent"
	case auc >= 0.8:
		return "Good"
	case auc >= 0.7:
		return "Fair"
	default:
		return "Poor"
	}
}

// fallbackNarrative synthesizes the eight sections from score tiers with fixed
// template sentences.
func fallbackNarrative(m Metrics) Narrative {
	t := tier(m.ROCAUC)
	var readiness, risk, recommendation string
	switch t {
	case "Excellent":
		readiness = "The model meets production-grade discrimination and is ready for staged rollout."
		risk = "Low residual risk; primary exposure is data drift after deployment."
		recommendation = "Proceed to registration and promotion review."
	case "Good":
		readiness = "The model is suitable for staging with monitored exposure before production."
		risk = "Moderate risk; review the cost balance of false negatives before widening exposure."
		recommendation = "Proceed to staging and schedule a threshold calibration pass."
	case "Fair":
		readiness = "The model is not ready for production; keep it in evaluation."
		risk = "Elevated risk of costly misclassification at the current operating point."
		recommendation = "Revisit feature engineering and expand the hyperparameter search budget."
	default:
		readiness = "The model is not deployable in its current state."
		risk = "High risk; predictions are close to uninformative."
		recommendation = "Reassess data quality and target definition before further tuning."
	}

	return Narrative{
		ExecutiveSummary: fmt.Sprintf(
			"%s discrimination: ROC AUC %.3f with accuracy %.3f on the holdout set.", t, m.ROCAUC, m.Accuracy),
		TechnicalSummary: fmt.Sprintf(
			"Holdout metrics: ROC AUC %.3f, PR AUC %.3f, precision %.3f, recall %.3f, F1 %.3f.",
			m.ROCAUC, m.PRAUC, m.Precision, m.Recall, m.F1),
		PerformanceAnalysis: fmt.Sprintf(
			"At the 0.5 threshold the model produced %d true positives, %d false positives, %d true negatives and %d false negatives. Precision in the top %.0f%% of scores is %.3f.",
			m.Confusion.TruePositives, m.Confusion.FalsePositives, m.Confusion.TrueNegatives,
			m.Confusion.FalseNegatives, m.TopKPercent, m.PrecisionAtTopK),
		BusinessImpact: fmt.Sprintf(
			"Estimated misclassification cost: %s from false positives plus %s from false negatives, totalling %s.",
			m.Business.FalsePositiveCost, m.Business.FalseNegativeCost, m.Business.TotalCost),
		Recommendations: recommendation,
		RiskAssessment:  risk,
		DeploymentReadiness: fmt.Sprintf(
			"%s Recall achievable at %.2f precision is %.3f.", readiness, m.TargetPrecision, m.RecallAtTargetPrecision),
		MonitoringSuggestions: "Track holdout-equivalent ROC AUC, positive-class rate and score distribution drift; alert on sustained cost-metric regression.",
	}
}
