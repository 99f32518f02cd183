package registry

import (
	"context"

	"go.uber.org/zap"
)

// Decision is the outcome of one promotion evaluation.
type Decision string

const (
	DecisionProduction  Decision = "Production"
	DecisionStaging     Decision = "Staging"
	DecisionNoPromotion Decision = "NoPromotion"
)

// Thresholds is the promotion policy. Values are deployment configuration,
// not compiled-in constants.
type Thresholds struct {
	ProductionAUC       float64
	ProductionPrecision float64
	StagingAUC          float64
	StagingPrecision    float64
}

// DefaultThresholds returns the shipped promotion policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ProductionAUC:       0.85,
		ProductionPrecision: 0.80,
		StagingAUC:          0.75,
		StagingPrecision:    0.70,
	}
}

// GateMetrics are the inputs to a promotion decision.
type GateMetrics struct {
	ROCAUC    float64
	Precision float64
}

// Gate applies threshold rules to advance registered versions between
// lifecycle stages.
type Gate struct {
	registry   Registry
	thresholds Thresholds
	logger     *zap.Logger
}

// NewGate creates a promotion gate over registry.
func NewGate(registry Registry, thresholds Thresholds, logger *zap.Logger) *Gate {
	return &Gate{registry: registry, thresholds: thresholds, logger: logger.Named("gate")}
}

// Promote evaluates the Production threshold first, then Staging. A version
// that clears Production still passes through Staging so the lifecycle never
// skips a stage.
func (g *Gate) Promote(ctx context.Context, versionID string, metrics GateMetrics) (Decision, error) {
	decision := g.Decide(metrics)

	switch decision {
	case DecisionProduction:
		if err := g.registry.SetStage(ctx, versionID, StageStaging); err != nil {
			return DecisionNoPromotion, err
		}
		if err := g.registry.SetStage(ctx, versionID, StageProduction); err != nil {
			return DecisionStaging, err
		}
	case DecisionStaging:
		if err := g.registry.SetStage(ctx, versionID, StageStaging); err != nil {
			return DecisionNoPromotion, err
		}
	}

	g.logger.Info("promotion decision",
		zap.String("version_id", versionID),
		zap.String("decision", string(decision)),
		zap.Float64("roc_auc", metrics.ROCAUC),
		zap.Float64("precision", metrics.Precision))
	return decision, nil
}

// Decide applies the pure threshold policy without touching the registry.
func (g *Gate) Decide(metrics GateMetrics) Decision {
	if metrics.ROCAUC >= g.thresholds.ProductionAUC && metrics.Precision >= g.thresholds.ProductionPrecision {
		return DecisionProduction
	}
	if metrics.ROCAUC >= g.thresholds.StagingAUC && metrics.Precision >= g.thresholds.StagingPrecision {
		return DecisionStaging
	}
	return DecisionNoPromotion
}
