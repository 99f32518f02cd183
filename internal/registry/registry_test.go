package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRegistry(t *testing.T) *GormRegistry {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&mode=memory"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	// Each test gets its own table state.
	require.NoError(t, db.Migrator().DropTable(&ModelVersion{}))
	reg, err := NewGormRegistry(db, zap.NewNop())
	require.NoError(t, err)
	return reg
}

func sampleMetadata(name string) Metadata {
	return Metadata{
		Name:     name,
		RunID:    "run-1",
		Family:   "gradient_boosting",
		Params:   map[string]float64{"n_estimators": 80, "learning_rate": 0.1},
		Metrics:  map[string]float64{"roc_auc": 0.91, "precision": 0.84},
		Features: []string{"amount", "visits", "amount_log"},
		Card: &Card{
			ModelName: name,
			Family:    "gradient_boosting",
			RunID:     "run-1",
			TrainedAt: time.Now().UTC(),
			Metrics:   map[string]float64{"roc_auc": 0.91},
		},
	}
}

func TestRegisterAssignsSequentialVersions(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id1, err := reg.Register(ctx, sampleMetadata("churn"))
	require.NoError(t, err)
	id2, err := reg.Register(ctx, sampleMetadata("churn"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	versions, err := reg.ListVersions(ctx, "churn")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version, "newest ordinal first")
	assert.Equal(t, 1, versions[1].Version)

	t.Run("IndependentPerName", func(t *testing.T) {
		_, err := reg.Register(ctx, sampleMetadata("fraud"))
		require.NoError(t, err)
		versions, err := reg.ListVersions(ctx, "fraud")
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, 1, versions[0].Version)
	})
}

func TestRegisterAttachesCardAndMetadata(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id, err := reg.Register(ctx, sampleMetadata("churn"))
	require.NoError(t, err)

	version, err := reg.GetVersion(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, string(StageNone), version.Stage)
	assert.Equal(t, "run-1", version.RunID)
	assert.Contains(t, version.Params, "n_estimators")
	assert.Contains(t, version.Metrics, "roc_auc")
	assert.Contains(t, version.Features, "amount_log")
	assert.Contains(t, version.ModelCard, "model_name: churn")
}

func TestGetVersionNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.GetVersion(context.Background(), "missing-id")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	var regErr *Error
	assert.ErrorAs(t, err, &regErr)
	assert.Equal(t, "get_version", regErr.Op)
}

func TestSetStageIsMonotonic(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id, err := reg.Register(ctx, sampleMetadata("churn"))
	require.NoError(t, err)

	require.NoError(t, reg.SetStage(ctx, id, StageStaging))
	require.NoError(t, reg.SetStage(ctx, id, StageProduction))

	t.Run("DemotionRejected", func(t *testing.T) {
		err := reg.SetStage(ctx, id, StageStaging)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "demote")

		version, err := reg.GetVersion(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, string(StageProduction), version.Stage)
	})

	t.Run("SameStageAllowed", func(t *testing.T) {
		assert.NoError(t, reg.SetStage(ctx, id, StageProduction))
	})

	t.Run("UnknownVersion", func(t *testing.T) {
		err := reg.SetStage(ctx, "missing-id", StageProduction)
		assert.ErrorIs(t, err, ErrVersionNotFound)
	})
}

func TestGateDecide(t *testing.T) {
	gate := NewGate(nil, DefaultThresholds(), zap.NewNop())

	cases := []struct {
		name      string
		auc       float64
		precision float64
		want      Decision
	}{
		{"ClearsProduction", 0.86, 0.82, DecisionProduction},
		{"ExactProductionThresholds", 0.85, 0.80, DecisionProduction},
		{"ClearsStagingOnly", 0.78, 0.72, DecisionStaging},
		{"ExactStagingThresholds", 0.75, 0.70, DecisionStaging},
		{"BelowAll", 0.60, 0.50, DecisionNoPromotion},
		{"HighAUCLowPrecision", 0.95, 0.60, DecisionNoPromotion},
		{"JustUnderProduction", 0.849, 0.82, DecisionStaging},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := gate.Decide(GateMetrics{ROCAUC: tc.auc, Precision: tc.precision})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGatePromoteNeverSkipsStaging(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id, err := reg.Register(ctx, sampleMetadata("churn"))
	require.NoError(t, err)

	gate := NewGate(reg, DefaultThresholds(), zap.NewNop())
	decision, err := gate.Promote(ctx, id, GateMetrics{ROCAUC: 0.9, Precision: 0.85})
	require.NoError(t, err)
	assert.Equal(t, DecisionProduction, decision)

	version, err := reg.GetVersion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(StageProduction), version.Stage)
}

func TestGatePromoteStagingOnly(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id, err := reg.Register(ctx, sampleMetadata("churn"))
	require.NoError(t, err)

	gate := NewGate(reg, DefaultThresholds(), zap.NewNop())
	decision, err := gate.Promote(ctx, id, GateMetrics{ROCAUC: 0.78, Precision: 0.72})
	require.NoError(t, err)
	assert.Equal(t, DecisionStaging, decision)

	version, err := reg.GetVersion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(StageStaging), version.Stage)
}

func TestGatePromoteNoPromotionLeavesStageUntouched(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id, err := reg.Register(ctx, sampleMetadata("churn"))
	require.NoError(t, err)

	gate := NewGate(reg, DefaultThresholds(), zap.NewNop())
	decision, err := gate.Promote(ctx, id, GateMetrics{ROCAUC: 0.6, Precision: 0.5})
	require.NoError(t, err)
	assert.Equal(t, DecisionNoPromotion, decision)

	version, err := reg.GetVersion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(StageNone), version.Stage)
}

func TestCardYAML(t *testing.T) {
	card := &Card{
		ModelName:  "churn",
		Family:     "random_forest",
		RunID:      "run-9",
		TrainedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		TargetName: "churned",
		Features:   []string{"age", "income"},
		Params:     map[string]float64{"n_estimators": 50},
		Metrics:    map[string]float64{"roc_auc": 0.88},
		DataSummary: DataSummary{
			Rows:          1000,
			Columns:       12,
			PositiveShare: 0.15,
		},
		Narrative:   "Good discrimination on the holdout set.",
		Limitations: []string{"binary classification only"},
	}

	out, err := card.YAML()
	require.NoError(t, err)
	assert.Contains(t, out, "model_name: churn")
	assert.Contains(t, out, "family: random_forest")
	assert.Contains(t, out, "target: churned")
	assert.Contains(t, out, "roc_auc: 0.88")
	assert.Contains(t, out, "positive_share: 0.15")
}
