// Package registry versions trained models, attaches audit metadata and
// applies the threshold-based promotion policy between lifecycle stages.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Stage is a model lifecycle stage.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
)

// rank orders stages for the monotonic-forward rule.
func (s Stage) rank() int {
	switch s {
	case StageStaging:
		return 1
	case StageProduction:
		return 2
	default:
		return 0
	}
}

// Error wraps registry backend failures so callers can distinguish them from
// pipeline failures and retry registration separately.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("registry %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ErrVersionNotFound is returned for unknown version ids.
var ErrVersionNotFound = errors.New("model version not found")

// ModelVersion is a registered artifact bundle with lineage to its run.
type ModelVersion struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"index;size:255"`
	Version   int    `gorm:"index"`
	Stage     string `gorm:"size:32"`
	RunID     string `gorm:"index;size:36"`
	Family    string `gorm:"size:64"`
	Params    string
	Metrics   string
	Features  string
	ModelCard string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Metadata describes one registration.
type Metadata struct {
	Name     string
	RunID    string
	Family   string
	Params   map[string]float64
	Metrics  map[string]float64
	Features []string
	Card     *Card
}

// Registry is the model registry boundary.
type Registry interface {
	Register(ctx context.Context, meta Metadata) (string, error)
	SetStage(ctx context.Context, versionID string, stage Stage) error
	ListVersions(ctx context.Context, name string) ([]ModelVersion, error)
	GetVersion(ctx context.Context, versionID string) (*ModelVersion, error)
}

// GormRegistry persists model versions through GORM.
type GormRegistry struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured backend and migrates the schema. Dialect is
// "sqlite" or "postgres".
func Open(dialect, dsn string, logger *zap.Logger) (*GormRegistry, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, &Error{Op: "open", Err: fmt.Errorf("unknown dialect %q", dialect)}
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	return NewGormRegistry(db, logger)
}

// NewGormRegistry wraps an existing connection and migrates the schema.
func NewGormRegistry(db *gorm.DB, logger *zap.Logger) (*GormRegistry, error) {
	if err := db.AutoMigrate(&ModelVersion{}); err != nil {
		return nil, &Error{Op: "migrate", Err: err}
	}
	return &GormRegistry{db: db, logger: logger.Named("registry")}, nil
}

// Register stores a new version of meta.Name with the next version ordinal.
// The run id, feature list and model card are always attached for audit.
func (r *GormRegistry) Register(ctx context.Context, meta Metadata) (string, error) {
	params, err := json.Marshal(meta.Params)
	if err != nil {
		return "", &Error{Op: "register", Err: err}
	}
	metricsJSON, err := json.Marshal(meta.Metrics)
	if err != nil {
		return "", &Error{Op: "register", Err: err}
	}
	featuresJSON, err := json.Marshal(meta.Features)
	if err != nil {
		return "", &Error{Op: "register", Err: err}
	}

	card := ""
	if meta.Card != nil {
		card, err = meta.Card.YAML()
		if err != nil {
			return "", &Error{Op: "register", Err: err}
		}
	}

	version := &ModelVersion{
		ID:        uuid.NewString(),
		Name:      meta.Name,
		Stage:     string(StageNone),
		RunID:     meta.RunID,
		Family:    meta.Family,
		Params:    string(params),
		Metrics:   string(metricsJSON),
		Features:  string(featuresJSON),
		ModelCard: card,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int64
		if err := tx.Model(&ModelVersion{}).
			Where("name = ?", meta.Name).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}
		version.Version = int(maxVersion) + 1
		return tx.Create(version).Error
	})
	if err != nil {
		return "", &Error{Op: "register", Err: err}
	}

	r.logger.Info("model version registered",
		zap.String("version_id", version.ID),
		zap.String("name", version.Name),
		zap.Int("version", version.Version),
		zap.String("run_id", version.RunID))
	return version.ID, nil
}

// SetStage advances a version's lifecycle stage. Backward moves are rejected;
// promotion is monotonic forward only.
func (r *GormRegistry) SetStage(ctx context.Context, versionID string, stage Stage) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var version ModelVersion
		if err := tx.First(&version, "id = ?", versionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
			}
			return err
		}
		if stage.rank() < Stage(version.Stage).rank() {
			return fmt.Errorf("cannot demote version %s from %s to %s", versionID, version.Stage, stage)
		}
		return tx.Model(&version).Update("stage", string(stage)).Error
	})
	if err != nil {
		return &Error{Op: "set_stage", Err: err}
	}

	r.logger.Info("model version stage updated",
		zap.String("version_id", versionID),
		zap.String("stage", string(stage)))
	return nil
}

// ListVersions returns all versions of a model, newest ordinal first.
func (r *GormRegistry) ListVersions(ctx context.Context, name string) ([]ModelVersion, error) {
	var versions []ModelVersion
	if err := r.db.WithContext(ctx).
		Where("name = ?", name).
		Order("version DESC").
		Find(&versions).Error; err != nil {
		return nil, &Error{Op: "list_versions", Err: err}
	}
	return versions, nil
}

// GetVersion fetches one version by id.
func (r *GormRegistry) GetVersion(ctx context.Context, versionID string) (*ModelVersion, error) {
	var version ModelVersion
	if err := r.db.WithContext(ctx).First(&version, "id = ?", versionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &Error{Op: "get_version", Err: fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)}
		}
		return nil, &Error{Op: "get_version", Err: err}
	}
	return &version, nil
}
