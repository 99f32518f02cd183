package registry

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Card is the generated model-card document attached to every registration.
type Card struct {
	ModelName   string             `yaml:"model_name"`
	Family      string             `yaml:"family"`
	RunID       string             `yaml:"run_id"`
	TrainedAt   time.Time          `yaml:"trained_at"`
	TargetName  string             `yaml:"target"`
	Features    []string           `yaml:"features"`
	Params      map[string]float64 `yaml:"hyperparameters"`
	Metrics     map[string]float64 `yaml:"metrics"`
	DataSummary DataSummary        `yaml:"data"`
	Narrative   string             `yaml:"narrative,omitempty"`
	Limitations []string           `yaml:"limitations"`
}

// DataSummary records the training data shape for lineage.
type DataSummary struct {
	Rows          int     `yaml:"rows"`
	Columns       int     `yaml:"columns"`
	PositiveShare float64 `yaml:"positive_share"`
}

// YAML renders the card as a YAML document.
func (c *Card) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to render model card: %w", err)
	}
	return string(out), nil
}
