// Package model defines the catalog of candidate model families and the
// compact classifiers used to score hyperparameter trials. Families are a
// tagged enumeration carrying parameter-range metadata and an explicit
// construction rule; nothing dispatches on name substrings.
package model

import (
	"encoding/json"
	"fmt"
)

// Family identifies a candidate model family.
type Family int

const (
	LogisticRegression Family = iota
	DecisionTree
	RandomForest
	GradientBoosting
	BalancedForest
	// HistGradientBoosting trades tree depth for estimator count; its
	// shallow trees keep large-dataset trials cheap.
	HistGradientBoosting
)

var familyNames = map[Family]string{
	LogisticRegression:   "logistic_regression",
	DecisionTree:         "decision_tree",
	RandomForest:         "random_forest",
	GradientBoosting:     "gradient_boosting",
	BalancedForest:       "balanced_forest",
	HistGradientBoosting: "hist_gradient_boosting",
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// MarshalJSON writes the family name so persisted outcomes stay readable.
func (f Family) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON accepts the names MarshalJSON produces.
func (f *Family) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseFamily(name)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFamily maps a stored family name back to its enumeration value.
func ParseFamily(name string) (Family, error) {
	for f, n := range familyNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown model family %q", name)
}

// Meta describes selection-relevant traits of a family.
type Meta struct {
	Family           Family
	DisplayName      string
	Interpretability string // high, medium, low
	Speed            string // fast, medium, slow
	Linear           bool
	TreeEnsemble     bool
	Boosted          bool
	ImbalanceRobust  bool
}

var catalog = []Meta{
	{
		Family:           LogisticRegression,
		DisplayName:      "Logistic Regression",
		Interpretability: "high",
		Speed:            "fast",
		Linear:           true,
	},
	{
		Family:           DecisionTree,
		DisplayName:      "Decision Tree",
		Interpretability: "high",
		Speed:            "fast",
	},
	{
		Family:           RandomForest,
		DisplayName:      "Random Forest",
		Interpretability: "medium",
		Speed:            "medium",
		TreeEnsemble:     true,
	},
	{
		Family:           GradientBoosting,
		DisplayName:      "Gradient Boosting",
		Interpretability: "low",
		Speed:            "slow",
		TreeEnsemble:     true,
		Boosted:          true,
	},
	{
		Family:           BalancedForest,
		DisplayName:      "Balanced Random Forest",
		Interpretability: "medium",
		Speed:            "medium",
		TreeEnsemble:     true,
		ImbalanceRobust:  true,
	},
	{
		Family:           HistGradientBoosting,
		DisplayName:      "Histogram Gradient Boosting",
		Interpretability: "low",
		Speed:            "fast",
		TreeEnsemble:     true,
		Boosted:          true,
	},
}

// Catalog returns the static candidate catalog.
func Catalog() []Meta {
	return append([]Meta(nil), catalog...)
}

// MetaFor returns the metadata for f.
func MetaFor(f Family) (Meta, error) {
	for _, m := range catalog {
		if m.Family == f {
			return m, nil
		}
	}
	return Meta{}, fmt.Errorf("unknown model family %d", int(f))
}

// ParamKind is the sampling scale of a hyperparameter.
type ParamKind int

const (
	FloatParam ParamKind = iota
	IntParam
	LogFloatParam
)

// ParamSpec declares one hyperparameter range.
type ParamSpec struct {
	Name string
	Kind ParamKind
	Min  float64
	Max  float64
}

// Params is one sampled hyperparameter configuration. Integer-kind parameters
// are stored as their rounded float value.
type Params map[string]float64

// Int reads an integer parameter with a default.
func (p Params) Int(name string, def int) int {
	if v, ok := p[name]; ok {
		return int(v + 0.5)
	}
	return def
}

// Float reads a float parameter with a default.
func (p Params) Float(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// ParamSpace returns the search ranges for f.
func (f Family) ParamSpace() []ParamSpec {
	switch f {
	case LogisticRegression:
		return []ParamSpec{
			{Name: "learning_rate", Kind: LogFloatParam, Min: 1e-3, Max: 1.0},
			{Name: "epochs", Kind: IntParam, Min: 20, Max: 200},
			{Name: "l2", Kind: LogFloatParam, Min: 1e-6, Max: 1e-1},
		}
	case DecisionTree:
		return []ParamSpec{
			{Name: "max_depth", Kind: IntParam, Min: 2, Max: 12},
			{Name: "min_samples_split", Kind: IntParam, Min: 2, Max: 40},
		}
	case RandomForest, BalancedForest:
		return []ParamSpec{
			{Name: "n_estimators", Kind: IntParam, Min: 10, Max: 100},
			{Name: "max_depth", Kind: IntParam, Min: 2, Max: 12},
			{Name: "subsample", Kind: FloatParam, Min: 0.5, Max: 1.0},
		}
	case GradientBoosting:
		return []ParamSpec{
			{Name: "n_estimators", Kind: IntParam, Min: 20, Max: 150},
			{Name: "learning_rate", Kind: LogFloatParam, Min: 1e-2, Max: 0.5},
			{Name: "max_depth", Kind: IntParam, Min: 1, Max: 6},
		}
	case HistGradientBoosting:
		return []ParamSpec{
			{Name: "n_estimators", Kind: IntParam, Min: 50, Max: 300},
			{Name: "learning_rate", Kind: LogFloatParam, Min: 1e-2, Max: 0.5},
			{Name: "max_depth", Kind: IntParam, Min: 1, Max: 3},
		}
	default:
		return nil
	}
}

// Classifier is a trainable binary classifier producing positive-class
// probabilities.
type Classifier interface {
	Fit(features [][]float64, labels []float64) error
	PredictProba(features [][]float64) []float64
}

// New constructs a classifier for f with the given hyperparameters. The seed
// pins any internal randomness for reproducible trials.
func New(f Family, params Params, seed int64) (Classifier, error) {
	switch f {
	case LogisticRegression:
		return newLogisticRegression(params), nil
	case DecisionTree:
		return newDecisionTree(params), nil
	case RandomForest:
		return newRandomForest(params, seed, false), nil
	case BalancedForest:
		return newRandomForest(params, seed, true), nil
	case GradientBoosting, HistGradientBoosting:
		return newGradientBoosting(params, seed), nil
	default:
		return nil, fmt.Errorf("unknown model family %d", int(f))
	}
}
