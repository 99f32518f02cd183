// Package features proposes and applies feature transformations. The core
// proposal set is always derived deterministically so Apply has exact
// semantics; when the advisory service is reachable it contributes rationale
// and may add operations of known kinds on existing columns.
package features

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/analyzer"
	"github.com/modelpilot/modelpilot/internal/dataset"
)

// Advisor is the advisory capability the engineer consumes.
type Advisor interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Config declares the domain knowledge used when proposing features.
type Config struct {
	// RatioPairs lists numerator/denominator column pairs worth deriving.
	RatioPairs []RatioPair
	// BinColumns lists continuous columns that get a binned companion.
	BinColumns []string
	BinCount   int
	// OneHotMaxCardinality switches encoding from one-hot to ordinal above it.
	OneHotMaxCardinality int
	// SkewThreshold marks a positive numeric column as right-skewed.
	SkewThreshold float64
}

// RatioPair names a numerator/denominator column pair.
type RatioPair struct {
	Numerator   string
	Denominator string
}

// DefaultConfig mirrors the shipped feature-engineering defaults.
func DefaultConfig() Config {
	return Config{BinCount: 5, OneHotMaxCardinality: 10, SkewThreshold: 1.0}
}

// Kind tags one proposed operation.
type Kind int

const (
	LogTransform Kind = iota
	Ratio
	Bin
	OneHot
	Ordinal
)

func (k Kind) String() string {
	switch k {
	case LogTransform:
		return "log_transform"
	case Ratio:
		return "ratio"
	case Bin:
		return "bin"
	case OneHot:
		return "one_hot"
	case Ordinal:
		return "ordinal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Suggestion is one proposed derived feature.
type Suggestion struct {
	Kind        Kind   `json:"kind"`
	Column      string `json:"column,omitempty"`
	Numerator   string `json:"numerator,omitempty"`
	Denominator string `json:"denominator,omitempty"`
	NewColumn   string `json:"new_column"`
	Bins        int    `json:"bins,omitempty"`
}

// Suggestions is the stage output.
type Suggestions struct {
	Transformations []Suggestion `json:"transformations"`
	NewFeatures     []Suggestion `json:"new_features"`
	Interactions    []Suggestion `json:"interactions"`
	Scaling         []string     `json:"scaling"`
	Encodings       []Suggestion `json:"encodings"`
	Rationale       string       `json:"rationale"`
	FallbackUsed    bool         `json:"fallback_used"`
}

// All returns every proposed operation in application order.
func (s *Suggestions) All() []Suggestion {
	out := make([]Suggestion, 0,
		len(s.Transformations)+len(s.NewFeatures)+len(s.Interactions)+len(s.Encodings))
	out = append(out, s.Transformations...)
	out = append(out, s.NewFeatures...)
	out = append(out, s.Interactions...)
	out = append(out, s.Encodings...)
	return out
}

// Engineer runs the feature-engineering stage.
type Engineer struct {
	advisor Advisor
	cfg     Config
	logger  *zap.Logger
}

// New creates a feature engineer.
func New(advisor Advisor, cfg Config, logger *zap.Logger) *Engineer {
	if cfg.BinCount < 2 {
		cfg.BinCount = 5
	}
	return &Engineer{advisor: advisor, cfg: cfg, logger: logger.Named("features")}
}

// Suggest proposes derived features for ds given the preceding analysis.
func (e *Engineer) Suggest(ctx context.Context, ds *dataset.Dataset, target string, analysis *analyzer.Analysis) (*Suggestions, error) {
	sugg := &Suggestions{}

	// Log-transform right-skewed positive numeric columns.
	for _, p := range analysis.Profiles {
		if p.Type != dataset.Numeric.String() || p.Skewness < e.cfg.SkewThreshold {
			continue
		}
		values, err := ds.NumericColumn(p.Name)
		if err != nil {
			continue
		}
		if !allNonNegative(values) {
			continue
		}
		sugg.Transformations = append(sugg.Transformations, Suggestion{
			Kind:      LogTransform,
			Column:    p.Name,
			NewColumn: p.Name + "_log",
		})
	}

	// Domain ratio features for configured pairs when both columns exist.
	for _, pair := range e.cfg.RatioPairs {
		if ds.HasColumn(pair.Numerator) && ds.HasColumn(pair.Denominator) {
			sugg.NewFeatures = append(sugg.NewFeatures, Suggestion{
				Kind:        Ratio,
				Numerator:   pair.Numerator,
				Denominator: pair.Denominator,
				NewColumn:   pair.Numerator + "_per_" + pair.Denominator,
			})
		}
	}

	// One binned version of each designated continuous column.
	for _, name := range e.cfg.BinColumns {
		if ds.HasColumn(name) {
			sugg.NewFeatures = append(sugg.NewFeatures, Suggestion{
				Kind:      Bin,
				Column:    name,
				NewColumn: name + "_bin",
				Bins:      e.cfg.BinCount,
			})
		}
	}

	// Encoding chosen by categorical cardinality.
	for _, name := range ds.CategoricalColumnNames(target) {
		values, err := ds.CategoricalColumn(name)
		if err != nil {
			continue
		}
		if dataset.Cardinality(values) <= e.cfg.OneHotMaxCardinality {
			sugg.Encodings = append(sugg.Encodings, Suggestion{
				Kind:      OneHot,
				Column:    name,
				NewColumn: name + "__", // prefix; concrete columns carry the value suffix
			})
		} else {
			sugg.Encodings = append(sugg.Encodings, Suggestion{
				Kind:      Ordinal,
				Column:    name,
				NewColumn: name + "_ordinal",
			})
		}
	}

	sugg.Scaling = ds.NumericColumnNames(target)

	if text, err := e.advisor.Ask(ctx, e.buildPrompt(ds, target, analysis, sugg)); err == nil {
		sugg.Rationale = strings.TrimSpace(text)
		e.mergeAdvisoryOps(ds, text, sugg)
	} else {
		e.logger.Warn("advisory feature rationale unavailable, using deterministic fallback", zap.Error(err))
		sugg.FallbackUsed = true
		sugg.Rationale = fmt.Sprintf(
			"Rule-based proposal: %d transformation(s), %d derived feature(s), %d encoding(s).",
			len(sugg.Transformations), len(sugg.NewFeatures), len(sugg.Encodings))
	}

	return sugg, nil
}

// mergeAdvisoryOps folds advisory-proposed operations into the rule-derived
// set. Only lines of the form "kind: column" naming a known kind on an
// existing, type-compatible column are accepted; anything else stays
// rationale text, so Apply never sees an operation it cannot execute.
func (e *Engineer) mergeAdvisoryOps(ds *dataset.Dataset, text string, sugg *Suggestions) {
	proposed := make(map[string]bool)
	for _, s := range sugg.All() {
		proposed[s.NewColumn] = true
	}

	numericOK := func(name string) bool {
		_, err := ds.NumericColumn(name)
		return err == nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "-* ")
		kind, arg, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		arg = strings.TrimSpace(arg)
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "log_transform":
			values, err := ds.NumericColumn(arg)
			if err != nil || !allNonNegative(values) || proposed[arg+"_log"] {
				continue
			}
			sugg.Transformations = append(sugg.Transformations, Suggestion{
				Kind:      LogTransform,
				Column:    arg,
				NewColumn: arg + "_log",
			})
			proposed[arg+"_log"] = true
		case "ratio":
			num, den, ok := strings.Cut(arg, "/")
			if !ok {
				continue
			}
			num, den = strings.TrimSpace(num), strings.TrimSpace(den)
			name := num + "_per_" + den
			if !numericOK(num) || !numericOK(den) || proposed[name] {
				continue
			}
			sugg.NewFeatures = append(sugg.NewFeatures, Suggestion{
				Kind:        Ratio,
				Numerator:   num,
				Denominator: den,
				NewColumn:   name,
			})
			proposed[name] = true
		case "bin":
			if !numericOK(arg) || proposed[arg+"_bin"] {
				continue
			}
			sugg.NewFeatures = append(sugg.NewFeatures, Suggestion{
				Kind:      Bin,
				Column:    arg,
				NewColumn: arg + "_bin",
				Bins:      e.cfg.BinCount,
			})
			proposed[arg+"_bin"] = true
		}
	}
}

// Apply materializes sugg on ds, returning a derived dataset. It is safe to
// apply the same suggestion set repeatedly: derived column names are checked
// before each addition, so a second application is a no-op.
func (e *Engineer) Apply(ds *dataset.Dataset, sugg *Suggestions) (*dataset.Dataset, error) {
	out := ds
	var err error
	for _, s := range sugg.All() {
		switch s.Kind {
		case LogTransform:
			out, err = applyLog(out, s)
		case Ratio:
			out, err = applyRatio(out, s)
		case Bin:
			out, err = applyBin(out, s)
		case OneHot:
			out, err = applyOneHot(out, s, e.cfg.OneHotMaxCardinality)
		case Ordinal:
			out, err = applyOrdinal(out, s)
		default:
			err = fmt.Errorf("unknown suggestion kind %v", s.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to apply %s on %q: %w", s.Kind, s.Column, err)
		}
	}
	return out, nil
}

func applyLog(ds *dataset.Dataset, s Suggestion) (*dataset.Dataset, error) {
	if ds.HasColumn(s.NewColumn) {
		return ds, nil
	}
	values, err := ds.NumericColumn(s.Column)
	if err != nil {
		return nil, err
	}
	derived := make([]float64, len(values))
	for i, x := range values {
		if math.IsNaN(x) || x < 0 {
			derived[i] = math.NaN()
			continue
		}
		derived[i] = math.Log1p(x)
	}
	return ds.WithNumericColumn(s.NewColumn, derived)
}

func applyRatio(ds *dataset.Dataset, s Suggestion) (*dataset.Dataset, error) {
	if ds.HasColumn(s.NewColumn) {
		return ds, nil
	}
	num, err := ds.NumericColumn(s.Numerator)
	if err != nil {
		return nil, err
	}
	den, err := ds.NumericColumn(s.Denominator)
	if err != nil {
		return nil, err
	}
	derived := make([]float64, len(num))
	for i := range num {
		if math.IsNaN(num[i]) || math.IsNaN(den[i]) || den[i] == 0 {
			derived[i] = math.NaN()
			continue
		}
		derived[i] = num[i] / den[i]
	}
	return ds.WithNumericColumn(s.NewColumn, derived)
}

func applyBin(ds *dataset.Dataset, s Suggestion) (*dataset.Dataset, error) {
	if ds.HasColumn(s.NewColumn) {
		return ds, nil
	}
	values, err := ds.NumericColumn(s.Column)
	if err != nil {
		return nil, err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range values {
		if math.IsNaN(x) {
			continue
		}
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	width := (hi - lo) / float64(s.Bins)
	derived := make([]string, len(values))
	for i, x := range values {
		if math.IsNaN(x) || width <= 0 {
			derived[i] = ""
			continue
		}
		bin := int((x - lo) / width)
		if bin >= s.Bins {
			bin = s.Bins - 1
		}
		derived[i] = fmt.Sprintf("bin_%d", bin)
	}
	return ds.WithCategoricalColumn(s.NewColumn, derived)
}

func applyOneHot(ds *dataset.Dataset, s Suggestion, maxCardinality int) (*dataset.Dataset, error) {
	values, err := ds.CategoricalColumn(s.Column)
	if err != nil {
		return nil, err
	}
	distinct := distinctSorted(values)
	if len(distinct) > maxCardinality {
		distinct = distinct[:maxCardinality]
	}
	out := ds
	for _, v := range distinct {
		name := s.Column + "__" + sanitize(v)
		if out.HasColumn(name) {
			continue
		}
		indicator := make([]float64, len(values))
		for i, cell := range values {
			if cell == v {
				indicator[i] = 1
			}
		}
		out, err = out.WithNumericColumn(name, indicator)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applyOrdinal(ds *dataset.Dataset, s Suggestion) (*dataset.Dataset, error) {
	if ds.HasColumn(s.NewColumn) {
		return ds, nil
	}
	values, err := ds.CategoricalColumn(s.Column)
	if err != nil {
		return nil, err
	}
	distinct := distinctSorted(values)
	rank := make(map[string]int, len(distinct))
	for i, v := range distinct {
		rank[v] = i
	}
	derived := make([]float64, len(values))
	for i, cell := range values {
		if cell == "" {
			derived[i] = math.NaN()
			continue
		}
		derived[i] = float64(rank[cell])
	}
	return ds.WithNumericColumn(s.NewColumn, derived)
}

func (e *Engineer) buildPrompt(ds *dataset.Dataset, target string, analysis *analyzer.Analysis, sugg *Suggestions) string {
	var sb strings.Builder
	sb.WriteString("You are a feature engineering advisor. Given the dataset profile and the proposed derived features below, explain in one short paragraph which proposals matter most for predicting the target and why.\n\n")
	fmt.Fprintf(&sb, "Target: %s\nRows: %d\n", target, ds.Rows())
	fmt.Fprintf(&sb, "Summary: %s\n\nProposed:\n", analysis.Summary)
	for _, s := range sugg.All() {
		fmt.Fprintf(&sb, "- %s -> %s\n", s.Kind, s.NewColumn)
	}
	return sb.String()
}

func allNonNegative(values []float64) bool {
	for _, x := range values {
		if !math.IsNaN(x) && x < 0 {
			return false
		}
	}
	return true
}

func distinctSorted(values []string) []string {
	set := make(map[string]bool)
	for _, v := range values {
		if v != "" {
			set[v] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func sanitize(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, v)
}
