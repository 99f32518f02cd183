// Package dataset provides the immutable tabular dataset model shared by all
// pipeline stages. A stage never mutates a dataset in place; derivation methods
// return a new Dataset that shares unchanged column storage with its parent.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrColumnNotFound is returned when a referenced column is absent from the schema.
var ErrColumnNotFound = errors.New("column not found")

// ColumnType is the semantic type of a column.
type ColumnType int

const (
	Numeric ColumnType = iota
	Categorical
)

func (t ColumnType) String() string {
	if t == Numeric {
		return "numeric"
	}
	return "categorical"
}

// Column describes one schema entry.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is the ordered column list of a dataset.
type Schema struct {
	columns []Column
	index   map[string]int
}

// NewSchema builds a schema from an ordered column list.
func NewSchema(columns []Column) Schema {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c.Name] = i
	}
	return Schema{columns: append([]Column(nil), columns...), index: idx}
}

// Columns returns the ordered column descriptors.
func (s Schema) Columns() []Column {
	return append([]Column(nil), s.columns...)
}

// Has reports whether the schema contains the named column.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Type returns the column type for name.
func (s Schema) Type(name string) (ColumnType, error) {
	i, ok := s.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	return s.columns[i].Type, nil
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.columns) }

// Dataset is an immutable column-major table. Missing numeric values are NaN;
// missing categorical values are the empty string.
type Dataset struct {
	schema  Schema
	rows    int
	numeric map[string][]float64
	cats    map[string][]string
}

// New builds a dataset from column storage. Every column named in the schema
// must be present in exactly one of the two maps with length rows.
func New(schema Schema, rows int, numeric map[string][]float64, cats map[string][]string) (*Dataset, error) {
	for _, c := range schema.columns {
		switch c.Type {
		case Numeric:
			v, ok := numeric[c.Name]
			if !ok || len(v) != rows {
				return nil, fmt.Errorf("numeric column %q: missing or wrong length", c.Name)
			}
		case Categorical:
			v, ok := cats[c.Name]
			if !ok || len(v) != rows {
				return nil, fmt.Errorf("categorical column %q: missing or wrong length", c.Name)
			}
		}
	}
	return &Dataset{schema: schema, rows: rows, numeric: numeric, cats: cats}, nil
}

// Schema returns the dataset schema.
func (d *Dataset) Schema() Schema { return d.schema }

// Rows returns the row count.
func (d *Dataset) Rows() int { return d.rows }

// HasColumn reports whether the dataset contains the named column.
func (d *Dataset) HasColumn(name string) bool { return d.schema.Has(name) }

// NumericColumn returns the values of a numeric column.
func (d *Dataset) NumericColumn(name string) ([]float64, error) {
	v, ok := d.numeric[name]
	if !ok {
		return nil, fmt.Errorf("%w: numeric %q", ErrColumnNotFound, name)
	}
	return v, nil
}

// CategoricalColumn returns the values of a categorical column.
func (d *Dataset) CategoricalColumn(name string) ([]string, error) {
	v, ok := d.cats[name]
	if !ok {
		return nil, fmt.Errorf("%w: categorical %q", ErrColumnNotFound, name)
	}
	return v, nil
}

// NumericColumnNames returns numeric column names in schema order, excluding skip.
func (d *Dataset) NumericColumnNames(skip ...string) []string {
	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}
	var names []string
	for _, c := range d.schema.columns {
		if c.Type == Numeric && !skipSet[c.Name] {
			names = append(names, c.Name)
		}
	}
	return names
}

// CategoricalColumnNames returns categorical column names in schema order, excluding skip.
func (d *Dataset) CategoricalColumnNames(skip ...string) []string {
	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}
	var names []string
	for _, c := range d.schema.columns {
		if c.Type == Categorical && !skipSet[c.Name] {
			names = append(names, c.Name)
		}
	}
	return names
}

// WithNumericColumn returns a derived dataset with one additional numeric
// column. The receiver is left untouched; existing column storage is shared.
func (d *Dataset) WithNumericColumn(name string, values []float64) (*Dataset, error) {
	if d.schema.Has(name) {
		return nil, fmt.Errorf("column %q already exists", name)
	}
	if len(values) != d.rows {
		return nil, fmt.Errorf("column %q: %d values for %d rows", name, len(values), d.rows)
	}
	cols := append(d.schema.Columns(), Column{Name: name, Type: Numeric})
	numeric := make(map[string][]float64, len(d.numeric)+1)
	for k, v := range d.numeric {
		numeric[k] = v
	}
	numeric[name] = values
	return &Dataset{schema: NewSchema(cols), rows: d.rows, numeric: numeric, cats: d.cats}, nil
}

// WithCategoricalColumn returns a derived dataset with one additional
// categorical column.
func (d *Dataset) WithCategoricalColumn(name string, values []string) (*Dataset, error) {
	if d.schema.Has(name) {
		return nil, fmt.Errorf("column %q already exists", name)
	}
	if len(values) != d.rows {
		return nil, fmt.Errorf("column %q: %d values for %d rows", name, len(values), d.rows)
	}
	cols := append(d.schema.Columns(), Column{Name: name, Type: Categorical})
	cats := make(map[string][]string, len(d.cats)+1)
	for k, v := range d.cats {
		cats[k] = v
	}
	cats[name] = values
	return &Dataset{schema: NewSchema(cols), rows: d.rows, numeric: d.numeric, cats: cats}, nil
}

// TargetVector maps the named column to binary 0/1 labels. Numeric columns map
// nonzero to 1. Categorical columns map the lexicographically first distinct
// value to 0 and every other value to 1.
func (d *Dataset) TargetVector(name string) ([]float64, error) {
	if !d.schema.Has(name) {
		return nil, fmt.Errorf("%w: target %q", ErrColumnNotFound, name)
	}
	if v, ok := d.numeric[name]; ok {
		labels := make([]float64, len(v))
		for i, x := range v {
			if !math.IsNaN(x) && x != 0 {
				labels[i] = 1
			}
		}
		return labels, nil
	}
	v := d.cats[name]
	distinct := make(map[string]bool)
	for _, s := range v {
		if s != "" {
			distinct[s] = true
		}
	}
	keys := make([]string, 0, len(distinct))
	for k := range distinct {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	zero := ""
	if len(keys) > 0 {
		zero = keys[0]
	}
	labels := make([]float64, len(v))
	for i, s := range v {
		if s != zero {
			labels[i] = 1
		}
	}
	return labels, nil
}

// FeatureMatrix assembles the numeric feature columns (excluding the target)
// into row-major vectors, replacing missing values with the column mean.
func (d *Dataset) FeatureMatrix(target string) ([][]float64, []string) {
	names := d.NumericColumnNames(target)
	cols := make([][]float64, len(names))
	for j, name := range names {
		raw := d.numeric[name]
		mean := NanMean(raw)
		filled := make([]float64, len(raw))
		for i, x := range raw {
			if math.IsNaN(x) {
				filled[i] = mean
			} else {
				filled[i] = x
			}
		}
		cols[j] = filled
	}
	rows := make([][]float64, d.rows)
	for i := 0; i < d.rows; i++ {
		row := make([]float64, len(names))
		for j := range names {
			row[j] = cols[j][i]
		}
		rows[i] = row
	}
	return rows, names
}
