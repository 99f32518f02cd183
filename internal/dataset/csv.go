package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// LoadCSV reads a headered CSV file into a Dataset, inferring column types. A
// column is numeric when every non-empty cell parses as a float.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV reads headered CSV content from r into a Dataset.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("empty CSV header")
	}

	raw := make([][]string, len(header))
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		for j, cell := range record {
			raw[j] = append(raw[j], strings.TrimSpace(cell))
		}
	}
	rows := 0
	if len(raw) > 0 {
		rows = len(raw[0])
	}

	columns := make([]Column, len(header))
	numeric := make(map[string][]float64)
	cats := make(map[string][]string)
	for j, name := range header {
		if isNumericColumn(raw[j]) {
			vals := make([]float64, rows)
			for i, cell := range raw[j] {
				if cell == "" {
					vals[i] = math.NaN()
					continue
				}
				x, _ := strconv.ParseFloat(cell, 64)
				vals[i] = x
			}
			columns[j] = Column{Name: name, Type: Numeric}
			numeric[name] = vals
		} else {
			columns[j] = Column{Name: name, Type: Categorical}
			cats[name] = append([]string(nil), raw[j]...)
		}
	}

	return New(NewSchema(columns), rows, numeric, cats)
}

func isNumericColumn(cells []string) bool {
	nonEmpty := 0
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		nonEmpty++
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return false
		}
	}
	return nonEmpty > 0
}
