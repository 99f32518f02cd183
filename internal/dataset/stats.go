package dataset

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// NanMean returns the mean of the non-NaN values, or 0 for an all-missing column.
func NanMean(values []float64) float64 {
	sum, n := 0.0, 0
	for _, x := range values {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// NanStdDev returns the population standard deviation of the non-NaN values.
func NanStdDev(values []float64) float64 {
	mean := NanMean(values)
	sum, n := 0.0, 0
	for _, x := range values {
		if !math.IsNaN(x) {
			d := x - mean
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// Skewness returns the sample skewness of the non-NaN values.
func Skewness(values []float64) float64 {
	mean := NanMean(values)
	sd := NanStdDev(values)
	if sd == 0 {
		return 0
	}
	sum, n := 0.0, 0
	for _, x := range values {
		if !math.IsNaN(x) {
			z := (x - mean) / sd
			sum += z * z * z
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// MissingCount counts NaN entries in a numeric column.
func MissingCount(values []float64) int {
	n := 0
	for _, x := range values {
		if math.IsNaN(x) {
			n++
		}
	}
	return n
}

// MissingCountStrings counts empty entries in a categorical column.
func MissingCountStrings(values []string) int {
	n := 0
	for _, s := range values {
		if s == "" {
			n++
		}
	}
	return n
}

// OutlierCountIQR counts values outside [Q1-1.5*IQR, Q3+1.5*IQR], skipping NaN.
func OutlierCountIQR(values []float64) int {
	clean := make([]float64, 0, len(values))
	for _, x := range values {
		if !math.IsNaN(x) {
			clean = append(clean, x)
		}
	}
	if len(clean) < 4 {
		return 0
	}
	sort.Float64s(clean)
	q1 := quantile(clean, 0.25)
	q3 := quantile(clean, 0.75)
	iqr := q3 - q1
	lo, hi := q1-1.5*iqr, q3+1.5*iqr
	n := 0
	for _, x := range clean {
		if x < lo || x > hi {
			n++
		}
	}
	return n
}

// quantile interpolates the q-quantile of sorted values.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Cardinality counts distinct non-missing values in a categorical column.
func Cardinality(values []string) int {
	distinct := make(map[string]bool)
	for _, s := range values {
		if s != "" {
			distinct[s] = true
		}
	}
	return len(distinct)
}

// ClassShares returns the share of each label among binary 0/1 labels.
func ClassShares(labels []float64) (zeroShare, oneShare float64) {
	if len(labels) == 0 {
		return 0, 0
	}
	ones := 0
	for _, y := range labels {
		if y == 1 {
			ones++
		}
	}
	oneShare = float64(ones) / float64(len(labels))
	return 1 - oneShare, oneShare
}

// MinorityShare returns the smaller class share of binary labels.
func MinorityShare(labels []float64) float64 {
	z, o := ClassShares(labels)
	return math.Min(z, o)
}

// DuplicateRowCount counts rows that are exact duplicates of an earlier row.
func DuplicateRowCount(d *Dataset) int {
	seen := make(map[string]bool, d.Rows())
	dups := 0
	var sb strings.Builder
	for i := 0; i < d.Rows(); i++ {
		sb.Reset()
		for _, c := range d.schema.columns {
			switch c.Type {
			case Numeric:
				sb.WriteString(strconv.FormatFloat(d.numeric[c.Name][i], 'g', -1, 64))
			case Categorical:
				sb.WriteString(d.cats[c.Name][i])
			}
			sb.WriteByte('\x1f')
		}
		key := sb.String()
		if seen[key] {
			dups++
		} else {
			seen[key] = true
		}
	}
	return dups
}
