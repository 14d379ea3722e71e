package profile

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/querydeck/querydeck/internal/dataset"
)

type ColumnProfile struct {
	Name        string        `json:"name"`
	Type        dataset.DType `json:"type"`
	NonNull     int           `json:"non_null"`
	Nulls       int           `json:"nulls"`
	NullPercent float64       `json:"null_percent"`
	Unique      int           `json:"unique"`
	Sample      any           `json:"sample"`
	Negatives   int           `json:"negatives,omitempty"`
}

// NumericSummary mirrors the usual describe() statistics. Std is the sample
// standard deviation (0 for a single value); quantiles use linear
// interpolation.
type NumericSummary struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	P25    float64 `json:"p25"`
	P50    float64 `json:"p50"`
	P75    float64 `json:"p75"`
	Max    float64 `json:"max"`
}

type Report struct {
	Rows          int              `json:"rows"`
	Columns       int              `json:"columns"`
	DuplicateRows int              `json:"duplicate_rows"`
	ColumnStats   []ColumnProfile  `json:"column_stats"`
	Numeric       []NumericSummary `json:"numeric"`
	Issues        []string         `json:"issues"`
}

func Build(table dataset.Table) Report {
	report := Report{
		Rows:          table.RowCount(),
		Columns:       len(table.Columns),
		DuplicateRows: duplicateRows(table),
		ColumnStats:   make([]ColumnProfile, 0, len(table.Columns)),
		Issues:        []string{},
	}

	for i, column := range table.Columns {
		values := table.Values(i)
		stats := ColumnProfile{Name: column.Name, Type: column.Type}
		distinct := map[string]struct{}{}
		for _, value := range values {
			if value == nil {
				stats.Nulls++
				continue
			}
			stats.NonNull++
			if stats.Sample == nil {
				stats.Sample = dataset.JSONValue(value)
			}
			distinct[dataset.FormatValue(value)] = struct{}{}
			if f, ok := numeric(value); ok && f < 0 {
				stats.Negatives++
			}
		}
		stats.Unique = len(distinct)
		if len(values) > 0 {
			stats.NullPercent = round2(float64(stats.Nulls) * 100 / float64(len(values)))
		}
		report.ColumnStats = append(report.ColumnStats, stats)

		if stats.Nulls > 0 {
			report.Issues = append(report.Issues, fmt.Sprintf("%s: %d missing values (%.2f%%)", column.Name, stats.Nulls, stats.NullPercent))
		}
		if column.Type.Numeric() && stats.Negatives > 0 {
			report.Issues = append(report.Issues, fmt.Sprintf("%s: %d negative values", column.Name, stats.Negatives))
		}
		if column.Type.Numeric() {
			if summary, ok := Describe(column.Name, values); ok {
				report.Numeric = append(report.Numeric, summary.Rounded())
			}
		}
	}
	if report.DuplicateRows > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d duplicate rows", report.DuplicateRows))
	}
	return report
}

// Describe summarizes the numeric values of one column. It reports false
// when the column has no numeric values.
func Describe(name string, values []any) (NumericSummary, bool) {
	nums := make([]float64, 0, len(values))
	for _, value := range values {
		if f, ok := numeric(value); ok {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		return NumericSummary{}, false
	}
	sort.Float64s(nums)

	var mean float64
	for i, f := range nums {
		mean += (f - mean) / float64(i+1)
	}
	var std float64
	if len(nums) > 1 {
		var sq float64
		for _, f := range nums {
			sq += (f - mean) * (f - mean)
		}
		std = math.Sqrt(sq / float64(len(nums)-1))
	}
	return NumericSummary{
		Column: name,
		Count:  len(nums),
		Mean:   mean,
		Std:    std,
		Min:    nums[0],
		P25:    quantile(nums, 0.25),
		P50:    quantile(nums, 0.5),
		P75:    quantile(nums, 0.75),
		Max:    nums[len(nums)-1],
	}, true
}

// Rounded returns the summary with every statistic rounded to 2 decimals.
func (s NumericSummary) Rounded() NumericSummary {
	s.Mean = round2(s.Mean)
	s.Std = round2(s.Std)
	s.Min = round2(s.Min)
	s.P25 = round2(s.P25)
	s.P50 = round2(s.P50)
	s.P75 = round2(s.P75)
	s.Max = round2(s.Max)
	return s
}

// DescribeTable returns a summary for every numeric column, in column order.
func DescribeTable(table dataset.Table) []NumericSummary {
	var out []NumericSummary
	for i, column := range table.Columns {
		if !column.Type.Numeric() {
			continue
		}
		if summary, ok := Describe(column.Name, table.Values(i)); ok {
			out = append(out, summary)
		}
	}
	return out
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	frac := pos - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

func duplicateRows(table dataset.Table) int {
	seen := make(map[string]struct{}, len(table.Rows))
	duplicates := 0
	for _, row := range table.Rows {
		parts := make([]string, len(row))
		for i, value := range row {
			if value == nil {
				parts[i] = "\x00"
				continue
			}
			parts[i] = dataset.FormatValue(value)
		}
		key := strings.Join(parts, "\x1f")
		if _, ok := seen[key]; ok {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
	}
	return duplicates
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
