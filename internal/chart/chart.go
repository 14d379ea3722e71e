package chart

import (
	"math"
	"sort"
	"strings"

	"github.com/querydeck/querydeck/internal/dataset"
)

type Kind string

const (
	KindBar        Kind = "bar"
	KindLine       Kind = "line"
	KindScatter    Kind = "scatter"
	KindPie        Kind = "pie"
	KindBox        Kind = "box"
	KindHistogram  Kind = "histogram"
	KindHeatmap    Kind = "heatmap"
	KindTimeSeries Kind = "time_series"
)

const (
	barColorMaxRows = 50
	histogramBins   = 30
	pieMaxSlices    = 10
)

type Slice struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Matrix is a square correlation matrix over Labels. Cells that cannot be
// computed are nil.
type Matrix struct {
	Labels []string     `json:"labels"`
	Values [][]*float64 `json:"values"`
}

// Spec describes one chart for an external renderer. Only the fields that
// apply to Kind are set.
type Spec struct {
	Kind   Kind     `json:"kind"`
	Title  string   `json:"title"`
	X      string   `json:"x,omitempty"`
	Y      string   `json:"y,omitempty"`
	Series []string `json:"series,omitempty"`
	Color  string   `json:"color,omitempty"`
	Size   string   `json:"size,omitempty"`
	Bins   int      `json:"bins,omitempty"`
	Slices []Slice  `json:"slices,omitempty"`
	Matrix *Matrix  `json:"matrix,omitempty"`
}

// Classification partitions result columns. Every column lands in at most
// one class; boolean columns land in none.
type Classification struct {
	Numeric     []string
	Categorical []string
	Datetime    []string
}

func Classify(table dataset.Table) Classification {
	var out Classification
	for i, column := range table.Columns {
		switch {
		case column.Type.Numeric():
			out.Numeric = append(out.Numeric, column.Name)
		case column.Type == dataset.TypeDatetime:
			out.Datetime = append(out.Datetime, column.Name)
		case column.Type == dataset.TypeText && looksTemporal(column.Name, table.Values(i)):
			out.Datetime = append(out.Datetime, column.Name)
		case column.Type == dataset.TypeText:
			out.Categorical = append(out.Categorical, column.Name)
		}
	}
	return out
}

// looksTemporal accepts text columns named like a date or time whose
// non-null values all parse as timestamps.
func looksTemporal(name string, values []any) bool {
	lower := strings.ToLower(name)
	if !strings.Contains(lower, "date") && !strings.Contains(lower, "time") {
		return false
	}
	seen := 0
	for _, value := range values {
		if value == nil {
			continue
		}
		text, ok := value.(string)
		if !ok {
			return false
		}
		if _, ok := dataset.ParseTime(text); !ok {
			return false
		}
		seen++
	}
	return seen > 0
}

// Select proposes charts for a result table. The order of the returned
// specs is fixed: bar, line, scatter, pie, box, histogram, heatmap,
// time_series, each emitted only when its columns are present.
func Select(table dataset.Table) []Spec {
	if table.RowCount() == 0 {
		return []Spec{}
	}
	cls := Classify(table)
	num, cat, dt := cls.Numeric, cls.Categorical, cls.Datetime
	specs := make([]Spec, 0, 8)

	if len(cat) > 0 && len(num) > 0 {
		spec := Spec{Kind: KindBar, Title: num[0] + " by " + cat[0], X: cat[0], Y: num[0]}
		if table.RowCount() < barColorMaxRows {
			spec.Color = cat[0]
		}
		specs = append(specs, spec)
	}
	if len(num) >= 2 {
		series := num
		if len(series) > 3 {
			series = series[:3]
		}
		spec := Spec{Kind: KindLine, Title: "Trend of " + strings.Join(series, ", "), Series: append([]string(nil), series...)}
		if len(dt) > 0 {
			spec.X = dt[0]
		}
		specs = append(specs, spec)

		scatter := Spec{Kind: KindScatter, Title: num[1] + " vs " + num[0], X: num[0], Y: num[1]}
		if len(num) > 2 {
			scatter.Size = num[2]
		}
		if len(cat) > 0 {
			scatter.Color = cat[0]
		}
		specs = append(specs, scatter)
	}
	if len(cat) > 0 {
		specs = append(specs, Spec{
			Kind:   KindPie,
			Title:  "Distribution of " + cat[0],
			X:      cat[0],
			Slices: valueCounts(table.Values(table.ColumnIndex(cat[0])), pieMaxSlices),
		})
	}
	if len(num) > 0 {
		box := Spec{Kind: KindBox, Title: "Distribution of " + num[0], Y: num[0]}
		if len(cat) > 0 {
			box.X = cat[0]
			box.Color = cat[0]
		}
		specs = append(specs, box)
		specs = append(specs, Spec{Kind: KindHistogram, Title: "Histogram of " + num[0], X: num[0], Bins: histogramBins})
	}
	if len(num) >= 2 {
		specs = append(specs, Spec{Kind: KindHeatmap, Title: "Correlation matrix", Matrix: correlation(table, num)})
	}
	if len(dt) > 0 && len(num) > 0 {
		specs = append(specs, Spec{Kind: KindTimeSeries, Title: num[0] + " over " + dt[0], X: dt[0], Y: num[0]})
	}
	return specs
}

// valueCounts returns the most frequent labels, ties broken by first
// appearance. Nulls are skipped.
func valueCounts(values []any, limit int) []Slice {
	counts := map[string]int{}
	order := []string{}
	for _, value := range values {
		if value == nil {
			continue
		}
		label := dataset.FormatValue(value)
		if _, ok := counts[label]; !ok {
			order = append(order, label)
		}
		counts[label]++
	}
	slices := make([]Slice, 0, len(order))
	for _, label := range order {
		slices = append(slices, Slice{Label: label, Count: counts[label]})
	}
	sort.SliceStable(slices, func(i, j int) bool { return slices[i].Count > slices[j].Count })
	if len(slices) > limit {
		slices = slices[:limit]
	}
	return slices
}

func correlation(table dataset.Table, columns []string) *Matrix {
	series := make([][]*float64, len(columns))
	for i, name := range columns {
		values := table.Values(table.ColumnIndex(name))
		series[i] = make([]*float64, len(values))
		for j, value := range values {
			if f, ok := toFloat(value); ok {
				v := f
				series[i][j] = &v
			}
		}
	}
	matrix := &Matrix{Labels: append([]string(nil), columns...), Values: make([][]*float64, len(columns))}
	for i := range columns {
		matrix.Values[i] = make([]*float64, len(columns))
		for j := range columns {
			if r, ok := pearson(series[i], series[j]); ok {
				v := r
				matrix.Values[i][j] = &v
			}
		}
	}
	return matrix
}

// pearson uses pairwise-complete observations.
func pearson(a, b []*float64) (float64, bool) {
	var n, sumA, sumB float64
	for i := range a {
		if a[i] == nil || b[i] == nil {
			continue
		}
		n++
		sumA += *a[i]
		sumB += *b[i]
	}
	if n < 2 {
		return 0, false
	}
	meanA, meanB := sumA/n, sumB/n
	var cov, varA, varB float64
	for i := range a {
		if a[i] == nil || b[i] == nil {
			continue
		}
		da, db := *a[i]-meanA, *b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	r := cov / math.Sqrt(varA*varB)
	if math.IsNaN(r) {
		return 0, false
	}
	return r, true
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
