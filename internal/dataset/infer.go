package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01/02/2006 15:04:05",
	"02/01/2006",
	"Jan-2006",
	"January 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// IsNullToken reports whether a raw cell should be read as a missing value.
func IsNullToken(raw string) bool {
	switch strings.TrimSpace(raw) {
	case "", "null", "NULL", "Null", "N/A", "n/a", "NA", "NaN", "nan", "None":
		return true
	default:
		return false
	}
}

// InferType picks the narrowest type that every non-null value parses as.
// Mixed columns and columns with no values are text, so no cell is lost.
func InferType(values []string) DType {
	var total, bools, ints, floats, dates int
	for _, raw := range values {
		if IsNullToken(raw) {
			continue
		}
		total++
		v := strings.TrimSpace(raw)
		if _, ok := parseBool(v); ok {
			bools++
		}
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			ints++
			floats++
		} else if _, ok := parseFloat(v); ok {
			floats++
		}
		if _, ok := ParseTime(v); ok {
			dates++
		}
	}
	if total == 0 {
		return TypeText
	}
	switch {
	case bools == total:
		return TypeBoolean
	case ints == total:
		return TypeInteger
	case floats == total:
		return TypeFloat
	case dates == total:
		return TypeDatetime
	default:
		return TypeText
	}
}

// ParseCell converts a raw cell into the Go value for the column type.
// Values that do not parse as the column type become nil.
func ParseCell(raw string, dtype DType) any {
	if IsNullToken(raw) {
		return nil
	}
	v := strings.TrimSpace(raw)
	switch dtype {
	case TypeInteger:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		if f, ok := parseFloat(v); ok {
			return int64(f)
		}
		return nil
	case TypeFloat:
		if f, ok := parseFloat(v); ok {
			return f
		}
		return nil
	case TypeBoolean:
		if b, ok := parseBool(v); ok {
			return b
		}
		return nil
	case TypeDatetime:
		if ts, ok := ParseTime(v); ok {
			return ts
		}
		return nil
	default:
		return raw
	}
}

// ParseTime tries the supported date and timestamp layouts in order.
func ParseTime(raw string) (time.Time, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "yes":
		return true, true
	case "false", "no":
		return false, true
	default:
		return false, false
	}
}

func parseFloat(v string) (float64, bool) {
	cleaned := strings.ReplaceAll(v, ",", "")
	cleaned = strings.TrimPrefix(cleaned, "$")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FormatValue renders a cell for text output such as CSV.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

// JSONValue converts a cell to a value encoding/json can always encode:
// non-finite floats become null and times are rendered as RFC 3339.
func JSONValue(value any) any {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
