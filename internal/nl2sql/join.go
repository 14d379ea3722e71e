package nl2sql

import (
	"fmt"
	"regexp"
	"strings"
)

type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinRight JoinKind = "right"
	JoinFull  JoinKind = "full"
)

func ParseJoinKind(raw string) (JoinKind, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	normalized = strings.TrimSuffix(normalized, " join")
	switch normalized {
	case "", "inner":
		return JoinInner, nil
	case "left", "left outer":
		return JoinLeft, nil
	case "right", "right outer":
		return JoinRight, nil
	case "full", "full outer", "outer":
		return JoinFull, nil
	default:
		return "", fmt.Errorf("invalid join kind %q", raw)
	}
}

func (k JoinKind) SQL() string {
	switch k {
	case JoinLeft:
		return "LEFT JOIN"
	case JoinRight:
		return "RIGHT JOIN"
	case JoinFull:
		return "FULL OUTER JOIN"
	default:
		return "INNER JOIN"
	}
}

// JoinSpec is a declared relationship between two datasets. It is only ever
// rendered into the prompt; nothing forces the generated SQL to follow it.
type JoinSpec struct {
	LeftTable   string   `json:"left_table"`
	LeftColumn  string   `json:"left_column"`
	RightTable  string   `json:"right_table"`
	RightColumn string   `json:"right_column"`
	Kind        JoinKind `json:"kind"`
}

func (j JoinSpec) Validate() error {
	if strings.TrimSpace(j.LeftTable) == "" || strings.TrimSpace(j.LeftColumn) == "" {
		return fmt.Errorf("left table and column are required")
	}
	if strings.TrimSpace(j.RightTable) == "" || strings.TrimSpace(j.RightColumn) == "" {
		return fmt.Errorf("right table and column are required")
	}
	if _, err := ParseJoinKind(string(j.Kind)); err != nil {
		return err
	}
	return nil
}

// String renders the prompt line, e.g. "orders.customer_id LEFT JOIN customers.id".
func (j JoinSpec) String() string {
	return fmt.Sprintf("%s.%s %s %s.%s", j.LeftTable, j.LeftColumn, j.Kind.SQL(), j.RightTable, j.RightColumn)
}

// CheckJoins lists the declared joins whose tables are not both referenced
// by the SQL. The result is advisory only.
func CheckJoins(sql string, joins []JoinSpec) []string {
	var warnings []string
	for _, join := range joins {
		if !mentionsIdent(sql, join.LeftTable) || !mentionsIdent(sql, join.RightTable) {
			warnings = append(warnings, fmt.Sprintf("generated SQL does not reference both tables of join %q", join.String()))
		}
	}
	return warnings
}

func mentionsIdent(sql, ident string) bool {
	pattern := `(?i)(^|[^a-z0-9_])"?` + regexp.QuoteMeta(ident) + `"?($|[^a-z0-9_])`
	matched, err := regexp.MatchString(pattern, sql)
	return err == nil && matched
}
