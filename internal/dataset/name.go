package dataset

import (
	"path/filepath"
	"strings"
)

var knownExtensions = []string{".csv", ".tsv", ".xlsx", ".xlsm", ".xls", ".parquet"}

// reservedWords cannot appear unquoted as a table name in DuckDB: the
// reserved and type/function-name keywords of duckdb_keywords().
var reservedWords = map[string]bool{}

func init() {
	for _, word := range strings.Fields(`
		all analyse analyze and any array as asc asymmetric both case cast check
		collate column constraint create default deferrable desc describe distinct
		do else end except false fetch for foreign from grant group having in
		initially intersect into lambda lateral leading limit not null offset on
		only or order pivot pivot_longer pivot_wider placing primary qualify
		references returning select show some summarize symmetric table then to
		trailing true union unique unpivot using variadic when where window with
		anti asof authorization binary collation concurrently cross freeze full
		generated glob ilike inner is isnull join left like map natural notnull
		outer overlaps positional right semi similar struct tablesample try_cast
		verbose`) {
		reservedWords[word] = true
	}
}

// SanitizeName turns a file name or user supplied label into a lowercase
// identifier that can be used unquoted as a table name.
func SanitizeName(raw string) string {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(raw, "\\", "/")))
	if name == "." || name == "/" {
		name = ""
	}
	lower := strings.ToLower(name)
	for _, ext := range knownExtensions {
		if strings.HasSuffix(lower, ext) {
			lower = strings.TrimSuffix(lower, ext)
			break
		}
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	switch {
	case out == "":
		return "dataset"
	case out[0] >= '0' && out[0] <= '9':
		return "t_" + out
	case reservedWords[out]:
		return out + "_t"
	}
	return out
}
