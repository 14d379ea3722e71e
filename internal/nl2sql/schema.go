package nl2sql

import (
	"strings"

	"github.com/querydeck/querydeck/internal/dataset"
)

// SummarizeSchema renders one "Table:/Schema:" block per dataset, in input
// order, separated by blank lines.
func SummarizeSchema(datasets []dataset.Dataset) string {
	blocks := make([]string, 0, len(datasets))
	for _, ds := range datasets {
		columns := make([]string, 0, len(ds.Table.Columns))
		for _, column := range ds.Table.Columns {
			columns = append(columns, column.Name+" ("+column.Type.String()+")")
		}
		blocks = append(blocks, "Table: "+ds.Name+"\nSchema: "+strings.Join(columns, ", "))
	}
	return strings.Join(blocks, "\n\n")
}
