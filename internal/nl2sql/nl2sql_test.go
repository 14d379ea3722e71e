package nl2sql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/querydeck/querydeck/internal/completion"
	"github.com/querydeck/querydeck/internal/dataset"
)

type fakeCompletionClient struct {
	text     string
	err      error
	requests []completion.Request
}

func (f *fakeCompletionClient) Complete(_ context.Context, req completion.Request) (completion.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return completion.Response{}, f.err
	}
	return completion.Response{Text: f.text, Model: "fake-model"}, nil
}

func salesDatasets() []dataset.Dataset {
	return []dataset.Dataset{
		{
			Name: "orders",
			Table: dataset.Table{Columns: []dataset.Column{
				{Name: "id", Type: dataset.TypeInteger},
				{Name: "customer_id", Type: dataset.TypeInteger},
				{Name: "amount", Type: dataset.TypeFloat},
			}},
		},
		{
			Name: "customers",
			Table: dataset.Table{Columns: []dataset.Column{
				{Name: "id", Type: dataset.TypeInteger},
				{Name: "region", Type: dataset.TypeText},
			}},
		},
	}
}

func TestSummarizeSchemaOneBlockPerDatasetInOrder(t *testing.T) {
	got := SummarizeSchema(salesDatasets())
	want := "Table: orders\nSchema: id (integer), customer_id (integer), amount (float)\n\n" +
		"Table: customers\nSchema: id (integer), region (text)"
	if got != want {
		t.Fatalf("SummarizeSchema() = %q, want %q", got, want)
	}
	if SummarizeSchema(nil) != "" {
		t.Fatal("expected empty summary for zero datasets")
	}
}

func TestSummarizeSchemaKeepsDuplicateColumns(t *testing.T) {
	got := SummarizeSchema([]dataset.Dataset{{
		Name:  "t",
		Table: dataset.Table{Columns: []dataset.Column{{Name: "a", Type: dataset.TypeText}, {Name: "a", Type: dataset.TypeText}}},
	}})
	if !strings.Contains(got, "a (text), a (text)") {
		t.Fatalf("SummarizeSchema() = %q", got)
	}
}

func TestPromptBuilderJoinSection(t *testing.T) {
	builder, err := NewPromptBuilder("", "")
	if err != nil {
		t.Fatalf("NewPromptBuilder() error = %v", err)
	}
	schema := SummarizeSchema(salesDatasets())

	withoutJoins, err := builder.Build(schema, nil, "total sales by region")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if strings.Contains(withoutJoins, "Join Conditions") {
		t.Fatal("join section should be absent without joins")
	}

	joins := []JoinSpec{
		{LeftTable: "orders", LeftColumn: "customer_id", RightTable: "customers", RightColumn: "id", Kind: JoinInner},
		{LeftTable: "orders", LeftColumn: "id", RightTable: "customers", RightColumn: "id", Kind: JoinFull},
	}
	prompt, err := builder.Build(schema, joins, "total sales by region")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(prompt, "Join Conditions:\n1. orders.customer_id INNER JOIN customers.id\n2. orders.id FULL OUTER JOIN customers.id\n") {
		t.Fatalf("unexpected join section:\n%s", prompt)
	}

	tableLines := 0
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "Table: ") {
			tableLines++
		}
	}
	if tableLines != 2 {
		t.Fatalf("Table: lines = %d, want 2", tableLines)
	}
	for _, fragment := range []string{
		"Natural Language Query: total sales by region",
		"5. Return only the SQL query without explanation",
		"6. Optimize for performance",
	} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, prompt)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(prompt), "SQL Query:") {
		t.Fatalf("prompt should end with SQL cue:\n%s", prompt)
	}
}

func TestPromptBuilderRejectsBlankQuestion(t *testing.T) {
	builder, _ := NewPromptBuilder("", "")
	if _, err := builder.Build("", nil, "   "); !errors.Is(err, ErrQuestionRequired) {
		t.Fatalf("Build() error = %v, want ErrQuestionRequired", err)
	}
}

func TestPromptBuilderCustomTemplateAndDialect(t *testing.T) {
	builder, err := NewPromptBuilder("{{.Dialect}}|{{.Question}}|{{len .Joins}}", "DuckDB")
	if err != nil {
		t.Fatalf("NewPromptBuilder() error = %v", err)
	}
	got, err := builder.Build("", []JoinSpec{{LeftTable: "a", LeftColumn: "x", RightTable: "b", RightColumn: "y"}}, "q")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got != "DuckDB|q|1" {
		t.Fatalf("Build() = %q", got)
	}
	if _, err := NewPromptBuilder("{{.Broken", ""); err == nil {
		t.Fatal("expected template parse error")
	}
}

func TestExtractSQL(t *testing.T) {
	cases := map[string]string{
		"```sql\nSELECT 1\n```":                        "SELECT 1",
		"SELECT 1":                                     "SELECT 1",
		"  SELECT 1  \n":                               "SELECT 1",
		"Here you go:\n```SQL\nSELECT 2\n```\nthanks":  "SELECT 2",
		"```sql\nSELECT 1\n```\n```sql\nSELECT 2\n```": "SELECT 1",
		"```\nSELECT 3\n```":                           "SELECT 3",
		"```sql\nSELECT 4":                             "SELECT 4",
		"```sql\n```":                                  "",
		"SELECT a FROM t WHERE b = 'x'```":             "SELECT a FROM t WHERE b = 'x'",
		"```sqlite\nSELECT 5\n```":                     "SELECT 5",
		"```postgresql\nSELECT 6\n```":                 "SELECT 6",
		"```duckdb\r\nSELECT 7\r\n```":                 "SELECT 7",
		"```sql SELECT 8```":                           "SELECT 8",
		"```SELECT\n  a FROM t\n```":                   "SELECT\n  a FROM t",
		"```SELECT 9```":                               "SELECT 9",
		"```postgresql\nSELECT 10":                     "SELECT 10",
	}
	for raw, want := range cases {
		if got := ExtractSQL(raw); got != want {
			t.Fatalf("ExtractSQL(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestParseJoinKind(t *testing.T) {
	cases := map[string]JoinKind{
		"inner":           JoinInner,
		"LEFT JOIN":       JoinLeft,
		"right":           JoinRight,
		"Full Outer Join": JoinFull,
		"full":            JoinFull,
	}
	for raw, want := range cases {
		got, err := ParseJoinKind(raw)
		if err != nil || got != want {
			t.Fatalf("ParseJoinKind(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseJoinKind("cross"); err == nil {
		t.Fatal("expected error for cross join")
	}
}

func TestCheckJoins(t *testing.T) {
	joins := []JoinSpec{{LeftTable: "orders", LeftColumn: "customer_id", RightTable: "customers", RightColumn: "id", Kind: JoinLeft}}
	if got := CheckJoins("SELECT * FROM orders o JOIN customers c ON o.customer_id = c.id", joins); len(got) != 0 {
		t.Fatalf("CheckJoins() = %v, want none", got)
	}
	if got := CheckJoins("SELECT * FROM orders", joins); len(got) != 1 {
		t.Fatalf("CheckJoins() = %v, want one warning", got)
	}
}

func TestGeneratorProducesGeneratedQuery(t *testing.T) {
	client := &fakeCompletionClient{text: "```sql\nSELECT region, SUM(amount) FROM orders GROUP BY region\n```"}
	generator, err := NewGenerator(client, nil, GeneratorConfig{Model: "m", MaxTokens: 4000, Temperature: 0.7, TopP: 0.9})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	query, err := generator.Generate(context.Background(), GenerateRequest{
		SessionID: "s1",
		Question:  "total sales by region",
		Datasets:  salesDatasets(),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if query.SQL != "SELECT region, SUM(amount) FROM orders GROUP BY region" {
		t.Fatalf("SQL = %q", query.SQL)
	}
	if query.ID == "" || query.SessionID != "s1" || query.Model != "fake-model" || query.CreatedAt.IsZero() {
		t.Fatalf("unexpected query metadata: %#v", query)
	}
	if len(client.requests) != 1 {
		t.Fatalf("completion calls = %d", len(client.requests))
	}
	sent := client.requests[0]
	if len(sent.Messages) != 1 || sent.Messages[0].Role != completion.RoleUser || sent.Messages[0].Content != query.Prompt {
		t.Fatalf("unexpected completion request: %#v", sent)
	}
	if sent.MaxTokens != 4000 || sent.TopP != 0.9 {
		t.Fatalf("sampling params not forwarded: %#v", sent)
	}
}

func TestGeneratorErrors(t *testing.T) {
	generator, _ := NewGenerator(&fakeCompletionClient{err: errors.New("network down")}, nil, GeneratorConfig{})
	_, err := generator.Generate(context.Background(), GenerateRequest{Question: "q"})
	if !errors.Is(err, completion.ErrCompletionFailed) {
		t.Fatalf("Generate() error = %v, want ErrCompletionFailed", err)
	}

	generator, _ = NewGenerator(&fakeCompletionClient{text: "```sql\n```"}, nil, GeneratorConfig{})
	if _, err := generator.Generate(context.Background(), GenerateRequest{Question: "q"}); !errors.Is(err, ErrEmptySQL) {
		t.Fatalf("Generate() error = %v, want ErrEmptySQL", err)
	}

	client := &fakeCompletionClient{text: "SELECT 1"}
	generator, _ = NewGenerator(client, nil, GeneratorConfig{})
	if _, err := generator.Generate(context.Background(), GenerateRequest{Question: ""}); !errors.Is(err, ErrQuestionRequired) {
		t.Fatalf("Generate() error = %v, want ErrQuestionRequired", err)
	}
	if len(client.requests) != 0 {
		t.Fatal("completion backend must not be called for an empty question")
	}
}
