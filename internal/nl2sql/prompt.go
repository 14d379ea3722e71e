package nl2sql

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
)

var ErrQuestionRequired = errors.New("question is required")

//go:embed templates/prompt.tmpl
var defaultPromptTemplate string

// PromptData is what a prompt template is executed with. Joins are already
// rendered as "<table>.<col> <JOIN KIND> <table>.<col>".
type PromptData struct {
	Schema   string
	Joins    []string
	Question string
	Dialect  string
}

type PromptBuilder struct {
	tmpl    *template.Template
	dialect string
}

// NewPromptBuilder parses text as a prompt template. An empty text selects
// the built-in template.
func NewPromptBuilder(text, dialect string) (*PromptBuilder, error) {
	if strings.TrimSpace(text) == "" {
		text = defaultPromptTemplate
	}
	tmpl, err := template.New("prompt").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &PromptBuilder{tmpl: tmpl, dialect: strings.TrimSpace(dialect)}, nil
}

func NewPromptBuilderFromFile(path, dialect string) (*PromptBuilder, error) {
	if strings.TrimSpace(path) == "" {
		return NewPromptBuilder("", dialect)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	return NewPromptBuilder(string(raw), dialect)
}

func (b *PromptBuilder) Build(schema string, joins []JoinSpec, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrQuestionRequired
	}
	data := PromptData{
		Schema:   schema,
		Question: question,
		Dialect:  b.dialect,
	}
	for _, join := range joins {
		data.Joins = append(data.Joins, join.String())
	}

	var out strings.Builder
	if err := b.tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out.String(), nil
}
