package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/querydeck/querydeck/internal/completion"
	"github.com/querydeck/querydeck/internal/dataset"
)

// GeneratedQuery is the record of one generation. It is created once and
// never modified.
type GeneratedQuery struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Question      string    `json:"question"`
	Prompt        string    `json:"prompt"`
	RawCompletion string    `json:"raw_completion"`
	SQL           string    `json:"sql"`
	Model         string    `json:"model"`
	CreatedAt     time.Time `json:"created_at"`
}

type GenerateRequest struct {
	SessionID string
	Question  string
	Datasets  []dataset.Dataset
	Joins     []JoinSpec
}

type GeneratorConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

type Generator struct {
	client  completion.Client
	prompts *PromptBuilder
	cfg     GeneratorConfig
	now     func() time.Time
}

func NewGenerator(client completion.Client, prompts *PromptBuilder, cfg GeneratorConfig) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if prompts == nil {
		var err error
		prompts, err = NewPromptBuilder("", "")
		if err != nil {
			return nil, err
		}
	}
	return &Generator{client: client, prompts: prompts, cfg: cfg, now: time.Now}, nil
}

// Generate summarizes the datasets, builds the prompt, asks the completion
// backend and extracts the SQL from its reply.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (GeneratedQuery, error) {
	prompt, err := g.prompts.Build(SummarizeSchema(req.Datasets), req.Joins, req.Question)
	if err != nil {
		return GeneratedQuery{}, err
	}

	completionReq := completion.UserPrompt(prompt)
	completionReq.Model = g.cfg.Model
	completionReq.MaxTokens = g.cfg.MaxTokens
	completionReq.Temperature = g.cfg.Temperature
	completionReq.TopP = g.cfg.TopP

	resp, err := g.client.Complete(ctx, completionReq)
	if err != nil {
		if errors.Is(err, completion.ErrCompletionFailed) {
			return GeneratedQuery{}, err
		}
		return GeneratedQuery{}, fmt.Errorf("%w: %w", completion.ErrCompletionFailed, err)
	}

	sql := ExtractSQL(resp.Text)
	if sql == "" {
		return GeneratedQuery{}, ErrEmptySQL
	}

	model := resp.Model
	if model == "" {
		model = g.cfg.Model
	}
	return GeneratedQuery{
		ID:            ulid.Make().String(),
		SessionID:     req.SessionID,
		Question:      req.Question,
		Prompt:        prompt,
		RawCompletion: resp.Text,
		SQL:           sql,
		Model:         model,
		CreatedAt:     g.now().UTC(),
	}, nil
}
