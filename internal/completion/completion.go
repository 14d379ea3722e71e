package completion

import (
	"context"
	"errors"
)

// ErrCompletionFailed wraps every failure of the completion backend:
// transport, non-2xx status, undecodable body or empty choices.
var ErrCompletionFailed = errors.New("completion failed")

const RoleUser = "user"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	TopP        float64
}

type Response struct {
	Text         string
	Model        string
	FinishReason string
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// UserPrompt builds a request carrying the prompt as its only user message.
func UserPrompt(prompt string) Request {
	return Request{Messages: []Message{{Role: RoleUser, Content: prompt}}}
}
