// Package backend is the text-generation boundary agents talk through. It
// hides provider selection, wire formats and usage accounting.
package backend

import (
	"context"
	"errors"
)

var (
	ErrUnconfigured  = errors.New("no backend configured")
	ErrUnavailable   = errors.New("backend unavailable")
	ErrRateLimited   = errors.New("backend rate limited")
	ErrProviderError = errors.New("backend provider error")
)

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	Requests         int `json:"requests"`
}

func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
	u.Requests += o.Requests
}

type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

type Response struct {
	Text  string
	Usage Usage
}

// Backend generates text for one request. Implementations map provider
// failures onto ErrUnavailable, ErrRateLimited or ErrProviderError.
type Backend interface {
	Provider() string
	Model() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Embedder turns texts into vectors for memory recall.
type Embedder interface {
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Identity is the provider/model pair that keys per-model state.
func Identity(b Backend) string {
	return b.Provider() + "/" + b.Model()
}

// Retryable reports whether err is worth another attempt after a pause.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
