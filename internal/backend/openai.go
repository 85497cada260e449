package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/mtzanidakis/warroom/internal/tracing"
)

const defaultOpenAIURL = "https://api.openai.com/v1"

// OpenAI speaks the chat completions API, which also covers compatible
// servers reached through a custom base URL.
type OpenAI struct {
	model  string
	apiKey string
	opts   options
}

func NewOpenAI(apiKey, model string, opts ...Option) *OpenAI {
	o := buildOptions(opts)
	o.baseURL = strings.TrimRight(o.baseURL, "/")
	if o.baseURL == "" {
		o.baseURL = defaultOpenAIURL
	}
	return &OpenAI{model: model, apiKey: apiKey, opts: o}
}

func (p *OpenAI) Provider() string { return "openai" }
func (p *OpenAI) Model() string    { return p.model }

func (p *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "backend.generate",
		trace.WithAttributes(
			tracing.StringAttr("backend.provider", "openai"),
			tracing.StringAttr("backend.model", p.model),
		),
	)
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.opts.maxTokens
	}
	wire := openaiRequest{Model: p.model, MaxTokens: maxTokens}
	if req.System != "" {
		wire.Messages = append(wire.Messages, openaiMessage{Role: "system", Content: req.System})
	}
	wire.Messages = append(wire.Messages, openaiMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(wire)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	data, err := postJSON(ctx, p.opts.client, p.opts.baseURL+"/chat/completions", body, headers)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	var or openaiResponse
	if err := json.Unmarshal(data, &or); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("%w: unmarshal response: %v", ErrProviderError, err)
	}
	if len(or.Choices) == 0 {
		err := fmt.Errorf("%w: response has no choices", ErrProviderError)
		tracing.RecordError(span, err)
		return nil, err
	}

	resp := &Response{
		Text: or.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     or.Usage.PromptTokens,
			CompletionTokens: or.Usage.CompletionTokens,
			TotalTokens:      or.Usage.TotalTokens,
		},
	}
	fillUsage(&resp.Usage, req, resp.Text, p.opts.counter)

	span.SetAttributes(
		tracing.IntAttr("backend.prompt_tokens", resp.Usage.PromptTokens),
		tracing.IntAttr("backend.completion_tokens", resp.Usage.CompletionTokens),
	)
	tracing.SetOK(span)
	p.opts.logger.Debug("backend generate completed", "provider", "openai", "model", p.model, "tokens", resp.Usage.TotalTokens)
	return resp, nil
}

type openaiRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message openaiMessage `json:"message"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
