package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/mtzanidakis/warroom/internal/tracing"
)

const defaultGeminiURL = "https://generativelanguage.googleapis.com"

type Gemini struct {
	model  string
	apiKey string
	opts   options
}

func NewGemini(apiKey, model string, opts ...Option) *Gemini {
	o := buildOptions(opts)
	o.baseURL = strings.TrimRight(o.baseURL, "/")
	if o.baseURL == "" {
		o.baseURL = defaultGeminiURL
	}
	return &Gemini{model: model, apiKey: apiKey, opts: o}
}

func (g *Gemini) Provider() string { return "gemini" }
func (g *Gemini) Model() string    { return g.model }

func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "backend.generate",
		trace.WithAttributes(
			tracing.StringAttr("backend.provider", "gemini"),
			tracing.StringAttr("backend.model", g.model),
		),
	)
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.opts.maxTokens
	}
	wire := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: &geminiGenerationConfig{
			MaxOutputTokens: maxTokens,
		},
	}
	if req.System != "" {
		wire.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.opts.baseURL, g.model)
	data, err := postJSON(ctx, g.opts.client, url, body, map[string]string{"x-goog-api-key": g.apiKey})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	var gr geminiResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("%w: unmarshal response: %v", ErrProviderError, err)
	}

	var sb strings.Builder
	if len(gr.Candidates) > 0 {
		for _, p := range gr.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	resp := &Response{Text: sb.String()}
	if gr.UsageMetadata != nil {
		resp.Usage = Usage{
			PromptTokens:     gr.UsageMetadata.PromptTokenCount,
			CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gr.UsageMetadata.TotalTokenCount,
		}
	}
	fillUsage(&resp.Usage, req, resp.Text, g.opts.counter)

	span.SetAttributes(
		tracing.IntAttr("backend.prompt_tokens", resp.Usage.PromptTokens),
		tracing.IntAttr("backend.completion_tokens", resp.Usage.CompletionTokens),
	)
	tracing.SetOK(span)
	g.opts.logger.Debug("backend generate completed", "provider", "gemini", "model", g.model, "tokens", resp.Usage.TotalTokens)
	return resp, nil
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}
