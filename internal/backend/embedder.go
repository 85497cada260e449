package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type GeminiEmbedder struct {
	model  string
	apiKey string
	opts   options
}

func NewGeminiEmbedder(apiKey, model string, opts ...Option) *GeminiEmbedder {
	o := buildOptions(opts)
	o.baseURL = strings.TrimRight(o.baseURL, "/")
	if o.baseURL == "" {
		o.baseURL = defaultGeminiURL
	}
	return &GeminiEmbedder{model: model, apiKey: apiKey, opts: o}
}

func (e *GeminiEmbedder) Model() string { return e.model }

func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqs := make([]geminiEmbedRequest, len(texts))
	for i, t := range texts {
		reqs[i] = geminiEmbedRequest{
			Model:   "models/" + e.model,
			Content: geminiContent{Parts: []geminiPart{{Text: t}}},
		}
	}
	body, err := json.Marshal(geminiBatchEmbedRequest{Requests: reqs})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:batchEmbedContents", e.opts.baseURL, e.model)
	data, err := postJSON(ctx, e.opts.client, url, body, map[string]string{"x-goog-api-key": e.apiKey})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	var resp geminiBatchEmbedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal embed response: %v", ErrProviderError, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderError, len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []geminiEmbedding `json:"embeddings"`
}

type geminiEmbedding struct {
	Values []float32 `json:"values"`
}
