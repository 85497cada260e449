package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/trace"

	"github.com/mtzanidakis/warroom/internal/tracing"
)

type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
	opts   options
}

func NewAnthropic(apiKey, model string, opts ...Option) *Anthropic {
	o := buildOptions(opts)
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(o.client),
		// the engine owns retries
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(reqOpts...),
		model:  anthropic.Model(model),
		opts:   o,
	}
}

func (a *Anthropic) Provider() string { return "anthropic" }
func (a *Anthropic) Model() string    { return string(a.model) }

func (a *Anthropic) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "backend.generate",
		trace.WithAttributes(
			tracing.StringAttr("backend.provider", "anthropic"),
			tracing.StringAttr("backend.model", string(a.model)),
		),
	)
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.opts.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		err = classifyAnthropic(ctx, err)
		tracing.RecordError(span, err)
		return nil, err
	}

	var text string
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	resp := &Response{
		Text: text,
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}
	fillUsage(&resp.Usage, req, text, a.opts.counter)

	span.SetAttributes(
		tracing.IntAttr("backend.prompt_tokens", resp.Usage.PromptTokens),
		tracing.IntAttr("backend.completion_tokens", resp.Usage.CompletionTokens),
	)
	tracing.SetOK(span)
	a.opts.logger.Debug("backend generate completed", "provider", "anthropic", "model", string(a.model), "tokens", resp.Usage.TotalTokens)
	return resp, nil
}

func classifyAnthropic(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", ErrProviderError, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
