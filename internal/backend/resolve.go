package backend

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/warroom/internal/config"
)

type Status int

const (
	Unconfigured Status = iota
	Configured
)

func (s Status) String() string {
	if s == Configured {
		return "configured"
	}
	return "unconfigured"
}

// Resolution is the outcome of picking a backend from configuration. An
// Unconfigured resolution carries the reason instead of a Backend.
type Resolution struct {
	Status  Status
	Backend Backend
	Reason  string
}

// Require returns the backend, or ErrUnconfigured with the reason attached.
func (r Resolution) Require() (Backend, error) {
	if r.Status != Configured || r.Backend == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnconfigured, r.Reason)
	}
	return r.Backend, nil
}

func configured(b Backend) Resolution {
	return Resolution{Status: Configured, Backend: b}
}

func unconfigured(format string, args ...any) Resolution {
	return Resolution{Status: Unconfigured, Reason: fmt.Sprintf(format, args...)}
}

// Resolve picks a backend. An explicit model wins and must have its
// provider key; otherwise the first key found among Google, OpenAI and
// Anthropic decides, with that provider's default model.
func Resolve(cfg config.LLMConfig, opts ...Option) Resolution {
	base := []Option{WithMaxTokens(cfg.MaxTokens), WithTimeout(cfg.Timeout)}
	googleKey := cfg.GoogleAPIKey
	if googleKey == "" {
		googleKey = cfg.GeminiAPIKey
	}

	gemini := func(model string) Backend {
		o := append(append(base, WithBaseURL(cfg.GeminiBaseURL)), opts...)
		return NewGemini(googleKey, model, o...)
	}
	openai := func(model string) Backend {
		o := append(append(base, WithBaseURL(cfg.OpenAIBaseURL), WithTokenCounter(NewTiktokenCounter(model))), opts...)
		return NewOpenAI(cfg.OpenAIAPIKey, model, o...)
	}
	claude := func(model string) Backend {
		return NewAnthropic(cfg.AnthropicAPIKey, model, append(base, opts...)...)
	}

	if model := strings.TrimSpace(cfg.Model); model != "" {
		provider, name := splitModel(model)
		switch {
		case name == "stub":
			return configured(NewStub(append(base, opts...)...))
		case provider == "gemini" || provider == "google" || strings.Contains(name, "gemini"):
			if googleKey == "" {
				return unconfigured("model %s needs GOOGLE_API_KEY or GEMINI_API_KEY", model)
			}
			return configured(gemini(name))
		case provider == "openai" || strings.Contains(name, "gpt"):
			if cfg.OpenAIAPIKey == "" {
				return unconfigured("model %s needs OPENAI_API_KEY", model)
			}
			return configured(openai(name))
		case provider == "anthropic" || strings.Contains(name, "claude"):
			if cfg.AnthropicAPIKey == "" {
				return unconfigured("model %s needs ANTHROPIC_API_KEY", model)
			}
			return configured(claude(name))
		case cfg.OpenAIBaseURL != "":
			// any other model is assumed to sit behind an OpenAI-compatible endpoint
			return configured(openai(name))
		default:
			return unconfigured("unsupported model %s", model)
		}
	}

	if googleKey != "" {
		return configured(gemini(cfg.GeminiModel))
	}
	if cfg.OpenAIAPIKey != "" {
		return configured(openai(cfg.OpenAIModel))
	}
	if cfg.AnthropicAPIKey != "" {
		return configured(claude(cfg.AnthropicModel))
	}
	return unconfigured("set LLM_MODEL or one of GOOGLE_API_KEY, GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY")
}

// ResolveEmbedder returns the memory embedder, which exists only when a
// Google API key is configured.
func ResolveEmbedder(cfg config.LLMConfig, opts ...Option) (Embedder, bool) {
	if cfg.GoogleAPIKey == "" {
		return nil, false
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = "gemini-embedding-001"
	}
	o := append([]Option{WithBaseURL(cfg.GeminiBaseURL), WithTimeout(cfg.Timeout)}, opts...)
	return NewGeminiEmbedder(cfg.GoogleAPIKey, model, o...), true
}

// splitModel separates an optional "provider/" prefix from the model name.
func splitModel(model string) (provider, name string) {
	if p, n, ok := strings.Cut(model, "/"); ok {
		return strings.ToLower(p), n
	}
	return "", model
}
