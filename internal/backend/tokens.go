package backend

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts when a provider leaves usage out.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter assumes roughly four bytes per token.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// TiktokenCounter counts with a BPE encoding. The encoding is loaded on
// first use; if that fails it falls back to HeuristicCounter for good.
type TiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

func NewTiktokenCounter(model string) *TiktokenCounter {
	encoding := "cl100k_base"
	if len(model) >= 6 && model[:6] == "gpt-4o" {
		encoding = "o200k_base"
	}
	return &TiktokenCounter{encoding: encoding}
}

func (t *TiktokenCounter) Count(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			slog.Warn("tiktoken unavailable, using heuristic token counts", "encoding", t.encoding, "error", err)
			return
		}
		t.enc = enc
	})
	if t.enc == nil {
		return HeuristicCounter{}.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// fillUsage estimates whatever part of usage the provider did not report.
func fillUsage(u *Usage, req Request, text string, counter TokenCounter) {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	if u.PromptTokens == 0 {
		u.PromptTokens = counter.Count(req.System) + counter.Count(req.Prompt)
	}
	if u.CompletionTokens == 0 {
		u.CompletionTokens = counter.Count(text)
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	u.Requests = 1
}
