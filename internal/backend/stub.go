package backend

import (
	"context"
	"strings"
)

// Stub is a deterministic offline backend. By default it answers with the
// role line of the system prompt and the first line of the task, which is
// enough to exercise a whole run without network access.
type Stub struct {
	// Respond overrides the canned answer when set.
	Respond func(req Request) (string, error)
	counter TokenCounter
}

func NewStub(opts ...Option) *Stub {
	o := buildOptions(opts)
	return &Stub{counter: o.counter}
}

func (s *Stub) Provider() string { return "stub" }
func (s *Stub) Model() string    { return "stub" }

func (s *Stub) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var text string
	if s.Respond != nil {
		var err error
		if text, err = s.Respond(req); err != nil {
			return nil, err
		}
	} else {
		text = firstLine(req.System) + " on: " + firstLine(req.Prompt)
	}
	resp := &Response{Text: text}
	fillUsage(&resp.Usage, req, text, s.counter)
	return resp, nil
}

// firstLine returns the first non-empty line that is not a markdown heading.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line
	}
	return ""
}
