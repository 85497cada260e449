package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/warroom/internal/agent"
	"github.com/mtzanidakis/warroom/internal/backend"
	"github.com/mtzanidakis/warroom/internal/crew"
)

var ErrUnknownAgent = errors.New("router answered with an unknown agent")

// Router asks the coordinator's backend which candidate should take a work
// item. The engine keeps the responsible agent whenever Delegate errors.
type Router struct {
	backend backend.Backend
}

func New(b backend.Backend) *Router {
	return &Router{backend: b}
}

func (r *Router) Delegate(ctx context.Context, coordinator *agent.Descriptor, item crew.WorkItem, outputs map[string]string) (*agent.Descriptor, error) {
	// 1. An explicit @agent prefix on the task wins
	if strings.HasPrefix(item.Description, "@") {
		name, _, _ := strings.Cut(strings.TrimPrefix(item.Description, "@"), " ")
		if d := match(item.Candidates, name); d != nil {
			return d, nil
		}
	}

	// 2. Nothing to choose between
	switch len(item.Candidates) {
	case 0:
		return item.Agent, nil
	case 1:
		return item.Candidates[0], nil
	}

	// 3. Ask the coordinator
	resp, err := r.backend.Generate(ctx, backend.Request{
		System:    coordinator.SystemPrompt(),
		Prompt:    buildRoutingPrompt(item, outputs),
		MaxTokens: 32,
	})
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", item.Key, err)
	}

	answer := normalize(resp.Text)
	if d := match(item.Candidates, answer); d != nil {
		slog.Debug("work item routed", "item", item.Key, "agent", d.ID())
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, answer)
}

// match finds a candidate by id or, failing that, by role name.
func match(candidates []*agent.Descriptor, name string) *agent.Descriptor {
	for _, c := range candidates {
		if c.ID() == name {
			return c
		}
	}
	for _, c := range candidates {
		if strings.EqualFold(c.Role(), name) {
			return c
		}
	}
	return nil
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	if line, _, ok := strings.Cut(s, "\n"); ok {
		s = line
	}
	s = strings.Trim(s, " \t`'\"*.@")
	return strings.ToLower(s)
}

func buildRoutingPrompt(item crew.WorkItem, outputs map[string]string) string {
	var sb strings.Builder
	sb.WriteString("You are routing a work item of an incident response. Given the task, determine which agent should handle it.\n\n")
	sb.WriteString("Available agents:\n")
	for _, c := range item.Candidates {
		fmt.Fprintf(&sb, "- %s: %s: %s\n", c.ID(), c.Role(), c.Objective())
	}
	sb.WriteString("\nTask: ")
	sb.WriteString(item.Description)
	if item.ExpectedOutput != "" {
		sb.WriteString("\nExpected output: ")
		sb.WriteString(item.ExpectedOutput)
	}
	if len(outputs) > 0 {
		fmt.Fprintf(&sb, "\n\nFindings so far come from %d completed work items.", len(outputs))
	}
	sb.WriteString("\n\nRespond with ONLY the agent name, nothing else.")
	return sb.String()
}
