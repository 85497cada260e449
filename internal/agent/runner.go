package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/warroom/internal/backend"
)

// Input is what a work item hands its agent: the assembled prompt and the
// query text capabilities are asked about.
type Input struct {
	Prompt string
	Query  string
}

type Observation struct {
	Capability string `json:"capability"`
	Output     string `json:"output"`
}

type Result struct {
	Output       string        `json:"output"`
	Observations []Observation `json:"observations,omitempty"`
	Usage        backend.Usage `json:"usage"`
}

// Runner invokes agents against a single backend. Each assigned capability
// is queried first and its answer is placed in front of the model; a
// failing capability is logged and left out.
type Runner struct {
	backend backend.Backend
	logger  *slog.Logger
}

func NewRunner(b backend.Backend, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{backend: b, logger: logger}
}

func (r *Runner) Backend() backend.Backend { return r.backend }

func (r *Runner) Invoke(ctx context.Context, d *Descriptor, in Input) (Result, error) {
	var res Result
	for _, c := range d.capabilities {
		out, err := c.Invoke(ctx, in.Query)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			r.logger.Warn("capability failed, continuing without it",
				"agent", d.id, "capability", c.Name(), "error", err)
			continue
		}
		res.Observations = append(res.Observations, Observation{Capability: c.Name(), Output: out})
	}

	resp, err := r.backend.Generate(ctx, backend.Request{
		System: d.SystemPrompt(),
		Prompt: withObservations(in.Prompt, res.Observations),
	})
	if err != nil {
		return res, fmt.Errorf("agent %s: %w", d.id, err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return res, fmt.Errorf("agent %s: %w: empty completion", d.id, backend.ErrProviderError)
	}
	res.Output = resp.Text
	res.Usage = resp.Usage
	return res, nil
}

func withObservations(prompt string, obs []Observation) string {
	if len(obs) == 0 {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\n## Observations\n")
	for _, o := range obs {
		fmt.Fprintf(&sb, "\n### %s\n\n%s\n", o.Capability, o.Output)
	}
	return sb.String()
}
