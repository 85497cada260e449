package crew

import (
	"fmt"
	"strings"
)

type priorOutput struct {
	Key    string
	Role   string
	Output string
}

// buildPrompt assembles an item's input: its task, the incident, what it
// must produce, then the outputs of its dependencies in declaration order.
func buildPrompt(it WorkItem, incident string, prior []priorOutput, recall []string) string {
	var sb strings.Builder

	sb.WriteString("## Task\n\n")
	sb.WriteString(it.Description)
	sb.WriteString("\n\n## Incident\n\n")
	sb.WriteString(incident)
	sb.WriteString("\n\n")

	if it.ExpectedOutput != "" {
		sb.WriteString("## Expected Output\n\n")
		sb.WriteString(it.ExpectedOutput)
		sb.WriteString("\n\n")
	}

	if len(prior) > 0 {
		sb.WriteString("## Context from Previous Work Items\n\n")
		for _, p := range prior {
			fmt.Fprintf(&sb, "### Output from %s (%s)\n\n%s\n\n", p.Key, p.Role, p.Output)
		}
	}

	if len(recall) > 0 {
		sb.WriteString("## Relevant Prior Context\n\n")
		for _, r := range recall {
			fmt.Fprintf(&sb, "- %s\n", oneLine(r))
		}
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
