package crew

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt(t *testing.T) {
	it := WorkItem{Key: "commander", Description: "Combine findings.", ExpectedOutput: "Severity level."}

	got := buildPrompt(it, "DB down", []priorOutput{
		{Key: "triage", Role: "SRE Triage", Output: "cpu saturated"},
		{Key: "db_check", Role: "Database Specialist", Output: "lock contention"},
	}, []string{"similar outage in march"})

	want := "## Task\n\nCombine findings.\n\n" +
		"## Incident\n\nDB down\n\n" +
		"## Expected Output\n\nSeverity level.\n\n" +
		"## Context from Previous Work Items\n\n" +
		"### Output from triage (SRE Triage)\n\ncpu saturated\n\n" +
		"### Output from db_check (Database Specialist)\n\nlock contention\n\n" +
		"## Relevant Prior Context\n\n- similar outage in march"
	assert.Equal(t, want, got)
}

func TestBuildPromptMinimal(t *testing.T) {
	got := buildPrompt(WorkItem{Description: "Triage."}, "API slow", nil, nil)
	assert.Equal(t, "## Task\n\nTriage.\n\n## Incident\n\nAPI slow", got)
}
