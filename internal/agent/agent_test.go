package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/warroom/internal/backend"
	"github.com/mtzanidakis/warroom/internal/capability"
)

func TestTemplates(t *testing.T) {
	tmpls := Templates()
	require.Len(t, tmpls, 6)

	delegating := 0
	for _, tm := range tmpls {
		assert.NotEmpty(t, tm.Role)
		assert.NotEmpty(t, tm.Objective)
		assert.Len(t, tm.Capabilities, 2, tm.ID)
		if tm.CanDelegate {
			delegating++
			assert.Equal(t, IncidentCommander, tm.ID)
		}
	}
	assert.Equal(t, 1, delegating)

	// callers get copies
	tmpls[0].Capabilities[0] = "mutated"
	tm, ok := LookupTemplate(IncidentCommander)
	require.True(t, ok)
	assert.Equal(t, capability.IncidentTracker, tm.Capabilities[0])

	_, ok = LookupTemplate("janitor")
	assert.False(t, ok)
}

func TestDescriptorImmutable(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, capability.RegisterBuiltins(reg))

	tm, _ := LookupTemplate(SRETriage)
	d := New(tm, reg.Pick(tm.Capabilities...), 10)

	assert.Equal(t, SRETriage, d.ID())
	assert.Equal(t, "SRE Triage", d.Role())
	assert.Equal(t, 10, d.RateLimit())
	assert.Equal(t, []string{capability.Metrics, capability.Logs}, d.CapabilityNames())

	caps := d.Capabilities()
	caps[0] = nil
	assert.NotNil(t, d.Capabilities()[0])
}

func TestDescriptorDropsUnavailableCapabilities(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, capability.RegisterBuiltins(reg, capability.Logs))

	tm, _ := LookupTemplate(SRETriage)
	d := New(tm, reg.Pick(tm.Capabilities...), 0)
	assert.Equal(t, []string{capability.Metrics}, d.CapabilityNames())
}

func TestWithoutDelegation(t *testing.T) {
	tm, _ := LookupTemplate(IncidentCommander)
	d := New(tm, nil, -5)
	require.True(t, d.CanDelegate())
	assert.Equal(t, 0, d.RateLimit())

	nd := d.WithoutDelegation()
	assert.False(t, nd.CanDelegate())
	assert.True(t, d.CanDelegate(), "original must stay untouched")
	assert.Equal(t, d.Role(), nd.Role())

	other, _ := LookupTemplate(CommsLead)
	od := New(other, nil, 0)
	assert.Same(t, od, od.WithoutDelegation())
}

func TestRunnerInvoke(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, capability.RegisterBuiltins(reg))
	require.NoError(t, reg.Register(capability.NewFunc("flaky", "always fails", func(context.Context, string) (string, error) {
		return "", errors.New("backend down")
	})))

	var seen backend.Request
	stub := backend.NewStub()
	stub.Respond = func(req backend.Request) (string, error) {
		seen = req
		return "hypothesis: bad deploy", nil
	}

	tm, _ := LookupTemplate(SRETriage)
	d := New(tm, reg.Pick(capability.Metrics, "flaky"), 0)

	res, err := NewRunner(stub, nil).Invoke(context.Background(), d, Input{
		Prompt: "## Task\n\nTriage it.",
		Query:  "payments 500s",
	})
	require.NoError(t, err)
	assert.Equal(t, "hypothesis: bad deploy", res.Output)
	require.Len(t, res.Observations, 1)
	assert.Equal(t, capability.Metrics, res.Observations[0].Capability)
	assert.Contains(t, res.Observations[0].Output, "payments 500s")
	assert.True(t, strings.HasPrefix(seen.System, "You are the SRE Triage."))
	assert.Contains(t, seen.Prompt, "## Observations")
	assert.Contains(t, seen.Prompt, "### metrics")
	assert.Equal(t, 1, res.Usage.Requests)
}

func TestRunnerBackendError(t *testing.T) {
	stub := backend.NewStub()
	stub.Respond = func(backend.Request) (string, error) { return "", backend.ErrUnavailable }

	tm, _ := LookupTemplate(CommsLead)
	_, err := NewRunner(stub, nil).Invoke(context.Background(), New(tm, nil, 0), Input{Prompt: "x"})
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestRunnerEmptyOutput(t *testing.T) {
	stub := backend.NewStub()
	stub.Respond = func(backend.Request) (string, error) { return "   ", nil }

	tm, _ := LookupTemplate(CommsLead)
	_, err := NewRunner(stub, nil).Invoke(context.Background(), New(tm, nil, 0), Input{Prompt: "x"})
	assert.ErrorIs(t, err, backend.ErrProviderError)
}

func TestActivityTracker(t *testing.T) {
	tr := NewActivityTracker()
	assert.Nil(t, tr.Get(SRETriage))

	tr.Start(SRETriage, "run-1", "triage")
	a := tr.Get(SRETriage)
	require.NotNil(t, a)
	assert.Equal(t, "run-1", a.RunID)
	assert.Equal(t, "triage", a.Item)

	// a later run took the agent over; the stale finish is ignored
	tr.Start(SRETriage, "run-2", "triage")
	tr.Finish(SRETriage, "run-1")
	require.NotNil(t, tr.Get(SRETriage))

	tr.Finish(SRETriage, "run-2")
	assert.Nil(t, tr.Get(SRETriage))

	tr.Start(CommsLead, "run-3", "comms")
	assert.Len(t, tr.ListStale(-1), 1)
	tr.Touch(CommsLead)
	assert.Empty(t, tr.ListStale(1<<62))
}
