package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/warroom/internal/agent"
	"github.com/mtzanidakis/warroom/internal/capability"
	"github.com/mtzanidakis/warroom/internal/config"
	"github.com/mtzanidakis/warroom/internal/crew"
	"github.com/mtzanidakis/warroom/internal/registry"
)

func roster(t *testing.T) *registry.Registry {
	t.Helper()
	caps := capability.NewRegistry()
	require.NoError(t, capability.RegisterBuiltins(caps))
	return registry.New(caps, config.AgentsConfig{})
}

const incident = "Payments API returns 500s after a deploy"

func TestSurvivalTakesPrecedence(t *testing.T) {
	sel := NewSelector(roster(t), true, nil)

	for _, f := range []Flags{
		{SurvivalMode: true},
		{SurvivalMode: true, SafeMode: true},
		{SurvivalMode: true, MemoryEnabled: true},
		{SurvivalMode: true, SafeMode: true, MemoryEnabled: true},
	} {
		top, err := sel.Select(incident, f)
		require.NoError(t, err)
		assert.Equal(t, ModeSurvival, top.Mode)
		assert.Equal(t, crew.Sequential, top.Strategy)
		assert.False(t, top.Memory)
		assert.Equal(t, []string{Triage, Commander, Comms}, top.Keys())
		assert.Len(t, top.Agents, 3)
		assert.Nil(t, top.Coordinator())
		for _, a := range top.Agents {
			assert.False(t, a.CanDelegate(), a.ID())
		}
	}
}

func TestSafeModeIsSequentialFullGraph(t *testing.T) {
	sel := NewSelector(roster(t), true, map[string][]string{Triage: {agent.AppEngineer}})

	top, err := sel.Select(incident, Flags{SafeMode: true, MemoryEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, ModeSafe, top.Mode)
	assert.Equal(t, crew.Sequential, top.Strategy)
	assert.False(t, top.Memory)
	assert.Len(t, top.Items, 6)
	for _, it := range top.Items {
		assert.Empty(t, it.Candidates, "no delegation outside normal mode")
	}
}

func TestNormalModeMemoryNeedsEmbedder(t *testing.T) {
	tests := []struct {
		name      string
		embedding bool
		requested bool
		want      bool
	}{
		{"requested with embedder", true, true, true},
		{"requested without embedder", false, true, false},
		{"not requested", true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			top, err := NewSelector(roster(t), tt.embedding, nil).Select(incident, Flags{MemoryEnabled: tt.requested})
			require.NoError(t, err)
			assert.Equal(t, crew.Hierarchical, top.Strategy)
			assert.Equal(t, tt.want, top.Memory)
		})
	}
}

func TestNormalModeGraph(t *testing.T) {
	top, err := NewSelector(roster(t), false, nil).Select(incident, Flags{})
	require.NoError(t, err)

	assert.Equal(t, []string{Triage, AppCheck, DBCheck, SecurityCheck, Commander, Comms}, top.Keys())
	require.NotNil(t, top.Coordinator())
	assert.Equal(t, agent.IncidentCommander, top.Coordinator().ID())

	g, err := crew.NewGraph(top.Items)
	require.NoError(t, err)
	assert.Equal(t, Comms, g.Terminal())
	assert.Equal(t, [][]string{{Triage, AppCheck, DBCheck, SecurityCheck}, {Commander}, {Comms}}, g.Tiers())
	assert.Equal(t, []string{Triage, AppCheck, DBCheck, SecurityCheck}, g.Dependencies(Commander))
}

func TestNormalModeCandidates(t *testing.T) {
	sel := NewSelector(roster(t), false, map[string][]string{
		AppCheck: {agent.AppEngineer, agent.SRETriage, "ghost"},
	})
	top, err := sel.Select(incident, Flags{})
	require.NoError(t, err)

	for _, it := range top.Items {
		if it.Key != AppCheck {
			assert.Empty(t, it.Candidates)
			continue
		}
		require.Len(t, it.Candidates, 2)
		assert.Equal(t, agent.SRETriage, it.Candidates[1].ID())
		assert.Same(t, top.Items[0].Agent, it.Candidates[1], "candidates share the bound descriptor")
	}
}

func TestSelectRejectsEmptyIncident(t *testing.T) {
	_, err := NewSelector(roster(t), false, nil).Select("   ", Flags{})
	assert.ErrorIs(t, err, crew.ErrConfiguration)
}

type emptyRoster struct{}

func (emptyRoster) Get(string) (*agent.Descriptor, bool) { return nil, false }

func TestSelectUnknownAgent(t *testing.T) {
	_, err := NewSelector(emptyRoster{}, false, nil).Select(incident, Flags{})
	assert.ErrorIs(t, err, crew.ErrConfiguration)
}

func TestSelectIsDeterministic(t *testing.T) {
	sel := NewSelector(roster(t), true, nil)
	a, err := sel.Select(incident, Flags{MemoryEnabled: true})
	require.NoError(t, err)
	b, err := sel.Select(incident, Flags{MemoryEnabled: true})
	require.NoError(t, err)

	assert.Equal(t, a.Keys(), b.Keys())
	for i := range a.Items {
		assert.Equal(t, a.Items[i].DependsOn, b.Items[i].DependsOn)
		assert.Equal(t, a.Items[i].Agent.ID(), b.Items[i].Agent.ID())
	}
}
