package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mtzanidakis/warroom/internal/agent"
	"github.com/mtzanidakis/warroom/internal/backend"
	"github.com/mtzanidakis/warroom/internal/crew"
)

func descriptor(id string) *agent.Descriptor {
	tm, ok := agent.LookupTemplate(id)
	if !ok {
		panic("unknown template " + id)
	}
	return agent.New(tm, nil, 0)
}

var (
	commander = descriptor(agent.IncidentCommander)
	sre       = descriptor(agent.SRETriage)
	app       = descriptor(agent.AppEngineer)
)

func workItem(desc string, candidates ...*agent.Descriptor) crew.WorkItem {
	return crew.WorkItem{Key: "app_check", Description: desc, Agent: app, Candidates: candidates}
}

func stubAnswer(answer string, err error) *backend.Stub {
	s := backend.NewStub()
	s.Respond = func(req backend.Request) (string, error) { return answer, err }
	return s
}

func TestDelegateWithAtPrefix(t *testing.T) {
	rtr := New(stubAnswer("", errors.New("must not be called")))

	d, err := rtr.Delegate(context.Background(), commander, workItem("@sre_triage check the logs", app, sre), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ID() != agent.SRETriage {
		t.Errorf("expected sre_triage, got %q", d.ID())
	}
}

func TestDelegateWithUnknownAtPrefix(t *testing.T) {
	rtr := New(stubAnswer("app_engineer", nil))

	d, err := rtr.Delegate(context.Background(), commander, workItem("@janitor sweep", app, sre), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ID() != agent.AppEngineer {
		t.Errorf("expected fallback to routed app_engineer, got %q", d.ID())
	}
}

func TestDelegateWithoutChoice(t *testing.T) {
	rtr := New(stubAnswer("", errors.New("must not be called")))

	d, err := rtr.Delegate(context.Background(), commander, workItem("inspect"), nil)
	if err != nil || d != app {
		t.Fatalf("expected responsible agent, got %v, %v", d, err)
	}
	d, err = rtr.Delegate(context.Background(), commander, workItem("inspect", sre), nil)
	if err != nil || d != sre {
		t.Fatalf("expected single candidate, got %v, %v", d, err)
	}
}

func TestDelegateAsksCoordinator(t *testing.T) {
	var seen backend.Request
	s := backend.NewStub()
	s.Respond = func(req backend.Request) (string, error) {
		seen = req
		return "  `SRE Triage`.\n", nil
	}
	rtr := New(s)

	d, err := rtr.Delegate(context.Background(), commander, workItem("Inspect recent deploys", app, sre), map[string]string{"triage": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ID() != agent.SRETriage {
		t.Errorf("expected role match to sre_triage, got %q", d.ID())
	}
	if !strings.HasPrefix(seen.System, "You are the Incident Commander.") {
		t.Errorf("expected coordinator system prompt, got %q", seen.System)
	}
	for _, want := range []string{"- app_engineer: App Engineer", "- sre_triage: SRE Triage", "Task: Inspect recent deploys", "Respond with ONLY the agent name"} {
		if !strings.Contains(seen.Prompt, want) {
			t.Errorf("routing prompt missing %q", want)
		}
	}
}

func TestDelegateUnknownAnswer(t *testing.T) {
	rtr := New(stubAnswer("database_specialist", nil))

	_, err := rtr.Delegate(context.Background(), commander, workItem("inspect", app, sre), nil)
	if !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestDelegateBackendError(t *testing.T) {
	rtr := New(stubAnswer("", backend.ErrUnavailable))

	_, err := rtr.Delegate(context.Background(), commander, workItem("inspect", app, sre), nil)
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"sre_triage":              "sre_triage",
		"  @App_Engineer.  ":      "app_engineer",
		"\"comms_lead\"\nbecause": "comms_lead",
		"**SRE Triage**":          "sre triage",
	}
	for in, want := range tests {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
