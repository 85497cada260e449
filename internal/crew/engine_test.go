package crew

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/warroom/internal/agent"
	"github.com/mtzanidakis/warroom/internal/backend"
)

func desc(id string, delegate bool, rpm int) *agent.Descriptor {
	return agent.New(agent.Template{
		ID:          id,
		Role:        strings.ToUpper(id),
		Objective:   "handle " + id,
		CanDelegate: delegate,
	}, nil, rpm)
}

var (
	lead   = desc("lead", true, 0)
	worker = desc("worker", false, 0)
	helper = desc("helper", false, 0)
)

func item(key string, a *agent.Descriptor, deps ...string) WorkItem {
	return WorkItem{Key: key, Description: key, ExpectedOutput: "findings for " + key, Agent: a, DependsOn: deps}
}

func topo(strategy Strategy, items ...WorkItem) *Topology {
	seen := map[string]bool{}
	var agents []*agent.Descriptor
	add := func(d *agent.Descriptor) {
		if !seen[d.ID()] {
			seen[d.ID()] = true
			agents = append(agents, d)
		}
	}
	if strategy == Hierarchical {
		add(lead)
	}
	for _, it := range items {
		add(it.Agent)
		for _, c := range it.Candidates {
			add(c)
		}
	}
	return &Topology{Mode: "test", Strategy: strategy, Agents: agents, Items: items}
}

type call struct {
	key    string
	agent  string
	prompt string
}

type fakeInvoker struct {
	mu      sync.Mutex
	calls   []call
	respond func(ctx context.Context, d *agent.Descriptor, key string) (agent.Result, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, d *agent.Descriptor, in agent.Input) (agent.Result, error) {
	key := taskOf(in.Prompt)
	f.mu.Lock()
	f.calls = append(f.calls, call{key: key, agent: d.ID(), prompt: in.Prompt})
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(ctx, d, key)
	}
	return agent.Result{
		Output: key + " by " + d.ID(),
		Usage:  backend.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10, Requests: 1},
	}, nil
}

func (f *fakeInvoker) called(key string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.key == key {
			out = append(out, c)
		}
	}
	return out
}

func taskOf(prompt string) string {
	rest, _ := strings.CutPrefix(prompt, "## Task\n\n")
	key, _, _ := strings.Cut(rest, "\n")
	return key
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) of(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func fullGraph() []WorkItem {
	return []WorkItem{
		item("triage", worker), item("app_check", worker), item("db_check", worker), item("security_check", worker),
		item("commander", lead, "triage", "app_check", "db_check", "security_check"),
		item("comms", worker, "commander"),
	}
}

func TestRunHierarchicalFullGraph(t *testing.T) {
	inv := &fakeInvoker{}
	rec := &recorder{}
	eng := NewEngine(inv, Options{MaxParallel: 4, Observer: rec})

	res, err := eng.Run(context.Background(), Request{RunID: "run-1", Incident: "Payments API returns 500s", Topology: topo(Hierarchical, fullGraph()...)})
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "comms", res.Terminal)
	assert.Equal(t, "comms by worker", res.FinalOutput)
	assert.Len(t, res.Outputs, 6)
	for _, k := range []string{"triage", "app_check", "db_check", "security_check", "commander", "comms"} {
		assert.NotEmpty(t, res.Outputs[k], k)
	}
	require.Len(t, res.Order, 6)
	assert.ElementsMatch(t, []string{"triage", "app_check", "db_check", "security_check"}, res.Order[:4])
	assert.Equal(t, []string{"commander", "comms"}, res.Order[4:])
	assert.Equal(t, 60, res.Usage.TotalTokens)
	assert.Equal(t, 6, res.Usage.Requests)

	assert.Len(t, rec.of(EventItemCompleted), 6)
	require.Len(t, rec.of(EventRunFinished), 1)
	assert.Equal(t, "complete", rec.of(EventRunFinished)[0].Detail)
}

func TestRunSequentialIsStrictlySerial(t *testing.T) {
	var inFlight, peak atomic.Int32
	inv := &fakeInvoker{respond: func(ctx context.Context, d *agent.Descriptor, key string) (agent.Result, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return agent.Result{Output: key}, nil
	}}
	eng := NewEngine(inv, Options{MaxParallel: 8})

	top := topo(Sequential,
		item("comms", worker, "commander"),
		item("db_check", worker),
		item("commander", worker, "triage", "db_check"),
		item("triage", worker),
	)
	res, err := eng.Run(context.Background(), Request{Incident: "x", Topology: top})
	require.NoError(t, err)

	assert.EqualValues(t, 1, peak.Load())
	assert.Equal(t, []string{"db_check", "triage", "commander", "comms"}, res.Order)
	assert.NotEmpty(t, res.RunID)
}

func TestRunHierarchicalDispatchesInParallel(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(3)
	release := make(chan struct{})
	go func() {
		arrived.Wait()
		close(release)
	}()

	inv := &fakeInvoker{respond: func(ctx context.Context, d *agent.Descriptor, key string) (agent.Result, error) {
		arrived.Done()
		select {
		case <-release:
			return agent.Result{Output: key}, nil
		case <-ctx.Done():
			return agent.Result{}, ctx.Err()
		}
	}}
	eng := NewEngine(inv, Options{MaxParallel: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := eng.Run(ctx, Request{Incident: "x", Topology: topo(Hierarchical,
		item("a", worker), item("b", worker), item("c", helper))})
	require.NoError(t, err)
	assert.True(t, res.Complete)
}

func TestRunFailureIsolation(t *testing.T) {
	inv := &fakeInvoker{respond: func(ctx context.Context, d *agent.Descriptor, key string) (agent.Result, error) {
		if key == "A" {
			return agent.Result{}, backend.ErrProviderError
		}
		return agent.Result{Output: key + " ok"}, nil
	}}
	rec := &recorder{}
	eng := NewEngine(inv, Options{Observer: rec})

	for _, strategy := range []Strategy{Sequential, Hierarchical} {
		t.Run(string(strategy), func(t *testing.T) {
			res, err := eng.Run(context.Background(), Request{Incident: "x", Topology: topo(strategy,
				item("A", worker), item("B", helper), item("C", worker, "A", "B"))})
			require.NoError(t, err)

			assert.False(t, res.Complete)
			assert.Empty(t, res.FinalOutput)
			assert.Equal(t, map[string]string{"B": "B ok"}, res.Outputs)
			assert.Equal(t, []string{"A"}, res.Keys(StateFailed))
			assert.Equal(t, []string{"C"}, res.Keys(StateBlocked))
			assert.Equal(t, []string{"B"}, res.Keys(StateCompleted))
			assert.NotContains(t, res.Order, "C")

			a, _ := res.Item("A")
			assert.Contains(t, a.Error, "provider error")
			c, _ := res.Item("C")
			assert.Contains(t, c.Error, "dependency A failed")
		})
	}
	assert.Empty(t, inv.called("C"))
	assert.NotEmpty(t, rec.of(EventItemBlocked))
}

func TestRunTransitiveBlocking(t *testing.T) {
	inv := &fakeInvoker{respond: func(ctx context.Context, d *agent.Descriptor, key string) (agent.Result, error) {
		if key == "triage" {
			return agent.Result{}, backend.ErrUnavailable
		}
		return agent.Result{Output: key}, nil
	}}
	res, err := NewEngine(inv, Options{}).Run(context.Background(), Request{Incident: "x",
		Topology: topo(Sequential, item("triage", worker), item("commander", worker, "triage"), item("comms", worker, "commander"))})
	require.NoError(t, err)
	assert.Equal(t, []string{"commander", "comms"}, res.Keys(StateBlocked))
	assert.Equal(t, []string{"triage"}, res.Order)
}

func TestRunContextAssembly(t *testing.T) {
	inv := &fakeInvoker{}
	top := topo(Sequential,
		item("db", helper), item("app", worker),
		item("synth", worker, "app", "db"))
	_, err := NewEngine(inv, Options{}).Run(context.Background(), Request{Incident: "checkout is down", Topology: top})
	require.NoError(t, err)

	calls := inv.called("synth")
	require.Len(t, calls, 1)
	p := calls[0].prompt

	assert.True(t, strings.HasPrefix(p, "## Task\n\nsynth\n\n## Incident\n\ncheckout is down"))
	assert.Contains(t, p, "## Expected Output\n\nfindings for synth")
	appIdx := strings.Index(p, "### Output from app (WORKER)\n\napp by worker")
	dbIdx := strings.Index(p, "### Output from db (HELPER)\n\ndb by helper")
	require.NotEqual(t, -1, appIdx)
	require.NotEqual(t, -1, dbIdx)
	assert.Less(t, appIdx, dbIdx, "dependency outputs follow DependsOn order")

	root := inv.called("db")[0].prompt
	assert.NotContains(t, root, "Context from Previous Work Items")
}

func TestRunRetriesRateLimited(t *testing.T) {
	var attempts atomic.Int32
	inv := &fakeInvoker{respond: func(ctx context.Context, d *agent.Descriptor, key string) (agent.Result, error) {
		if attempts.Add(1) <= 2 {
			return agent.Result{}, backend.ErrRateLimited
		}
		return agent.Result{Output: "ok", Usage: backend.Usage{TotalTokens: 5, Requests: 1}}, nil
	}}
	rec := &recorder{}
	eng := NewEngine(inv, Options{MaxRetries: 2, RetryBackoff: time.Millisecond, Observer: rec})

	res, err := eng.Run(context.Background(), Request{Incident: "x", Topology: topo(Sequential, item("a", worker))})
	require.NoError(t, err)
	require.True(t, res.Complete)

	a, _ := res.Item("a")
	assert.Equal(t, 3, a.Attempts)
	assert.Len(t, rec.of(EventItemRetry), 2)

	attempts.Store(0)
	eng = NewEngine(inv, Options{MaxRetries: 1, RetryBackoff: time.Millisecond})
	res, err = eng.Run(context.Background(), Request{Incident: "x", Topology: topo(Sequential, item("a", worker))})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Keys(StateFailed))
	a, _ = res.Item("a")
	assert.Contains(t, a.Error, "rate limited")
}

func TestRunDoesNotRetryProviderErrors(t *testing.T) {
	inv := &fakeInvoker{respond: func(ctx context.Context, d *agent.Descriptor, key string) (agent.Result, error) {
		return agent.Result{}, backend.ErrProviderError
	}}
	res, err := NewEngine(inv, Options{MaxRetries: 3, RetryBackoff: time.Millisecond}).
		Run(context.Background(), Request{Incident: "x", Topology: topo(Sequential, item("a", worker))})
	require.NoError(t, err)
	a, _ := res.Item("a")
	assert.Equal(t, 1, a.Attempts)
	assert.Equal(t, StateFailed, a.State)
}

func TestRunItemTimeout(t *testing.T) {
	inv := &fakeInvoker{respond: func(ctx context.Context, d *agent.Descriptor, key string) (agent.Result, error) {
		<-ctx.Done()
		return agent.Result{}, ctx.Err()
	}}
	res, err := NewEngine(inv, Options{ItemTimeout: 20 * time.Millisecond}).
		Run(context.Background(), Request{Incident: "x", Topology: topo(Sequential, item("a", worker), item("b", worker, "a"))})
	require.NoError(t, err)

	a, _ := res.Item("a")
	assert.Equal(t, StateFailed, a.State)
	assert.Contains(t, a.Error, "timed out")
	assert.Equal(t, []string{"b"}, res.Keys(StateBlocked))
}

func TestRunCancellationReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvoker{respond: func(c context.Context, d *agent.Descriptor, key string) (agent.Result, error) {
		if key == "slow" {
			cancel()
			<-c.Done()
			return agent.Result{}, c.Err()
		}
		return agent.Result{Output: key}, nil
	}}
	res, err := NewEngine(inv, Options{}).Run(ctx, Request{Incident: "x", Topology: topo(Sequential,
		item("fast", worker), item("slow", worker), item("after", worker, "slow"), item("other", helper))})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.False(t, res.Complete)
	assert.Equal(t, []string{"fast"}, res.Keys(StateCompleted))
	assert.Equal(t, []string{"slow"}, res.Keys(StateFailed))
	assert.ElementsMatch(t, []string{"after", "other"}, res.Keys(StateBlocked))
}

func TestRunInvalidTopology(t *testing.T) {
	eng := NewEngine(&fakeInvoker{}, Options{})

	tests := []struct {
		name string
		top  *Topology
		want error
	}{
		{"nil topology", nil, ErrConfiguration},
		{"no items", &Topology{Strategy: Sequential}, ErrConfiguration},
		{"cycle", topo(Sequential, item("a", worker, "b"), item("b", worker, "a")), ErrCycle},
		{"unknown dependency", topo(Sequential, item("a", worker, "ghost")), ErrUnknownDependency},
		{"hierarchical without coordinator", &Topology{Strategy: Hierarchical, Agents: []*agent.Descriptor{worker}, Items: []WorkItem{item("a", worker)}}, ErrConfiguration},
		{"sequential with delegation", &Topology{Strategy: Sequential, Agents: []*agent.Descriptor{lead}, Items: []WorkItem{item("a", lead)}}, ErrConfiguration},
		{"agent outside topology", &Topology{Strategy: Sequential, Agents: []*agent.Descriptor{helper}, Items: []WorkItem{item("a", worker)}}, ErrConfiguration},
		{"unknown strategy", &Topology{Strategy: "round-robin", Agents: []*agent.Descriptor{worker}, Items: []WorkItem{item("a", worker)}}, ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := eng.Run(context.Background(), Request{Incident: "x", Topology: tt.top})
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}
}

type fakeDelegator struct {
	pick  *agent.Descriptor
	err   error
	calls atomic.Int32
}

func (f *fakeDelegator) Delegate(ctx context.Context, coordinator *agent.Descriptor, it WorkItem, outputs map[string]string) (*agent.Descriptor, error) {
	f.calls.Add(1)
	return f.pick, f.err
}

func TestRunDelegation(t *testing.T) {
	outsider := desc("outsider", false, 0)

	tests := []struct {
		name      string
		delegator *fakeDelegator
		strategy  Strategy
		wantAgent string
		wantCalls int32
	}{
		{"picks candidate", &fakeDelegator{pick: helper}, Hierarchical, "helper", 1},
		{"error falls back", &fakeDelegator{err: errors.New("router down")}, Hierarchical, "worker", 1},
		{"nil falls back", &fakeDelegator{}, Hierarchical, "worker", 1},
		{"outside candidates falls back", &fakeDelegator{pick: outsider}, Hierarchical, "worker", 1},
		{"sequential never delegates", &fakeDelegator{pick: helper}, Sequential, "worker", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{}
			rec := &recorder{}
			eng := NewEngine(inv, Options{Delegator: tt.delegator, Observer: rec})

			it := item("triage", worker)
			it.Candidates = []*agent.Descriptor{worker, helper}
			top := topo(tt.strategy, it, item("comms", worker, "triage"))

			res, err := eng.Run(context.Background(), Request{Incident: "x", Topology: top})
			require.NoError(t, err)

			triage, _ := res.Item("triage")
			assert.Equal(t, tt.wantAgent, triage.AgentID)
			assert.Equal(t, tt.wantCalls, tt.delegator.calls.Load())
			assert.Equal(t, tt.wantAgent, inv.called("triage")[0].agent)
			if tt.wantAgent == "helper" {
				assert.Len(t, rec.of(EventItemDelegated), 1)
				assert.Contains(t, inv.called("comms")[0].prompt, "### Output from triage (HELPER)")
			} else {
				assert.Empty(t, rec.of(EventItemDelegated))
			}
		})
	}
}

func TestRunPolicyCannotBreakDependencies(t *testing.T) {
	// A hostile policy reverses the ready set and injects unknown keys
	policy := PolicyFunc(func(ready []string, g *Graph, _ map[string]string) []string {
		out := []string{"ghost", "comms"}
		for i := len(ready) - 1; i >= 0; i-- {
			out = append(out, ready[i])
		}
		return out
	})
	rec := &recorder{}
	eng := NewEngine(&fakeInvoker{}, Options{Policy: policy, MaxParallel: 1, Observer: rec})

	res, err := eng.Run(context.Background(), Request{Incident: "x", Topology: topo(Hierarchical, fullGraph()...)})
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, []string{"security_check", "db_check", "app_check", "triage", "commander", "comms"}, res.Order)
}

type fakeMemory struct {
	mu        sync.Mutex
	recall    []string
	recallErr error
	saved     map[string]string
}

func (m *fakeMemory) Recall(ctx context.Context, query string) ([]string, error) {
	return m.recall, m.recallErr
}

func (m *fakeMemory) Remember(ctx context.Context, runID, key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]string{}
	}
	m.saved[key] = text
	return nil
}

func TestRunUsesMemory(t *testing.T) {
	inv := &fakeInvoker{}
	mem := &fakeMemory{recall: []string{"last week the payments db\nran out of connections"}}

	res, err := NewEngine(inv, Options{}).Run(context.Background(), Request{Incident: "x", Memory: mem,
		Topology: topo(Sequential, item("a", worker), item("b", worker, "a"))})
	require.NoError(t, err)
	assert.True(t, res.Memory)

	p := inv.called("a")[0].prompt
	assert.Contains(t, p, "## Relevant Prior Context\n\n- last week the payments db ran out of connections")
	assert.Equal(t, map[string]string{"a": "a by worker", "b": "b by worker"}, mem.saved)
}

func TestRunMemoryFailureDoesNotBlock(t *testing.T) {
	inv := &fakeInvoker{}
	mem := &fakeMemory{recallErr: errors.New("disk gone")}

	res, err := NewEngine(inv, Options{}).Run(context.Background(), Request{Incident: "x", Memory: mem,
		Topology: topo(Sequential, item("a", worker))})
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.NotContains(t, inv.called("a")[0].prompt, "Relevant Prior Context")
}

func TestRunThrottleDelaysWithoutFailing(t *testing.T) {
	limited := desc("limited", false, 600) // one call per 100ms
	rec := &recorder{}
	eng := NewEngine(&fakeInvoker{}, Options{Observer: rec, Throttle: NewThrottle()})

	start := time.Now()
	res, err := eng.Run(context.Background(), Request{Incident: "x", Topology: topo(Hierarchical,
		item("a", limited), item("b", limited), item("c", limited))})
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.NotEmpty(t, rec.of(EventItemThrottled))
}
