// Package crew runs a topology of work items over a team of agents. The
// engine owns per-run item state; agents, capabilities and the throttle are
// shared read-only (or internally synchronized) across runs.
package crew

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mtzanidakis/warroom/internal/agent"
	"github.com/mtzanidakis/warroom/internal/backend"
	"github.com/mtzanidakis/warroom/internal/tracing"
)

// Invoker runs one agent against one input. *agent.Runner satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, d *agent.Descriptor, in agent.Input) (agent.Result, error)
}

// Delegator picks the best-fit agent for an item among its Candidates. It
// is consulted only under the hierarchical strategy.
type Delegator interface {
	Delegate(ctx context.Context, coordinator *agent.Descriptor, item WorkItem, outputs map[string]string) (*agent.Descriptor, error)
}

// Memory is optional cross-run recall. Failures are logged and ignored.
type Memory interface {
	Recall(ctx context.Context, query string) ([]string, error)
	Remember(ctx context.Context, runID, key, text string) error
}

type Options struct {
	MaxParallel  int
	ItemTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	Policy    Policy
	Delegator Delegator
	Throttle  *Throttle
	Observer  Observer
	Logger    *slog.Logger
}

type Request struct {
	RunID    string
	Incident string
	Topology *Topology
	Memory   Memory
}

type Engine struct {
	invoker Invoker
	opts    Options
	logger  *slog.Logger
}

func NewEngine(inv Invoker, opts Options) *Engine {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Policy == nil {
		opts.Policy = CoordinatorPolicy{}
	}
	if opts.Throttle == nil {
		opts.Throttle = NewThrottle()
	}
	if opts.Observer == nil {
		opts.Observer = Observers(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{invoker: inv, opts: opts, logger: logger}
}

type job struct {
	runID       string
	item        WorkItem
	incident    string
	prior       []priorOutput
	recall      []string
	coordinator *agent.Descriptor
	outputs     map[string]string
}

type outcome struct {
	key      string
	agent    *agent.Descriptor
	result   agent.Result
	usage    backend.Usage
	attempts int
	err      error
	started  time.Time
	finished time.Time
}

// Run executes the topology and returns its result. Item failures are
// reported in the result with a nil error; the caller's context ending
// returns the partial result together with ctx.Err(). Only an invalid
// topology returns a nil result.
func (e *Engine) Run(ctx context.Context, req Request) (*RunResult, error) {
	top := req.Topology
	if top == nil {
		return nil, fmt.Errorf("%w: no topology", ErrConfiguration)
	}
	g, err := top.compile()
	if err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	ctx, span := tracing.StartSpan(ctx, "crew.run", trace.WithAttributes(
		tracing.StringAttr("run.id", runID),
		tracing.StringAttr("run.mode", top.Mode),
		tracing.StringAttr("run.strategy", string(top.Strategy)),
		tracing.IntAttr("run.items", g.Len()),
	))
	defer span.End()

	items := make(map[string]WorkItem, len(top.Items))
	reports := make(map[string]*ItemReport, len(top.Items))
	ran := make(map[string]*agent.Descriptor, len(top.Items))
	for _, it := range top.Items {
		items[it.Key] = it
		reports[it.Key] = &ItemReport{
			Key:       it.Key,
			AgentID:   it.Agent.ID(),
			DependsOn: g.Dependencies(it.Key),
			State:     StatePending,
		}
		ran[it.Key] = it.Agent
	}

	res := &RunResult{
		RunID:     runID,
		Mode:      top.Mode,
		Strategy:  top.Strategy,
		Memory:    req.Memory != nil,
		Terminal:  g.Terminal(),
		Outputs:   make(map[string]string),
		StartedAt: time.Now(),
	}

	e.emit(Event{Type: EventRunStarted, RunID: runID, Detail: top.Mode})
	e.logger.Info("run started", "run", runID, "mode", top.Mode, "strategy", top.Strategy, "items", g.Len())

	var recall []string
	if req.Memory != nil {
		recall, err = req.Memory.Recall(ctx, req.Incident)
		if err != nil {
			e.logger.Warn("memory recall failed, continuing without it", "run", runID, "error", err)
			recall = nil
		}
	}

	limit := e.opts.MaxParallel
	policy := e.opts.Policy
	if top.Strategy == Sequential {
		limit = 1
		policy = DeclarationPolicy{}
	}
	coordinator := top.Coordinator()

	var ready []string
	promote := func() {
		for _, it := range top.Items {
			r := reports[it.Key]
			if r.State != StatePending {
				continue
			}
			satisfied := true
			for _, dep := range r.DependsOn {
				if reports[dep].State != StateCompleted {
					satisfied = false
					break
				}
			}
			if satisfied {
				r.State = StateReady
				ready = append(ready, it.Key)
				e.emit(Event{Type: EventItemReady, RunID: runID, Item: it.Key, AgentID: r.AgentID})
			}
		}
	}
	block := func(key, reason string) {
		r := reports[key]
		if r.State != StatePending && r.State != StateReady {
			return
		}
		r.State = StateBlocked
		r.Error = reason
		ready = slices.DeleteFunc(ready, func(k string) bool { return k == key })
		e.emit(Event{Type: EventItemBlocked, RunID: runID, Item: key, AgentID: r.AgentID, Detail: reason})
	}

	done := make(chan outcome)
	var grp errgroup.Group
	grp.SetLimit(limit)
	running := 0

	promote()
	for {
		if ctx.Err() == nil && running < limit && len(ready) > 0 {
			ordered := sanitize(policy.Order(slices.Clone(ready), g, maps.Clone(res.Outputs)), ready, g)
			for _, key := range ordered {
				if running >= limit {
					break
				}
				ready = slices.DeleteFunc(ready, func(k string) bool { return k == key })

				r := reports[key]
				r.State = StateRunning
				r.StartedAt = time.Now()
				res.Order = append(res.Order, key)

				j := job{
					runID:       runID,
					item:        items[key],
					incident:    req.Incident,
					recall:      recall,
					coordinator: coordinator,
					outputs:     maps.Clone(res.Outputs),
				}
				for _, dep := range r.DependsOn {
					j.prior = append(j.prior, priorOutput{Key: dep, Role: ran[dep].Role(), Output: res.Outputs[dep]})
				}

				e.emit(Event{Type: EventItemStarted, RunID: runID, Item: key, AgentID: r.AgentID})
				running++
				grp.Go(func() error {
					done <- e.execute(ctx, j)
					return nil
				})
			}
		}

		if running == 0 {
			break
		}

		out := <-done
		running--

		r := reports[out.key]
		r.Attempts = out.attempts
		r.Usage = out.usage
		r.FinishedAt = out.finished
		res.Usage.Add(out.usage)
		if out.agent != nil {
			ran[out.key] = out.agent
			r.AgentID = out.agent.ID()
		}

		if out.err != nil {
			r.State = StateFailed
			r.Error = out.err.Error()
			e.emit(Event{Type: EventItemFailed, RunID: runID, Item: out.key, AgentID: r.AgentID,
				Detail: r.Error, Duration: out.finished.Sub(out.started), Usage: out.usage})
			e.logger.Warn("work item failed", "run", runID, "item", out.key, "agent", r.AgentID, "error", out.err)
			for _, k := range g.Downstream(out.key) {
				block(k, "dependency "+out.key+" failed")
			}
		} else {
			r.State = StateCompleted
			r.Output = out.result.Output
			res.Outputs[out.key] = out.result.Output
			e.emit(Event{Type: EventItemCompleted, RunID: runID, Item: out.key, AgentID: r.AgentID,
				Duration: out.finished.Sub(out.started), Usage: out.usage})
			if req.Memory != nil {
				if err := req.Memory.Remember(ctx, runID, out.key, out.result.Output); err != nil {
					e.logger.Warn("memory write failed", "run", runID, "item", out.key, "error", err)
				}
			}
			promote()
		}
	}
	_ = grp.Wait()

	if ctx.Err() != nil {
		for _, it := range top.Items {
			block(it.Key, "run cancelled")
		}
	}

	complete := true
	for _, it := range top.Items {
		r := reports[it.Key]
		if r.State != StateCompleted {
			complete = false
		}
		res.Items = append(res.Items, *r)
	}
	res.Complete = complete
	if reports[res.Terminal].State == StateCompleted {
		res.FinalOutput = reports[res.Terminal].Output
	}
	res.FinishedAt = time.Now()

	status := "complete"
	if !complete {
		status = "incomplete"
	}
	span.SetAttributes(tracing.BoolAttr("run.complete", complete))
	e.emit(Event{Type: EventRunFinished, RunID: runID, Detail: status,
		Duration: res.FinishedAt.Sub(res.StartedAt), Usage: res.Usage})
	e.logger.Info("run finished", "run", runID, "status", status,
		"completed", len(res.Keys(StateCompleted)), "failed", len(res.Keys(StateFailed)),
		"blocked", len(res.Keys(StateBlocked)), "tokens", res.Usage.TotalTokens)

	if err := ctx.Err(); err != nil {
		tracing.RecordError(span, err)
		return res, err
	}
	tracing.SetOK(span)
	return res, nil
}

func (e *Engine) execute(ctx context.Context, j job) outcome {
	ctx, span := tracing.StartSpan(ctx, "crew.item", trace.WithAttributes(
		tracing.StringAttr("run.id", j.runID),
		tracing.StringAttr("item.key", j.item.Key),
	))
	defer span.End()

	out := outcome{key: j.item.Key, agent: j.item.Agent, started: time.Now()}
	if j.coordinator != nil && len(j.item.Candidates) > 0 && e.opts.Delegator != nil {
		out.agent = e.delegate(ctx, j)
	}
	span.SetAttributes(tracing.StringAttr("item.agent", out.agent.ID()))

	prompt := buildPrompt(j.item, j.incident, j.prior, j.recall)
	out.err = e.attempt(ctx, j, &out, prompt)
	out.finished = time.Now()

	if out.err != nil {
		tracing.RecordError(span, out.err)
		out.err = fmt.Errorf("%w: %s: %w", ErrItemFailed, j.item.Key, out.err)
		return out
	}
	tracing.SetOK(span)
	return out
}

func (e *Engine) attempt(ctx context.Context, j job, out *outcome, prompt string) error {
	for n := 0; ; n++ {
		waited, err := e.opts.Throttle.Wait(ctx, out.agent)
		if err != nil {
			return err
		}
		if waited > 10*time.Millisecond {
			e.emit(Event{Type: EventItemThrottled, RunID: j.runID, Item: j.item.Key,
				AgentID: out.agent.ID(), Duration: waited})
		}

		out.attempts = n + 1
		res, err := e.invoke(ctx, out.agent, agent.Input{Prompt: prompt, Query: j.incident})
		out.usage.Add(res.Usage)
		if err == nil {
			out.result = res
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !backend.Retryable(err) || n >= e.opts.MaxRetries {
			return err
		}

		backoff := e.opts.RetryBackoff * time.Duration(n+1)
		e.emit(Event{Type: EventItemRetry, RunID: j.runID, Item: j.item.Key, AgentID: out.agent.ID(),
			Detail: err.Error(), Duration: backoff})
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) invoke(ctx context.Context, d *agent.Descriptor, in agent.Input) (agent.Result, error) {
	if e.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ItemTimeout)
		defer cancel()
	}
	res, err := e.invoker.Invoke(ctx, d, in)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return res, fmt.Errorf("timed out after %s: %w", e.opts.ItemTimeout, err)
	}
	return res, err
}

func (e *Engine) delegate(ctx context.Context, j job) *agent.Descriptor {
	fallback := j.item.Agent
	pick, err := e.opts.Delegator.Delegate(ctx, j.coordinator, j.item, j.outputs)
	if err != nil {
		e.logger.Warn("delegation failed, keeping responsible agent",
			"run", j.runID, "item", j.item.Key, "agent", fallback.ID(), "error", err)
		return fallback
	}
	if pick == nil || pick.ID() == fallback.ID() {
		return fallback
	}
	if !slices.ContainsFunc(j.item.Candidates, func(c *agent.Descriptor) bool { return c.ID() == pick.ID() }) {
		e.logger.Warn("delegate outside candidates, keeping responsible agent",
			"run", j.runID, "item", j.item.Key, "picked", pick.ID())
		return fallback
	}
	e.emit(Event{Type: EventItemDelegated, RunID: j.runID, Item: j.item.Key, AgentID: pick.ID(),
		Detail: "from " + fallback.ID()})
	return pick
}

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.opts.Observer.Observe(ev)
}
