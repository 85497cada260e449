// Package incident is the run entrypoint: it resolves the topology for an
// incident, drives the crew engine, and records the run.
package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mtzanidakis/warroom/internal/agent"
	"github.com/mtzanidakis/warroom/internal/backend"
	"github.com/mtzanidakis/warroom/internal/config"
	"github.com/mtzanidakis/warroom/internal/crew"
	"github.com/mtzanidakis/warroom/internal/memory"
	"github.com/mtzanidakis/warroom/internal/natsbus"
	"github.com/mtzanidakis/warroom/internal/registry"
	"github.com/mtzanidakis/warroom/internal/router"
	"github.com/mtzanidakis/warroom/internal/store"
	"github.com/mtzanidakis/warroom/internal/topology"
)

// Run sources recorded on the run row.
const (
	SourceCLI      = "cli"
	SourceWeb      = "web"
	SourceTelegram = "telegram"
	SourceDrill    = "drill"
)

const DefaultIncident = "Payments API returns 500s after a deploy; customer complaints increasing."

// Publisher carries run events to live subscribers. *natsbus.Client
// satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

type Deps struct {
	Config *config.Config
	Roster *registry.Registry

	// Backend is nil when no provider is configured; Reason says why.
	Backend  backend.Backend
	Reason   string
	Embedder backend.Embedder

	Store     *store.Store
	Bus       Publisher
	Throttle  *crew.Throttle
	Tracker   *agent.ActivityTracker
	Observers []crew.Observer
	Logger    *slog.Logger
}

// Request describes one run. Observer, when set, receives this run's
// events in addition to the service-wide observers.
type Request struct {
	ID       string
	Incident string
	Source   string
	Flags    topology.Flags
	Observer crew.Observer
}

type Service struct {
	cfg      *config.Config
	backend  backend.Backend
	reason   string
	embedder backend.Embedder
	store    *store.Store
	bus      Publisher
	throttle *crew.Throttle
	tracker  *agent.ActivityTracker
	extra    []crew.Observer
	logger   *slog.Logger

	mu     sync.RWMutex
	roster *registry.Registry
	modes  config.ModesConfig
	active map[string]context.CancelFunc

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	throttle := d.Throttle
	if throttle == nil {
		throttle = crew.NewThrottle()
	}
	tracker := d.Tracker
	if tracker == nil {
		tracker = agent.NewActivityTracker()
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		cfg:      d.Config,
		backend:  d.Backend,
		reason:   d.Reason,
		embedder: d.Embedder,
		store:    d.Store,
		bus:      d.Bus,
		throttle: throttle,
		tracker:  tracker,
		extra:    d.Observers,
		logger:   logger,
		roster:   d.Roster,
		modes:    d.Config.Modes,
		active:   make(map[string]context.CancelFunc),
		baseCtx:  base,
		stop:     stop,
	}
}

// DefaultFlags returns the operating mode configured for runs that do not
// choose their own.
func (s *Service) DefaultFlags() topology.Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return topology.Flags{
		SafeMode:      s.modes.SafeMode,
		SurvivalMode:  s.modes.SurvivalMode,
		MemoryEnabled: s.modes.MemoryEnabled,
	}
}

func (s *Service) Roster() *registry.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roster
}

// SetRoster swaps the roster used by later runs. Runs in flight keep the
// descriptors they started with.
func (s *Service) SetRoster(r *registry.Registry) {
	s.mu.Lock()
	s.roster = r
	s.mu.Unlock()
}

func (s *Service) SetModes(m config.ModesConfig) {
	s.mu.Lock()
	s.modes = m
	s.mu.Unlock()
}

func (s *Service) Tracker() *agent.ActivityTracker { return s.tracker }

// Backend reports the resolved backend identity, or the reason there is none.
func (s *Service) Backend() (identity string, configured bool, reason string) {
	if s.backend == nil {
		return "", false, s.reason
	}
	return backend.Identity(s.backend), true, ""
}

// Active lists the ids of runs in flight.
func (s *Service) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// Cancel stops a run in flight. It reports whether the run was found.
func (s *Service) Cancel(runID string) bool {
	s.mu.RLock()
	cancel, ok := s.active[runID]
	s.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

// Run executes one incident synchronously.
func (s *Service) Run(ctx context.Context, incident string, f topology.Flags) (*crew.RunResult, error) {
	return s.Execute(ctx, Request{Incident: incident, Flags: f, Source: SourceCLI})
}

// Start validates the request and runs it in the background on the
// service's own context, so the run outlives the caller. It returns the
// run id.
func (s *Service) Start(req Request) (string, error) {
	if _, err := s.prepare(req); err != nil {
		return "", err
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Execute(s.baseCtx, req); err != nil {
			s.logger.Error("background run failed", "run", req.ID, "source", req.Source, "error", err)
		}
	}()
	return req.ID, nil
}

// Shutdown cancels background runs and waits for them to record their
// state, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) prepare(req Request) (*crew.Topology, error) {
	if s.backend == nil {
		return nil, fmt.Errorf("%w: %s", crew.ErrConfiguration, s.reason)
	}
	sel := topology.NewSelector(s.Roster(), s.embedder != nil, s.cfg.Engine.Delegate)
	return sel.Select(req.Incident, req.Flags)
}

// Execute runs req to completion. Item failures come back in the result
// with a nil error; a missing backend or an invalid topology returns an
// error wrapping crew.ErrConfiguration before anything is recorded.
func (s *Service) Execute(ctx context.Context, req Request) (*crew.RunResult, error) {
	top, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Source == "" {
		req.Source = SourceCLI
	}
	incident := strings.TrimSpace(req.Incident)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.active[req.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, req.ID)
		s.mu.Unlock()
	}()

	var mem crew.Memory
	if top.Memory {
		ms, err := memory.Open(s.cfg.Memory.Dir, backend.Identity(s.backend), s.embedder, s.cfg.Memory.RecallLimit)
		if err != nil {
			s.logger.Warn("memory unavailable, running without it", "run", req.ID, "error", err)
			top.Memory = false
		} else {
			defer ms.Close()
			mem = ms
		}
	}

	if s.store != nil {
		if err := s.store.SaveRun(&store.Run{
			ID:       req.ID,
			Incident: incident,
			Mode:     top.Mode,
			Strategy: string(top.Strategy),
			Source:   req.Source,
			Status:   store.RunRunning,
			Memory:   top.Memory,
		}); err != nil {
			return nil, err
		}
	}

	observers := append(crew.Observers{s.recorder()}, s.extra...)
	if req.Observer != nil {
		observers = append(observers, req.Observer)
	}

	engine := crew.NewEngine(agent.NewRunner(s.backend, s.logger), crew.Options{
		MaxParallel:  s.cfg.Engine.MaxParallel,
		ItemTimeout:  s.cfg.Engine.ItemTimeout,
		MaxRetries:   s.cfg.Engine.MaxRetries,
		RetryBackoff: s.cfg.Engine.RetryBackoff,
		Delegator:    router.New(s.backend),
		Throttle:     s.throttle,
		Observer:     observers,
		Logger:       s.logger,
	})

	s.logger.Info("incident run started", "run", req.ID, "mode", top.Mode, "source", req.Source, "memory", top.Memory)
	res, runErr := engine.Run(ctx, crew.Request{
		RunID:    req.ID,
		Incident: incident,
		Topology: top,
		Memory:   mem,
	})
	if res != nil {
		s.logger.Info("incident run finished", "run", req.ID, "complete", res.Complete,
			"failed", res.Keys(crew.StateFailed), "blocked", res.Keys(crew.StateBlocked))
	}
	s.record(req.ID, res, runErr)
	return res, runErr
}

// recorder persists engine events, publishes them on the bus and keeps the
// activity tracker current.
func (s *Service) recorder() crew.Observer {
	return crew.ObserverFunc(func(ev crew.Event) {
		switch ev.Type {
		case crew.EventItemStarted:
			s.tracker.Start(ev.AgentID, ev.RunID, ev.Item)
		case crew.EventItemThrottled, crew.EventItemRetry:
			s.tracker.Touch(ev.AgentID)
		case crew.EventItemCompleted, crew.EventItemFailed:
			s.tracker.Finish(ev.AgentID, ev.RunID)
		}

		if s.store != nil {
			if err := s.store.SaveRunEvent(&store.RunEvent{
				RunID:   ev.RunID,
				Type:    string(ev.Type),
				Item:    ev.Item,
				AgentID: ev.AgentID,
				Detail:  ev.Detail,
			}); err != nil {
				s.logger.Warn("failed to save run event", "run", ev.RunID, "type", ev.Type, "error", err)
			}
		}
		if s.bus != nil {
			if err := s.bus.PublishJSON(natsbus.TopicEventsRun(ev.RunID), ev); err != nil {
				s.logger.Debug("failed to publish run event", "run", ev.RunID, "error", err)
			}
			if ev.AgentID != "" {
				_ = s.bus.PublishJSON(natsbus.TopicEventsAgent(ev.AgentID), ev)
			}
		}
	})
}

func (s *Service) record(runID string, res *crew.RunResult, runErr error) {
	if s.store == nil {
		return
	}
	run, err := s.store.GetRun(runID)
	if err != nil || run == nil {
		s.logger.Error("run row missing", "run", runID, "error", err)
		return
	}

	switch {
	case res == nil:
		run.Status = store.RunFailed
	case res.Complete:
		run.Status = store.RunCompleted
	default:
		run.Status = store.RunIncomplete
	}
	if runErr != nil {
		run.Error = runErr.Error()
		if errors.Is(runErr, context.Canceled) {
			run.Error = "cancelled"
		}
	}

	if res != nil {
		run.Complete = res.Complete
		run.Memory = res.Memory
		run.FinalOutput = res.FinalOutput
		if usage, err := json.Marshal(res.Usage); err == nil {
			run.Usage = usage
		}
		if err := s.store.SaveRunItems(runID, runItems(res)); err != nil {
			s.logger.Error("failed to save run items", "run", runID, "error", err)
		}
	}
	if err := s.store.SaveRun(run); err != nil {
		s.logger.Error("failed to save run", "run", runID, "error", err)
	}
}

func runItems(res *crew.RunResult) []store.RunItem {
	items := make([]store.RunItem, 0, len(res.Items))
	for i, it := range res.Items {
		ri := store.RunItem{
			RunID:     res.RunID,
			Key:       it.Key,
			Position:  i,
			AgentID:   it.AgentID,
			DependsOn: it.DependsOn,
			Status:    string(it.State),
			Output:    it.Output,
			Error:     it.Error,
		}
		if !it.StartedAt.IsZero() {
			t := it.StartedAt
			ri.StartedAt = &t
		}
		if !it.FinishedAt.IsZero() {
			t := it.FinishedAt
			ri.FinishedAt = &t
		}
		items = append(items, ri)
	}
	return items
}
