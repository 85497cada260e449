// Package scheduler runs incident drills on their schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/warroom/internal/config"
	"github.com/mtzanidakis/warroom/internal/crew"
	"github.com/mtzanidakis/warroom/internal/incident"
	"github.com/mtzanidakis/warroom/internal/natsbus"
	"github.com/mtzanidakis/warroom/internal/notify"
	"github.com/mtzanidakis/warroom/internal/schedule"
	"github.com/mtzanidakis/warroom/internal/store"
	"github.com/mtzanidakis/warroom/internal/topology"
)

// Drill statuses.
const (
	DrillActive    = "active"
	DrillPaused    = "paused"
	DrillCompleted = "completed"
)

// Runner executes one incident run. *incident.Service satisfies it.
type Runner interface {
	Execute(ctx context.Context, req incident.Request) (*crew.RunResult, error)
}

type Scheduler struct {
	store    *store.Store
	runner   Runner
	notifier notify.Notifier
	bus      incident.Publisher
	now      func() time.Time

	mu           sync.Mutex
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, r Runner, n notify.Notifier, bus incident.Publisher, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       r,
		notifier:     n,
		bus:          bus,
		now:          time.Now,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// NewDrill validates the schedule and returns an active drill with its
// first run computed.
func NewDrill(name, rawSchedule, incidentText string, f topology.Flags) (*store.Drill, error) {
	name = strings.TrimSpace(name)
	incidentText = strings.TrimSpace(incidentText)
	if name == "" || incidentText == "" {
		return nil, errors.New("drill name and incident are required")
	}
	normalized, err := schedule.Normalize(rawSchedule)
	if err != nil {
		return nil, err
	}
	next := schedule.Next(normalized, time.Now())
	if next == nil {
		return nil, fmt.Errorf("%w: never fires", schedule.ErrInvalid)
	}
	return &store.Drill{
		ID:           uuid.New().String(),
		Name:         name,
		Schedule:     normalized,
		Incident:     incidentText,
		SafeMode:     f.SafeMode,
		SurvivalMode: f.SurvivalMode,
		Status:       DrillActive,
		NextRunAt:    next,
	}, nil
}

// UpdateConfig changes the poll interval and wakes the loop to apply it.
func (s *Scheduler) UpdateConfig(cfg config.SchedulerConfig) {
	s.mu.Lock()
	s.pollInterval = cfg.PollInterval
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		return 30 * time.Second
	}
	return s.pollInterval
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("drill scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("drill scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			slog.Info("drill scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	drills, err := s.store.GetDueDrills(s.now())
	if err != nil {
		slog.Error("failed to get due drills", "error", err)
		return
	}
	for _, d := range drills {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, d)
	}
}

// execute runs one drill. Drills never touch memory: rehearsal findings
// would otherwise surface as prior context for real incidents.
func (s *Scheduler) execute(ctx context.Context, d store.Drill) {
	slog.Info("running drill", "id", d.ID, "name", d.Name)

	runID := uuid.New().String()
	res, err := s.runner.Execute(ctx, incident.Request{
		ID:       runID,
		Incident: d.Incident,
		Source:   incident.SourceDrill,
		Flags:    topology.Flags{SafeMode: d.SafeMode, SurvivalMode: d.SurvivalMode},
	})

	report := notify.NewReport("Drill "+d.Name, res, err)
	lastStatus, lastError := report.Status(), report.Error
	if res == nil {
		runID = ""
	}
	if err != nil {
		slog.Error("drill failed", "id", d.ID, "error", err)
	}

	next := schedule.Next(d.Schedule, s.now())
	if err := s.store.UpdateDrillRun(d.ID, lastStatus, lastError, runID, next); err != nil {
		slog.Error("failed to update drill run", "id", d.ID, "error", err)
	}
	if next == nil {
		slog.Info("one-off drill done", "id", d.ID, "name", d.Name)
		if err := s.store.UpdateDrillStatus(d.ID, DrillCompleted); err != nil {
			slog.Error("failed to complete drill", "id", d.ID, "error", err)
		}
	}

	if s.bus != nil {
		_ = s.bus.PublishJSON(natsbus.TopicEventsDrill(d.ID), map[string]any{
			"type":      "drill_executed",
			"drill_id":  d.ID,
			"name":      d.Name,
			"run_id":    runID,
			"status":    lastStatus,
			"timestamp": s.now().UTC().Format(time.RFC3339),
		})
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, report); err != nil {
			slog.Warn("drill notification failed", "id", d.ID, "error", err)
		}
	}
}
