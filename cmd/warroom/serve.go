package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/warroom/internal/config"
	"github.com/mtzanidakis/warroom/internal/crew"
	"github.com/mtzanidakis/warroom/internal/incident"
	"github.com/mtzanidakis/warroom/internal/metrics"
	"github.com/mtzanidakis/warroom/internal/natsbus"
	"github.com/mtzanidakis/warroom/internal/notify"
	"github.com/mtzanidakis/warroom/internal/scheduler"
	"github.com/mtzanidakis/warroom/internal/store"
	"github.com/mtzanidakis/warroom/internal/telegram"
	"github.com/mtzanidakis/warroom/internal/tracing"
	"github.com/mtzanidakis/warroom/internal/vault"
	"github.com/mtzanidakis/warroom/internal/web"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway: web UI, Telegram bot and scheduled drills",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway()
	},
}

func runGateway() error {
	slog.Info("starting warroom gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// SQLite store
	db, secrets, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	if n, err := db.FailInterruptedRuns(); err != nil {
		slog.Warn("failed to close interrupted runs", "error", err)
	} else if n > 0 {
		slog.Info("marked interrupted runs as failed", "count", n)
	}

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("nats client: %w", err)
	}
	defer client.Close()

	// Agent roster
	roster, err := buildRoster(cfg)
	if err != nil {
		return err
	}
	if err := roster.Sync(db); err != nil {
		return fmt.Errorf("sync agent registry: %w", err)
	}

	logger := slog.Default()
	b, reason, emb := resolveBackend(cfg, logger)
	if b == nil {
		slog.Warn("no backend configured, runs will be rejected", "reason", reason)
	}

	collector := metrics.NewCollector()
	svc := incident.New(incident.Deps{
		Config:    cfg,
		Roster:    roster,
		Backend:   b,
		Reason:    reason,
		Embedder:  emb,
		Store:     db,
		Bus:       client,
		Observers: []crew.Observer{collector},
		Logger:    logger,
	})

	var notifiers notify.Multi
	if cfg.Notify.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlack(cfg.Notify.SlackWebhook))
	}

	// Telegram bot
	var bot *telegram.Bot
	if cfg.Telegram.Token != "" {
		bot, err = telegram.NewBot(cfg.Telegram, svc)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		notifiers = append(notifiers, bot)
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Scheduled drills
	sched := scheduler.New(db, svc, notifiers, client, cfg.Scheduler)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	// Web UI
	if cfg.Web.Enabled {
		srv := web.NewServer(web.Deps{
			Store:   db,
			Bus:     bus,
			Service: svc,
			Secrets: secrets,
			Metrics: collector,
			Config:  cfg.Web,
			Version: version,
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	r := &reloader{cfg: cfg, db: db, secrets: secrets, svc: svc, sched: sched, bot: bot}

	// Wait for shutdown signal; SIGHUP reloads the config
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			r.reload()
			continue
		}
		slog.Info("shutting down", "signal", sig)
		break
	}
	cancel()

	if bot != nil {
		bot.Stop()
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("runs still in flight at shutdown", "error", err)
	}
	return nil
}

// reloader applies the reloadable parts of a changed config to the running
// gateway. Store, NATS, web and backend settings need a restart.
type reloader struct {
	cfg     *config.Config
	db      *store.Store
	secrets *vault.Secrets
	svc     *incident.Service
	sched   *scheduler.Scheduler
	bot     *telegram.Bot
}

func (r *reloader) reload() {
	next, err := config.Load()
	if err != nil {
		slog.Error("config reload failed", "error", err)
		return
	}
	if r.secrets != nil {
		r.secrets.ResolveConfig(next)
	}

	d := config.Diff(r.cfg, next)
	for _, field := range d.NonReloadable {
		slog.Warn("config change needs a restart", "field", field)
	}
	if !d.HasChanges() {
		slog.Info("config reloaded, nothing to apply")
		r.cfg = next
		return
	}

	if len(d.OverridesAdded) > 0 || len(d.OverridesRemoved) > 0 || len(d.OverridesChanged) > 0 ||
		d.CapabilitiesChanged || d.RateLimitChanged {
		roster, err := buildRoster(next)
		if err != nil {
			slog.Error("rebuild roster failed", "error", err)
			return
		}
		if err := roster.Sync(r.db); err != nil {
			slog.Warn("sync agent registry failed", "error", err)
		}
		r.svc.SetRoster(roster)
		slog.Info("agent roster reloaded",
			"added", d.OverridesAdded, "removed", d.OverridesRemoved, "changed", d.OverridesChanged)
	}
	if d.ModesChanged {
		r.svc.SetModes(d.NewModes)
		slog.Info("modes reloaded", "safe", d.NewModes.SafeMode, "survival", d.NewModes.SurvivalMode,
			"memory", d.NewModes.MemoryEnabled)
	}
	if d.SchedulerChanged {
		r.sched.UpdateConfig(d.NewPollInterval)
	}
	if d.MainChatIDChanged && r.bot != nil {
		r.bot.SetMainChat(d.NewMainChatID)
	}
	r.cfg = next
}
