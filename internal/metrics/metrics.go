// Package metrics exports run and work item counters to Prometheus. The
// Collector is a crew.Observer and owns its registry, so several collectors
// can coexist in tests.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtzanidakis/warroom/internal/crew"
)

const namespace = "warroom"

type Collector struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  *prometheus.HistogramVec
	itemsTotal   *prometheus.CounterVec
	itemDuration *prometheus.HistogramVec
	itemRetries  *prometheus.CounterVec
	throttleWait *prometheus.HistogramVec
	delegations  *prometheus.CounterVec
	tokensUsed   *prometheus.CounterVec

	mu    sync.Mutex
	modes map[string]string // run id -> mode
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		modes:    make(map[string]string),

		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished incident runs by mode and outcome.",
		}, []string{"mode", "status"}),
		runsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Incident runs currently executing.",
		}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of incident runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		itemsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_items_total",
			Help:      "Work items reaching a final state.",
		}, []string{"item", "agent", "state"}),
		itemDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "work_item_duration_seconds",
			Help:      "Time from dispatch to completion of a work item.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"item"}),
		itemRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_item_retries_total",
			Help:      "Backend calls retried after a rate limit.",
		}, []string{"agent"}),
		throttleWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "throttle_wait_seconds",
			Help:      "Time agents spent waiting for their rate limit.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"agent"}),
		delegations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Work items handed to another agent by the coordinator.",
		}, []string{"item", "agent"}),
		tokensUsed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Backend tokens used by finished runs.",
		}, []string{"type"}),
	}
}

func (c *Collector) Observe(e crew.Event) {
	switch e.Type {
	case crew.EventRunStarted:
		c.mu.Lock()
		c.modes[e.RunID] = e.Detail
		c.mu.Unlock()
		c.runsActive.Inc()
	case crew.EventRunFinished:
		c.mu.Lock()
		mode := c.modes[e.RunID]
		delete(c.modes, e.RunID)
		c.mu.Unlock()
		c.runsActive.Dec()
		c.runsTotal.WithLabelValues(mode, e.Detail).Inc()
		c.runDuration.WithLabelValues(mode).Observe(e.Duration.Seconds())
		c.tokensUsed.WithLabelValues("prompt").Add(float64(e.Usage.PromptTokens))
		c.tokensUsed.WithLabelValues("completion").Add(float64(e.Usage.CompletionTokens))
	case crew.EventItemCompleted:
		c.itemsTotal.WithLabelValues(e.Item, e.AgentID, string(crew.StateCompleted)).Inc()
		c.itemDuration.WithLabelValues(e.Item).Observe(e.Duration.Seconds())
	case crew.EventItemFailed:
		c.itemsTotal.WithLabelValues(e.Item, e.AgentID, string(crew.StateFailed)).Inc()
	case crew.EventItemBlocked:
		c.itemsTotal.WithLabelValues(e.Item, e.AgentID, string(crew.StateBlocked)).Inc()
	case crew.EventItemRetry:
		c.itemRetries.WithLabelValues(e.AgentID).Inc()
	case crew.EventItemThrottled:
		c.throttleWait.WithLabelValues(e.AgentID).Observe(e.Duration.Seconds())
	case crew.EventItemDelegated:
		c.delegations.WithLabelValues(e.Item, e.AgentID).Inc()
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
