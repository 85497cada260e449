package crew

import (
	"time"

	"github.com/mtzanidakis/warroom/internal/backend"
)

type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventItemReady     EventType = "item_ready"
	EventItemStarted   EventType = "item_started"
	EventItemThrottled EventType = "item_throttled"
	EventItemDelegated EventType = "item_delegated"
	EventItemRetry     EventType = "item_retry"
	EventItemCompleted EventType = "item_completed"
	EventItemFailed    EventType = "item_failed"
	EventItemBlocked   EventType = "item_blocked"
	EventRunFinished   EventType = "run_finished"
)

type Event struct {
	Type     EventType     `json:"type"`
	RunID    string        `json:"run_id"`
	Item     string        `json:"item,omitempty"`
	AgentID  string        `json:"agent_id,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Usage    backend.Usage `json:"usage"`
	Time     time.Time     `json:"time"`
}

// Observer receives engine events. Events for different items arrive from
// different goroutines, so implementations must be safe for concurrent use.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans one event out to several observers in order.
type Observers []Observer

func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}
