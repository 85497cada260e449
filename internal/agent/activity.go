package agent

import (
	"sync"
	"time"
)

type Activity struct {
	AgentID    string    `json:"agent_id"`
	RunID      string    `json:"run_id"`
	Item       string    `json:"item"`
	StartedAt  time.Time `json:"started_at"`
	LastActive time.Time `json:"last_active"`
}

// ActivityTracker records which agents are busy on which run item.
type ActivityTracker struct {
	active map[string]*Activity // agentID → activity
	mu     sync.RWMutex
}

func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		active: make(map[string]*Activity),
	}
}

func (t *ActivityTracker) Start(agentID, runID, item string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.active[agentID] = &Activity{
		AgentID:    agentID,
		RunID:      runID,
		Item:       item,
		StartedAt:  now,
		LastActive: now,
	}
}

// Get returns a copy of the agent's current activity, or nil when idle.
func (t *ActivityTracker) Get(agentID string) *Activity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.active[agentID]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// Finish clears the activity if it still belongs to runID. Concurrent runs
// may share an agent, so a late finish must not clear a newer start.
func (t *ActivityTracker) Finish(agentID, runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.active[agentID]; ok && a.RunID == runID {
		delete(t.active, agentID)
	}
}

func (t *ActivityTracker) Touch(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.active[agentID]; ok {
		a.LastActive = time.Now()
	}
}

func (t *ActivityTracker) ListStale(timeout time.Duration) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stale []string
	now := time.Now()
	for id, a := range t.active {
		if now.Sub(a.LastActive) > timeout {
			stale = append(stale, id)
		}
	}
	return stale
}
