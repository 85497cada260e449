package store

import (
	"database/sql"
	"fmt"
	"time"
)

type RunEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Item      string    `json:"item,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveRunEvent(ev *RunEvent) error {
	result, err := s.db.Exec(`
		INSERT INTO run_events (run_id, type, item, agent_id, detail)
		VALUES (?, ?, ?, ?, ?)`,
		ev.RunID, ev.Type, ev.Item, ev.AgentID, ev.Detail)
	if err != nil {
		return fmt.Errorf("save run event: %w", err)
	}
	ev.ID, _ = result.LastInsertId()
	return nil
}

// GetRunEvents returns a run's events in the order they were recorded.
func (s *Store) GetRunEvents(runID string) ([]RunEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, type, item, agent_id, detail, created_at
		FROM run_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) GetRecentEvents(limit int) ([]RunEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, type, item, agent_id, detail, created_at
		FROM run_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]RunEvent, error) {
	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		var item, agentID, detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &item, &agentID, &detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		ev.Item = item.String
		ev.AgentID = agentID.String
		ev.Detail = detail.String
		events = append(events, ev)
	}
	return events, rows.Err()
}
