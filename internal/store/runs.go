package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run statuses. A run is incomplete when it finished but some item failed
// or was blocked; failed means it never produced a result at all.
const (
	RunRunning    = "running"
	RunCompleted  = "completed"
	RunIncomplete = "incomplete"
	RunFailed     = "failed"
)

type Run struct {
	ID          string          `json:"id"`
	Incident    string          `json:"incident"`
	Mode        string          `json:"mode"`
	Strategy    string          `json:"strategy"`
	Source      string          `json:"source"`
	Status      string          `json:"status"`
	Memory      bool            `json:"memory"`
	Complete    bool            `json:"complete"`
	FinalOutput string          `json:"final_output,omitempty"`
	Usage       json.RawMessage `json:"usage,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

type RunItem struct {
	RunID      string     `json:"run_id"`
	Key        string     `json:"key"`
	Position   int        `json:"position"`
	AgentID    string     `json:"agent_id"`
	DependsOn  []string   `json:"depends_on"`
	Status     string     `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

const runColumns = `id, incident, mode, strategy, source, status, memory, complete, final_output, usage, error, started_at, completed_at`

func scanRun(sc scanner) (*Run, error) {
	r := &Run{}
	var memory, complete int
	var finalOutput, usage, errMsg sql.NullString
	err := sc.Scan(&r.ID, &r.Incident, &r.Mode, &r.Strategy, &r.Source, &r.Status, &memory, &complete,
		&finalOutput, &usage, &errMsg, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Memory = memory == 1
	r.Complete = complete == 1
	r.FinalOutput = finalOutput.String
	r.Error = errMsg.String
	if usage.String != "" {
		r.Usage = json.RawMessage(usage.String)
	}
	return r, nil
}

func (s *Store) SaveRun(r *Run) error {
	var usage *string
	if len(r.Usage) > 0 {
		u := string(r.Usage)
		usage = &u
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, incident, mode, strategy, source, status, memory, complete, final_output, usage, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			memory = excluded.memory,
			complete = excluded.complete,
			final_output = excluded.final_output,
			usage = excluded.usage,
			error = excluded.error,
			completed_at = CASE WHEN excluded.status IN ('completed', 'incomplete', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Incident, r.Mode, r.Strategy, r.Source, r.Status, boolToInt(r.Memory), boolToInt(r.Complete),
		r.FinalOutput, usage, r.Error)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return err
}

// FailInterruptedRuns marks runs left in running state by a previous
// process as failed. It returns how many were touched.
func (s *Store) FailInterruptedRuns() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE runs SET status = 'failed', error = 'interrupted', completed_at = CURRENT_TIMESTAMP
		WHERE status = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// SaveRunItems replaces the item rows of a run.
func (s *Store) SaveRunItems(runID string, items []RunItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM run_items WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear run items: %w", err)
	}
	for _, it := range items {
		deps, err := json.Marshal(it.DependsOn)
		if err != nil {
			return fmt.Errorf("encode depends_on: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO run_items (run_id, key, position, agent_id, depends_on, status, output, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, it.Key, it.Position, it.AgentID, string(deps), it.Status, it.Output, it.Error, it.StartedAt, it.FinishedAt); err != nil {
			return fmt.Errorf("insert run item %s: %w", it.Key, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetRunItems(runID string) ([]RunItem, error) {
	rows, err := s.db.Query(`
		SELECT run_id, key, position, agent_id, depends_on, status, output, error, started_at, finished_at
		FROM run_items WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run items: %w", err)
	}
	defer rows.Close()

	var items []RunItem
	for rows.Next() {
		var it RunItem
		var deps, output, errMsg sql.NullString
		if err := rows.Scan(&it.RunID, &it.Key, &it.Position, &it.AgentID, &deps, &it.Status,
			&output, &errMsg, &it.StartedAt, &it.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run item: %w", err)
		}
		it.Output = output.String
		it.Error = errMsg.String
		if deps.String != "" {
			if err := json.Unmarshal([]byte(deps.String), &it.DependsOn); err != nil {
				return nil, fmt.Errorf("decode depends_on: %w", err)
			}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// RunStats counts runs per status.
func (s *Store) RunStats() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan run stats: %w", err)
		}
		stats[status] = n
	}
	return stats, rows.Err()
}
