package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Agent struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Objective    string    `json:"objective,omitempty"`
	Capabilities []string  `json:"capabilities"`
	CanDelegate  bool      `json:"can_delegate"`
	RateLimit    int       `json:"rate_limit,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const agentColumns = `id, role, objective, capabilities, can_delegate, rate_limit, created_at, updated_at`

func scanAgent(sc scanner) (*Agent, error) {
	a := &Agent{}
	var objective, caps sql.NullString
	var canDelegate int
	if err := sc.Scan(&a.ID, &a.Role, &objective, &caps, &canDelegate, &a.RateLimit, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Objective = objective.String
	a.CanDelegate = canDelegate == 1
	if caps.String != "" {
		if err := json.Unmarshal([]byte(caps.String), &a.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities: %w", err)
		}
	}
	return a, nil
}

func (s *Store) SaveAgent(a *Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO agents (id, role, objective, capabilities, can_delegate, rate_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			objective = excluded.objective,
			capabilities = excluded.capabilities,
			can_delegate = excluded.can_delegate,
			rate_limit = excluded.rate_limit,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Role, a.Objective, string(caps), boolToInt(a.CanDelegate), a.RateLimit)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *Store) DeleteAgentsNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM agents`)
		return err
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `DELETE FROM agents WHERE id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`
	_, err := s.db.Exec(query, args...)
	return err
}
