package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Drill is a scheduled incident rehearsal: the incident text is run through
// the crew on the drill's schedule.
type Drill struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Schedule     string     `json:"schedule"`
	Incident     string     `json:"incident"`
	SafeMode     bool       `json:"safe_mode"`
	SurvivalMode bool       `json:"survival_mode"`
	Status       string     `json:"status"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastStatus   string     `json:"last_status,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	LastRunID    string     `json:"last_run_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

const drillColumns = `id, name, schedule, incident, safe_mode, survival_mode, status,
	next_run_at, last_run_at, last_status, last_error, last_run_id, created_at`

func scanDrill(sc scanner) (*Drill, error) {
	d := &Drill{}
	var safe, survival int
	var lastStatus, lastError, lastRunID sql.NullString
	err := sc.Scan(&d.ID, &d.Name, &d.Schedule, &d.Incident, &safe, &survival, &d.Status,
		&d.NextRunAt, &d.LastRunAt, &lastStatus, &lastError, &lastRunID, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.SafeMode = safe == 1
	d.SurvivalMode = survival == 1
	d.LastStatus = lastStatus.String
	d.LastError = lastError.String
	d.LastRunID = lastRunID.String
	return d, nil
}

func (s *Store) SaveDrill(d *Drill) error {
	_, err := s.db.Exec(`
		INSERT INTO drills (id, name, schedule, incident, safe_mode, survival_mode, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			incident = excluded.incident,
			safe_mode = excluded.safe_mode,
			survival_mode = excluded.survival_mode,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		d.ID, d.Name, d.Schedule, d.Incident, boolToInt(d.SafeMode), boolToInt(d.SurvivalMode), d.Status, d.NextRunAt)
	if err != nil {
		return fmt.Errorf("save drill: %w", err)
	}
	return nil
}

func (s *Store) GetDrill(id string) (*Drill, error) {
	row := s.db.QueryRow(`SELECT `+drillColumns+` FROM drills WHERE id = ?`, id)
	d, err := scanDrill(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get drill: %w", err)
	}
	return d, nil
}

func (s *Store) ListDrills() ([]Drill, error) {
	rows, err := s.db.Query(`SELECT ` + drillColumns + ` FROM drills ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list drills: %w", err)
	}
	defer rows.Close()
	return collectDrills(rows)
}

func (s *Store) GetDueDrills(now time.Time) ([]Drill, error) {
	rows, err := s.db.Query(`SELECT `+drillColumns+` FROM drills
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due drills: %w", err)
	}
	defer rows.Close()
	return collectDrills(rows)
}

func collectDrills(rows *sql.Rows) ([]Drill, error) {
	var drills []Drill
	for rows.Next() {
		d, err := scanDrill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drill: %w", err)
		}
		drills = append(drills, *d)
	}
	return drills, rows.Err()
}

func (s *Store) UpdateDrillRun(id, lastStatus, lastError, runID string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE drills
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, last_run_id = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, runID, nextRunAt, id)
	return err
}

func (s *Store) UpdateDrillStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE drills SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteDrill(id string) error {
	_, err := s.db.Exec(`DELETE FROM drills WHERE id = ?`, id)
	return err
}
