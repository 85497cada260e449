// Package memory is the optional short-term recall store. One SQLite file
// per backend model identity holds completed item outputs with their
// embeddings; recall ranks them by cosine similarity to the incident.
package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mtzanidakis/warroom/internal/backend"
)

// minScore drops recalls that are barely related to the query.
const minScore = 0.2

type Store struct {
	db       *sql.DB
	embedder backend.Embedder
	identity string
	limit    int
}

// Path returns where the memory of a model identity lives under root.
func Path(root, identity string) string {
	return filepath.Join(root, Sanitize(identity), "memory.db")
}

// Sanitize turns a provider/model identity into a directory name.
func Sanitize(identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "default"
	}
	return strings.NewReplacer("/", "_", ":", "_").Replace(identity)
}

func Open(root, identity string, emb backend.Embedder, limit int) (*Store, error) {
	if emb == nil {
		return nil, errors.New("memory needs an embedding backend")
	}
	if limit <= 0 {
		limit = 3
	}

	path := Path(root, identity)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}
	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT NOT NULL,
		item       TEXT NOT NULL,
		text       TEXT NOT NULL,
		embedding  BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory: %w", err)
	}

	return &Store{db: db, embedder: emb, identity: identity, limit: limit}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Identity() string { return s.identity }

func (s *Store) Remember(ctx context.Context, runID, key, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (run_id, item, text, embedding) VALUES (?, ?, ?, ?)`,
		runID, key, text, encode(vecs[0]))
	return err
}

// Recall returns up to the configured number of stored texts most similar
// to query, best first.
func (s *Store) Recall(ctx context.Context, query string) ([]string, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	q := vecs[0]

	rows, err := s.db.QueryContext(ctx, `SELECT item, text, embedding FROM entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type hit struct {
		text  string
		score float64
	}
	var hits []hit
	for rows.Next() {
		var item, text string
		var blob []byte
		if err := rows.Scan(&item, &text, &blob); err != nil {
			return nil, err
		}
		score := cosine(q, decode(blob))
		if score < minScore {
			continue
		}
		hits = append(hits, hit{text: item + ": " + text, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > s.limit {
		hits = hits[:s.limit]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.text
	}
	return out, nil
}

func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

// cosine is 0 for vectors of different length or zero magnitude.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decode(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
