package writer

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS scalars (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	tag        TEXT NOT NULL,
	value      REAL NOT NULL,
	step       INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scalars_tag_step ON scalars(tag, step);
`

type Scalar struct {
	RunID     string
	Tag       string
	Value     float64
	Step      int
	CreatedAt time.Time
}

// SQLite stores scalars so evaluation losses can be compared across runs.
// Every SQLite writer gets its own run id.
type SQLite struct {
	db    *sql.DB
	RunID string
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db, RunID: uuid.New().String()}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) AddScalar(tag string, value float64, step int) error {
	_, err := s.db.Exec(
		`INSERT INTO scalars (run_id, tag, value, step, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.RunID, tag, value, step, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert scalar: %w", err)
	}
	return nil
}

// Scalars returns every stored scalar with the given tag, from all runs,
// ordered by step then insertion.
func (s *SQLite) Scalars(tag string) ([]Scalar, error) {
	rows, err := s.db.Query(
		`SELECT run_id, tag, value, step, created_at FROM scalars WHERE tag = ? ORDER BY step, id`, tag)
	if err != nil {
		return nil, fmt.Errorf("query scalars: %w", err)
	}
	defer rows.Close()
	var out []Scalar
	for rows.Next() {
		var sc Scalar
		var created string
		if err := rows.Scan(&sc.RunID, &sc.Tag, &sc.Value, &sc.Step, &created); err != nil {
			return nil, fmt.Errorf("scan scalar: %w", err)
		}
		sc.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
