package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps plans and findings in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS plans (
			ref        TEXT PRIMARY KEY,
			body       TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS findings (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ref        TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_findings_ref ON findings(ref);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Read loads the plan for ref.
func (s *SQLiteStore) Read(ctx context.Context, ref string) (*Plan, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM plans WHERE ref = ?`, ref).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	var p Plan
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", ref, err)
	}
	return &p, nil
}

// Write upserts the plan for ref.
func (s *SQLiteStore) Write(ctx context.Context, ref string, p *Plan) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (ref, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, ref, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

// AppendFindings inserts one findings record.
func (s *SQLiteStore) AppendFindings(ctx context.Context, ref string, f Findings) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO findings (ref, body, created_at) VALUES (?, ?, ?)`,
		ref, string(body), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write findings: %w", err)
	}
	return nil
}

// ReadFindings returns findings for ref in insertion order.
func (s *SQLiteStore) ReadFindings(ctx context.Context, ref string) ([]Findings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM findings WHERE ref = ? ORDER BY id`, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var out []Findings
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var f Findings
		if err := json.Unmarshal([]byte(body), &f); err != nil {
			return nil, fmt.Errorf("failed to parse findings: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
