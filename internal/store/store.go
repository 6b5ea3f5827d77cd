package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
)

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		department TEXT NOT NULL DEFAULT '',
		rating INTEGER NOT NULL DEFAULT 1000,
		win_rate REAL NOT NULL DEFAULT 0,
		streak INTEGER NOT NULL DEFAULT 0,
		total_points INTEGER NOT NULL DEFAULT 0,
		skills_profile TEXT NOT NULL DEFAULT '{}',
		last_activity_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scenarios (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		skill TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL,
		rubric TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'text',
		questions TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assessment_sessions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		questions TEXT NOT NULL DEFAULT '[]',
		answers TEXT NOT NULL DEFAULT '[]',
		max_questions INTEGER NOT NULL DEFAULT 0,
		final_score INTEGER,
		version INTEGER NOT NULL DEFAULT 1,
		started_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME,
		UNIQUE (employee_id, scenario_id, phase),
		FOREIGN KEY (employee_id) REFERENCES employees(id),
		FOREIGN KEY (scenario_id) REFERENCES scenarios(id)
	);

	CREATE TABLE IF NOT EXISTS assessment_records (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		score INTEGER NOT NULL,
		difficulty TEXT NOT NULL,
		skill TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (employee_id) REFERENCES employees(id),
		FOREIGN KEY (scenario_id) REFERENCES scenarios(id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_employee ON assessment_records(employee_id, phase);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Tx is a unit of work spanning several store operations.
type Tx struct {
	tx *sql.Tx
}

// InTx runs fn inside a transaction, committing if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit transaction", err)
	}
	return nil
}

// persistence wraps a driver error so callers can match model.ErrPersistence.
func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrPersistence, err)
}

// classify maps constraint violations to model.ErrConflict and
// everything else to model.ErrPersistence.
func classify(op string, err error) error {
	if isConstraint(err) {
		return fmt.Errorf("%s: %w: %v", op, model.ErrConflict, err)
	}
	return persistence(op, err)
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, model.ErrNotFound)
}
