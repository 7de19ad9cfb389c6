package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on cached_answers(status, seq) for pending scans
const currentSchemaVersion = 1

// Store provides durable storage for cached answers.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for created_at/updated_at.
// Used by tests and golden scenarios.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// busyTimeout is how long a writer waits on a locked cache before failing.
const busyTimeout = 5 * time.Second

// Open opens the answer cache at path, creating the file if needed.
//
// The cache runs on a single connection in WAL mode, so the coordinator's
// writes and the API's pending listings never see SQLITE_BUSY within one
// process. The cached_answers table is created on first use and
// migrated forward by PRAGMA user_version; reopening an up-to-date cache
// changes nothing.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open answer cache %s: %w", path, err)
	}
	// one connection: every statement is serialised through it
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open answer cache %s: %w", path, err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// cachePragmas trade a little durability on power loss for write speed.
// A lost answer is resubmitted by the user, a slow submit is not.
var cachePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
}

// prepare configures the connection and brings cached_answers up to
// currentSchemaVersion.
func prepare(db *sql.DB) error {
	for _, pragma := range cachePragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create cached_answers: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for v := version; v < currentSchemaVersion; v++ {
		if _, err := db.Exec(migrations[v]); err != nil {
			return fmt.Errorf("migrate cached_answers to v%d: %w", v+1, err)
		}
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return nil
}

// migrations[v] upgrades cached_answers from version v to v+1.
var migrations = [currentSchemaVersion]string{
	// v1: index backing GetPendingAnswers
	`CREATE INDEX IF NOT EXISTS idx_cached_answers_status ON cached_answers(status, seq)`,
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
