// Package store provides SQL-backed persistence for Postloom.
//
// SQLite (modernc.org/sqlite) is the default embedded driver; PostgreSQL is
// supported through lib/pq. Queries are written with `?` placeholders and
// rebound for the active dialect.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Sentinel errors returned by the store.
var (
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrPublicationNotFound = errors.New("publication not found")
	ErrProgressNotFound    = errors.New("generation progress not found")
	ErrUnsupportedDriver   = errors.New("unsupported database driver")
)

// Store provides access to the Postloom database.
type Store struct {
	db     *sql.DB
	driver string
}

// New opens a SQLite store at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return Open(DriverSQLite, dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
}

// Open connects to the given driver/DSN and runs migrations.
func Open(driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the active driver name.
func (s *Store) Driver() string {
	return s.driver
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			name TEXT NOT NULL,
			generation_status TEXT NOT NULL DEFAULT 'planning',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS publications (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			plan_item_id TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'text-only',
			template_id TEXT,
			resource_ids TEXT,
			social_network TEXT NOT NULL,
			title TEXT NOT NULL,
			original_content TEXT,
			generated_content TEXT,
			generated_image_urls TEXT,
			template_texts TEXT,
			generation_metadata TEXT,
			generation_status TEXT NOT NULL,
			error_message TEXT,
			scheduled_date TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS generation_progress (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			total_publications INTEGER NOT NULL,
			completed_publications INTEGER NOT NULL,
			current_publication_id TEXT,
			current_agent TEXT,
			current_step TEXT,
			errors TEXT,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			estimated_time_remaining INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS regeneration_history (
			id TEXT PRIMARY KEY,
			publication_id TEXT NOT NULL,
			previous_content TEXT,
			previous_image_urls TEXT,
			previous_metadata TEXT,
			new_content TEXT,
			new_image_urls TEXT,
			new_metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS locks (
			id TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL UNIQUE,
			holder_id TEXT NOT NULL,
			lock_type TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pdr (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			inputs_hash TEXT NOT NULL,
			outcome TEXT NOT NULL,
			campaign_id TEXT,
			details TEXT,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_publications_campaign_id ON publications(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_campaign_id ON generation_progress(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_publication_id ON regeneration_history(publication_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pdr_campaign_id ON pdr(campaign_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites `?` placeholders into `$n` for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(raw sql.NullString, v interface{}) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
