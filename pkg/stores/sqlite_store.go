package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, command, program, status, started_at, completed_at, duration_ms, entity_count, passes, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	metadata := run.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Command,
		run.Program,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.DurationMS,
		run.EntityCount,
		run.Passes,
		run.Error,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

const runColumns = `id, command, program, status, started_at, completed_at, duration_ms, entity_count, passes, error, metadata`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Command,
		&run.Program,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DurationMS,
		&run.EntityCount,
		&run.Passes,
		&run.Error,
		&run.Metadata,
	)
	return run, err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// CompleteRun records the final status and statistics of a run
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, duration_ms = ?, entity_count = ?, passes = ?, error = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		run.Status, run.CompletedAt, run.DurationMS, run.EntityCount, run.Passes, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}

	return nil
}

// ListRuns lists runs, newest first, with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and, through foreign keys, its snapshots
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// withTx runs fn in a transaction, rolling back when it fails
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveEntities stores the finalized entities of a run
func (s *SQLiteStore) SaveEntities(ctx context.Context, runID string, entities []*EntitySnapshot) error {
	query := `
		INSERT INTO entities (run_id, key, kind, type, position, level, properties, depends_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare entity insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entities {
			deps, err := encodeKeys(e.DependsOn)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, runID, e.Key, e.Kind, e.Type, e.Position, e.Level, e.Properties, deps); err != nil {
				return fmt.Errorf("failed to save entity %s: %w", e.Key, err)
			}
		}
		return nil
	})
}

// ListEntities returns the snapshots of a run in finalized order
func (s *SQLiteStore) ListEntities(ctx context.Context, runID string) ([]*EntitySnapshot, error) {
	query := `
		SELECT run_id, key, kind, type, position, level, properties, depends_on
		FROM entities
		WHERE run_id = ?
		ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	entities := []*EntitySnapshot{}
	for rows.Next() {
		e := &EntitySnapshot{}
		var deps string
		if err := rows.Scan(&e.RunID, &e.Key, &e.Kind, &e.Type, &e.Position, &e.Level, &e.Properties, &deps); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if e.DependsOn, err = decodeKeys(deps); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

// SaveOutputs stores the outputs of a run
func (s *SQLiteStore) SaveOutputs(ctx context.Context, runID string, outputs []*OutputRecord) error {
	query := `
		INSERT INTO outputs (run_id, name, value, sensitive, description)
		VALUES (?, ?, ?, ?, ?)
	`

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, o := range outputs {
			if _, err := tx.ExecContext(ctx, query, runID, o.Name, o.Value, o.Sensitive, o.Description); err != nil {
				return fmt.Errorf("failed to save output %s: %w", o.Name, err)
			}
		}
		return nil
	})
}

// ListOutputs returns the outputs of a run in declaration order
func (s *SQLiteStore) ListOutputs(ctx context.Context, runID string) ([]*OutputRecord, error) {
	query := `
		SELECT run_id, name, value, sensitive, description
		FROM outputs
		WHERE run_id = ?
		ORDER BY rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outputs: %w", err)
	}
	defer rows.Close()

	outputs := []*OutputRecord{}
	for rows.Next() {
		o := &OutputRecord{}
		if err := rows.Scan(&o.RunID, &o.Name, &o.Value, &o.Sensitive, &o.Description); err != nil {
			return nil, fmt.Errorf("failed to scan output: %w", err)
		}
		outputs = append(outputs, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outputs: %w", err)
	}

	return outputs, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (id, run_id, type, level, entity, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	data := event.Data
	if data == "" {
		data = "{}"
	}
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		event.Type,
		event.Level,
		event.Entity,
		event.Message,
		data,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetEvents retrieves events with optional filters and pagination, oldest first
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, type, level, entity, message, data, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp ASC, rowid ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Type,
			&event.Level,
			&event.Entity,
			&event.Message,
			&event.Data,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// ReplaceResourceStates swaps the whole applied state in one transaction.
func (s *SQLiteStore) ReplaceResourceStates(ctx context.Context, states []*ResourceState) error {
	query := `
		INSERT INTO resource_state (key, type, kind, properties, checksum, depends_on, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM resource_state`); err != nil {
			return fmt.Errorf("failed to clear resource state: %w", err)
		}
		for _, st := range states {
			deps, err := encodeKeys(st.DependsOn)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query,
				st.Key, st.Type, st.Kind, st.Properties, st.Checksum, deps, st.RunID, st.UpdatedAt); err != nil {
				return fmt.Errorf("failed to save resource state %s: %w", st.Key, err)
			}
		}
		return nil
	})
}

const stateColumns = `key, type, kind, properties, checksum, depends_on, run_id, updated_at`

func scanState(row interface{ Scan(...any) error }) (*ResourceState, error) {
	st := &ResourceState{}
	var deps string
	if err := row.Scan(&st.Key, &st.Type, &st.Kind, &st.Properties, &st.Checksum, &deps, &st.RunID, &st.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	st.DependsOn, err = decodeKeys(deps)
	return st, err
}

// GetResourceState retrieves the applied state of an entity
func (s *SQLiteStore) GetResourceState(ctx context.Context, key string) (*ResourceState, error) {
	query := `SELECT ` + stateColumns + ` FROM resource_state WHERE key = ?`

	st, err := scanState(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource state %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource state: %w", err)
	}

	return st, nil
}

// ListResourceStates lists the applied state ordered by key
func (s *SQLiteStore) ListResourceStates(ctx context.Context) ([]*ResourceState, error) {
	query := `SELECT ` + stateColumns + ` FROM resource_state ORDER BY key ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource states: %w", err)
	}
	defer rows.Close()

	states := []*ResourceState{}
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource state: %w", err)
		}
		states = append(states, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource states: %w", err)
	}

	return states, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func encodeKeys(keys []string) (string, error) {
	if keys == nil {
		keys = []string{}
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("failed to encode keys: %w", err)
	}
	return string(data), nil
}

func decodeKeys(data string) ([]string, error) {
	var keys []string
	if err := json.Unmarshal([]byte(data), &keys); err != nil {
		return nil, fmt.Errorf("failed to decode keys: %w", err)
	}
	return keys, nil
}
