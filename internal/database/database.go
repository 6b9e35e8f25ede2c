package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var ErrNotInitialized = errors.New("database is not initialized")

// DB is the sqlite engine behind the job store and the pending action queue.
type DB struct {
	*sql.DB
	logger *zerolog.Logger

	initMu   sync.Mutex
	ready    bool
	inflight *initCall
}

type initCall struct {
	done chan struct{}
	err  error
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" is per connection, and writers never race each other.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, logger: logger}
	if err := db.Init(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

// Init creates the schema. It is safe to call repeatedly; concurrent callers wait for
// the same in-flight initialization. A failed Init may be retried.
func (db *DB) Init(ctx context.Context) error {
	db.initMu.Lock()
	if db.ready {
		db.initMu.Unlock()
		return nil
	}
	if call := db.inflight; call != nil {
		db.initMu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &initCall{done: make(chan struct{})}
	db.inflight = call
	db.initMu.Unlock()

	call.err = createTables(ctx, db.DB)

	db.initMu.Lock()
	db.ready = call.err == nil
	db.inflight = nil
	db.initMu.Unlock()
	close(call.done)

	if call.err != nil {
		return fmt.Errorf("init schema: %w", call.err)
	}
	return nil
}

func (db *DB) checkReady() error {
	db.initMu.Lock()
	defer db.initMu.Unlock()
	if !db.ready {
		return ErrNotInitialized
	}
	return nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS current_job (
            id TEXT PRIMARY KEY,
            assignee_id TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            start_country TEXT NOT NULL DEFAULT '',
            delivery_country TEXT NOT NULL DEFAULT '',
            is_received INTEGER NOT NULL DEFAULT 0,
            is_finished INTEGER NOT NULL DEFAULT 0,
            start_datetime TEXT,
            end_datetime TEXT,
            sleep_sweden INTEGER NOT NULL DEFAULT 0,
            sleep_norway INTEGER NOT NULL DEFAULT 0,
            sleep_tracking TEXT,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS pending_actions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT NOT NULL,
            action_type TEXT NOT NULL,
            action_data TEXT,
            timestamp TEXT NOT NULL,
            synced INTEGER NOT NULL DEFAULT 0,
            applied INTEGER NOT NULL DEFAULT 0
        )`,
		`CREATE INDEX IF NOT EXISTS idx_pending_actions_synced_ts ON pending_actions(synced, timestamp)`,
		`CREATE TABLE IF NOT EXISTS dead_actions (
            id INTEGER PRIMARY KEY,
            job_id TEXT NOT NULL,
            action_type TEXT NOT NULL,
            action_data TEXT,
            timestamp TEXT NOT NULL,
            reason TEXT NOT NULL,
            moved_at TEXT NOT NULL
        )`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
