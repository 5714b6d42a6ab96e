package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/agentcoach/pkg/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore implements Store on top of sqlx. It works with SQLite and PostgreSQL;
// queries are written with '?' placeholders and rebound for the driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

var _ Store = (*SQLStore)(nil)

// Connect opens a database and initializes the schema
func Connect(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = filepath.Join("data", "agentcoach.db")
		}
		// Create data directory if it doesn't exist
		if !strings.HasPrefix(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres requires a connection string")
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// Enable foreign keys
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

var schema = []struct {
	name string
	ddl  string
}{
	{"specialties", `
		CREATE TABLE IF NOT EXISTS specialties (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			domain TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			required_knowledge TEXT NOT NULL DEFAULT '[]',
			competency_levels TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`},
	{"training_sessions", `
		CREATE TABLE IF NOT EXISTS training_sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			specialty_id TEXT NOT NULL,
			target_competency_level TEXT NOT NULL,
			current_competency_level TEXT NOT NULL,
			status TEXT NOT NULL,
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_iteration INTEGER NOT NULL DEFAULT 1,
			max_iterations INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			phase_metadata TEXT NOT NULL DEFAULT '{}',
			updated_at TIMESTAMP NOT NULL
		)`},
	{"idx_sessions_status", `CREATE INDEX IF NOT EXISTS idx_sessions_status ON training_sessions (status)`},
	{"tests", `
		CREATE TABLE IF NOT EXISTS tests (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			test_type TEXT NOT NULL,
			questions TEXT NOT NULL,
			passing_score INTEGER NOT NULL,
			generated_by TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (session_id) REFERENCES training_sessions(id) ON DELETE CASCADE
		)`},
	{"test_attempts", `
		CREATE TABLE IF NOT EXISTS test_attempts (
			id TEXT PRIMARY KEY,
			test_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			answers TEXT NOT NULL,
			score INTEGER NOT NULL,
			passed BOOLEAN NOT NULL,
			feedback TEXT NOT NULL,
			completed_at TIMESTAMP NOT NULL,
			FOREIGN KEY (test_id) REFERENCES tests(id) ON DELETE CASCADE,
			FOREIGN KEY (session_id) REFERENCES training_sessions(id) ON DELETE CASCADE,
			UNIQUE (test_id, session_id, attempt_number)
		)`},
	{"knowledge_items", `
		CREATE TABLE IF NOT EXISTS knowledge_items (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			specialty_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL,
			relevance_score DOUBLE PRECISION NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed TIMESTAMP NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL
		)`},
	{"idx_knowledge_agent", `CREATE INDEX IF NOT EXISTS idx_knowledge_agent ON knowledge_items (agent_id)`},
	{"experiences", `
		CREATE TABLE IF NOT EXISTS experiences (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			context TEXT NOT NULL,
			outcome TEXT NOT NULL,
			lessons_learned TEXT NOT NULL DEFAULT '[]',
			emotional_response TEXT NOT NULL DEFAULT '',
			impact_score DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`},
	{"idx_experiences_agent", `CREATE INDEX IF NOT EXISTS idx_experiences_agent ON experiences (agent_id)`},
}

// initializeSchema creates necessary tables if they don't exist
func (s *SQLStore) initializeSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}
	return nil
}

// DeleteAgentData removes everything an agent owns in one transaction
func (s *SQLStore) DeleteAgentData(ctx context.Context, agentID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var sessionIDs []string
		if err := tx.SelectContext(ctx, &sessionIDs,
			tx.Rebind("SELECT id FROM training_sessions WHERE agent_id = ?"), agentID); err != nil {
			return fmt.Errorf("failed to list agent sessions: %w", err)
		}
		for _, id := range sessionIDs {
			if err := deleteSessionTx(ctx, tx, id); err != nil {
				return err
			}
		}
		for _, table := range []string{"knowledge_items", "experiences"} {
			if _, err := tx.ExecContext(ctx,
				tx.Rebind("DELETE FROM "+table+" WHERE agent_id = ?"), agentID); err != nil {
				return fmt.Errorf("failed to delete agent %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// notFound maps sql.ErrNoRows to models.ErrNotFound
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s %s: %w", what, id, err)
}

// isUniqueViolation recognises unique constraint failures from either driver
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
