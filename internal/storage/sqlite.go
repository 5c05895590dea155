package storage

import (
	"context"
	"database/sql"
	"fmt"

	// Pure Go SQLite driver.
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	rules       *sqliteRuleRepo
	alerts      *sqliteAlertRepo
	deliveries  *sqliteDeliveryRepo
	templates   *sqliteTemplateRepo
	preferences *sqlitePreferenceRepo
}

// NewSQLiteStorage creates a new SQLite storage. Use ":memory:" for an
// ephemeral database.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// NewSQLiteStorageFromDB wraps an existing connection. Used with sqlmock.
func NewSQLiteStorageFromDB(db *sql.DB) *SQLiteStorage {
	s := &SQLiteStorage{db: db}
	s.initRepos()
	return s
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	if s.path == "" {
		return fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive; ":memory:" lives with it

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if s.path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db
	s.initRepos()
	return nil
}

func (s *SQLiteStorage) initRepos() {
	s.rules = &sqliteRuleRepo{db: s.db}
	s.alerts = &sqliteAlertRepo{db: s.db}
	s.deliveries = &sqliteDeliveryRepo{db: s.db}
	s.templates = &sqliteTemplateRepo{db: s.db}
	s.preferences = &sqlitePreferenceRepo{db: s.db}
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Rules returns the rule repository.
func (s *SQLiteStorage) Rules() RuleRepository {
	return s.rules
}

// Alerts returns the alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository {
	return s.alerts
}

// Deliveries returns the delivery repository.
func (s *SQLiteStorage) Deliveries() DeliveryRepository {
	return s.deliveries
}

// Templates returns the template repository.
func (s *SQLiteStorage) Templates() TemplateRepository {
	return s.templates
}

// Preferences returns the preference repository.
func (s *SQLiteStorage) Preferences() PreferenceRepository {
	return s.preferences
}
