package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order. Timestamps are stored as
// unix nanoseconds.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				description TEXT,
				trigger_json TEXT NOT NULL,
				severity TEXT NOT NULL,
				channels_json TEXT NOT NULL,
				template_id TEXT,
				check_interval_ns INTEGER NOT NULL DEFAULT 0,
				aggregation_method TEXT NOT NULL DEFAULT 'none',
				aggregation_window_ns INTEGER NOT NULL DEFAULT 0,
				similarity_threshold REAL NOT NULL DEFAULT 0,
				recipients_json TEXT NOT NULL,
				webhook_urls_json TEXT NOT NULL,
				escalation_json TEXT NOT NULL,
				rate_limit_count INTEGER NOT NULL,
				rate_limit_window_ns INTEGER NOT NULL,
				quiet_hours_json TEXT,
				allow_direct_resolve INTEGER NOT NULL DEFAULT 0,
				expire_after_ns INTEGER NOT NULL DEFAULT 0,
				active INTEGER NOT NULL DEFAULT 1,
				trigger_count INTEGER NOT NULL DEFAULT 0,
				last_triggered_at INTEGER,
				avg_response_seconds REAL NOT NULL DEFAULT 0,
				avg_resolution_seconds REAL NOT NULL DEFAULT 0,
				acknowledged_count INTEGER NOT NULL DEFAULT 0,
				resolved_count INTEGER NOT NULL DEFAULT 0,
				false_positive_count INTEGER NOT NULL DEFAULT 0,
				false_positive_rate REAL NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				rule_id TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				severity TEXT NOT NULL,
				status TEXT NOT NULL,
				payload_json TEXT,
				context_json TEXT,
				fingerprint TEXT NOT NULL,
				aggregated_count INTEGER NOT NULL DEFAULT 1,
				merged_json TEXT NOT NULL DEFAULT '[]',
				parent_id TEXT,
				triggered_at INTEGER NOT NULL,
				acknowledged_at INTEGER,
				resolved_at INTEGER,
				expires_at INTEGER,
				acknowledged_by TEXT,
				acknowledgement_notes TEXT,
				resolved_by TEXT,
				resolution_notes TEXT,
				false_positive INTEGER NOT NULL DEFAULT 0,
				delivery_attempts INTEGER NOT NULL DEFAULT 0,
				success_json TEXT NOT NULL DEFAULT '[]',
				failed_json TEXT NOT NULL DEFAULT '[]',
				escalation_level INTEGER NOT NULL DEFAULT 0,
				time_to_acknowledge REAL,
				time_to_resolve REAL
			);

			CREATE TABLE IF NOT EXISTS notification_deliveries (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				channel TEXT NOT NULL,
				recipient TEXT NOT NULL,
				address TEXT,
				status TEXT NOT NULL,
				subject TEXT,
				body TEXT,
				html TEXT,
				attempted_at INTEGER,
				delivered_at INTEGER,
				read_at INTEGER,
				clicked_at INTEGER,
				provider_id TEXT,
				provider_response TEXT,
				error TEXT,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL,
				next_retry_at INTEGER,
				latency_ms INTEGER NOT NULL DEFAULT 0,
				cost REAL NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
			);

			CREATE TABLE IF NOT EXISTS notification_templates (
				id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				channel TEXT,
				subject TEXT NOT NULL,
				body TEXT NOT NULL,
				html TEXT,
				variables_json TEXT NOT NULL,
				defaults_json TEXT NOT NULL,
				locale TEXT,
				time_format TEXT,
				timezone TEXT,
				usage_count INTEGER NOT NULL DEFAULT 0,
				last_used_at INTEGER,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS notification_preferences (
				recipient_id TEXT PRIMARY KEY,
				channels_json TEXT NOT NULL,
				quiet_hours_json TEXT,
				categories_json TEXT NOT NULL,
				max_per_hour INTEGER NOT NULL DEFAULT 0,
				escalation_opt_in INTEGER NOT NULL DEFAULT 1,
				updated_at INTEGER NOT NULL
			);
		`,
	},
	{
		Version: 2,
		Name:    "add_indexes",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_alert_rules_active ON alert_rules(active);
			CREATE INDEX IF NOT EXISTS idx_alerts_status_triggered ON alerts(status, triggered_at);
			CREATE INDEX IF NOT EXISTS idx_alerts_severity_triggered ON alerts(severity, triggered_at);
			CREATE INDEX IF NOT EXISTS idx_alerts_rule_triggered ON alerts(rule_id, triggered_at);
			CREATE INDEX IF NOT EXISTS idx_alerts_expires ON alerts(expires_at);
			CREATE INDEX IF NOT EXISTS idx_deliveries_alert ON notification_deliveries(alert_id);
			CREATE INDEX IF NOT EXISTS idx_deliveries_channel_recipient ON notification_deliveries(channel, recipient);
			CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON notification_deliveries(status, next_retry_at);
		`,
	},
}

// runMigrations executes all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
	}

	if _, err := tx.Exec(m.Up); err != nil {
		tx.Rollback()
		return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().UnixNano(),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}
