package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type sqlitePreferenceRepo struct {
	db *sql.DB
}

const preferenceColumns = `recipient_id, channels_json, quiet_hours_json, categories_json,
	max_per_hour, escalation_opt_in, updated_at`

func (r *sqlitePreferenceRepo) Upsert(ctx context.Context, p *models.NotificationPreference) error {
	channels, err := jsonText("channels", p.Channels)
	if err != nil {
		return err
	}
	quietHours, err := nullJSON("quiet_hours", p.QuietHours)
	if err != nil {
		return err
	}
	categories, err := jsonText("categories", p.Categories)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_preferences (` + preferenceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(recipient_id) DO UPDATE SET
			channels_json = excluded.channels_json,
			quiet_hours_json = excluded.quiet_hours_json,
			categories_json = excluded.categories_json,
			max_per_hour = excluded.max_per_hour,
			escalation_opt_in = excluded.escalation_opt_in,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		p.RecipientID, channels, quietHours, categories,
		p.MaxPerHour, boolToInt(p.EscalationOptIn), toNanos(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (r *sqlitePreferenceRepo) Get(ctx context.Context, recipientID string) (*models.NotificationPreference, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+preferenceColumns+` FROM notification_preferences WHERE recipient_id = ?`, recipientID)
	p, err := scanPreference(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *sqlitePreferenceRepo) List(ctx context.Context) ([]*models.NotificationPreference, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+preferenceColumns+` FROM notification_preferences ORDER BY recipient_id`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*models.NotificationPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

func (r *sqlitePreferenceRepo) Delete(ctx context.Context, recipientID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM notification_preferences WHERE recipient_id = ?", recipientID)
	if err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("preference not found: %s", recipientID)
	}
	return nil
}

func scanPreference(s scanner) (*models.NotificationPreference, error) {
	p := &models.NotificationPreference{}
	var channels, categories string
	var quietHours sql.NullString
	var optIn int
	var updatedAt int64

	err := s.Scan(&p.RecipientID, &channels, &quietHours, &categories, &p.MaxPerHour, &optIn, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan preference: %w", err)
	}

	p.EscalationOptIn = optIn != 0
	p.UpdatedAt = fromNanos(updatedAt)
	if err := unmarshalText("channels", channels, &p.Channels); err != nil {
		return nil, err
	}
	if err := unmarshalText("categories", categories, &p.Categories); err != nil {
		return nil, err
	}
	if quietHours.Valid {
		p.QuietHours = &models.QuietHours{}
		if err := unmarshalText("quiet_hours", quietHours.String, p.QuietHours); err != nil {
			return nil, err
		}
	}
	return p, nil
}
