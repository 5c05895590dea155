package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type sqliteTemplateRepo struct {
	db *sql.DB
}

const templateColumns = `id, name, channel, subject, body, html, variables_json, defaults_json,
	locale, time_format, timezone, usage_count, last_used_at, created_at, updated_at`

func (r *sqliteTemplateRepo) Create(ctx context.Context, t *models.NotificationTemplate) error {
	variables, err := jsonText("variables", t.Variables)
	if err != nil {
		return err
	}
	defaults, err := jsonText("defaults", t.Defaults)
	if err != nil {
		return err
	}

	query := `INSERT INTO notification_templates (` + templateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		t.ID, t.Name, nullString(string(t.Channel)), t.Subject, t.Body, nullString(t.HTML), variables, defaults,
		nullString(t.Locale), nullString(t.TimeFormat), nullString(t.Timezone),
		t.UsageCount, nullTime(t.LastUsedAt), toNanos(t.CreatedAt), toNanos(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *sqliteTemplateRepo) GetByID(ctx context.Context, id string) (*models.NotificationTemplate, error) {
	return r.getOne(ctx, `SELECT `+templateColumns+` FROM notification_templates WHERE id = ?`, id)
}

func (r *sqliteTemplateRepo) GetByName(ctx context.Context, name string) (*models.NotificationTemplate, error) {
	return r.getOne(ctx, `SELECT `+templateColumns+` FROM notification_templates WHERE name = ?`, name)
}

func (r *sqliteTemplateRepo) Update(ctx context.Context, t *models.NotificationTemplate) error {
	variables, err := jsonText("variables", t.Variables)
	if err != nil {
		return err
	}
	defaults, err := jsonText("defaults", t.Defaults)
	if err != nil {
		return err
	}

	query := `
		UPDATE notification_templates SET name = ?, channel = ?, subject = ?, body = ?, html = ?,
			variables_json = ?, defaults_json = ?, locale = ?, time_format = ?, timezone = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		t.Name, nullString(string(t.Channel)), t.Subject, t.Body, nullString(t.HTML),
		variables, defaults, nullString(t.Locale), nullString(t.TimeFormat), nullString(t.Timezone),
		toNanos(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("template not found: %s", t.ID)
	}
	return nil
}

func (r *sqliteTemplateRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM notification_templates WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("template not found: %s", id)
	}
	return nil
}

func (r *sqliteTemplateRepo) List(ctx context.Context) ([]*models.NotificationTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM notification_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.NotificationTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (r *sqliteTemplateRepo) RecordUsage(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE notification_templates SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?",
		toNanos(at), id,
	)
	if err != nil {
		return fmt.Errorf("record template usage: %w", err)
	}
	return nil
}

func (r *sqliteTemplateRepo) getOne(ctx context.Context, query string, arg interface{}) (*models.NotificationTemplate, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func scanTemplate(s scanner) (*models.NotificationTemplate, error) {
	t := &models.NotificationTemplate{}
	var channel, html, locale, timeFormat, timezone sql.NullString
	var variables, defaults string
	var lastUsed sql.NullInt64
	var createdAt, updatedAt int64

	err := s.Scan(
		&t.ID, &t.Name, &channel, &t.Subject, &t.Body, &html, &variables, &defaults,
		&locale, &timeFormat, &timezone, &t.UsageCount, &lastUsed, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}

	t.Channel = models.Channel(channel.String)
	t.HTML = html.String
	t.Locale = locale.String
	t.TimeFormat = timeFormat.String
	t.Timezone = timezone.String
	t.LastUsedAt = timePtr(lastUsed)
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)

	if err := unmarshalText("variables", variables, &t.Variables); err != nil {
		return nil, err
	}
	if err := unmarshalText("defaults", defaults, &t.Defaults); err != nil {
		return nil, err
	}
	return t, nil
}
