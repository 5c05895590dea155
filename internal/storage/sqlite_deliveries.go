package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type sqliteDeliveryRepo struct {
	db *sql.DB
}

const deliveryColumns = `id, alert_id, channel, recipient, address, status, subject, body, html,
	attempted_at, delivered_at, read_at, clicked_at, provider_id, provider_response, error,
	retry_count, max_retries, next_retry_at, latency_ms, cost, created_at`

func (r *sqliteDeliveryRepo) Create(ctx context.Context, d *models.NotificationDelivery) error {
	query := `INSERT INTO notification_deliveries (` + deliveryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.AlertID, d.Channel, d.Recipient, nullString(d.Address), d.Status,
		nullString(d.Subject), nullString(d.Body), nullString(d.HTML),
		nullTime(d.AttemptedAt), nullTime(d.DeliveredAt), nullTime(d.ReadAt), nullTime(d.ClickedAt),
		nullString(d.ProviderID), nullString(string(d.ProviderResponse)), nullString(d.Error),
		d.RetryCount, d.MaxRetries, nullTime(d.NextRetryAt), d.LatencyMS, d.Cost, toNanos(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (r *sqliteDeliveryRepo) Update(ctx context.Context, d *models.NotificationDelivery) error {
	query := `
		UPDATE notification_deliveries SET address = ?, status = ?, subject = ?, body = ?, html = ?,
			attempted_at = ?, delivered_at = ?, read_at = ?, clicked_at = ?,
			provider_id = ?, provider_response = ?, error = ?,
			retry_count = ?, max_retries = ?, next_retry_at = ?, latency_ms = ?, cost = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		nullString(d.Address), d.Status, nullString(d.Subject), nullString(d.Body), nullString(d.HTML),
		nullTime(d.AttemptedAt), nullTime(d.DeliveredAt), nullTime(d.ReadAt), nullTime(d.ClickedAt),
		nullString(d.ProviderID), nullString(string(d.ProviderResponse)), nullString(d.Error),
		d.RetryCount, d.MaxRetries, nullTime(d.NextRetryAt), d.LatencyMS, d.Cost,
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("delivery not found: %s", d.ID)
	}
	return nil
}

func (r *sqliteDeliveryRepo) GetByID(ctx context.Context, id string) (*models.NotificationDelivery, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM notification_deliveries WHERE id = ?`, id)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (r *sqliteDeliveryRepo) ListByAlert(ctx context.Context, alertID string) ([]*models.NotificationDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM notification_deliveries WHERE alert_id = ? ORDER BY created_at, id`
	return r.query(ctx, query, alertID)
}

func (r *sqliteDeliveryRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.NotificationDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM notification_deliveries
		WHERE status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at`
	query, args := pageArgs(query, []interface{}{toNanos(now)}, limit, 0)
	return r.query(ctx, query, args...)
}

func (r *sqliteDeliveryRepo) List(ctx context.Context, f DeliveryFilter) ([]*models.NotificationDelivery, int64, error) {
	var where []string
	var args []interface{}
	if f.AlertID != "" {
		where = append(where, "alert_id = ?")
		args = append(args, f.AlertID)
	}
	if f.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, f.Channel)
	}
	if f.Recipient != "" {
		where = append(where, "recipient = ?")
		args = append(args, f.Recipient)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notification_deliveries"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	query, all := pageArgs(`SELECT `+deliveryColumns+` FROM notification_deliveries`+clause+` ORDER BY created_at DESC`, args, f.Limit, f.Offset)
	deliveries, err := r.query(ctx, query, all...)
	if err != nil {
		return nil, 0, err
	}
	return deliveries, total, nil
}

func (r *sqliteDeliveryRepo) StatsSince(ctx context.Context, since time.Time) (*models.DeliveryStats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN d.status = 'delivered' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN d.status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN d.status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN d.status = 'failed' AND d.retry_count >= d.max_retries THEN 1 ELSE 0 END), 0)
		FROM notification_deliveries d
		JOIN alerts a ON a.id = d.alert_id
		WHERE a.triggered_at >= ?
	`
	stats := &models.DeliveryStats{}
	err := r.db.QueryRowContext(ctx, query, toNanos(since)).Scan(
		&stats.Total, &stats.Delivered, &stats.Failed, &stats.Pending, &stats.Exhausted,
	)
	if err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	return stats, nil
}

func (r *sqliteDeliveryRepo) CountDeliveredTo(ctx context.Context, recipient string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notification_deliveries WHERE recipient = ? AND status = 'delivered' AND delivered_at >= ?",
		recipient, toNanos(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deliveries to recipient: %w", err)
	}
	return n, nil
}

func (r *sqliteDeliveryRepo) query(ctx context.Context, query string, args ...interface{}) ([]*models.NotificationDelivery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.NotificationDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func scanDelivery(s scanner) (*models.NotificationDelivery, error) {
	d := &models.NotificationDelivery{}
	var address, subject, body, html, providerID, providerResponse, errMsg sql.NullString
	var attemptedAt, deliveredAt, readAt, clickedAt, nextRetryAt sql.NullInt64
	var createdAt int64

	err := s.Scan(
		&d.ID, &d.AlertID, &d.Channel, &d.Recipient, &address, &d.Status, &subject, &body, &html,
		&attemptedAt, &deliveredAt, &readAt, &clickedAt, &providerID, &providerResponse, &errMsg,
		&d.RetryCount, &d.MaxRetries, &nextRetryAt, &d.LatencyMS, &d.Cost, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan delivery: %w", err)
	}

	d.Address = address.String
	d.Subject = subject.String
	d.Body = body.String
	d.HTML = html.String
	d.AttemptedAt = timePtr(attemptedAt)
	d.DeliveredAt = timePtr(deliveredAt)
	d.ReadAt = timePtr(readAt)
	d.ClickedAt = timePtr(clickedAt)
	d.ProviderID = providerID.String
	if providerResponse.Valid {
		d.ProviderResponse = json.RawMessage(providerResponse.String)
	}
	d.Error = errMsg.String
	d.NextRetryAt = timePtr(nextRetryAt)
	d.CreatedAt = fromNanos(createdAt)
	return d, nil
}
