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

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, rule_id, title, message, severity, status, payload_json, context_json,
	fingerprint, aggregated_count, merged_json, parent_id,
	triggered_at, acknowledged_at, resolved_at, expires_at,
	acknowledged_by, acknowledgement_notes, resolved_by, resolution_notes, false_positive,
	delivery_attempts, success_json, failed_json, escalation_level,
	time_to_acknowledge, time_to_resolve`

func (r *sqliteAlertRepo) Create(ctx context.Context, a *models.Alert) error {
	contextJSON, err := nullJSON("context", a.Context)
	if err != nil {
		return err
	}
	merged, err := jsonText("merged_triggers", a.MergedTriggers)
	if err != nil {
		return err
	}
	success, err := jsonText("success_recipients", a.SuccessRecipients)
	if err != nil {
		return err
	}
	failed, err := jsonText("failed_recipients", a.FailedRecipients)
	if err != nil {
		return err
	}

	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.RuleID, a.Title, a.Message, a.Severity, a.Status, nullString(string(a.Payload)), contextJSON,
		a.Fingerprint, a.AggregatedCount, merged, nullString(a.ParentID),
		toNanos(a.TriggeredAt), nullTime(a.AcknowledgedAt), nullTime(a.ResolvedAt), nullTime(a.ExpiresAt),
		nullString(a.AcknowledgedBy), nullString(a.AcknowledgementNotes), nullString(a.ResolvedBy), nullString(a.ResolutionNotes), boolToInt(a.FalsePositive),
		a.DeliveryAttempts, success, failed, a.EscalationLevel,
		nullFloat(a.TimeToAcknowledge), nullFloat(a.TimeToResolve),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *sqliteAlertRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

func (r *sqliteAlertRepo) List(ctx context.Context, f AlertFilter) ([]*models.Alert, int64, error) {
	var where []string
	var args []interface{}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, f.RuleID)
	}
	if !f.Since.IsZero() {
		where = append(where, "triggered_at >= ?")
		args = append(args, toNanos(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "triggered_at < ?")
		args = append(args, toNanos(f.Until))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	query, pageArgsList := pageArgs(`SELECT `+alertColumns+` FROM alerts`+clause+` ORDER BY triggered_at DESC`, args, f.Limit, f.Offset)
	alerts, err := r.query(ctx, query, pageArgsList...)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

func (r *sqliteAlertRepo) CountByRuleSince(ctx context.Context, ruleID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alerts WHERE rule_id = ? AND triggered_at >= ?",
		ruleID, toNanos(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count alerts for rule: %w", err)
	}
	return n, nil
}

func (r *sqliteAlertRepo) FindOpenByRule(ctx context.Context, ruleID string, since time.Time) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE rule_id = ? AND triggered_at >= ? AND status NOT IN ('resolved', 'failed')
		ORDER BY triggered_at DESC`
	return r.query(ctx, query, ruleID, toNanos(since))
}

func (r *sqliteAlertRepo) UpdateAggregation(ctx context.Context, id string, count int, merged []models.TriggerSnapshot) error {
	mergedJSON, err := jsonText("merged_triggers", merged)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET aggregated_count = ?, merged_json = ? WHERE id = ?",
		count, mergedJSON, id,
	)
	if err != nil {
		return fmt.Errorf("update aggregation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

func (r *sqliteAlertRepo) RecordDispatch(ctx context.Context, id string, u DispatchUpdate) error {
	success, err := jsonText("success_recipients", u.SuccessRecipients)
	if err != nil {
		return err
	}
	failed, err := jsonText("failed_recipients", u.FailedRecipients)
	if err != nil {
		return err
	}
	query := `
		UPDATE alerts SET delivery_attempts = delivery_attempts + ?,
			success_json = ?, failed_json = ?,
			status = CASE WHEN status IN ('pending', 'sent') AND ? != '' THEN ? ELSE status END
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, u.AttemptsDelta, success, failed, u.Status, u.Status, id)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

func (r *sqliteAlertRepo) Acknowledge(ctx context.Context, id string, ack Acknowledgement) (bool, error) {
	query := `
		UPDATE alerts SET status = 'acknowledged', acknowledged_at = ?, acknowledged_by = ?,
			acknowledgement_notes = ?, time_to_acknowledge = ?
		WHERE id = ? AND status IN ('pending', 'sent', 'delivered')
	`
	result, err := r.db.ExecContext(ctx, query,
		toNanos(ack.At), ack.By, nullString(ack.Notes), ack.TimeToAcknowledge, id,
	)
	if err != nil {
		return false, fmt.Errorf("acknowledge alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteAlertRepo) Resolve(ctx context.Context, id string, res Resolution) (bool, error) {
	var ackAt sql.NullInt64
	var ackBy sql.NullString
	var tta sql.NullFloat64
	if res.Ack != nil {
		ackAt = sql.NullInt64{Int64: toNanos(res.Ack.At), Valid: true}
		ackBy = nullString(res.Ack.By)
		tta = sql.NullFloat64{Float64: res.Ack.TimeToAcknowledge, Valid: true}
	}

	// Column references on the right-hand side see the pre-update row.
	query := `
		UPDATE alerts SET status = 'resolved', resolved_at = ?, resolved_by = ?,
			resolution_notes = COALESCE(?, resolution_notes), false_positive = ?, time_to_resolve = ?,
			acknowledged_at = COALESCE(acknowledged_at, ?),
			acknowledged_by = CASE WHEN acknowledged_at IS NULL THEN ? ELSE acknowledged_by END,
			time_to_acknowledge = CASE WHEN acknowledged_at IS NULL THEN ? ELSE time_to_acknowledge END
		WHERE id = ? AND status != 'resolved'
	`
	result, err := r.db.ExecContext(ctx, query,
		toNanos(res.At), res.By, nullString(res.Notes), boolToInt(res.FalsePositive), res.TimeToResolve,
		ackAt, ackBy, tta, id,
	)
	if err != nil {
		return false, fmt.Errorf("resolve alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteAlertRepo) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET status = 'failed', resolution_notes = ? WHERE id = ? AND status = 'pending'",
		nullString(reason), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark alert failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteAlertRepo) SetEscalationLevel(ctx context.Context, id string, level int) error {
	_, err := r.db.ExecContext(ctx, "UPDATE alerts SET escalation_level = ? WHERE id = ?", level, id)
	if err != nil {
		return fmt.Errorf("set escalation level: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) ListUnacknowledged(ctx context.Context) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE status IN ('pending', 'sent') ORDER BY triggered_at`
	return r.query(ctx, query)
}

func (r *sqliteAlertRepo) ListExpired(ctx context.Context, now time.Time) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE expires_at IS NOT NULL AND expires_at <= ?
			AND status IN ('pending', 'sent', 'acknowledged')
		ORDER BY expires_at`
	return r.query(ctx, query, toNanos(now))
}

func (r *sqliteAlertRepo) ListTriggeredSince(ctx context.Context, since time.Time) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE triggered_at >= ? ORDER BY triggered_at`
	return r.query(ctx, query, toNanos(since))
}

func (r *sqliteAlertRepo) query(ctx context.Context, query string, args ...interface{}) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func scanAlert(s scanner) (*models.Alert, error) {
	a := &models.Alert{}
	var payload, contextJSON, parentID, ackBy, ackNotes, resolvedBy, notes sql.NullString
	var mergedJSON, successJSON, failedJSON string
	var triggeredAt int64
	var ackAt, resolvedAt, expiresAt sql.NullInt64
	var falsePositive int
	var tta, ttr sql.NullFloat64

	err := s.Scan(
		&a.ID, &a.RuleID, &a.Title, &a.Message, &a.Severity, &a.Status, &payload, &contextJSON,
		&a.Fingerprint, &a.AggregatedCount, &mergedJSON, &parentID,
		&triggeredAt, &ackAt, &resolvedAt, &expiresAt,
		&ackBy, &ackNotes, &resolvedBy, &notes, &falsePositive,
		&a.DeliveryAttempts, &successJSON, &failedJSON, &a.EscalationLevel,
		&tta, &ttr,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	if payload.Valid {
		a.Payload = json.RawMessage(payload.String)
	}
	a.ParentID = parentID.String
	a.TriggeredAt = fromNanos(triggeredAt)
	a.AcknowledgedAt = timePtr(ackAt)
	a.ResolvedAt = timePtr(resolvedAt)
	a.ExpiresAt = timePtr(expiresAt)
	a.AcknowledgedBy = ackBy.String
	a.AcknowledgementNotes = ackNotes.String
	a.ResolvedBy = resolvedBy.String
	a.ResolutionNotes = notes.String
	a.FalsePositive = falsePositive != 0
	a.TimeToAcknowledge = floatPtr(tta)
	a.TimeToResolve = floatPtr(ttr)

	if contextJSON.Valid {
		if err := unmarshalText("context", contextJSON.String, &a.Context); err != nil {
			return nil, err
		}
	}
	if err := unmarshalText("merged_triggers", mergedJSON, &a.MergedTriggers); err != nil {
		return nil, err
	}
	if err := unmarshalText("success_recipients", successJSON, &a.SuccessRecipients); err != nil {
		return nil, err
	}
	if err := unmarshalText("failed_recipients", failedJSON, &a.FailedRecipients); err != nil {
		return nil, err
	}
	return a, nil
}
