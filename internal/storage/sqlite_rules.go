package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type sqliteRuleRepo struct {
	db *sql.DB
}

const ruleColumns = `id, name, description, trigger_json, severity, channels_json, template_id,
	check_interval_ns, aggregation_method, aggregation_window_ns, similarity_threshold,
	recipients_json, webhook_urls_json, escalation_json, rate_limit_count, rate_limit_window_ns,
	quiet_hours_json, allow_direct_resolve, expire_after_ns, active,
	trigger_count, last_triggered_at, avg_response_seconds, avg_resolution_seconds,
	acknowledged_count, resolved_count, false_positive_count, false_positive_rate,
	created_at, updated_at`

// ruleJSON holds the encoded structured columns of a rule.
type ruleJSON struct {
	trigger, channels, recipients, webhooks, escalation string
	quietHours                                          sql.NullString
}

func encodeRule(rule *models.AlertRule) (*ruleJSON, error) {
	var enc ruleJSON
	var err error
	if enc.trigger, err = jsonText("trigger", rule.Trigger); err != nil {
		return nil, err
	}
	if enc.channels, err = jsonText("channels", rule.Channels); err != nil {
		return nil, err
	}
	if enc.recipients, err = jsonText("recipients", rule.Recipients); err != nil {
		return nil, err
	}
	if enc.webhooks, err = jsonText("webhook_urls", rule.WebhookURLs); err != nil {
		return nil, err
	}
	if enc.escalation, err = jsonText("escalation", rule.Escalation); err != nil {
		return nil, err
	}
	if enc.quietHours, err = nullJSON("quiet_hours", rule.QuietHours); err != nil {
		return nil, err
	}
	return &enc, nil
}

func (r *sqliteRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error {
	enc, err := encodeRule(rule)
	if err != nil {
		return err
	}

	query := `INSERT INTO alert_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, nullString(rule.Description), enc.trigger, rule.Severity, enc.channels,
		nullString(rule.TemplateID), rule.CheckInterval.Nanoseconds(), string(rule.Aggregation),
		rule.AggregationWindow.Nanoseconds(), rule.SimilarityThreshold,
		enc.recipients, enc.webhooks, enc.escalation, rule.RateLimitCount, rule.RateLimitWindow.Nanoseconds(),
		enc.quietHours, boolToInt(rule.AllowDirectResolve), rule.ExpireAfter.Nanoseconds(), boolToInt(rule.Active),
		rule.TriggerCount, nullTime(rule.LastTriggeredAt), rule.AvgResponseSeconds, rule.AvgResolutionSeconds,
		rule.AcknowledgedCount, rule.ResolvedCount, rule.FalsePositiveCount, rule.FalsePositiveRate,
		toNanos(rule.CreatedAt), toNanos(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (r *sqliteRuleRepo) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *sqliteRuleRepo) GetByName(ctx context.Context, name string) (*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE name = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, name))
}

func (r *sqliteRuleRepo) Update(ctx context.Context, rule *models.AlertRule) error {
	enc, err := encodeRule(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_rules SET name = ?, description = ?, trigger_json = ?, severity = ?,
			channels_json = ?, template_id = ?, check_interval_ns = ?, aggregation_method = ?,
			aggregation_window_ns = ?, similarity_threshold = ?, recipients_json = ?,
			webhook_urls_json = ?, escalation_json = ?, rate_limit_count = ?, rate_limit_window_ns = ?,
			quiet_hours_json = ?, allow_direct_resolve = ?, expire_after_ns = ?, active = ?,
			updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, nullString(rule.Description), enc.trigger, rule.Severity,
		enc.channels, nullString(rule.TemplateID), rule.CheckInterval.Nanoseconds(), string(rule.Aggregation),
		rule.AggregationWindow.Nanoseconds(), rule.SimilarityThreshold, enc.recipients,
		enc.webhooks, enc.escalation, rule.RateLimitCount, rule.RateLimitWindow.Nanoseconds(),
		enc.quietHours, boolToInt(rule.AllowDirectResolve), rule.ExpireAfter.Nanoseconds(), boolToInt(rule.Active),
		toNanos(rule.UpdatedAt),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", rule.ID)
	}
	return nil
}

func (r *sqliteRuleRepo) UpdateCounters(ctx context.Context, rule *models.AlertRule) error {
	query := `
		UPDATE alert_rules SET trigger_count = ?, last_triggered_at = ?,
			avg_response_seconds = ?, avg_resolution_seconds = ?,
			acknowledged_count = ?, resolved_count = ?,
			false_positive_count = ?, false_positive_rate = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.TriggerCount, nullTime(rule.LastTriggeredAt),
		rule.AvgResponseSeconds, rule.AvgResolutionSeconds,
		rule.AcknowledgedCount, rule.ResolvedCount,
		rule.FalsePositiveCount, rule.FalsePositiveRate,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule counters: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", rule.ID)
	}
	return nil
}

func (r *sqliteRuleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

func (r *sqliteRuleRepo) List(ctx context.Context) ([]*models.AlertRule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY name`)
}

func (r *sqliteRuleRepo) ListActive(ctx context.Context) ([]*models.AlertRule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE active = 1 ORDER BY name`)
}

func (r *sqliteRuleRepo) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_rules WHERE active = 1").Scan(&n); err != nil {
		return 0, fmt.Errorf("count active rules: %w", err)
	}
	return n, nil
}

func (r *sqliteRuleRepo) query(ctx context.Context, query string, args ...interface{}) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *sqliteRuleRepo) scanOne(row *sql.Row) (*models.AlertRule, error) {
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rule, err
}

func scanRule(s scanner) (*models.AlertRule, error) {
	rule := &models.AlertRule{}
	var description, templateID, quietHours sql.NullString
	var triggerJSON, channelsJSON, recipientsJSON, webhooksJSON, escalationJSON, aggregation string
	var checkNS, aggWindowNS, rateWindowNS, expireNS, createdAt, updatedAt int64
	var allowDirect, active int
	var lastTriggered sql.NullInt64

	err := s.Scan(
		&rule.ID, &rule.Name, &description, &triggerJSON, &rule.Severity, &channelsJSON, &templateID,
		&checkNS, &aggregation, &aggWindowNS, &rule.SimilarityThreshold,
		&recipientsJSON, &webhooksJSON, &escalationJSON, &rule.RateLimitCount, &rateWindowNS,
		&quietHours, &allowDirect, &expireNS, &active,
		&rule.TriggerCount, &lastTriggered, &rule.AvgResponseSeconds, &rule.AvgResolutionSeconds,
		&rule.AcknowledgedCount, &rule.ResolvedCount, &rule.FalsePositiveCount, &rule.FalsePositiveRate,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}

	rule.Description = description.String
	rule.TemplateID = templateID.String
	rule.CheckInterval = time.Duration(checkNS)
	rule.Aggregation = models.AggregationMethod(aggregation)
	rule.AggregationWindow = time.Duration(aggWindowNS)
	rule.RateLimitWindow = time.Duration(rateWindowNS)
	rule.ExpireAfter = time.Duration(expireNS)
	rule.AllowDirectResolve = allowDirect != 0
	rule.Active = active != 0
	rule.LastTriggeredAt = timePtr(lastTriggered)
	rule.CreatedAt = fromNanos(createdAt)
	rule.UpdatedAt = fromNanos(updatedAt)

	if err := unmarshalText("trigger", triggerJSON, &rule.Trigger); err != nil {
		return nil, err
	}
	if err := unmarshalText("channels", channelsJSON, &rule.Channels); err != nil {
		return nil, err
	}
	if err := unmarshalText("recipients", recipientsJSON, &rule.Recipients); err != nil {
		return nil, err
	}
	if err := unmarshalText("webhook_urls", webhooksJSON, &rule.WebhookURLs); err != nil {
		return nil, err
	}
	if err := unmarshalText("escalation", escalationJSON, &rule.Escalation); err != nil {
		return nil, err
	}
	if quietHours.Valid {
		rule.QuietHours = &models.QuietHours{}
		if err := unmarshalText("quiet_hours", quietHours.String, rule.QuietHours); err != nil {
			return nil, err
		}
	}
	return rule, nil
}
