package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/events"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
)

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep runs one pass of retries, escalations and expiry. Errors are
// logged; a failing step does not stop the others.
func (d *Dispatcher) Sweep(ctx context.Context) {
	if n, err := d.RetryDue(ctx); err != nil {
		d.logger.Error().Err(err).Msg("retry sweep failed")
	} else if n > 0 {
		d.logger.Info().Int("retried", n).Msg("retry sweep complete")
	}

	if n, err := d.Escalate(ctx); err != nil {
		d.logger.Error().Err(err).Msg("escalation sweep failed")
	} else if n > 0 {
		d.logger.Info().Int("escalations", n).Msg("escalation sweep complete")
	}

	if d.expirer != nil {
		if n, err := d.expirer.ExpireAlerts(ctx); err != nil {
			d.logger.Error().Err(err).Msg("expiry sweep failed")
		} else if n > 0 {
			d.logger.Info().Int("expired", n).Msg("expiry sweep complete")
		}
	}
}

// RetryDue re-attempts failed deliveries whose next_retry_at has passed and
// returns the number of attempts made. Deliveries of resolved alerts stop
// retrying.
func (d *Dispatcher) RetryDue(ctx context.Context) (int, error) {
	now := d.now().UTC()
	due, err := d.store.Deliveries().ListDueRetries(ctx, now, d.cfg.RetryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}

	byAlert := make(map[string][]*models.NotificationDelivery)
	var order []string
	for _, del := range due {
		if _, ok := byAlert[del.AlertID]; !ok {
			order = append(order, del.AlertID)
		}
		byAlert[del.AlertID] = append(byAlert[del.AlertID], del)
	}

	attempts := 0
	for _, alertID := range order {
		deliveries := byAlert[alertID]
		alert, err := d.store.Alerts().GetByID(ctx, alertID)
		if err != nil {
			d.logger.Error().Err(err).Str("alert_id", alertID).Msg("failed to load alert for retry")
			continue
		}
		if alert == nil {
			continue
		}
		if alert.Status == models.AlertStatusResolved {
			d.abandon(ctx, deliveries)
			continue
		}

		for _, del := range deliveries {
			d.stats.Retries.Add(1)
			metrics.DeliveryRetriesTotal.WithLabelValues(string(del.Channel)).Inc()
		}
		d.sendAll(ctx, alert, deliveries)
		attempts += len(deliveries)

		if err := d.record(ctx, alert.ID, len(deliveries)); err != nil {
			d.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to record retry outcome")
		}
	}
	return attempts, nil
}

// abandon clears the retry schedule of deliveries that no longer matter.
func (d *Dispatcher) abandon(ctx context.Context, deliveries []*models.NotificationDelivery) {
	for _, del := range deliveries {
		del.NextRetryAt = nil
		if err := d.store.Deliveries().Update(ctx, del); err != nil {
			d.logger.Error().Err(err).Str("delivery_id", del.ID).Msg("failed to cancel retry")
			continue
		}
		metrics.DeliverySkippedTotal.WithLabelValues("alert_resolved").Inc()
	}
}

// Escalate notifies the recipients of every escalation step an
// unacknowledged alert has outlived, once per level. It returns the number
// of levels reached.
func (d *Dispatcher) Escalate(ctx context.Context) (int, error) {
	alerts, err := d.store.Alerts().ListUnacknowledged(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unacknowledged alerts: %w", err)
	}

	now := d.now().UTC()
	rules := make(map[string]*models.AlertRule)
	total := 0
	for _, alert := range alerts {
		rule, ok := rules[alert.RuleID]
		if !ok {
			rule, err = d.store.Rules().GetByID(ctx, alert.RuleID)
			if err != nil {
				d.logger.Error().Err(err).Str("rule_id", alert.RuleID).Msg("failed to load rule for escalation")
				continue
			}
			rules[alert.RuleID] = rule
		}
		if rule == nil || len(rule.Escalation) == 0 {
			continue
		}

		age := now.Sub(alert.TriggeredAt)
		level := alert.EscalationLevel
		reached := level
		for reached < len(rule.Escalation) && rule.Escalation[reached].Delay <= age {
			reached++
		}
		if reached == level {
			continue
		}

		for lvl := level + 1; lvl <= reached; lvl++ {
			d.escalate(ctx, alert, rule, lvl, now)
		}
		if err := d.store.Alerts().SetEscalationLevel(ctx, alert.ID, reached); err != nil {
			d.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to store escalation level")
			continue
		}

		n := reached - level
		total += n
		d.stats.Escalations.Add(int64(n))
		metrics.EscalationsTotal.Add(float64(n))
		if err := d.events.Publish(ctx, events.Event{
			Type: events.TypeEscalated, AlertID: alert.ID, RuleID: alert.RuleID,
			Severity: alert.Severity, Status: alert.Status, Level: reached, At: now,
		}); err != nil {
			d.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("failed to publish escalation event")
		}
	}
	return total, nil
}

// escalate sends one escalation level to its step recipients over the
// rule's person-addressed channels.
func (d *Dispatcher) escalate(ctx context.Context, alert *models.Alert, rule *models.AlertRule, level int, now time.Time) {
	step := rule.Escalation[level-1]
	recipients, err := ResolveRecipients(ctx, d.dir, step.Recipients)
	if err != nil {
		d.logger.Warn().Err(err).Str("alert_id", alert.ID).Int("level", level).Msg("escalation recipient expansion failed")
		recipients, _ = ResolveRecipients(ctx, nil, step.Recipients)
	}

	escalated := *alert
	escalated.EscalationLevel = level
	targets := d.plan(ctx, &escalated, rule, rule.Channels, recipients, planOptions{escalation: true}, now)
	content := d.contentFor(ctx, &escalated, rule, now, fmt.Sprintf("[Escalation L%d] ", level))
	deliveries := d.fanOut(ctx, &escalated, targets, content, now)

	d.logger.Warn().
		Str("alert_id", alert.ID).
		Int("level", level).
		Int("deliveries", len(deliveries)).
		Msg("alert escalated")

	if len(deliveries) > 0 {
		if err := d.record(ctx, alert.ID, len(deliveries)); err != nil {
			d.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to record escalation outcome")
		}
	}
}
