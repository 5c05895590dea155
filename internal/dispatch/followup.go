package dispatch

import (
	"context"
	"fmt"

	"github.com/good-yellow-bee/blazealert/internal/events"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/templates"
)

// Publish queues an in_app follow-up for acknowledge, resolve and expiry
// events. It never blocks; events arriving on a full buffer are dropped.
func (d *Dispatcher) Publish(_ context.Context, e events.Event) error {
	switch e.Type {
	case events.TypeAcknowledged, events.TypeResolved, events.TypeExpired:
	default:
		return nil
	}
	if d.closed.Load() || e.AlertID == "" {
		return nil
	}
	select {
	case d.followups <- e:
	default:
		metrics.DeliverySkippedTotal.WithLabelValues("followup_dropped").Inc()
		d.logger.Warn().Str("alert_id", e.AlertID).Str("event", string(e.Type)).Msg("follow-up buffer full, event dropped")
	}
	return nil
}

// Close stops accepting follow-up events.
func (d *Dispatcher) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *Dispatcher) followUpLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.followups:
			if err := d.FollowUp(ctx, e); err != nil {
				d.logger.Error().Err(err).Str("alert_id", e.AlertID).Msg("follow-up failed")
			}
		}
	}
}

// FollowUp tells the alert's successful recipients over in_app that the
// alert changed state. Follow-ups do not change the alert's status.
func (d *Dispatcher) FollowUp(ctx context.Context, e events.Event) error {
	if _, ok := d.registry.Get(models.ChannelInApp); !ok {
		return nil
	}
	alert, err := d.store.Alerts().GetByID(ctx, e.AlertID)
	if err != nil {
		return fmt.Errorf("load alert: %w", err)
	}
	if alert == nil {
		return nil
	}

	var recipients []string
	for _, r := range alert.SuccessRecipients {
		if !isURL(r) {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	rule, err := d.store.Rules().GetByID(ctx, alert.RuleID)
	if err != nil {
		return fmt.Errorf("load rule: %w", err)
	}

	now := d.now().UTC()
	targets := d.plan(ctx, alert, rule, []models.Channel{models.ChannelInApp}, recipients, planOptions{}, now)
	content := followUpContent(e, alert)
	deliveries := d.fanOut(ctx, alert, targets, func(models.Channel) templates.Rendered { return content }, now)
	d.stats.FollowUps.Add(int64(len(deliveries)))
	return nil
}

func followUpContent(e events.Event, alert *models.Alert) templates.Rendered {
	var verb string
	switch e.Type {
	case events.TypeAcknowledged:
		verb = "Acknowledged"
	case events.TypeExpired:
		verb = "Expired"
	default:
		verb = "Resolved"
	}
	body := fmt.Sprintf("%s: %s", verb, alert.Title)
	if e.Actor != "" {
		body = fmt.Sprintf("%s by %s", body, e.Actor)
	}
	if e.Notes != "" {
		body += "\n" + e.Notes
	}
	return templates.Rendered{Subject: verb + ": " + alert.Title, Body: body}
}
