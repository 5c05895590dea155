package dispatch

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/notifier"
	"github.com/good-yellow-bee/blazealert/internal/templates"
)

const defaultSendTimeout = 30 * time.Second

// contentFor returns a per-channel renderer for alert. Each channel is
// rendered at most once. prefix is prepended to every subject.
func (d *Dispatcher) contentFor(ctx context.Context, alert *models.Alert, rule *models.AlertRule, now time.Time, prefix string) func(models.Channel) templates.Rendered {
	system := d.system
	system.Now = now
	view := templates.NewView(alert, rule, system)
	cache := make(map[models.Channel]templates.Rendered)

	return func(channel models.Channel) templates.Rendered {
		if r, ok := cache[channel]; ok {
			return r
		}
		tmpl := d.selectTemplate(ctx, rule, channel)
		r := d.renderer.Render(tmpl, view)
		if r.Err != nil {
			metrics.TemplateErrorsTotal.Inc()
		}
		if tmpl != nil {
			if err := d.store.Templates().RecordUsage(ctx, tmpl.ID, now); err != nil {
				d.logger.Warn().Err(err).Str("template", tmpl.Name).Msg("failed to record template usage")
			}
		}
		r.Subject = prefix + r.Subject
		cache[channel] = r
		return r
	}
}

// selectTemplate picks the rule's template when it fits channel, then the
// template named "default-<channel>". Nil selects fallback content.
func (d *Dispatcher) selectTemplate(ctx context.Context, rule *models.AlertRule, channel models.Channel) *models.NotificationTemplate {
	if rule != nil && rule.TemplateID != "" {
		tmpl, err := d.store.Templates().GetByID(ctx, rule.TemplateID)
		if err != nil {
			d.logger.Warn().Err(err).Str("template_id", rule.TemplateID).Msg("failed to load rule template")
		} else if tmpl != nil && (tmpl.Channel == "" || tmpl.Channel == channel) {
			return tmpl
		}
	}
	tmpl, err := d.store.Templates().GetByName(ctx, "default-"+string(channel))
	if err != nil {
		d.logger.Warn().Err(err).Str("channel", string(channel)).Msg("failed to load channel template")
		return nil
	}
	return tmpl
}

// fanOut creates one delivery row per target and sends them concurrently.
// It returns the deliveries that were created.
func (d *Dispatcher) fanOut(ctx context.Context, alert *models.Alert, targets []target,
	content func(models.Channel) templates.Rendered, now time.Time) []*models.NotificationDelivery {
	deliveries := make([]*models.NotificationDelivery, 0, len(targets))
	for _, t := range targets {
		r := content(t.channel)
		del := &models.NotificationDelivery{
			ID:         uuid.New().String(),
			AlertID:    alert.ID,
			Channel:    t.channel,
			Recipient:  t.recipient,
			Address:    t.address,
			Status:     models.DeliveryPending,
			Subject:    r.Subject,
			Body:       r.Body,
			HTML:       r.HTML,
			MaxRetries: d.cfg.MaxRetries,
			CreatedAt:  now,
		}
		if err := d.store.Deliveries().Create(ctx, del); err != nil {
			metrics.StorageErrors.WithLabelValues("create_delivery").Inc()
			d.logger.Error().Err(err).
				Str("alert_id", alert.ID).
				Str("channel", string(t.channel)).
				Str("recipient", t.recipient).
				Msg("failed to create delivery")
			continue
		}
		deliveries = append(deliveries, del)
	}

	d.sendAll(ctx, alert, deliveries)
	return deliveries
}

// sendAll attempts every delivery concurrently and waits for all of them.
func (d *Dispatcher) sendAll(ctx context.Context, alert *models.Alert, deliveries []*models.NotificationDelivery) {
	var g errgroup.Group
	for _, del := range deliveries {
		g.Go(func() error {
			d.attempt(ctx, alert, del)
			return nil
		})
	}
	g.Wait()
}

// attempt sends one delivery and persists the result. Failures schedule the
// next retry until max_retries is reached; permanent failures exhaust the
// delivery at once.
func (d *Dispatcher) attempt(ctx context.Context, alert *models.Alert, del *models.NotificationDelivery) bool {
	// In-flight sends are not cancelled; they finish or time out.
	ctx = context.WithoutCancel(ctx)
	ctx, span := d.tracer.Start(ctx, "dispatch.send", trace.WithAttributes(
		attribute.String("alert.id", del.AlertID),
		attribute.String("delivery.id", del.ID),
		attribute.String("channel", string(del.Channel)),
	))
	defer span.End()

	d.stats.Deliveries.Add(1)
	channel := string(del.Channel)

	var receipt *notifier.Receipt
	var err error
	start := time.Now()

	adapter, ok := d.registry.Get(del.Channel)
	if !ok {
		err = &notifier.DeliveryError{Channel: del.Channel, Permanent: true, Err: errNoAdapter}
	} else {
		timeout := adapter.Timeout()
		if timeout <= 0 {
			timeout = defaultSendTimeout
		}
		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		receipt, err = adapter.Send(sendCtx, d.message(alert, del))
		cancel()
	}
	latency := time.Since(start)
	metrics.DeliveryDuration.WithLabelValues(channel).Observe(latency.Seconds())

	now := d.now().UTC()
	del.AttemptedAt = &now
	del.LatencyMS = latency.Milliseconds()

	log := d.logger.With().
		Str("alert_id", del.AlertID).
		Str("delivery_id", del.ID).
		Str("channel", channel).
		Str("recipient", del.Recipient).
		Logger()

	if err == nil {
		del.Status = models.DeliveryDelivered
		del.DeliveredAt = &now
		del.Error = ""
		del.NextRetryAt = nil
		if receipt != nil {
			del.ProviderID = receipt.ProviderID
			del.ProviderResponse = receipt.Response
			del.Cost = receipt.Cost
		}
		d.stats.Delivered.Add(1)
		metrics.DeliveriesTotal.WithLabelValues(channel, string(models.DeliveryDelivered)).Inc()
		log.Debug().Int64("latency_ms", del.LatencyMS).Msg("delivery succeeded")
	} else {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")

		del.Status = models.DeliveryFailed
		del.Error = err.Error()
		del.RetryCount++
		if notifier.IsPermanent(err) && del.RetryCount < del.MaxRetries {
			del.RetryCount = del.MaxRetries
		}
		d.stats.Failed.Add(1)
		metrics.DeliveriesTotal.WithLabelValues(channel, string(models.DeliveryFailed)).Inc()

		if del.RetryCount < del.MaxRetries {
			next := now.Add(d.backoff.Delay(del.RetryCount))
			del.NextRetryAt = &next
			log.Warn().Err(err).Int("retry_count", del.RetryCount).Time("next_retry_at", next).Msg("delivery failed, retry scheduled")
		} else {
			del.NextRetryAt = nil
			d.stats.Exhausted.Add(1)
			metrics.DeliveryExhaustedTotal.WithLabelValues(channel).Inc()
			log.Error().Err(err).Int("retry_count", del.RetryCount).Msg("delivery failed permanently")
		}
	}

	if uerr := d.store.Deliveries().Update(ctx, del); uerr != nil {
		metrics.StorageErrors.WithLabelValues("update_delivery").Inc()
		log.Error().Err(uerr).Msg("failed to persist delivery result")
	}
	return err == nil
}

func (d *Dispatcher) message(alert *models.Alert, del *models.NotificationDelivery) *notifier.Message {
	return &notifier.Message{
		DeliveryID: del.ID,
		AlertID:    del.AlertID,
		RuleID:     alert.RuleID,
		Channel:    del.Channel,
		Recipient:  del.Recipient,
		Address:    del.Address,
		Severity:   alert.Severity,
		Subject:    del.Subject,
		Body:       del.Body,
		HTML:       del.HTML,
		Data:       alertData(alert),
	}
}

// alertData is the structured alert summary attached to machine-readable
// payloads.
func alertData(alert *models.Alert) map[string]any {
	data := map[string]any{
		"title":            alert.Title,
		"message":          alert.Message,
		"severity":         string(alert.Severity),
		"status":           string(alert.Status),
		"fingerprint":      alert.Fingerprint,
		"aggregated_count": alert.AggregatedCount,
		"triggered_at":     alert.TriggeredAt,
		"escalation_level": alert.EscalationLevel,
	}
	if len(alert.Context) > 0 {
		data["context"] = alert.Context
	}
	return data
}

func isEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
