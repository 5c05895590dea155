// Package dispatch drains the alert queue and fans alerts out to channel
// adapters, with retries, escalation and expiry sweeps.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazealert/internal/events"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/notifier"
	"github.com/good-yellow-bee/blazealert/internal/queue"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/internal/templates"
	"github.com/good-yellow-bee/blazealert/internal/tracing"
)

// Config holds dispatcher settings.
type Config struct {
	BatchSize      int           `yaml:"batch_size" env:"BLAZEALERT_DISPATCH_BATCH_SIZE"`
	MaxRetries     int           `yaml:"max_retries" env:"BLAZEALERT_DISPATCH_MAX_RETRIES"`
	RetryBase      time.Duration `yaml:"retry_base" env:"BLAZEALERT_DISPATCH_RETRY_BASE"`
	RetryBatchSize int           `yaml:"retry_batch_size" env:"BLAZEALERT_DISPATCH_RETRY_BATCH_SIZE"`
	SweepInterval  time.Duration `yaml:"sweep_interval" env:"BLAZEALERT_DISPATCH_SWEEP_INTERVAL"`
	FollowUpBuffer int           `yaml:"followup_buffer" env:"BLAZEALERT_DISPATCH_FOLLOWUP_BUFFER"`
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = models.DefaultMaxRetries
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Minute
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = 100
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.FollowUpBuffer <= 0 {
		c.FollowUpBuffer = 256
	}
}

// Expirer resolves alerts past their expiry.
type Expirer interface {
	ExpireAlerts(ctx context.Context) (int, error)
}

// ExpirerFunc adapts a function to Expirer.
type ExpirerFunc func(ctx context.Context) (int, error)

// ExpireAlerts calls f.
func (f ExpirerFunc) ExpireAlerts(ctx context.Context) (int, error) { return f(ctx) }

// Options wires the dispatcher's collaborators. Store, Queue and Registry
// are required.
type Options struct {
	Store     storage.Storage
	Queue     *queue.Queue
	Registry  *notifier.Registry
	Directory Directory
	Renderer  *templates.Renderer
	Expirer   Expirer
	Events    events.Publisher
	// System fills the system.* template namespace. Now is set per render.
	System templates.SystemView
	Logger zerolog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Dispatcher processes queued alerts. It also implements events.Publisher
// to send in_app follow-ups for lifecycle transitions.
type Dispatcher struct {
	cfg      Config
	store    storage.Storage
	queue    *queue.Queue
	registry *notifier.Registry
	dir      Directory
	renderer *templates.Renderer
	expirer  Expirer
	events   events.Publisher
	system   templates.SystemView
	backoff  Backoff
	tracer   trace.Tracer
	logger   zerolog.Logger
	now      func() time.Time

	followups chan events.Event
	closed    atomic.Bool

	stats *Stats
}

// Stats tracks dispatcher statistics using atomic operations for lock-free access.
type Stats struct {
	Processed   atomic.Int64
	Deliveries  atomic.Int64
	Delivered   atomic.Int64
	Failed      atomic.Int64
	Retries     atomic.Int64
	Exhausted   atomic.Int64
	Skipped     atomic.Int64
	Escalations atomic.Int64
	FollowUps   atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Processed   int64 `json:"processed"`
	Deliveries  int64 `json:"deliveries"`
	Delivered   int64 `json:"delivered"`
	Failed      int64 `json:"failed"`
	Retries     int64 `json:"retries"`
	Exhausted   int64 `json:"exhausted"`
	Skipped     int64 `json:"skipped"`
	Escalations int64 `json:"escalations"`
	FollowUps   int64 `json:"follow_ups"`
}

// New creates a dispatcher.
func New(cfg Config, opts Options) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, errors.New("dispatch: store is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("dispatch: queue is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("dispatch: adapter registry is required")
	}
	cfg.setDefaults()
	if opts.Renderer == nil {
		opts.Renderer = templates.NewRenderer(opts.Logger)
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.System.Name == "" {
		opts.System.Name = "BlazeAlert"
	}

	backoff := DefaultBackoff()
	backoff.Initial = cfg.RetryBase

	return &Dispatcher{
		cfg:       cfg,
		store:     opts.Store,
		queue:     opts.Queue,
		registry:  opts.Registry,
		dir:       opts.Directory,
		renderer:  opts.Renderer,
		expirer:   opts.Expirer,
		events:    opts.Events,
		system:    opts.System,
		backoff:   backoff,
		tracer:    tracing.Tracer(),
		logger:    opts.Logger,
		now:       opts.Now,
		followups: make(chan events.Event, cfg.FollowUpBuffer),
		stats:     &Stats{},
	}, nil
}

// Run drives the consumer loop, the periodic sweeps and follow-up sending
// until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().
		Int("batch_size", d.cfg.BatchSize).
		Int("max_retries", d.cfg.MaxRetries).
		Dur("sweep_interval", d.cfg.SweepInterval).
		Msg("dispatcher started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.consume(ctx)
		return nil
	})
	g.Go(func() error {
		d.sweepLoop(ctx)
		return nil
	})
	g.Go(func() error {
		d.followUpLoop(ctx)
		return nil
	})
	err := g.Wait()
	d.logger.Info().Msg("dispatcher stopped")
	return err
}

func (d *Dispatcher) consume(ctx context.Context) {
	for {
		d.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.queue.Ready():
		}
	}
}

// drain processes batches until the queue is empty.
func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		items := d.queue.PopBatch(d.cfg.BatchSize)
		metrics.QueueDepth.Set(float64(d.queue.Len()))
		if len(items) == 0 {
			return
		}
		d.processBatch(ctx, items)
	}
}

// processBatch handles a batch of alerts concurrently. One alert's failure
// never affects its siblings.
func (d *Dispatcher) processBatch(ctx context.Context, items []queue.Item) {
	var g errgroup.Group
	for _, item := range items {
		g.Go(func() error {
			if err := d.ProcessAlert(ctx, item.AlertID); err != nil {
				d.logger.Error().Err(err).Str("alert_id", item.AlertID).Msg("alert dispatch failed")
			}
			return nil
		})
	}
	g.Wait()
}

// ProcessAlert resolves recipients and content for a pending alert, sends
// every (channel, recipient) delivery concurrently and records the outcome
// on the alert.
func (d *Dispatcher) ProcessAlert(ctx context.Context, alertID string) error {
	ctx, span := d.tracer.Start(ctx, "dispatch.alert", trace.WithAttributes(attribute.String("alert.id", alertID)))
	defer span.End()

	alert, err := d.store.Alerts().GetByID(ctx, alertID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load alert")
		return fmt.Errorf("load alert: %w", err)
	}
	if alert == nil || alert.Status != models.AlertStatusPending {
		// Deleted, dropped or closed before dispatch.
		return nil
	}
	span.SetAttributes(attribute.String("alert.severity", string(alert.Severity)))
	log := d.logger.With().Str("alert_id", alert.ID).Str("rule_id", alert.RuleID).Logger()

	rule, err := d.store.Rules().GetByID(ctx, alert.RuleID)
	if err != nil {
		return fmt.Errorf("load rule: %w", err)
	}
	if rule == nil {
		if _, err := d.store.Alerts().MarkFailed(ctx, alert.ID, "rule deleted before dispatch"); err != nil {
			return fmt.Errorf("mark alert failed: %w", err)
		}
		return nil
	}

	recipients, err := ResolveRecipients(ctx, d.dir, rule.Recipients)
	if err != nil {
		log.Warn().Err(err).Msg("recipient expansion failed, using direct recipients")
		recipients, _ = ResolveRecipients(ctx, nil, rule.Recipients)
	}

	now := d.now().UTC()
	targets := d.plan(ctx, alert, rule, rule.Channels, recipients, planOptions{webhooks: true}, now)
	if len(targets) == 0 {
		d.stats.Processed.Add(1)
		if _, err := d.store.Alerts().MarkFailed(ctx, alert.ID, "no eligible recipients"); err != nil {
			return fmt.Errorf("mark alert failed: %w", err)
		}
		span.SetAttributes(attribute.Int("deliveries", 0))
		log.Warn().Int("recipients", len(recipients)).Msg("alert has no eligible recipients")
		return nil
	}
	content := d.contentFor(ctx, alert, rule, now, "")
	deliveries := d.fanOut(ctx, alert, targets, content, now)

	d.stats.Processed.Add(1)
	if err := d.record(ctx, alert.ID, len(deliveries)); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("deliveries", len(deliveries)))
	log.Info().Int("recipients", len(recipients)).Int("deliveries", len(deliveries)).Msg("alert dispatched")
	return nil
}

// target is one (channel, recipient) pair that passed preference checks.
type target struct {
	channel   models.Channel
	recipient string
	address   string
}

type planOptions struct {
	// webhooks adds the rule's webhook URLs as webhook recipients.
	webhooks bool
	// escalation skips recipients that have not opted in to escalations.
	escalation bool
}

// plan expands channels × recipients into deliverable targets, applying
// recipient preferences.
func (d *Dispatcher) plan(ctx context.Context, alert *models.Alert, rule *models.AlertRule,
	channels []models.Channel, recipients []string, opts planOptions, now time.Time) []target {
	prefs := newPreferenceSet(d.store, now, d.logger)
	category := alertCategory(alert, rule)

	var targets []target
	for _, channel := range channels {
		if _, ok := d.registry.Get(channel); !ok {
			d.skip(alert, channel, "", skipNoAdapter)
			continue
		}

		if channel == models.ChannelWebhook {
			if !opts.webhooks {
				continue
			}
			for _, url := range rule.WebhookURLs {
				targets = append(targets, target{channel: channel, recipient: url, address: url})
			}
			continue
		}

		for _, recipient := range recipients {
			pref := prefs.get(ctx, recipient)
			if opts.escalation && pref != nil && !pref.EscalationOptIn {
				d.skip(alert, channel, recipient, skipEscalationOptOut)
				continue
			}
			if reason := checkPreference(pref, channel, alert.Severity, category, now); reason != "" {
				d.skip(alert, channel, recipient, reason)
				continue
			}
			address, ok := d.address(ctx, pref, recipient, channel)
			if !ok {
				d.skip(alert, channel, recipient, skipNoAddress)
				continue
			}
			if !prefs.reserve(ctx, recipient, pref) {
				d.skip(alert, channel, recipient, skipFrequencyCap)
				continue
			}
			targets = append(targets, target{channel: channel, recipient: recipient, address: address})
		}
	}
	return targets
}

func (d *Dispatcher) skip(alert *models.Alert, channel models.Channel, recipient, reason string) {
	d.stats.Skipped.Add(1)
	metrics.DeliverySkippedTotal.WithLabelValues(reason).Inc()
	d.logger.Debug().
		Str("alert_id", alert.ID).
		Str("channel", string(channel)).
		Str("recipient", recipient).
		Str("reason", reason).
		Msg("delivery skipped")
}

// address picks the recipient's address on channel: preference, then
// directory. Email recipients may be addresses themselves; in_app delivers
// to the recipient id.
func (d *Dispatcher) address(ctx context.Context, pref *models.NotificationPreference, recipient string, channel models.Channel) (string, bool) {
	if pref != nil {
		if cp, ok := pref.Channels[channel]; ok && cp.Address != "" {
			return cp.Address, true
		}
	}
	if d.dir != nil {
		if addr, ok := d.dir.Address(ctx, recipient, channel); ok {
			return addr, true
		}
	}
	switch channel {
	case models.ChannelInApp:
		return recipient, true
	case models.ChannelDirectMessage:
		if isEmail(recipient) {
			return recipient, true
		}
	}
	return "", false
}

// record recomputes the alert's recipient lists from its deliveries and
// moves it to sent on any success, or failed once nothing is left to
// retry.
func (d *Dispatcher) record(ctx context.Context, alertID string, attempts int) error {
	all, err := d.store.Deliveries().ListByAlert(ctx, alertID)
	if err != nil {
		return fmt.Errorf("list deliveries: %w", err)
	}

	var success, failed []string
	retrying := false
	for _, del := range all {
		switch del.Status {
		case models.DeliveryDelivered:
			success = appendUnique(success, del.Recipient)
		case models.DeliveryFailed:
			failed = appendUnique(failed, del.Recipient)
			if del.NextRetryAt != nil {
				retrying = true
			}
		case models.DeliveryPending:
			retrying = true
		}
	}

	var status models.AlertStatus
	switch {
	case len(success) > 0:
		status = models.AlertStatusSent
	case len(all) > 0 && !retrying:
		status = models.AlertStatusFailed
	}

	err = d.store.Alerts().RecordDispatch(ctx, alertID, storage.DispatchUpdate{
		AttemptsDelta:     attempts,
		SuccessRecipients: success,
		FailedRecipients:  failed,
		Status:            status,
	})
	if err != nil {
		metrics.StorageErrors.WithLabelValues("record_dispatch").Inc()
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// Stats returns a snapshot of dispatcher statistics.
func (d *Dispatcher) Stats() StatsSnapshot {
	return StatsSnapshot{
		Processed:   d.stats.Processed.Load(),
		Deliveries:  d.stats.Deliveries.Load(),
		Delivered:   d.stats.Delivered.Load(),
		Failed:      d.stats.Failed.Load(),
		Retries:     d.stats.Retries.Load(),
		Exhausted:   d.stats.Exhausted.Load(),
		Skipped:     d.stats.Skipped.Load(),
		Escalations: d.stats.Escalations.Load(),
		FollowUps:   d.stats.FollowUps.Load(),
	}
}

// RequeuePending pushes pending alerts that were never dispatched back onto
// the queue, for use at startup. It returns how many were queued.
func (d *Dispatcher) RequeuePending(ctx context.Context) (int, error) {
	alerts, _, err := d.store.Alerts().List(ctx, storage.AlertFilter{Status: models.AlertStatusPending})
	if err != nil {
		return 0, fmt.Errorf("list pending alerts: %w", err)
	}
	n := 0
	for _, a := range alerts {
		if a.DeliveryAttempts > 0 {
			continue
		}
		res := d.queue.Push(queue.Item{AlertID: a.ID, Severity: a.Severity, EnqueuedAt: a.TriggeredAt})
		if res.Accepted {
			n++
		}
	}
	metrics.QueueDepth.Set(float64(d.queue.Len()))
	return n, nil
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

var errNoAdapter = errors.New("no adapter registered for channel")
