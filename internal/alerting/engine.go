package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/events"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/queue"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

var (
	// ErrRuleNotFound is returned when a rule is missing or inactive.
	ErrRuleNotFound = errors.New("alert rule not found")
	// ErrAlertNotFound is returned when an alert does not exist.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrRuleExists is returned when a rule name is already taken.
	ErrRuleExists = errors.New("alert rule already exists")
)

// Outcome is what TriggerAlert did with a trigger.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeMerged      Outcome = "merged"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeQuietHours  Outcome = "quiet_hours"
)

// Suppressed reports whether the trigger produced no alert id.
func (o Outcome) Suppressed() bool {
	return o == OutcomeRateLimited || o == OutcomeQuietHours
}

// TriggerRequest is one trigger from a monitoring collaborator.
type TriggerRequest struct {
	RuleID  string
	Payload json.RawMessage
	// Severity overrides the rule severity when set.
	Severity models.Severity
	Title    string
	Message  string
	Context  map[string]any
}

// TriggerResult carries the alert id for created and merged triggers. It is
// empty for suppressed ones.
type TriggerResult struct {
	AlertID string  `json:"alert_id,omitempty"`
	Outcome Outcome `json:"outcome"`
	// Dropped is set when the new alert could not be queued for dispatch.
	Dropped bool `json:"dropped,omitempty"`
}

// ResolveOptions carries optional resolution details.
type ResolveOptions struct {
	Notes         string
	FalsePositive bool
}

// SystemActor acts for automatic transitions such as expiry.
const SystemActor = "system"

// Engine is the alert intake and lifecycle engine.
type Engine struct {
	store  storage.Storage
	queue  *queue.Queue
	locker RuleLocker
	events events.Publisher
	logger zerolog.Logger
	now    func() time.Time

	// stats tracks engine statistics.
	stats *EngineStats
}

// EngineStats tracks engine statistics using atomic operations for lock-free access.
type EngineStats struct {
	Triggers     atomic.Int64
	Created      atomic.Int64
	Merged       atomic.Int64
	RateLimited  atomic.Int64
	QuietHours   atomic.Int64
	Dropped      atomic.Int64
	Acknowledged atomic.Int64
	Resolved     atomic.Int64
}

// EngineOptions configures the alert engine. Zero values select defaults.
type EngineOptions struct {
	Locker RuleLocker
	Events events.Publisher
	Logger zerolog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewEngine creates an engine that stores alerts in store and queues new
// ones on q.
func NewEngine(store storage.Storage, q *queue.Queue, opts EngineOptions) *Engine {
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:  store,
		queue:  q,
		locker: opts.Locker,
		events: opts.Events,
		logger: opts.Logger,
		now:    opts.Now,
		stats:  &EngineStats{},
	}
}

// TriggerAlert runs a trigger through rate limiting, quiet hours and
// aggregation, creating and queueing a new alert when none of them apply.
// Suppression is an outcome, not an error; only a missing or inactive rule
// fails the call.
func (e *Engine) TriggerAlert(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	e.stats.Triggers.Add(1)

	unlock, err := e.locker.Lock(ctx, req.RuleID)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("lock rule %s: %w", req.RuleID, err)
	}
	defer unlock()

	rule, err := e.store.Rules().GetByID(ctx, req.RuleID)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("get rule: %w", err)
	}
	if rule == nil || !rule.Active {
		return TriggerResult{}, fmt.Errorf("%w: %s", ErrRuleNotFound, req.RuleID)
	}

	now := e.now().UTC()
	log := e.logger.With().Str("rule_id", rule.ID).Str("rule", rule.Name).Logger()

	count, err := e.store.Alerts().CountByRuleSince(ctx, rule.ID, now.Add(-rule.RateLimitWindow))
	if err != nil {
		return TriggerResult{}, fmt.Errorf("count recent alerts: %w", err)
	}
	if count >= rule.RateLimitCount {
		e.stats.RateLimited.Add(1)
		log.Info().Int("count", count).Int("limit", rule.RateLimitCount).Msg("trigger suppressed by rate limit")
		return e.suppressed(ctx, rule, OutcomeRateLimited, now), nil
	}

	if rule.QuietHours.Active(now) {
		e.stats.QuietHours.Add(1)
		log.Info().Msg("trigger suppressed by quiet hours")
		return e.suppressed(ctx, rule, OutcomeQuietHours, now), nil
	}

	title, message := req.Title, req.Message
	if title == "" {
		title = rule.Name
	}
	if message == "" {
		message = rule.Description
	}
	severity := rule.Severity
	if req.Severity.Valid() {
		severity = req.Severity
	}
	fingerprint := Fingerprint(title, message)

	merged, err := e.aggregate(ctx, rule, req, title, message, severity, fingerprint, now)
	if err != nil {
		return TriggerResult{}, err
	}
	if merged != nil {
		e.stats.Merged.Add(1)
		metrics.TriggersTotal.WithLabelValues(string(OutcomeMerged)).Inc()
		log.Debug().Str("alert_id", merged.ID).Int("aggregated_count", merged.AggregatedCount).Msg("trigger merged")
		e.publish(ctx, events.Event{
			Type: events.TypeMerged, AlertID: merged.ID, RuleID: rule.ID,
			Severity: merged.Severity, Status: merged.Status, At: now,
		})
		return TriggerResult{AlertID: merged.ID, Outcome: OutcomeMerged}, nil
	}

	alert := &models.Alert{
		ID:              uuid.New().String(),
		RuleID:          rule.ID,
		Title:           title,
		Message:         message,
		Severity:        severity,
		Status:          models.AlertStatusPending,
		Payload:         req.Payload,
		Context:         req.Context,
		Fingerprint:     fingerprint,
		AggregatedCount: 1,
		TriggeredAt:     now,
	}
	if rule.ExpireAfter > 0 {
		expires := now.Add(rule.ExpireAfter)
		alert.ExpiresAt = &expires
	}
	if err := e.store.Alerts().Create(ctx, alert); err != nil {
		return TriggerResult{}, fmt.Errorf("create alert: %w", err)
	}

	rule.TriggerCount++
	rule.LastTriggeredAt = &now
	if err := e.store.Rules().UpdateCounters(ctx, rule); err != nil {
		log.Error().Err(err).Msg("failed to update rule counters")
	}

	e.stats.Created.Add(1)
	metrics.TriggersTotal.WithLabelValues(string(OutcomeCreated)).Inc()
	metrics.AlertsCreatedTotal.WithLabelValues(string(severity)).Inc()
	log.Info().Str("alert_id", alert.ID).Str("severity", string(severity)).Msg("alert created")
	e.publish(ctx, events.Event{
		Type: events.TypeCreated, AlertID: alert.ID, RuleID: rule.ID,
		Severity: severity, Status: alert.Status, At: now,
	})

	accepted := e.enqueue(ctx, alert, now)
	return TriggerResult{AlertID: alert.ID, Outcome: OutcomeCreated, Dropped: !accepted}, nil
}

// aggregate merges the trigger into an open alert of the rule when the
// rule's aggregation method allows it. It returns nil when no merge happened.
func (e *Engine) aggregate(ctx context.Context, rule *models.AlertRule, req TriggerRequest,
	title, message string, severity models.Severity, fingerprint string, now time.Time) (*models.Alert, error) {
	if rule.Aggregation == "" || rule.Aggregation == models.AggregationNone || rule.AggregationWindow <= 0 {
		return nil, nil
	}

	candidates, err := e.store.Alerts().FindOpenByRule(ctx, rule.ID, now.Add(-rule.AggregationWindow))
	if err != nil {
		return nil, fmt.Errorf("find open alerts: %w", err)
	}

	for _, candidate := range candidates {
		if !mergeable(rule, candidate, title, message, fingerprint) {
			continue
		}
		candidate.AggregatedCount++
		candidate.MergedTriggers = append(candidate.MergedTriggers, models.TriggerSnapshot{
			At:       now,
			Title:    title,
			Message:  message,
			Severity: severity,
			Payload:  req.Payload,
		})
		if err := e.store.Alerts().UpdateAggregation(ctx, candidate.ID, candidate.AggregatedCount, candidate.MergedTriggers); err != nil {
			return nil, fmt.Errorf("merge into alert %s: %w", candidate.ID, err)
		}
		return candidate, nil
	}
	return nil, nil
}

func (e *Engine) suppressed(ctx context.Context, rule *models.AlertRule, outcome Outcome, now time.Time) TriggerResult {
	metrics.TriggersTotal.WithLabelValues(string(outcome)).Inc()
	e.publish(ctx, events.Event{Type: events.TypeSuppressed, RuleID: rule.ID, Reason: string(outcome), At: now})
	return TriggerResult{Outcome: outcome}
}

// enqueue pushes alert onto the dispatch queue. Alerts pushed out of a full
// queue are marked failed; it reports whether alert itself was queued.
func (e *Engine) enqueue(ctx context.Context, alert *models.Alert, now time.Time) bool {
	res := e.queue.Push(queue.Item{AlertID: alert.ID, Severity: alert.Severity, EnqueuedAt: now})
	metrics.QueueDepth.Set(float64(e.queue.Len()))

	if res.Evicted != nil {
		e.drop(ctx, res.Evicted.AlertID, "evicted", now)
	}
	if !res.Accepted {
		e.drop(ctx, alert.ID, "rejected", now)
		return false
	}
	return true
}

func (e *Engine) drop(ctx context.Context, alertID, reason string, now time.Time) {
	dropped := e.stats.Dropped.Add(1)
	metrics.QueueDroppedTotal.WithLabelValues(reason).Inc()
	e.logger.Warn().
		Str("alert_id", alertID).
		Str("reason", reason).
		Int64("dropped_total", dropped).
		Int("capacity", e.queue.Cap()).
		Msg("dispatch queue full, alert dropped")

	if _, err := e.store.Alerts().MarkFailed(ctx, alertID, "dropped: dispatch queue full ("+reason+")"); err != nil {
		e.logger.Error().Err(err).Str("alert_id", alertID).Msg("failed to mark dropped alert")
	}
	e.publish(ctx, events.Event{Type: events.TypeDropped, AlertID: alertID, Reason: reason, At: now})
}

// AcknowledgeAlert acknowledges a pending, sent or delivered alert. It
// returns false without error when the alert is in any other state.
func (e *Engine) AcknowledgeAlert(ctx context.Context, id, user, notes string) (bool, error) {
	alert, unlock, err := e.lockAlert(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	if !alert.Status.Acknowledgeable() {
		return false, nil
	}

	now := e.now().UTC()
	tta := elapsedSeconds(alert.TriggeredAt, now)
	ok, err := e.store.Alerts().Acknowledge(ctx, id, storage.Acknowledgement{
		At: now, By: user, Notes: notes, TimeToAcknowledge: tta,
	})
	if err != nil || !ok {
		return false, err
	}

	e.updateRuleCounters(ctx, alert.RuleID, func(rule *models.AlertRule) {
		rule.AcknowledgedCount++
		rule.AvgResponseSeconds = rollingMean(rule.AvgResponseSeconds, tta, rule.AcknowledgedCount)
	})

	e.stats.Acknowledged.Add(1)
	metrics.TransitionsTotal.WithLabelValues("acknowledged").Inc()
	e.logger.Info().Str("alert_id", id).Str("user", user).Float64("time_to_acknowledge", tta).Msg("alert acknowledged")
	e.publish(ctx, events.Event{
		Type: events.TypeAcknowledged, AlertID: id, RuleID: alert.RuleID, Severity: alert.Severity,
		Status: models.AlertStatusAcknowledged, Actor: user, Notes: notes, At: now,
	})
	return true, nil
}

// ResolveAlert resolves any alert that is not already resolved. Unless the
// rule allows direct resolution, an unacknowledged alert is acknowledged by
// the same actor at the same instant.
func (e *Engine) ResolveAlert(ctx context.Context, id, user string, opts ResolveOptions) (bool, error) {
	return e.resolve(ctx, id, user, opts, events.TypeResolved)
}

func (e *Engine) resolve(ctx context.Context, id, user string, opts ResolveOptions, eventType events.Type) (bool, error) {
	alert, unlock, err := e.lockAlert(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	if !alert.Status.Resolvable() {
		return false, nil
	}

	rule, err := e.store.Rules().GetByID(ctx, alert.RuleID)
	if err != nil {
		return false, fmt.Errorf("get rule: %w", err)
	}

	now := e.now().UTC()
	ttr := elapsedSeconds(alert.TriggeredAt, now)
	res := storage.Resolution{
		At: now, By: user, Notes: opts.Notes, FalsePositive: opts.FalsePositive, TimeToResolve: ttr,
	}
	implicitAck := alert.AcknowledgedAt == nil && (rule == nil || !rule.AllowDirectResolve)
	if implicitAck {
		res.Ack = &storage.Acknowledgement{At: now, By: user, TimeToAcknowledge: ttr}
	}

	ok, err := e.store.Alerts().Resolve(ctx, id, res)
	if err != nil || !ok {
		return false, err
	}

	e.updateRuleCounters(ctx, alert.RuleID, func(rule *models.AlertRule) {
		if implicitAck {
			rule.AcknowledgedCount++
			rule.AvgResponseSeconds = rollingMean(rule.AvgResponseSeconds, ttr, rule.AcknowledgedCount)
		}
		rule.ResolvedCount++
		rule.AvgResolutionSeconds = rollingMean(rule.AvgResolutionSeconds, ttr, rule.ResolvedCount)
		if opts.FalsePositive {
			rule.FalsePositiveCount++
		}
		rule.FalsePositiveRate = float64(rule.FalsePositiveCount) / float64(rule.ResolvedCount)
	})

	e.stats.Resolved.Add(1)
	transition := "resolved"
	if eventType == events.TypeExpired {
		transition = "expired"
	}
	metrics.TransitionsTotal.WithLabelValues(transition).Inc()
	e.logger.Info().Str("alert_id", id).Str("user", user).Bool("false_positive", opts.FalsePositive).
		Float64("time_to_resolve", ttr).Msg("alert " + transition)
	e.publish(ctx, events.Event{
		Type: eventType, AlertID: id, RuleID: alert.RuleID, Severity: alert.Severity,
		Status: models.AlertStatusResolved, Actor: user, Notes: opts.Notes, At: now,
	})
	return true, nil
}

// ExpireAlerts resolves open alerts whose expiry has passed. It returns the
// number of alerts expired.
func (e *Engine) ExpireAlerts(ctx context.Context) (int, error) {
	expired, err := e.store.Alerts().ListExpired(ctx, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired alerts: %w", err)
	}
	n := 0
	for _, alert := range expired {
		ok, err := e.resolve(ctx, alert.ID, SystemActor, ResolveOptions{Notes: "expired"}, events.TypeExpired)
		if err != nil {
			e.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to expire alert")
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// lockAlert loads an alert, locks its rule and reloads it so the caller
// sees the state current under the lock.
func (e *Engine) lockAlert(ctx context.Context, id string) (*models.Alert, func(), error) {
	alert, err := e.store.Alerts().GetByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get alert: %w", err)
	}
	if alert == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}

	unlock, err := e.locker.Lock(ctx, alert.RuleID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock rule %s: %w", alert.RuleID, err)
	}

	alert, err = e.store.Alerts().GetByID(ctx, id)
	if err != nil || alert == nil {
		unlock()
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrAlertNotFound, id)
		}
		return nil, nil, err
	}
	return alert, unlock, nil
}

// updateRuleCounters applies fn to the stored rule. Callers hold the rule
// lock. Rules deleted since the alert fired are skipped.
func (e *Engine) updateRuleCounters(ctx context.Context, ruleID string, fn func(*models.AlertRule)) {
	rule, err := e.store.Rules().GetByID(ctx, ruleID)
	if err != nil {
		e.logger.Error().Err(err).Str("rule_id", ruleID).Msg("failed to load rule for counters")
		return
	}
	if rule == nil {
		return
	}
	fn(rule)
	if err := e.store.Rules().UpdateCounters(ctx, rule); err != nil {
		e.logger.Error().Err(err).Str("rule_id", ruleID).Msg("failed to update rule counters")
	}
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to publish lifecycle event")
	}
}

// Queue returns the dispatch queue the engine feeds.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// EngineStatsSnapshot is a snapshot of engine statistics for reporting.
type EngineStatsSnapshot struct {
	Triggers     int64 `json:"triggers"`
	Created      int64 `json:"created"`
	Merged       int64 `json:"merged"`
	RateLimited  int64 `json:"rate_limited"`
	QuietHours   int64 `json:"quiet_hours"`
	Dropped      int64 `json:"dropped"`
	Acknowledged int64 `json:"acknowledged"`
	Resolved     int64 `json:"resolved"`
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() EngineStatsSnapshot {
	return EngineStatsSnapshot{
		Triggers:     e.stats.Triggers.Load(),
		Created:      e.stats.Created.Load(),
		Merged:       e.stats.Merged.Load(),
		RateLimited:  e.stats.RateLimited.Load(),
		QuietHours:   e.stats.QuietHours.Load(),
		Dropped:      e.stats.Dropped.Load(),
		Acknowledged: e.stats.Acknowledged.Load(),
		Resolved:     e.stats.Resolved.Load(),
	}
}

func elapsedSeconds(from, to time.Time) float64 {
	d := to.Sub(from).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

// rollingMean folds sample into a mean that now covers n samples.
func rollingMean(mean, sample float64, n int64) float64 {
	if n <= 1 {
		return sample
	}
	return mean + (sample-mean)/float64(n)
}
