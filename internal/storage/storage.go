// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Rules() RuleRepository
	Alerts() AlertRepository
	Deliveries() DeliveryRepository
	Templates() TemplateRepository
	Preferences() PreferenceRepository
}

// RuleRepository defines operations for alert rule management.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	GetByName(ctx context.Context, name string) (*models.AlertRule, error)
	Update(ctx context.Context, rule *models.AlertRule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.AlertRule, error)
	ListActive(ctx context.Context) ([]*models.AlertRule, error)
	CountActive(ctx context.Context) (int64, error)
	// UpdateCounters persists only the running counters of the rule.
	UpdateCounters(ctx context.Context, rule *models.AlertRule) error
}

// AlertFilter narrows alert listings. Zero values are ignored.
type AlertFilter struct {
	Status   models.AlertStatus
	Severity models.Severity
	RuleID   string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// DispatchUpdate records the outcome of one processing pass over an alert.
// Status only applies while the alert is still pending or sent.
type DispatchUpdate struct {
	AttemptsDelta     int
	SuccessRecipients []string
	FailedRecipients  []string
	Status            models.AlertStatus
}

// Acknowledgement carries the fields written by an acknowledge transition.
type Acknowledgement struct {
	At                time.Time
	By                string
	Notes             string
	TimeToAcknowledge float64
}

// Resolution carries the fields written by a resolve transition. Ack is set
// when the resolve implicitly acknowledges the alert; it is applied only if
// the alert has no acknowledgement yet.
type Resolution struct {
	At            time.Time
	By            string
	Notes         string
	FalsePositive bool
	TimeToResolve float64
	Ack           *Acknowledgement
}

// AlertRepository defines operations for alert instances.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter AlertFilter) ([]*models.Alert, int64, error)
	CountByRuleSince(ctx context.Context, ruleID string, since time.Time) (int, error)
	// FindOpenByRule returns open alerts of a rule triggered at or after since,
	// newest first.
	FindOpenByRule(ctx context.Context, ruleID string, since time.Time) ([]*models.Alert, error)
	UpdateAggregation(ctx context.Context, id string, count int, merged []models.TriggerSnapshot) error
	RecordDispatch(ctx context.Context, id string, update DispatchUpdate) error
	// Acknowledge returns false when the alert is not in an acknowledgeable state.
	Acknowledge(ctx context.Context, id string, ack Acknowledgement) (bool, error)
	// Resolve returns false when the alert is already resolved.
	Resolve(ctx context.Context, id string, res Resolution) (bool, error)
	// MarkFailed fails a pending alert and returns false if it was not pending.
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	SetEscalationLevel(ctx context.Context, id string, level int) error
	ListUnacknowledged(ctx context.Context) ([]*models.Alert, error)
	ListExpired(ctx context.Context, now time.Time) ([]*models.Alert, error)
	ListTriggeredSince(ctx context.Context, since time.Time) ([]*models.Alert, error)
}

// DeliveryFilter narrows delivery listings. Zero values are ignored.
type DeliveryFilter struct {
	AlertID   string
	Channel   models.Channel
	Recipient string
	Status    models.DeliveryStatus
	Limit     int
	Offset    int
}

// DeliveryRepository defines operations for notification deliveries.
type DeliveryRepository interface {
	Create(ctx context.Context, d *models.NotificationDelivery) error
	Update(ctx context.Context, d *models.NotificationDelivery) error
	GetByID(ctx context.Context, id string) (*models.NotificationDelivery, error)
	ListByAlert(ctx context.Context, alertID string) ([]*models.NotificationDelivery, error)
	// ListDueRetries returns failed deliveries whose next_retry_at has passed.
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.NotificationDelivery, error)
	List(ctx context.Context, filter DeliveryFilter) ([]*models.NotificationDelivery, int64, error)
	// StatsSince summarizes deliveries of alerts triggered at or after since.
	StatsSince(ctx context.Context, since time.Time) (*models.DeliveryStats, error)
	// CountDeliveredTo counts successful deliveries to recipient since a time.
	CountDeliveredTo(ctx context.Context, recipient string, since time.Time) (int, error)
}

// TemplateRepository defines operations for notification templates.
type TemplateRepository interface {
	Create(ctx context.Context, tmpl *models.NotificationTemplate) error
	GetByID(ctx context.Context, id string) (*models.NotificationTemplate, error)
	GetByName(ctx context.Context, name string) (*models.NotificationTemplate, error)
	Update(ctx context.Context, tmpl *models.NotificationTemplate) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.NotificationTemplate, error)
	RecordUsage(ctx context.Context, id string, at time.Time) error
}

// PreferenceRepository defines operations for recipient preferences.
type PreferenceRepository interface {
	Upsert(ctx context.Context, pref *models.NotificationPreference) error
	Get(ctx context.Context, recipientID string) (*models.NotificationPreference, error)
	List(ctx context.Context) ([]*models.NotificationPreference, error)
	Delete(ctx context.Context, recipientID string) error
}
