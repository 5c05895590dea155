package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TriggerType is the kind of condition that produces triggers for a rule.
type TriggerType string

const (
	TriggerThreshold TriggerType = "threshold"
	TriggerAnomaly   TriggerType = "anomaly"
	TriggerScheduled TriggerType = "scheduled"
	TriggerEvent     TriggerType = "event"
	TriggerManual    TriggerType = "manual"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerThreshold, TriggerAnomaly, TriggerScheduled, TriggerEvent, TriggerManual:
		return true
	}
	return false
}

// AggregationMethod decides how triggers are merged into open alerts.
type AggregationMethod string

const (
	AggregationNone             AggregationMethod = "none"
	AggregationCount            AggregationMethod = "count"
	AggregationTimeWindow       AggregationMethod = "time_window"
	AggregationDuplicateContent AggregationMethod = "duplicate_content"
	AggregationSimilarEvents    AggregationMethod = "similar_events"
)

// Valid reports whether m is a known aggregation method.
func (m AggregationMethod) Valid() bool {
	switch m {
	case AggregationNone, AggregationCount, AggregationTimeWindow,
		AggregationDuplicateContent, AggregationSimilarEvents:
		return true
	}
	return false
}

// DefaultSimilarityThreshold is used by similar_events when the rule sets none.
const DefaultSimilarityThreshold = 0.8

// Trigger describes what produces triggers for a rule. Condition is opaque to
// the engine.
type Trigger struct {
	Type       TriggerType     `json:"type" yaml:"type"`
	Condition  json.RawMessage `json:"condition,omitempty" yaml:"-"`
	DataSource string          `json:"data_source,omitempty" yaml:"data_source"`
}

// RecipientSpec lists who a rule notifies. Roles and teams are expanded by a
// directory at dispatch time.
type RecipientSpec struct {
	Users []string `json:"users,omitempty" yaml:"users"`
	Roles []string `json:"roles,omitempty" yaml:"roles"`
	Teams []string `json:"teams,omitempty" yaml:"teams"`
}

// Empty reports whether the spec names nobody.
func (r RecipientSpec) Empty() bool {
	return len(r.Users) == 0 && len(r.Roles) == 0 && len(r.Teams) == 0
}

// EscalationStep notifies additional recipients once an alert has stayed
// unacknowledged for Delay.
type EscalationStep struct {
	Delay      time.Duration `json:"delay"`
	Recipients RecipientSpec `json:"recipients"`
}

// AlertRule is a persistent definition of a condition, its severity, channels,
// recipients and suppression policy.
type AlertRule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Trigger     Trigger   `json:"trigger"`
	Severity    Severity  `json:"severity"`
	Channels    []Channel `json:"channels"`
	TemplateID  string    `json:"template_id,omitempty"`

	CheckInterval       time.Duration     `json:"check_interval"`
	Aggregation         AggregationMethod `json:"aggregation_method"`
	AggregationWindow   time.Duration     `json:"aggregation_window"`
	SimilarityThreshold float64           `json:"similarity_threshold,omitempty"`

	Recipients  RecipientSpec    `json:"recipients"`
	WebhookURLs []string         `json:"webhook_urls,omitempty"`
	Escalation  []EscalationStep `json:"escalation,omitempty"`

	RateLimitCount  int           `json:"rate_limit_count"`
	RateLimitWindow time.Duration `json:"rate_limit_window"`
	QuietHours      *QuietHours   `json:"quiet_hours,omitempty"`

	AllowDirectResolve bool          `json:"allow_direct_resolve"`
	ExpireAfter        time.Duration `json:"expire_after,omitempty"`
	Active             bool          `json:"active"`

	TriggerCount         int64      `json:"trigger_count"`
	LastTriggeredAt      *time.Time `json:"last_triggered_at,omitempty"`
	AvgResponseSeconds   float64    `json:"avg_response_seconds"`
	AvgResolutionSeconds float64    `json:"avg_resolution_seconds"`
	AcknowledgedCount    int64      `json:"acknowledged_count"`
	ResolvedCount        int64      `json:"resolved_count"`
	FalsePositiveCount   int64      `json:"false_positive_count"`
	FalsePositiveRate    float64    `json:"false_positive_rate"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAlertRule creates a new active AlertRule with defaults applied.
func NewAlertRule(name string, severity Severity, channels ...Channel) *AlertRule {
	now := time.Now().UTC()
	return &AlertRule{
		Name:            name,
		Trigger:         Trigger{Type: TriggerManual},
		Severity:        severity,
		Channels:        channels,
		Aggregation:     AggregationNone,
		RateLimitCount:  10,
		RateLimitWindow: time.Hour,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ErrInvalidRule is wrapped by every rule validation failure.
var ErrInvalidRule = errors.New("invalid alert rule")

// Validate checks structural invariants of the rule.
func (r *AlertRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidRule, r.Severity)
	}
	if r.Trigger.Type != "" && !r.Trigger.Type.Valid() {
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidRule, r.Trigger.Type)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrInvalidRule)
	}
	for _, c := range r.Channels {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidRule, c)
		}
		if c == ChannelWebhook && len(r.WebhookURLs) == 0 {
			return fmt.Errorf("%w: webhook channel requires webhook_urls", ErrInvalidRule)
		}
	}
	if r.Aggregation != "" && !r.Aggregation.Valid() {
		return fmt.Errorf("%w: unknown aggregation method %q", ErrInvalidRule, r.Aggregation)
	}
	if r.AggregationWindow < 0 {
		return fmt.Errorf("%w: aggregation_window must be >= 0", ErrInvalidRule)
	}
	if r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be within [0,1]", ErrInvalidRule)
	}
	if r.RateLimitCount < 1 {
		return fmt.Errorf("%w: rate_limit_count must be >= 1", ErrInvalidRule)
	}
	if r.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: rate_limit_window must be > 0", ErrInvalidRule)
	}
	for i, step := range r.Escalation {
		if step.Delay <= 0 {
			return fmt.Errorf("%w: escalation step %d needs a positive delay", ErrInvalidRule, i)
		}
		if i > 0 && step.Delay <= r.Escalation[i-1].Delay {
			return fmt.Errorf("%w: escalation delays must increase", ErrInvalidRule)
		}
	}
	if r.QuietHours != nil {
		if err := r.QuietHours.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	}
	return nil
}

// EffectiveSimilarity returns the similar_events threshold, defaulted.
func (r *AlertRule) EffectiveSimilarity() float64 {
	if r.SimilarityThreshold <= 0 {
		return DefaultSimilarityThreshold
	}
	return r.SimilarityThreshold
}

// HasChannel reports whether the rule delivers over c.
func (r *AlertRule) HasChannel(c Channel) bool {
	for _, ch := range r.Channels {
		if ch == c {
			return true
		}
	}
	return false
}
