package models

import (
	"encoding/json"
	"time"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "pending"
	AlertStatusSent         AlertStatus = "sent"
	AlertStatusDelivered    AlertStatus = "delivered"
	AlertStatusFailed       AlertStatus = "failed"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Acknowledgeable reports whether an alert in this state may be acknowledged.
func (s AlertStatus) Acknowledgeable() bool {
	return s == AlertStatusPending || s == AlertStatusSent || s == AlertStatusDelivered
}

// Resolvable reports whether an alert in this state may be resolved. Failed
// alerts can still be closed by an operator.
func (s AlertStatus) Resolvable() bool {
	return s != AlertStatusResolved
}

// Open reports whether an alert may still absorb merged triggers.
func (s AlertStatus) Open() bool {
	return s != AlertStatusResolved && s != AlertStatusFailed
}

// TriggerSnapshot records one trigger merged into an existing alert.
type TriggerSnapshot struct {
	At       time.Time       `json:"at"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Severity Severity        `json:"severity"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Alert is one (possibly aggregated) incident produced by a rule.
type Alert struct {
	ID       string          `json:"id"`
	RuleID   string          `json:"rule_id"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Severity Severity        `json:"severity"`
	Status   AlertStatus     `json:"status"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Context  map[string]any  `json:"context,omitempty"`

	Fingerprint     string            `json:"fingerprint"`
	AggregatedCount int               `json:"aggregated_count"`
	MergedTriggers  []TriggerSnapshot `json:"merged_triggers,omitempty"`
	ParentID        string            `json:"parent_id,omitempty"`

	TriggeredAt    time.Time  `json:"triggered_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`

	AcknowledgedBy       string `json:"acknowledged_by,omitempty"`
	AcknowledgementNotes string `json:"acknowledgement_notes,omitempty"`
	ResolvedBy           string `json:"resolved_by,omitempty"`
	ResolutionNotes      string `json:"resolution_notes,omitempty"`
	FalsePositive        bool   `json:"false_positive"`

	DeliveryAttempts  int      `json:"delivery_attempts"`
	SuccessRecipients []string `json:"success_recipients,omitempty"`
	FailedRecipients  []string `json:"failed_recipients,omitempty"`
	EscalationLevel   int      `json:"escalation_level"`

	TimeToAcknowledge *float64 `json:"time_to_acknowledge,omitempty"`
	TimeToResolve     *float64 `json:"time_to_resolve,omitempty"`
}

// Seconds returns the elapsed seconds between from and to as a pointer, the
// shape used by the derived duration fields.
func Seconds(from, to time.Time) *float64 {
	s := to.Sub(from).Seconds()
	return &s
}
