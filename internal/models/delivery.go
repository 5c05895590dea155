package models

import (
	"encoding/json"
	"time"
)

// DeliveryStatus is the state of a single delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DefaultMaxRetries bounds attempts for a delivery unless configured.
const DefaultMaxRetries = 3

// NotificationDelivery is one attempt chain to notify one recipient over one
// channel.
type NotificationDelivery struct {
	ID        string         `json:"id"`
	AlertID   string         `json:"alert_id"`
	Channel   Channel        `json:"channel"`
	Recipient string         `json:"recipient"`
	Address   string         `json:"address"`
	Status    DeliveryStatus `json:"status"`

	Subject string `json:"subject"`
	Body    string `json:"body"`
	HTML    string `json:"html,omitempty"`

	AttemptedAt *time.Time `json:"attempted_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	ClickedAt   *time.Time `json:"clicked_at,omitempty"`

	ProviderID       string          `json:"provider_id,omitempty"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
	Error            string          `json:"error,omitempty"`

	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	LatencyMS int64     `json:"latency_ms"`
	Cost      float64   `json:"cost"`
	CreatedAt time.Time `json:"created_at"`
}

// Exhausted reports whether the delivery failed and may not be retried again.
func (d *NotificationDelivery) Exhausted() bool {
	return d.Status == DeliveryFailed && d.RetryCount >= d.MaxRetries
}

// DeliveryStats summarizes deliveries for a set of alerts.
type DeliveryStats struct {
	Total     int64 `json:"total"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
	Exhausted int64 `json:"exhausted"`
}
