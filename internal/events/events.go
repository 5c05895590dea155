// Package events publishes alert lifecycle events to downstream consumers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Type names a lifecycle transition.
type Type string

const (
	TypeCreated      Type = "alert.created"
	TypeMerged       Type = "alert.merged"
	TypeSuppressed   Type = "alert.suppressed"
	TypeDropped      Type = "alert.dropped"
	TypeAcknowledged Type = "alert.acknowledged"
	TypeResolved     Type = "alert.resolved"
	TypeEscalated    Type = "alert.escalated"
	TypeExpired      Type = "alert.expired"
)

// Event describes one alert transition.
type Event struct {
	ID       string             `json:"id"`
	Type     Type               `json:"type"`
	AlertID  string             `json:"alert_id,omitempty"`
	RuleID   string             `json:"rule_id"`
	Severity models.Severity    `json:"severity,omitempty"`
	Status   models.AlertStatus `json:"status,omitempty"`
	Actor    string             `json:"actor,omitempty"`
	Notes    string             `json:"notes,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Level    int                `json:"level,omitempty"`
	At       time.Time          `json:"at"`
}

// Publisher receives lifecycle events. Publish must not block on slow
// consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Fanout forwards each event to every publisher.
type Fanout []Publisher

// Publish forwards event to all publishers and joins their errors.
func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all publishers.
func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
