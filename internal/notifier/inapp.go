package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// publisher is the subset of *nats.Conn used by the in-app adapter.
type publisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// InAppConfig configures in-app delivery over NATS.
type InAppConfig struct {
	URL           string
	SubjectPrefix string
	Timeout       time.Duration
}

// InAppAdapter delivers the in_app channel by publishing to
// "<prefix>.<recipient>".
type InAppAdapter struct {
	conn    publisher
	prefix  string
	timeout time.Duration
}

// NewInAppAdapter connects to NATS.
func NewInAppAdapter(config InAppConfig) (*InAppAdapter, error) {
	if config.URL == "" {
		config.URL = nats.DefaultURL
	}
	nc, err := nats.Connect(config.URL,
		nats.Name("blazealert"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newInAppAdapter(nc, config), nil
}

func newInAppAdapter(conn publisher, config InAppConfig) *InAppAdapter {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = "blazealert.inapp"
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &InAppAdapter{conn: conn, prefix: config.SubjectPrefix, timeout: config.Timeout}
}

// Channel returns in_app.
func (a *InAppAdapter) Channel() models.Channel { return models.ChannelInApp }

// Timeout returns the per-send timeout.
func (a *InAppAdapter) Timeout() time.Duration { return a.timeout }

// InAppNotification is the JSON document published for in-app delivery.
type InAppNotification struct {
	ID        string          `json:"id"`
	AlertID   string          `json:"alert_id"`
	Recipient string          `json:"recipient"`
	Severity  models.Severity `json:"severity"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Data      map[string]any  `json:"data,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
}

// Send publishes msg and waits for the server to acknowledge the flush.
func (a *InAppAdapter) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if msg.Recipient == "" {
		return nil, &DeliveryError{Channel: a.Channel(), Permanent: true, Err: fmt.Errorf("recipient is required")}
	}

	id := msg.DeliveryID
	if id == "" {
		id = uuid.New().String()
	}
	data, err := json.Marshal(InAppNotification{
		ID:        id,
		AlertID:   msg.AlertID,
		Recipient: msg.Recipient,
		Severity:  msg.Severity,
		Title:     msg.Subject,
		Body:      msg.Body,
		Data:      msg.Data,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, &DeliveryError{Channel: a.Channel(), Permanent: true, Err: fmt.Errorf("marshal notification: %w", err)}
	}

	natsMsg := nats.NewMsg(a.prefix + "." + msg.Recipient)
	natsMsg.Data = data
	natsMsg.Header.Set("Nats-Msg-Id", id)
	if err := a.conn.PublishMsg(natsMsg); err != nil {
		return nil, &DeliveryError{Channel: a.Channel(), Err: fmt.Errorf("publish: %w", err)}
	}
	if err := a.conn.FlushWithContext(ctx); err != nil {
		return nil, &DeliveryError{Channel: a.Channel(), Err: fmt.Errorf("flush: %w", err)}
	}
	return &Receipt{ProviderID: id}, nil
}

// Close drains nothing and closes the connection.
func (a *InAppAdapter) Close() error {
	a.conn.Close()
	return nil
}
