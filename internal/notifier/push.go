package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// PushConfig configures a push gateway accepting FCM-style JSON messages.
type PushConfig struct {
	URL       string
	ServerKey string
	Timeout   time.Duration
}

// Validate validates the push configuration.
func (c *PushConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("push gateway URL is required")
	}
	if c.ServerKey == "" {
		return fmt.Errorf("push server key is required")
	}
	return nil
}

// PushAdapter delivers the mobile_push channel. The message address is the
// device token.
type PushAdapter struct {
	config     PushConfig
	httpClient *http.Client
}

// NewPushAdapter creates a push adapter.
func NewPushAdapter(config PushConfig) (*PushAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid push config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &PushAdapter{config: config, httpClient: &http.Client{Timeout: config.Timeout}}, nil
}

// Channel returns mobile_push.
func (p *PushAdapter) Channel() models.Channel { return models.ChannelMobilePush }

// Timeout returns the per-send timeout.
func (p *PushAdapter) Timeout() time.Duration { return p.config.Timeout }

type pushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type pushRequest struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Notification pushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type pushResponse struct {
	MessageID string `json:"message_id"`
	Failure   int    `json:"failure"`
	Results   []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// Send posts the notification to the gateway.
func (p *PushAdapter) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if msg.Address == "" {
		return nil, &DeliveryError{Channel: p.Channel(), Permanent: true, Err: fmt.Errorf("recipient has no device token")}
	}

	priority := "normal"
	if msg.Severity.AtLeast(models.SeverityHigh) {
		priority = "high"
	}
	payload := pushRequest{
		To:           msg.Address,
		Priority:     priority,
		Notification: pushNotification{Title: msg.Subject, Body: msg.Body},
		Data: map[string]string{
			"alert_id": msg.AlertID,
			"severity": string(msg.Severity),
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &DeliveryError{Channel: p.Channel(), Permanent: true, Err: fmt.Errorf("marshal push payload: %w", err)}
	}

	req, err := http.NewRequest(http.MethodPost, p.config.URL, bytes.NewReader(data))
	if err != nil {
		return nil, &DeliveryError{Channel: p.Channel(), Permanent: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+p.config.ServerKey)

	body, err := doRequest(ctx, p.httpClient, p.Channel(), req)
	if err != nil {
		return nil, err
	}

	var parsed pushResponse
	_ = json.Unmarshal(body, &parsed)
	id := parsed.MessageID
	if len(parsed.Results) > 0 {
		if parsed.Results[0].Error != "" {
			return nil, &DeliveryError{Channel: p.Channel(), Permanent: parsed.Results[0].Error == "NotRegistered",
				Err: fmt.Errorf("push gateway: %s", parsed.Results[0].Error)}
		}
		id = parsed.Results[0].MessageID
	}
	return &Receipt{ProviderID: id, Response: jsonResponse(body)}, nil
}

// Close is a no-op for push.
func (p *PushAdapter) Close() error { return nil }
