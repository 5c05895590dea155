package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Webhook request headers.
const (
	SignatureHeader = "X-BlazeAlert-Signature"
	TimestampHeader = "X-BlazeAlert-Timestamp"
)

// WebhookConfig configures outbound webhooks. The target URL is the message
// address.
type WebhookConfig struct {
	// Secret signs the body with HMAC-SHA256 when set.
	Secret string
	// BearerToken is sent as an Authorization header when set.
	BearerToken string
	// AllowHTTP permits non-TLS endpoints.
	AllowHTTP bool
	Timeout   time.Duration
}

// WebhookAdapter delivers the webhook channel.
type WebhookAdapter struct {
	config     WebhookConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewWebhookAdapter creates a webhook adapter.
func NewWebhookAdapter(config WebhookConfig) *WebhookAdapter {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &WebhookAdapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		now:        time.Now,
	}
}

// Channel returns webhook.
func (w *WebhookAdapter) Channel() models.Channel { return models.ChannelWebhook }

// Timeout returns the per-send timeout.
func (w *WebhookAdapter) Timeout() time.Duration { return w.config.Timeout }

// WebhookPayload is the JSON body posted to webhook endpoints.
type WebhookPayload struct {
	DeliveryID string          `json:"delivery_id"`
	AlertID    string          `json:"alert_id"`
	RuleID     string          `json:"rule_id,omitempty"`
	Severity   models.Severity `json:"severity"`
	Subject    string          `json:"subject"`
	Body       string          `json:"body"`
	Data       map[string]any  `json:"data,omitempty"`
	SentAt     time.Time       `json:"sent_at"`
}

// Send posts the payload to msg.Address.
func (w *WebhookAdapter) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if err := w.validateURL(msg.Address); err != nil {
		return nil, &DeliveryError{Channel: w.Channel(), Permanent: true, Err: err}
	}

	now := w.now().UTC()
	data, err := json.Marshal(WebhookPayload{
		DeliveryID: msg.DeliveryID,
		AlertID:    msg.AlertID,
		RuleID:     msg.RuleID,
		Severity:   msg.Severity,
		Subject:    msg.Subject,
		Body:       msg.Body,
		Data:       msg.Data,
		SentAt:     now,
	})
	if err != nil {
		return nil, &DeliveryError{Channel: w.Channel(), Permanent: true, Err: fmt.Errorf("marshal webhook payload: %w", err)}
	}

	req, err := http.NewRequest(http.MethodPost, msg.Address, bytes.NewReader(data))
	if err != nil {
		return nil, &DeliveryError{Channel: w.Channel(), Permanent: true, Err: err}
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TimestampHeader, ts)
	if w.config.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(w.config.Secret, ts, data))
	}
	if w.config.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.BearerToken)
	}

	body, err := doRequest(ctx, w.httpClient, w.Channel(), req)
	if err != nil {
		return nil, err
	}
	return &Receipt{ProviderID: msg.DeliveryID, Response: jsonResponse(body)}, nil
}

// Close is a no-op for webhooks.
func (w *WebhookAdapter) Close() error { return nil }

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (w *WebhookAdapter) validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid webhook URL %q", raw)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if w.config.AllowHTTP {
			return nil
		}
		return fmt.Errorf("webhook URL must use HTTPS: %q", raw)
	default:
		return fmt.Errorf("invalid webhook URL scheme %q", u.Scheme)
	}
}
