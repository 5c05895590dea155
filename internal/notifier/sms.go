package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// maxSMSLength caps the body of a text message, in characters.
const maxSMSLength = 1600

// SMSConfig configures a Twilio-compatible SMS gateway.
type SMSConfig struct {
	BaseURL    string // e.g. https://api.twilio.com
	AccountSID string
	AuthToken  string
	From       string
	// RequestsPerSecond throttles calls to the gateway. Zero disables it.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Validate validates the SMS configuration.
func (c *SMSConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("SMS base URL is required")
	}
	if c.AccountSID == "" || c.AuthToken == "" {
		return fmt.Errorf("SMS account SID and auth token are required")
	}
	if c.From == "" {
		return fmt.Errorf("SMS from number is required")
	}
	return nil
}

// SMSAdapter delivers the text_message channel.
type SMSAdapter struct {
	config     SMSConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSMSAdapter creates an SMS adapter.
func NewSMSAdapter(config SMSConfig) (*SMSAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sms config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RequestsPerSecond > 0 {
		burst := int(math.Ceil(config.RequestsPerSecond))
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &SMSAdapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
	}, nil
}

// Channel returns text_message.
func (s *SMSAdapter) Channel() models.Channel { return models.ChannelTextMessage }

// Timeout returns the per-send timeout.
func (s *SMSAdapter) Timeout() time.Duration { return s.config.Timeout }

type smsResponse struct {
	SID   string `json:"sid"`
	Price string `json:"price"`
}

// Send posts the message body to the gateway.
func (s *SMSAdapter) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if msg.Address == "" {
		return nil, &DeliveryError{Channel: s.Channel(), Permanent: true, Err: fmt.Errorf("recipient has no phone number")}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &DeliveryError{Channel: s.Channel(), Err: fmt.Errorf("throttle: %w", err)}
	}

	text := msg.Subject
	if msg.Body != "" {
		text = msg.Subject + "\n" + msg.Body
	}
	if r := []rune(text); len(r) > maxSMSLength {
		text = string(r[:maxSMSLength])
	}

	form := url.Values{}
	form.Set("To", msg.Address)
	form.Set("From", s.config.From)
	form.Set("Body", text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(s.config.BaseURL, "/"), url.PathEscape(s.config.AccountSID))
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &DeliveryError{Channel: s.Channel(), Permanent: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.config.AccountSID, s.config.AuthToken)

	body, err := doRequest(ctx, s.httpClient, s.Channel(), req)
	if err != nil {
		return nil, err
	}

	var parsed smsResponse
	_ = json.Unmarshal(body, &parsed)
	receipt := &Receipt{ProviderID: parsed.SID, Response: jsonResponse(body)}
	if price, err := strconv.ParseFloat(parsed.Price, 64); err == nil {
		receipt.Cost = math.Abs(price)
	}
	return receipt, nil
}

// Close is a no-op for SMS.
func (s *SMSAdapter) Close() error { return nil }
