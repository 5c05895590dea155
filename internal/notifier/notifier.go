// Package notifier provides the channel delivery adapters.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Message is the rendered content for one delivery to one recipient.
type Message struct {
	DeliveryID string
	AlertID    string
	RuleID     string
	Channel    models.Channel
	Recipient  string
	Address    string
	Severity   models.Severity
	Subject    string
	Body       string
	HTML       string
	// Data carries structured alert fields for machine consumers.
	Data map[string]any
}

// Receipt is what a provider returned for a successful send.
type Receipt struct {
	ProviderID string
	Response   json.RawMessage
	Cost       float64
}

// Adapter delivers messages over one channel.
type Adapter interface {
	// Channel returns the channel this adapter serves.
	Channel() models.Channel
	// Timeout bounds a single Send call.
	Timeout() time.Duration
	// Send delivers msg. Errors are delivery failures.
	Send(ctx context.Context, msg *Message) (*Receipt, error)
	// Close releases any resources.
	Close() error
}

// ErrRateLimited is returned when a send is refused by a channel throttle.
var ErrRateLimited = errors.New("notification rate limited")

// DeliveryError wraps a provider failure. Permanent errors are not retried.
type DeliveryError struct {
	Channel    models.Channel
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery failed (status %d): %v", e.Channel, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

// statusError classifies an HTTP status: 4xx other than 408 and 429 is
// permanent.
func statusError(channel models.Channel, code int, body []byte) *DeliveryError {
	permanent := code >= 400 && code < 500 && code != 408 && code != 429
	return &DeliveryError{
		Channel:    channel,
		StatusCode: code,
		Permanent:  permanent,
		Err:        fmt.Errorf("unexpected response: %s", truncate(string(body), 256)),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Registry maps each channel to its adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Channel]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Channel]Adapter)}
}

// Register adds or replaces the adapter for its channel.
func (r *Registry) Register(a Adapter) error {
	if !a.Channel().Valid() {
		return fmt.Errorf("register adapter: unknown channel %q", a.Channel())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Channel()] = a
	return nil
}

// Get returns the adapter for channel.
func (r *Registry) Get(channel models.Channel) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[channel]
	return a, ok
}

// Channels lists registered channels in stable order.
func (r *Registry) Channels() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Channel, 0, len(r.adapters))
	for c := range r.adapters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close closes all registered adapters.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for channel, a := range r.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", channel, err))
		}
	}
	r.adapters = make(map[models.Channel]Adapter)
	return errors.Join(errs...)
}

// jsonResponse returns body as raw JSON, quoting it when it is not JSON.
func jsonResponse(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(truncate(string(body), 1024))
	return quoted
}
