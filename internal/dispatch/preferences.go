package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

// Reasons a (channel, recipient) pair is skipped.
const (
	skipChannelDisabled  = "channel_disabled"
	skipBelowSeverity    = "below_min_severity"
	skipQuietHours       = "quiet_hours"
	skipCategory         = "category"
	skipFrequencyCap     = "frequency_cap"
	skipNoAddress        = "no_address"
	skipNoAdapter        = "no_adapter"
	skipEscalationOptOut = "escalation_opt_out"
)

// checkPreference returns why pref rules out channel for an alert of the
// given severity and category, or "" when it is allowed. A missing
// preference allows everything.
func checkPreference(pref *models.NotificationPreference, channel models.Channel, severity models.Severity, category string, now time.Time) string {
	if pref == nil {
		return ""
	}
	if cp, ok := pref.Channels[channel]; ok {
		if !cp.Enabled {
			return skipChannelDisabled
		}
		if cp.MinSeverity != "" && !severity.AtLeast(cp.MinSeverity) {
			return skipBelowSeverity
		}
	}
	if pref.QuietHours.Active(now) {
		return skipQuietHours
	}
	if !pref.Allows(category) {
		return skipCategory
	}
	return ""
}

// alertCategory is the alert's "category" context value, or the rule's
// trigger type.
func alertCategory(alert *models.Alert, rule *models.AlertRule) string {
	if c, ok := alert.Context["category"].(string); ok && c != "" {
		return c
	}
	if rule != nil {
		return string(rule.Trigger.Type)
	}
	return ""
}

// preferenceSet loads preferences and hourly delivery counts lazily for one
// processing pass. It is not safe for concurrent use.
type preferenceSet struct {
	repo       storage.PreferenceRepository
	deliveries storage.DeliveryRepository
	now        time.Time
	logger     zerolog.Logger

	prefs   map[string]*models.NotificationPreference
	sent    map[string]int
	planned map[string]int
}

func newPreferenceSet(store storage.Storage, now time.Time, logger zerolog.Logger) *preferenceSet {
	return &preferenceSet{
		repo:       store.Preferences(),
		deliveries: store.Deliveries(),
		now:        now,
		logger:     logger,
		prefs:      make(map[string]*models.NotificationPreference),
		sent:       make(map[string]int),
		planned:    make(map[string]int),
	}
}

// get returns the recipient's preference. Lookup failures are logged and
// treated as no preference.
func (p *preferenceSet) get(ctx context.Context, recipient string) *models.NotificationPreference {
	if pref, ok := p.prefs[recipient]; ok {
		return pref
	}
	pref, err := p.repo.Get(ctx, recipient)
	if err != nil {
		p.logger.Warn().Err(err).Str("recipient", recipient).Msg("failed to load preference, allowing delivery")
		pref = nil
	}
	p.prefs[recipient] = pref
	return pref
}

// reserve takes one slot of the recipient's hourly cap. It returns false
// when the cap is reached.
func (p *preferenceSet) reserve(ctx context.Context, recipient string, pref *models.NotificationPreference) bool {
	if pref == nil || pref.MaxPerHour <= 0 {
		return true
	}
	sent, ok := p.sent[recipient]
	if !ok {
		n, err := p.deliveries.CountDeliveredTo(ctx, recipient, p.now.Add(-time.Hour))
		if err != nil {
			p.logger.Warn().Err(err).Str("recipient", recipient).Msg("failed to count recent deliveries")
		}
		sent = n
		p.sent[recipient] = n
	}
	if sent+p.planned[recipient] >= pref.MaxPerHour {
		return false
	}
	p.planned[recipient]++
	return true
}

// isURL reports whether a recipient entry is a webhook endpoint.
func isURL(recipient string) bool {
	return strings.Contains(recipient, "://")
}
