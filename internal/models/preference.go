package models

import "time"

// ChannelPreference holds one recipient's settings for one channel.
type ChannelPreference struct {
	Enabled     bool     `json:"enabled"`
	Address     string   `json:"address,omitempty"`
	MinSeverity Severity `json:"min_severity,omitempty"`
}

// NotificationPreference is the per-recipient delivery policy.
type NotificationPreference struct {
	RecipientID     string                        `json:"recipient_id"`
	Channels        map[Channel]ChannelPreference `json:"channels,omitempty"`
	QuietHours      *QuietHours                   `json:"quiet_hours,omitempty"`
	Categories      []string                      `json:"categories,omitempty"`
	MaxPerHour      int                           `json:"max_per_hour,omitempty"`
	EscalationOptIn bool                          `json:"escalation_opt_in"`
	UpdatedAt       time.Time                     `json:"updated_at"`
}

// Allows reports whether the recipient accepts notifications in category.
// An empty opt-in list accepts everything.
func (p *NotificationPreference) Allows(category string) bool {
	if p == nil || len(p.Categories) == 0 || category == "" {
		return true
	}
	for _, c := range p.Categories {
		if c == category {
			return true
		}
	}
	return false
}
