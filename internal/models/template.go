package models

import "time"

// NotificationTemplate is a reusable message template. An empty Channel means
// the template applies to any channel.
type NotificationTemplate struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Channel   Channel           `json:"channel,omitempty"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	HTML      string            `json:"html,omitempty"`
	Variables []string          `json:"variables,omitempty"`
	Defaults  map[string]string `json:"defaults,omitempty"`

	// Formatting options.
	Locale     string `json:"locale,omitempty"`
	TimeFormat string `json:"time_format,omitempty"`
	Timezone   string `json:"timezone,omitempty"`

	UsageCount int64      `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
