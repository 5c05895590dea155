// Package alerting implements trigger intake, gating, aggregation and the
// alert lifecycle for BlazeAlert.
package alerting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// TriggerSpec is the external form of a rule trigger.
type TriggerSpec struct {
	// Type is one of threshold, anomaly, scheduled, event or manual.
	Type string `yaml:"type" json:"type"`
	// DataSource names where the condition is evaluated.
	DataSource string `yaml:"data_source,omitempty" json:"data_source,omitempty"`
	// Condition is opaque to the engine and stored as JSON.
	Condition any `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// AggregationSpec configures trigger merging.
type AggregationSpec struct {
	Method              string  `yaml:"method" json:"method"`
	Window              string  `yaml:"window,omitempty" json:"window,omitempty"`
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty" json:"similarity_threshold,omitempty"`
}

// RateLimitSpec caps alerts per window.
type RateLimitSpec struct {
	Count  int    `yaml:"count" json:"count"`
	Window string `yaml:"window" json:"window"`
}

// EscalationSpec is one escalation step.
type EscalationSpec struct {
	After      string               `yaml:"after" json:"after"`
	Recipients models.RecipientSpec `yaml:"recipients" json:"recipients"`
}

// RuleSpec is the file and API representation of an alert rule. Durations
// are Go duration strings ("5m", "1h").
type RuleSpec struct {
	// Name is the unique identifier for the rule.
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Trigger     TriggerSpec `yaml:"trigger" json:"trigger"`
	// Severity defaults to medium.
	Severity   string   `yaml:"severity,omitempty" json:"severity,omitempty"`
	Channels   []string `yaml:"channels" json:"channels"`
	TemplateID string   `yaml:"template_id,omitempty" json:"template_id,omitempty"`
	// CheckInterval tells collaborators how often to evaluate the condition.
	CheckInterval string               `yaml:"check_interval,omitempty" json:"check_interval,omitempty"`
	Aggregation   *AggregationSpec     `yaml:"aggregation,omitempty" json:"aggregation,omitempty"`
	Recipients    models.RecipientSpec `yaml:"recipients" json:"recipients"`
	WebhookURLs   []string             `yaml:"webhook_urls,omitempty" json:"webhook_urls,omitempty"`
	Escalation    []EscalationSpec     `yaml:"escalation,omitempty" json:"escalation,omitempty"`
	RateLimit     *RateLimitSpec       `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	QuietHours    *models.QuietHours   `yaml:"quiet_hours,omitempty" json:"quiet_hours,omitempty"`
	// AllowDirectResolve lets an unacknowledged alert be resolved without an
	// implicit acknowledgement.
	AllowDirectResolve bool   `yaml:"allow_direct_resolve,omitempty" json:"allow_direct_resolve,omitempty"`
	ExpireAfter        string `yaml:"expire_after,omitempty" json:"expire_after,omitempty"`
	// Enabled controls whether the rule is active.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled returns whether the rule is enabled.
func (s *RuleSpec) IsEnabled() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// ToRule converts the spec into a validated AlertRule with defaults applied.
func (s *RuleSpec) ToRule() (*models.AlertRule, error) {
	channels := make([]models.Channel, 0, len(s.Channels))
	for _, c := range s.Channels {
		ch, err := models.ParseChannel(c)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", models.ErrInvalidRule, s.Name, err)
		}
		channels = append(channels, ch)
	}

	severity := models.SeverityMedium
	if s.Severity != "" {
		severity = models.Severity(s.Severity)
	}

	rule := models.NewAlertRule(s.Name, severity, channels...)
	rule.Description = s.Description
	rule.TemplateID = s.TemplateID
	rule.Recipients = s.Recipients
	rule.WebhookURLs = s.WebhookURLs
	rule.QuietHours = s.QuietHours
	rule.AllowDirectResolve = s.AllowDirectResolve
	rule.Active = s.IsEnabled()

	if s.Trigger.Type != "" {
		rule.Trigger.Type = models.TriggerType(s.Trigger.Type)
	}
	rule.Trigger.DataSource = s.Trigger.DataSource
	if s.Trigger.Condition != nil {
		raw, err := json.Marshal(s.Trigger.Condition)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: condition: %v", models.ErrInvalidRule, s.Name, err)
		}
		rule.Trigger.Condition = raw
	}

	var err error
	if rule.CheckInterval, err = parseDuration(s.CheckInterval); err != nil {
		return nil, s.fieldError("check_interval", err)
	}
	if rule.ExpireAfter, err = parseDuration(s.ExpireAfter); err != nil {
		return nil, s.fieldError("expire_after", err)
	}

	if s.Aggregation != nil {
		if s.Aggregation.Method != "" {
			rule.Aggregation = models.AggregationMethod(s.Aggregation.Method)
		}
		if rule.AggregationWindow, err = parseDuration(s.Aggregation.Window); err != nil {
			return nil, s.fieldError("aggregation.window", err)
		}
		rule.SimilarityThreshold = s.Aggregation.SimilarityThreshold
	}

	if s.RateLimit != nil {
		rule.RateLimitCount = s.RateLimit.Count
		if s.RateLimit.Window != "" {
			if rule.RateLimitWindow, err = parseDuration(s.RateLimit.Window); err != nil {
				return nil, s.fieldError("rate_limit.window", err)
			}
		}
	}

	for i, step := range s.Escalation {
		delay, err := parseDuration(step.After)
		if err != nil {
			return nil, s.fieldError(fmt.Sprintf("escalation[%d].after", i), err)
		}
		rule.Escalation = append(rule.Escalation, models.EscalationStep{Delay: delay, Recipients: step.Recipients})
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *RuleSpec) fieldError(field string, err error) error {
	return fmt.Errorf("%w: rule %q: invalid %s: %v", models.ErrInvalidRule, s.Name, field, err)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// RulesConfig represents the top-level YAML configuration.
type RulesConfig struct {
	Rules []*RuleSpec `yaml:"rules"`
}
