package templates

import (
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// AlertView is the alert.* namespace.
type AlertView struct {
	ID              string
	Title           string
	Message         string
	Severity        string
	Status          string
	Fingerprint     string
	AggregatedCount int
	TriggeredAt     time.Time
	Context         map[string]any
}

// RuleView is the rule.* namespace.
type RuleView struct {
	ID          string
	Name        string
	Description string
	Severity    string
	Channels    []string
}

// SystemView is the system.* namespace.
type SystemView struct {
	Name        string
	BaseURL     string
	Environment string
	Now         time.Time
}

// View is the complete data bound to a template for one render.
type View struct {
	Alert  AlertView
	Rule   RuleView
	System SystemView
	// Vars holds template defaults overlaid by alert context values.
	Vars map[string]string
}

// NewView builds a view from an alert and its rule. rule may be nil.
func NewView(alert *models.Alert, rule *models.AlertRule, system SystemView) View {
	v := View{
		Alert: AlertView{
			ID:              alert.ID,
			Title:           alert.Title,
			Message:         alert.Message,
			Severity:        string(alert.Severity),
			Status:          string(alert.Status),
			Fingerprint:     alert.Fingerprint,
			AggregatedCount: alert.AggregatedCount,
			TriggeredAt:     alert.TriggeredAt,
			Context:         alert.Context,
		},
		System: system,
		Vars:   map[string]string{},
	}
	if rule != nil {
		channels := make([]string, len(rule.Channels))
		for i, c := range rule.Channels {
			channels[i] = string(c)
		}
		v.Rule = RuleView{
			ID:          rule.ID,
			Name:        rule.Name,
			Description: rule.Description,
			Severity:    string(rule.Severity),
			Channels:    channels,
		}
	}
	for k, val := range alert.Context {
		v.Vars[k] = fmt.Sprint(val)
	}
	return v
}

// withDefaults returns a copy of v whose Vars fall back to defaults.
func (v View) withDefaults(defaults map[string]string) View {
	vars := make(map[string]string, len(defaults)+len(v.Vars))
	for k, val := range defaults {
		vars[k] = val
	}
	for k, val := range v.Vars {
		vars[k] = val
	}
	v.Vars = vars
	return v
}

// lookup resolves a declared variable name such as "alert.title",
// "rule.name", "system.base_url" or a bare var name.
func (v View) lookup(name string) (string, bool) {
	ns, field, found := strings.Cut(name, ".")
	if !found {
		val, ok := v.Vars[name]
		return val, ok
	}

	var val string
	switch ns {
	case "alert":
		switch field {
		case "id":
			val = v.Alert.ID
		case "title":
			val = v.Alert.Title
		case "message":
			val = v.Alert.Message
		case "severity":
			val = v.Alert.Severity
		case "status":
			val = v.Alert.Status
		case "fingerprint":
			val = v.Alert.Fingerprint
		case "aggregated_count":
			return fmt.Sprint(v.Alert.AggregatedCount), true
		case "triggered_at":
			if v.Alert.TriggeredAt.IsZero() {
				return "", false
			}
			return v.Alert.TriggeredAt.String(), true
		default:
			ctx, ok := v.Alert.Context[strings.TrimPrefix(field, "context.")]
			if !ok || !strings.HasPrefix(field, "context.") {
				return "", false
			}
			return fmt.Sprint(ctx), true
		}
	case "rule":
		switch field {
		case "id":
			val = v.Rule.ID
		case "name":
			val = v.Rule.Name
		case "description":
			val = v.Rule.Description
		case "severity":
			val = v.Rule.Severity
		default:
			return "", false
		}
	case "system":
		switch field {
		case "name":
			val = v.System.Name
		case "base_url":
			val = v.System.BaseURL
		case "environment":
			val = v.System.Environment
		default:
			return "", false
		}
	default:
		val, ok := v.Vars[name]
		return val, ok
	}
	if val == "" {
		// Empty namespace fields may still be supplied by defaults.
		dv, ok := v.Vars[name]
		return dv, ok
	}
	return val, true
}
