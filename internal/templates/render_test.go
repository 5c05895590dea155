package templates

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

func testView() View {
	alert := &models.Alert{
		ID:              "a1",
		Title:           "Disk full",
		Message:         "/var is at 99%",
		Severity:        models.SeverityCritical,
		Status:          models.AlertStatusPending,
		AggregatedCount: 3,
		TriggeredAt:     time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
		Context:         map[string]any{"host": "db-1", "bytes": 1234567},
	}
	rule := models.NewAlertRule("disk", models.SeverityHigh, models.ChannelDirectMessage)
	rule.ID = "r1"
	return NewView(alert, rule, SystemView{Name: "BlazeAlert", BaseURL: "https://alerts.example.com"})
}

func TestRenderAllVariablesBound(t *testing.T) {
	r := NewRenderer(zerolog.Nop())
	tmpl := &models.NotificationTemplate{
		Name:      "email",
		Subject:   "[{{upper .Alert.Severity}}] {{.Alert.Title}} on {{.Vars.host}}",
		Body:      "{{.Alert.Message}} (rule {{.Rule.Name}}, team {{.Vars.team}}) x{{.Alert.AggregatedCount}}",
		HTML:      `<p style="color:{{severity_color .Alert.Severity}}">{{.Alert.Message}}</p>`,
		Variables: []string{"alert.title", "rule.name", "host", "team", "system.base_url"},
		Defaults:  map[string]string{"team": "ops"},
	}

	out := r.Render(tmpl, testView())
	require.NoError(t, out.Err)
	assert.False(t, out.Fallback)
	assert.Equal(t, "[CRITICAL] Disk full on db-1", out.Subject)
	assert.Equal(t, "/var is at 99% (rule disk, team ops) x3", out.Body)
	assert.Contains(t, out.HTML, "#d32f2f")
}

func TestRenderContextOverridesDefaults(t *testing.T) {
	r := NewRenderer(zerolog.Nop())
	tmpl := &models.NotificationTemplate{
		Name:     "ctx",
		Subject:  "{{.Vars.host}}",
		Body:     "x",
		Defaults: map[string]string{"host": "unknown"},
	}
	assert.Equal(t, "db-1", r.Render(tmpl, testView()).Subject)
}

func TestRenderMissingVariableFallsBack(t *testing.T) {
	r := NewRenderer(zerolog.Nop())
	tests := []struct {
		name string
		tmpl *models.NotificationTemplate
	}{
		{"declared but unbound", &models.NotificationTemplate{
			Name: "declared", Subject: "{{.Alert.Title}}", Body: "b", Variables: []string{"runbook"},
		}},
		{"missing map key", &models.NotificationTemplate{
			Name: "mapkey", Subject: "{{.Vars.runbook}}", Body: "b",
		}},
		{"unknown field", &models.NotificationTemplate{
			Name: "field", Subject: "ok", Body: "{{.Alert.Nope}}",
		}},
		{"parse error", &models.NotificationTemplate{
			Name: "parse", Subject: "{{", Body: "b",
		}},
		{"bad namespace field", &models.NotificationTemplate{
			Name: "ns", Subject: "s", Body: "b", Variables: []string{"rule.owner"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out Rendered
			assert.NotPanics(t, func() { out = r.Render(tt.tmpl, testView()) })
			assert.True(t, out.Fallback)
			assert.Equal(t, "Alert: Disk full", out.Subject)
			assert.Equal(t, "/var is at 99%", out.Body)

			var rerr *RenderError
			assert.True(t, errors.As(out.Err, &rerr))
		})
	}
}

func TestRenderNilTemplate(t *testing.T) {
	out := NewRenderer(zerolog.Nop()).Render(nil, testView())
	assert.True(t, out.Fallback)
	assert.NoError(t, out.Err)
	assert.Equal(t, "Alert: Disk full", out.Subject)
}

func TestHelpers(t *testing.T) {
	r := NewRenderer(zerolog.Nop())
	tmpl := &models.NotificationTemplate{
		Name:       "helpers",
		Subject:    "{{datetime .Alert.TriggeredAt}}",
		Body:       "{{number .Vars.bytes}} {{lower .Alert.Title}}",
		TimeFormat: "2006-01-02 15:04",
		Timezone:   "Europe/Berlin",
		Locale:     "en",
	}
	out := r.Render(tmpl, testView())
	require.NoError(t, out.Err)
	assert.Equal(t, "2026-10-18 11:30", out.Subject)
	assert.Equal(t, "1,234,567 disk full", out.Body)
}

func TestHTMLEscaping(t *testing.T) {
	view := testView()
	view.Alert.Message = "<script>alert(1)</script>"
	tmpl := &models.NotificationTemplate{Name: "html", Subject: "s", Body: "b", HTML: "<p>{{.Alert.Message}}</p>"}

	out := NewRenderer(zerolog.Nop()).Render(tmpl, view)
	require.NoError(t, out.Err)
	assert.NotContains(t, out.HTML, "<script>")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(&models.NotificationTemplate{Name: "ok", Subject: "{{.Alert.Title}}", Body: "{{number 3}}"}))
	err := Validate(&models.NotificationTemplate{Name: "bad", Subject: "{{.Alert.Title", Body: ""})
	assert.ErrorIs(t, err, ErrInvalidTemplate)
	var re *RenderError
	assert.ErrorAs(t, err, &re)
	assert.Error(t, Validate(&models.NotificationTemplate{Name: "fn", Subject: "{{nope}}", Body: ""}))
}

func TestViewLookup(t *testing.T) {
	v := testView()
	got, ok := v.lookup("alert.context.host")
	assert.True(t, ok)
	assert.Equal(t, "db-1", got)

	_, ok = v.lookup("alert.context.missing")
	assert.False(t, ok)

	got, ok = v.lookup("system.name")
	assert.True(t, ok)
	assert.Equal(t, "BlazeAlert", got)

	_, ok = v.lookup("rule.description")
	assert.False(t, ok, "empty field without default is unbound")
}
