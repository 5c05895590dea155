package alerting

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

const rulesYAML = `
rules:
  - name: high-error-rate
    description: Error rate above 5%
    trigger:
      type: threshold
      data_source: api-metrics
      condition:
        metric: error_rate
        op: ">"
        value: 0.05
    severity: critical
    channels: [direct_message, webhook]
    webhook_urls: ["https://hooks.example.com/ops"]
    recipients:
      users: [alice]
      teams: [sre]
    aggregation:
      method: similar_events
      window: 10m
      similarity_threshold: 0.7
    rate_limit:
      count: 5
      window: 30m
    escalation:
      - after: 15m
        recipients:
          roles: [oncall-lead]
      - after: 1h
        recipients:
          users: [cto]
    quiet_hours:
      timezone: Europe/Berlin
      daily:
        - start: 22
          end: 7
    expire_after: 24h

  - name: nightly-report
    trigger:
      type: scheduled
    channels: [in_app]
    enabled: false
`

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(rulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	r := rules[0]
	assert.Equal(t, "high-error-rate", r.Name)
	assert.Equal(t, models.TriggerThreshold, r.Trigger.Type)
	assert.Equal(t, "api-metrics", r.Trigger.DataSource)
	assert.JSONEq(t, `{"metric":"error_rate","op":">","value":0.05}`, string(r.Trigger.Condition))
	assert.Equal(t, models.SeverityCritical, r.Severity)
	assert.Equal(t, []models.Channel{models.ChannelDirectMessage, models.ChannelWebhook}, r.Channels)
	assert.Equal(t, []string{"sre"}, r.Recipients.Teams)
	assert.Equal(t, models.AggregationSimilarEvents, r.Aggregation)
	assert.Equal(t, 10*time.Minute, r.AggregationWindow)
	assert.Equal(t, 0.7, r.SimilarityThreshold)
	assert.Equal(t, 5, r.RateLimitCount)
	assert.Equal(t, 30*time.Minute, r.RateLimitWindow)
	require.Len(t, r.Escalation, 2)
	assert.Equal(t, 15*time.Minute, r.Escalation[0].Delay)
	assert.Equal(t, []string{"oncall-lead"}, r.Escalation[0].Recipients.Roles)
	require.NotNil(t, r.QuietHours)
	assert.Equal(t, "Europe/Berlin", r.QuietHours.Timezone)
	assert.Equal(t, 24*time.Hour, r.ExpireAfter)
	assert.True(t, r.Active)

	n := rules[1]
	assert.Equal(t, models.SeverityMedium, n.Severity)
	assert.False(t, n.Active)
	assert.Equal(t, 10, n.RateLimitCount)
	assert.Equal(t, time.Hour, n.RateLimitWindow)
	assert.Equal(t, models.AggregationNone, n.Aggregation)
}

func TestLoadRulesErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "rules:\n  - name: a\n    channels: [in_app]\n    colour: red\n"},
		{"unknown channel", "rules:\n  - name: a\n    channels: [pager]\n"},
		{"bad duration", "rules:\n  - name: a\n    channels: [in_app]\n    expire_after: soon\n"},
		{"negative duration", "rules:\n  - name: a\n    channels: [in_app]\n    rate_limit: {count: 1, window: -1m}\n"},
		{"duplicate name", "rules:\n  - name: a\n    channels: [in_app]\n  - name: a\n    channels: [in_app]\n"},
		{"missing name", "rules:\n  - channels: [in_app]\n"},
		{"webhook without urls", "rules:\n  - name: a\n    channels: [webhook]\n"},
		{"bad quiet hours", "rules:\n  - name: a\n    channels: [in_app]\n    quiet_hours: {daily: [{start: 25, end: 3}]}\n"},
		{"escalation order", "rules:\n  - name: a\n    channels: [in_app]\n    escalation: [{after: 1h}, {after: 30m}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRules(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRulesEmpty(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rules)

	rules, err = LoadRulesFromBytes([]byte("rules: []\n"))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestRuleSpecToRuleInvalid(t *testing.T) {
	spec := &RuleSpec{Name: "x", Channels: []string{"in_app"}, Severity: "catastrophic"}
	_, err := spec.ToRule()
	assert.ErrorIs(t, err, models.ErrInvalidRule)
}

func TestSyncRulesPreservesCounters(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	rules, err := LoadRulesFromBytes([]byte(rulesYAML))
	require.NoError(t, err)
	res, err := env.engine.SyncRules(ctx, rules)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Created: 2}, res)

	first, err := env.store.Rules().GetByName(ctx, "high-error-rate")
	require.NoError(t, err)
	// Outside the Berlin quiet window.
	env.trigger(t, first.ID, "errors", "5.2%")

	reloaded, err := LoadRulesFromBytes([]byte(strings.Replace(rulesYAML, "Error rate above 5%", "Error rate above 6%", 1)))
	require.NoError(t, err)
	res, err = env.engine.SyncRules(ctx, reloaded)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Updated: 2}, res)

	after, err := env.engine.GetRule(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Error rate above 6%", after.Description)
	assert.Equal(t, int64(1), after.TriggerCount)
	assert.True(t, after.CreatedAt.Equal(first.CreatedAt))
}

func TestRuleWatcherReloads(t *testing.T) {
	env := newTestEnv(t, 10)
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: one\n    channels: [in_app]\n"), 0o644))

	w := NewRuleWatcher(env.engine, path, zerolog.Nop())
	w.debounce = 20 * time.Millisecond
	res, err := w.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	assert.Eventually(t, func() bool {
		// Rewrite until the watcher is registered and picks it up.
		_ = os.WriteFile(path, []byte("rules:\n  - name: one\n    channels: [in_app]\n  - name: two\n    channels: [in_app]\n"), 0o644)
		rule, err := env.store.Rules().GetByName(context.Background(), "two")
		return err == nil && rule != nil
	}, 5*time.Second, 100*time.Millisecond)
}

func TestRuleWatcherKeepsRulesOnBadFile(t *testing.T) {
	env := newTestEnv(t, 10)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: one\n    channels: [in_app]\n"), 0o644))

	w := NewRuleWatcher(env.engine, path, zerolog.Nop())
	_, err := w.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("rules: [\n"), 0o644))
	_, err = w.Load(context.Background())
	assert.Error(t, err)

	rules, err := env.engine.ListRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}
