package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	store := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func newRule(name string) *models.AlertRule {
	rule := models.NewAlertRule(name, models.SeverityHigh, models.ChannelDirectMessage, models.ChannelWebhook)
	rule.ID = uuid.New().String()
	rule.WebhookURLs = []string{"https://hooks.example.com/a"}
	rule.Recipients = models.RecipientSpec{Users: []string{"alice"}, Teams: []string{"ops"}}
	rule.Aggregation = models.AggregationTimeWindow
	rule.AggregationWindow = 5 * time.Minute
	rule.QuietHours = &models.QuietHours{Timezone: "UTC", Daily: []models.HourRange{{Start: 22, End: 7}}}
	rule.Escalation = []models.EscalationStep{{Delay: 15 * time.Minute, Recipients: models.RecipientSpec{Users: []string{"bob"}}}}
	rule.Trigger.Condition = json.RawMessage(`{"metric":"errors","gt":10}`)
	return rule
}

func newAlert(ruleID string, at time.Time) *models.Alert {
	return &models.Alert{
		ID:              uuid.New().String(),
		RuleID:          ruleID,
		Title:           "Disk full",
		Message:         "/var is at 99%",
		Severity:        models.SeverityCritical,
		Status:          models.AlertStatusPending,
		Payload:         json.RawMessage(`{"usage":99}`),
		Context:         map[string]any{"host": "db-1"},
		Fingerprint:     "abc",
		AggregatedCount: 1,
		TriggeredAt:     at,
	}
}

func TestSQLiteStorage_Migrate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tables := []string{"alert_rules", "alerts", "notification_deliveries", "notification_templates", "notification_preferences", "schema_migrations"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		assert.NoError(t, err, "table %s should exist", table)
	}

	// Running again is a no-op.
	require.NoError(t, store.Migrate())
	var version int
	require.NoError(t, store.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestRuleRepository_CRUD(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	rule := newRule("high error rate")
	require.NoError(t, store.Rules().Create(ctx, rule))

	got, err := store.Rules().GetByID(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rule.Name, got.Name)
	assert.Equal(t, rule.Channels, got.Channels)
	assert.Equal(t, rule.Recipients, got.Recipients)
	assert.Equal(t, rule.AggregationWindow, got.AggregationWindow)
	assert.Equal(t, rule.Escalation, got.Escalation)
	assert.JSONEq(t, string(rule.Trigger.Condition), string(got.Trigger.Condition))
	require.NotNil(t, got.QuietHours)
	assert.Equal(t, rule.QuietHours.Daily, got.QuietHours.Daily)
	assert.True(t, got.Active)

	byName, err := store.Rules().GetByName(ctx, "high error rate")
	require.NoError(t, err)
	assert.Equal(t, rule.ID, byName.ID)

	got.Active = false
	got.RateLimitCount = 7
	got.UpdatedAt = time.Now()
	require.NoError(t, store.Rules().Update(ctx, got))

	active, err := store.Rules().ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	n, err := store.Rules().CountActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.Rules().Delete(ctx, rule.ID))
	missing, err := store.Rules().GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Error(t, store.Rules().Delete(ctx, rule.ID))
}

func TestRuleRepository_UpdateCounters(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	rule := newRule("counters")
	require.NoError(t, store.Rules().Create(ctx, rule))

	now := time.Now().UTC().Truncate(time.Millisecond)
	rule.TriggerCount = 4
	rule.LastTriggeredAt = &now
	rule.AvgResponseSeconds = 12.5
	rule.FalsePositiveRate = 0.25
	require.NoError(t, store.Rules().UpdateCounters(ctx, rule))

	got, err := store.Rules().GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.TriggerCount)
	require.NotNil(t, got.LastTriggeredAt)
	assert.True(t, now.Equal(*got.LastTriggeredAt))
	assert.Equal(t, 12.5, got.AvgResponseSeconds)
	assert.Equal(t, 0.25, got.FalsePositiveRate)
}

func TestAlertRepository_CreateGetList(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a1 := newAlert("r1", now.Add(-2*time.Hour))
	a2 := newAlert("r1", now.Add(-time.Minute))
	a2.Severity = models.SeverityLow
	a3 := newAlert("r2", now)
	for _, a := range []*models.Alert{a1, a2, a3} {
		require.NoError(t, store.Alerts().Create(ctx, a))
	}

	got, err := store.Alerts().GetByID(ctx, a1.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "db-1", got.Context["host"])
	assert.JSONEq(t, `{"usage":99}`, string(got.Payload))
	assert.Equal(t, 1, got.AggregatedCount)

	list, total, err := store.Alerts().List(ctx, AlertFilter{RuleID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 2)
	assert.Equal(t, a2.ID, list[0].ID, "newest first")

	list, total, err = store.Alerts().List(ctx, AlertFilter{Severity: models.SeverityCritical, Since: now.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, a3.ID, list[0].ID)

	list, total, err = store.Alerts().List(ctx, AlertFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, list, 1)

	n, err := store.Alerts().CountByRuleSince(ctx, "r1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	missing, err := store.Alerts().GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAlertRepository_FindOpenByRule(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	open := newAlert("r1", now.Add(-time.Minute))
	resolved := newAlert("r1", now)
	resolved.Status = models.AlertStatusResolved
	old := newAlert("r1", now.Add(-time.Hour))
	for _, a := range []*models.Alert{open, resolved, old} {
		require.NoError(t, store.Alerts().Create(ctx, a))
	}

	found, err := store.Alerts().FindOpenByRule(ctx, "r1", now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, open.ID, found[0].ID)

	merged := []models.TriggerSnapshot{{At: now, Title: "again"}}
	require.NoError(t, store.Alerts().UpdateAggregation(ctx, open.ID, 2, merged))
	got, err := store.Alerts().GetByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AggregatedCount)
	require.Len(t, got.MergedTriggers, 1)
	assert.Equal(t, "again", got.MergedTriggers[0].Title)
}

func TestAlertRepository_Transitions(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newAlert("r1", now.Add(-10*time.Minute))
	require.NoError(t, store.Alerts().Create(ctx, a))

	require.NoError(t, store.Alerts().RecordDispatch(ctx, a.ID, DispatchUpdate{
		AttemptsDelta: 2, SuccessRecipients: []string{"alice"}, Status: models.AlertStatusSent,
	}))

	ok, err := store.Alerts().Acknowledge(ctx, a.ID, Acknowledgement{At: now, By: "alice", Notes: "on it", TimeToAcknowledge: 600})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Alerts().Acknowledge(ctx, a.ID, Acknowledgement{At: now.Add(time.Minute), By: "bob"})
	require.NoError(t, err)
	assert.False(t, ok, "second acknowledge is a no-op")

	// A late dispatch pass must not overwrite the acknowledged status.
	require.NoError(t, store.Alerts().RecordDispatch(ctx, a.ID, DispatchUpdate{AttemptsDelta: 1, Status: models.AlertStatusSent}))

	ok, err = store.Alerts().Resolve(ctx, a.ID, Resolution{
		At: now.Add(5 * time.Minute), By: "alice", Notes: "fixed", TimeToResolve: 900,
		Ack: &Acknowledgement{At: now.Add(5 * time.Minute), By: "alice", TimeToAcknowledge: 900},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Alerts().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, got.Status)
	assert.Equal(t, 3, got.DeliveryAttempts)
	assert.Equal(t, []string{"alice"}, got.SuccessRecipients)
	assert.Equal(t, "alice", got.AcknowledgedBy)
	assert.Equal(t, "on it", got.AcknowledgementNotes)
	assert.Equal(t, "fixed", got.ResolutionNotes)
	require.NotNil(t, got.TimeToAcknowledge)
	assert.Equal(t, 600.0, *got.TimeToAcknowledge, "existing acknowledgement is kept")
	require.NotNil(t, got.TimeToResolve)
	assert.Equal(t, 900.0, *got.TimeToResolve)

	ok, err = store.Alerts().Resolve(ctx, a.ID, Resolution{At: now, By: "bob"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAlertRepository_ResolveImplicitAck(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newAlert("r1", now.Add(-time.Minute))
	require.NoError(t, store.Alerts().Create(ctx, a))

	ok, err := store.Alerts().Resolve(ctx, a.ID, Resolution{
		At: now, By: "carol", TimeToResolve: 60,
		Ack: &Acknowledgement{At: now, By: "carol", TimeToAcknowledge: 60},
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.Alerts().GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AcknowledgedAt)
	assert.Equal(t, "carol", got.AcknowledgedBy)
	assert.Equal(t, 60.0, *got.TimeToAcknowledge)
}

func TestAlertRepository_MarkFailedAndSweeps(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newAlert("r1", now.Add(-time.Hour))
	past := now.Add(-time.Minute)
	a.ExpiresAt = &past
	b := newAlert("r1", now)
	require.NoError(t, store.Alerts().Create(ctx, a))
	require.NoError(t, store.Alerts().Create(ctx, b))

	expired, err := store.Alerts().ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, a.ID, expired[0].ID)

	unacked, err := store.Alerts().ListUnacknowledged(ctx)
	require.NoError(t, err)
	assert.Len(t, unacked, 2)

	ok, err := store.Alerts().MarkFailed(ctx, b.ID, "dispatch queue full")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Alerts().MarkFailed(ctx, b.ID, "again")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Alerts().SetEscalationLevel(ctx, a.ID, 1))
	got, err := store.Alerts().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EscalationLevel)
}

func TestDeliveryRepository(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newAlert("r1", now)
	require.NoError(t, store.Alerts().Create(ctx, a))

	due := now.Add(-time.Second)
	later := now.Add(time.Hour)
	deliveries := []*models.NotificationDelivery{
		{ID: "d1", AlertID: a.ID, Channel: models.ChannelDirectMessage, Recipient: "alice", Status: models.DeliveryDelivered, MaxRetries: 3, DeliveredAt: &now, CreatedAt: now},
		{ID: "d2", AlertID: a.ID, Channel: models.ChannelTextMessage, Recipient: "alice", Status: models.DeliveryFailed, RetryCount: 1, MaxRetries: 3, NextRetryAt: &due, CreatedAt: now},
		{ID: "d3", AlertID: a.ID, Channel: models.ChannelTextMessage, Recipient: "bob", Status: models.DeliveryFailed, RetryCount: 1, MaxRetries: 3, NextRetryAt: &later, CreatedAt: now},
		{ID: "d4", AlertID: a.ID, Channel: models.ChannelMobilePush, Recipient: "bob", Status: models.DeliveryFailed, RetryCount: 3, MaxRetries: 3, CreatedAt: now},
	}
	for _, d := range deliveries {
		require.NoError(t, store.Deliveries().Create(ctx, d))
	}

	retries, err := store.Deliveries().ListDueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, retries, 1)
	assert.Equal(t, "d2", retries[0].ID)

	list, total, err := store.Deliveries().List(ctx, DeliveryFilter{Channel: models.ChannelTextMessage, Recipient: "bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "d3", list[0].ID)

	stats, err := store.Deliveries().StatsSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(1), stats.Delivered)
	assert.Equal(t, int64(3), stats.Failed)
	assert.Equal(t, int64(1), stats.Exhausted)

	n, err := store.Deliveries().CountDeliveredTo(ctx, "alice", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d2 := retries[0]
	d2.Status = models.DeliveryDelivered
	d2.NextRetryAt = nil
	d2.ProviderResponse = json.RawMessage(`{"sid":"SM1"}`)
	require.NoError(t, store.Deliveries().Update(ctx, d2))
	got, err := store.Deliveries().GetByID(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, got.Status)
	assert.Nil(t, got.NextRetryAt)
	assert.JSONEq(t, `{"sid":"SM1"}`, string(got.ProviderResponse))

	// Deliveries are owned by their alert.
	require.NoError(t, store.Alerts().Delete(ctx, a.ID))
	byAlert, err := store.Deliveries().ListByAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, byAlert)
}

func TestTemplateRepository(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tmpl := &models.NotificationTemplate{
		ID: "t1", Name: "default-email", Channel: models.ChannelDirectMessage,
		Subject: "[{{.Alert.Severity}}] {{.Alert.Title}}", Body: "{{.Alert.Message}}",
		Variables: []string{"alert.title"}, Defaults: map[string]string{"team": "ops"},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Templates().Create(ctx, tmpl))

	got, err := store.Templates().GetByName(ctx, "default-email")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tmpl.Defaults, got.Defaults)
	assert.Equal(t, tmpl.Variables, got.Variables)

	require.NoError(t, store.Templates().RecordUsage(ctx, "t1", now))
	got, err = store.Templates().GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.NotNil(t, got.LastUsedAt)

	list, err := store.Templates().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPreferenceRepository(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	pref := &models.NotificationPreference{
		RecipientID: "alice",
		Channels: map[models.Channel]models.ChannelPreference{
			models.ChannelTextMessage: {Enabled: true, Address: "+15550001", MinSeverity: models.SeverityHigh},
		},
		QuietHours:      &models.QuietHours{Daily: []models.HourRange{{Start: 23, End: 6}}},
		MaxPerHour:      5,
		EscalationOptIn: true,
		UpdatedAt:       time.Now(),
	}
	require.NoError(t, store.Preferences().Upsert(ctx, pref))

	pref.MaxPerHour = 10
	require.NoError(t, store.Preferences().Upsert(ctx, pref))

	got, err := store.Preferences().Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 10, got.MaxPerHour)
	assert.Equal(t, "+15550001", got.Channels[models.ChannelTextMessage].Address)
	require.NotNil(t, got.QuietHours)

	missing, err := store.Preferences().Get(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Preferences().Delete(ctx, "alice"))
	list, err := store.Preferences().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
