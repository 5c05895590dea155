package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/api/auth"
	"github.com/good-yellow-bee/blazealert/internal/queue"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/internal/storage/storagetest"
)

const testSecret = "test-jwt-secret-32-bytes-long!!!"

// testServer creates a server over a throwaway SQLite store.
func testServer(t *testing.T, cfg *Config) (*Server, storage.Storage) {
	t.Helper()

	store := storagetest.New(t)
	engine := alerting.NewEngine(store, queue.New(16), alerting.EngineOptions{Logger: zerolog.Nop()})
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Address = ":0"

	srv, err := New(cfg, engine, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	return srv, store
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, env
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

const diskRule = `{
	"name": "disk-full",
	"description": "Disk usage above 90%",
	"trigger": {"type": "threshold", "data_source": "node_exporter", "condition": {"gt": 90}},
	"severity": "high",
	"channels": ["in_app", "webhook"],
	"recipients": {"users": ["alice"]},
	"webhook_urls": ["https://hooks.example.com/ops"],
	"aggregation": {"method": "count", "window": "10m"},
	"rate_limit": {"count": 20, "window": "1h"},
	"escalation": [{"after": "15m", "recipients": {"teams": ["sre"]}}]
}`

func createRule(t *testing.T, srv *Server, body, token string) string {
	t.Helper()
	rec, env := do(t, srv, http.MethodPost, "/api/v1/rules", body, token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var rule struct {
		ID string `json:"id"`
	}
	decodeData(t, env, &rule)
	if rule.ID == "" {
		t.Fatal("expected rule id")
	}
	return rule.ID
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := testServer(t, nil)

	for _, path := range []string{"/health", "/ready", "/api/v1/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestRuleLifecycle(t *testing.T) {
	srv, _ := testServer(t, nil)
	id := createRule(t, srv, diskRule, "")

	rec, env := do(t, srv, http.MethodGet, "/api/v1/rules", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []map[string]any
	decodeData(t, env, &list)
	if len(list) != 1 {
		t.Fatalf("rules = %d, want 1", len(list))
	}

	updated := strings.Replace(diskRule, `"severity": "high"`, `"severity": "critical"`, 1)
	rec, env = do(t, srv, http.MethodPut, "/api/v1/rules/"+id, updated, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var rule struct {
		ID       string `json:"id"`
		Severity string `json:"severity"`
	}
	decodeData(t, env, &rule)
	if rule.ID != id || rule.Severity != "critical" {
		t.Errorf("updated rule = %+v", rule)
	}

	rec, _ = do(t, srv, http.MethodPost, "/api/v1/rules", diskRule, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want %d", rec.Code, http.StatusConflict)
	}

	rec, _ = do(t, srv, http.MethodDelete, "/api/v1/rules/"+id, "", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	rec, env = do(t, srv, http.MethodGet, "/api/v1/rules/"+id, "", "")
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Errorf("get deleted rule status = %d, error = %+v", rec.Code, env.Error)
	}
}

func TestCreateRuleRejectsInvalidDocuments(t *testing.T) {
	srv, _ := testServer(t, nil)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing channels", `{"name": "x"}`, "VALIDATION_FAILED"},
		{"unknown channel", `{"name": "x", "channels": ["pager"]}`, "VALIDATION_FAILED"},
		{"bad duration", `{"name": "x", "channels": ["in_app"], "expire_after": "5 minutes"}`, "VALIDATION_FAILED"},
		{"unknown field", `{"name": "x", "channels": ["in_app"], "owner": "bob"}`, "VALIDATION_FAILED"},
		{"hour out of range", `{"name": "x", "channels": ["in_app"], "quiet_hours": {"daily": [{"start": 22, "end": 24}]}}`, "VALIDATION_FAILED"},
		{"webhook without urls", `{"name": "x", "channels": ["webhook"]}`, "VALIDATION_FAILED"},
		{"not json", `{"name": `, "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, srv, http.MethodPost, "/api/v1/rules", tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
			if env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", env.Error, tt.code)
			}
		})
	}
}

func TestTriggerAcknowledgeResolve(t *testing.T) {
	srv, _ := testServer(t, nil)
	ruleID := createRule(t, srv, diskRule, "")

	rec, env := do(t, srv, http.MethodPost, "/api/v1/alerts/trigger",
		`{"rule_id": "`+ruleID+`", "title": "Disk full on db-1", "message": "97% used", "payload": {"host": "db-1"}}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("trigger status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var result alerting.TriggerResult
	decodeData(t, env, &result)
	if result.Outcome != alerting.OutcomeCreated || result.AlertID == "" {
		t.Fatalf("trigger result = %+v", result)
	}

	// Same content within the window merges.
	rec, env = do(t, srv, http.MethodPost, "/api/v1/alerts/trigger",
		`{"rule_id": "`+ruleID+`", "title": "Disk full on db-1", "message": "97% used"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("second trigger status = %d", rec.Code)
	}
	var merged alerting.TriggerResult
	decodeData(t, env, &merged)
	if merged.Outcome != alerting.OutcomeMerged || merged.AlertID != result.AlertID {
		t.Errorf("second trigger = %+v, want merge into %s", merged, result.AlertID)
	}

	alertPath := "/api/v1/alerts/" + result.AlertID
	rec, env = do(t, srv, http.MethodPost, alertPath+"/acknowledge", `{"user": "alice", "notes": "looking"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var ack struct {
		Changed bool `json:"changed"`
		Alert   struct {
			Status         string `json:"status"`
			AcknowledgedBy string `json:"acknowledged_by"`
		} `json:"alert"`
	}
	decodeData(t, env, &ack)
	if !ack.Changed || ack.Alert.Status != "acknowledged" || ack.Alert.AcknowledgedBy != "alice" {
		t.Errorf("acknowledge = %+v", ack)
	}

	// A second acknowledgement is a no-op, not an error.
	rec, env = do(t, srv, http.MethodPost, alertPath+"/acknowledge", `{"user": "bob"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("re-acknowledge status = %d", rec.Code)
	}
	decodeData(t, env, &ack)
	if ack.Changed || ack.Alert.AcknowledgedBy != "alice" {
		t.Errorf("re-acknowledge = %+v", ack)
	}

	rec, env = do(t, srv, http.MethodPost, alertPath+"/resolve", `{"user": "alice", "false_positive": true}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", rec.Code)
	}
	var res struct {
		Changed bool `json:"changed"`
		Alert   struct {
			Status        string `json:"status"`
			FalsePositive bool   `json:"false_positive"`
		} `json:"alert"`
	}
	decodeData(t, env, &res)
	if !res.Changed || res.Alert.Status != "resolved" || !res.Alert.FalsePositive {
		t.Errorf("resolve = %+v", res)
	}

	rec, env = do(t, srv, http.MethodGet, "/api/v1/alerts?status=resolved&rule_id="+ruleID, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var page struct {
		Items []map[string]any `json:"items"`
		Total int64            `json:"total"`
	}
	decodeData(t, env, &page)
	if page.Total != 1 || len(page.Items) != 1 {
		t.Errorf("resolved alerts = %d (%d items), want 1", page.Total, len(page.Items))
	}

	rec, env = do(t, srv, http.MethodGet, alertPath+"/deliveries", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("deliveries status = %d", rec.Code)
	}
	var deliveries []map[string]any
	decodeData(t, env, &deliveries)
	if len(deliveries) != 0 {
		t.Errorf("deliveries = %d, want 0 without a dispatcher", len(deliveries))
	}
}

func TestTriggerErrors(t *testing.T) {
	srv, _ := testServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing rule", `{"title": "x"}`, http.StatusBadRequest},
		{"bad severity", `{"rule_id": "r1", "title": "x", "severity": "urgent"}`, http.StatusBadRequest},
		{"unknown rule", `{"rule_id": "does-not-exist", "title": "x"}`, http.StatusNotFound},
		{"unknown field", `{"rule_id": "r1", "title": "x", "priority": 1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, srv, http.MethodPost, "/api/v1/alerts/trigger", tt.body, "")
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d; body: %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestTriggerWithoutTitleUsesRuleName(t *testing.T) {
	srv, _ := testServer(t, nil)
	ruleID := createRule(t, srv, diskRule, "")

	rec, env := do(t, srv, http.MethodPost, "/api/v1/alerts/trigger", `{"rule_id": "`+ruleID+`", "title": "  "}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("trigger status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var result alerting.TriggerResult
	decodeData(t, env, &result)

	rec, env = do(t, srv, http.MethodGet, "/api/v1/alerts/"+result.AlertID, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var alert struct {
		Title string `json:"title"`
	}
	decodeData(t, env, &alert)
	if alert.Title != "disk-full" {
		t.Errorf("title = %q, want rule name", alert.Title)
	}
}

func TestAlertLifecycleErrors(t *testing.T) {
	srv, _ := testServer(t, nil)

	rec, _ := do(t, srv, http.MethodGet, "/api/v1/alerts/missing", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	rec, _ = do(t, srv, http.MethodPost, "/api/v1/alerts/missing/acknowledge", `{"user": "alice"}`, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("acknowledge status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	rec, env := do(t, srv, http.MethodPost, "/api/v1/alerts/missing/resolve", "", "")
	if rec.Code != http.StatusBadRequest || env.Error == nil || !strings.Contains(env.Error.Message, "user") {
		t.Errorf("anonymous resolve status = %d, error = %+v", rec.Code, env.Error)
	}
}

func TestAuthenticatedActor(t *testing.T) {
	srv, _ := testServer(t, &Config{JWTSecret: testSecret})
	token, err := auth.NewJWTService([]byte(testSecret), 0).GenerateToken("alice", "Alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	rec, _ := do(t, srv, http.MethodGet, "/api/v1/rules", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	rec, _ = do(t, srv, http.MethodGet, "/api/v1/rules", "", "not-a-token")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	rec, _ = do(t, srv, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", rec.Code, http.StatusOK)
	}

	ruleID := createRule(t, srv, diskRule, token)
	_, env := do(t, srv, http.MethodPost, "/api/v1/alerts/trigger", `{"rule_id": "`+ruleID+`", "title": "t"}`, token)
	var result alerting.TriggerResult
	decodeData(t, env, &result)

	// The token subject wins over the body.
	rec, env = do(t, srv, http.MethodPost, "/api/v1/alerts/"+result.AlertID+"/acknowledge", `{"user": "mallory"}`, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var ack struct {
		Alert struct {
			AcknowledgedBy string `json:"acknowledged_by"`
		} `json:"alert"`
	}
	decodeData(t, env, &ack)
	if ack.Alert.AcknowledgedBy != "alice" {
		t.Errorf("acknowledged_by = %q, want alice", ack.Alert.AcknowledgedBy)
	}
}

func TestTemplatesAndPreferences(t *testing.T) {
	srv, store := testServer(t, nil)

	tmpl := `{"name": "default-in_app", "channel": "in_app", "subject": "[{{.Alert.Severity}}] {{.Alert.Title}}", "body": "{{.Alert.Message}}"}`
	rec, _ := do(t, srv, http.MethodPost, "/api/v1/templates", tmpl, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create template status = %d, body: %s", rec.Code, rec.Body.String())
	}
	rec, _ = do(t, srv, http.MethodPost, "/api/v1/templates", tmpl, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate template status = %d, want %d", rec.Code, http.StatusConflict)
	}
	rec, env := do(t, srv, http.MethodPost, "/api/v1/templates", `{"name": "broken", "subject": "{{.Alert.Title", "body": "x"}`, "")
	if rec.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != "VALIDATION_FAILED" {
		t.Errorf("broken template status = %d, error = %+v", rec.Code, env.Error)
	}

	rec, env = do(t, srv, http.MethodGet, "/api/v1/templates", "", "")
	var templates []map[string]any
	decodeData(t, env, &templates)
	if rec.Code != http.StatusOK || len(templates) != 1 {
		t.Errorf("list templates status = %d, count = %d", rec.Code, len(templates))
	}

	pref := `{"channels": {"direct_message": {"enabled": true, "address": "bob@example.com", "min_severity": "high"}}, "categories": ["infra"], "max_per_hour": 5, "escalation_opt_in": true}`
	rec, _ = do(t, srv, http.MethodPut, "/api/v1/preferences/bob", pref, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("put preference status = %d, body: %s", rec.Code, rec.Body.String())
	}
	saved, err := store.Preferences().Get(context.Background(), "bob")
	if err != nil || saved == nil {
		t.Fatalf("stored preference = %v, err = %v", saved, err)
	}
	if saved.MaxPerHour != 5 || !saved.EscalationOptIn || saved.Channels["direct_message"].Address != "bob@example.com" {
		t.Errorf("stored preference = %+v", saved)
	}

	rec, _ = do(t, srv, http.MethodGet, "/api/v1/preferences/bob", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("get preference status = %d", rec.Code)
	}
	rec, _ = do(t, srv, http.MethodGet, "/api/v1/preferences/nobody", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing preference status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	rec, _ = do(t, srv, http.MethodPut, "/api/v1/preferences/bob", `{"channels": {"fax": {"enabled": true}}}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown channel status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestMetricsAndDeliveries(t *testing.T) {
	srv, _ := testServer(t, nil)

	rec, _ := do(t, srv, http.MethodGet, "/api/v1/metrics/alerts?window_hours=abc", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad window status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	rec, env := do(t, srv, http.MethodGet, "/api/v1/metrics/alerts?window_hours=6", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var m alerting.AlertMetrics
	decodeData(t, env, &m)
	if m.WindowHours != 6 || m.Total != 0 || m.DeliverySuccessRate != 0 {
		t.Errorf("metrics = %+v", m)
	}

	rec, env = do(t, srv, http.MethodGet, "/api/v1/deliveries?channel=in_app", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("deliveries status = %d", rec.Code)
	}
	var page struct {
		Items []map[string]any `json:"items"`
		Page  int              `json:"page"`
	}
	decodeData(t, env, &page)
	if page.Items == nil || len(page.Items) != 0 || page.Page != 1 {
		t.Errorf("deliveries page = %+v", page)
	}
	rec, _ = do(t, srv, http.MethodGet, "/api/v1/deliveries?status=lost", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"short secret", Config{JWTSecret: "short"}, true},
		{"tls without files", Config{TLSEnabled: true}, true},
		{"tls with files", Config{TLSEnabled: true, TLSCertFile: "c.pem", TLSKeyFile: "k.pem"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.SetDefaults()
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
