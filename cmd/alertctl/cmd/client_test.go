package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDoDecodesEnvelope(t *testing.T) {
	var gotAuth, gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/alerts/trigger", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"alert_id":"a-1","outcome":"created"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "tok", 5*time.Second)
	var res triggerResult
	err := client.Do(context.Background(), http.MethodPost, "/alerts/trigger",
		url.Values{"x": []string{"1"}}, map[string]string{"rule_id": "r-1"}, &res)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "x=1", gotQuery)
	assert.JSONEq(t, `{"rule_id":"r-1"}`, gotBody)
	assert.Equal(t, "a-1", res.AlertID)
	assert.Equal(t, "created", res.Outcome)
}

func TestClientDoErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"CONFLICT","message":"rule already exists"}}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", time.Second).Do(context.Background(), http.MethodPost, "/rules", nil, map[string]any{}, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "CONFLICT", apiErr.Code)
	assert.Contains(t, err.Error(), "rule already exists")
}

func TestClientDoNoContentAndBareStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	require.NoError(t, client.Do(context.Background(), http.MethodDelete, "/rules/r-1", nil, nil, nil))

	err := client.Do(context.Background(), http.MethodGet, "/rules", nil, nil, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestParseKeyValues(t *testing.T) {
	got, err := parseKeyValues([]string{"host=db-1", "team=sre", "expr=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"host": "db-1", "team": "sre", "expr": "a=b"}, got)

	_, err = parseKeyValues([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseKeyValues([]string{"=x"})
	assert.Error(t, err)
}

const rulesFile = `rules:
  - name: disk-full
    trigger:
      type: threshold
      data_source: node_exporter
      condition:
        gt: 90
    severity: high
    channels: [in_app, webhook]
    recipients:
      users: [alice]
    webhook_urls: ["https://hooks.example.com/ops"]
    aggregation:
      method: count
      window: 10m
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadRuleSpecs(t *testing.T) {
	specs, err := readRuleSpecs(writeRules(t, rulesFile))
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "disk-full", specs[0].Name)

	doc, err := json.Marshal(specs[0])
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"condition":{"gt":90}`)

	_, err = readRuleSpecs(writeRules(t, "rules: []\n"))
	assert.Error(t, err)
}

func TestRulesValidateCommand(t *testing.T) {
	require.NoError(t, rulesValidateCmd.RunE(rulesValidateCmd, []string{writeRules(t, rulesFile)}))

	bad := writeRules(t, `rules:
  - name: broken
    trigger: {type: threshold}
    channels: [carrier_pigeon]
`)
	err := rulesValidateCmd.RunE(rulesValidateCmd, []string{bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestRulesImportReplacesExisting(t *testing.T) {
	var posts, puts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/rules":
			posts++
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":"CONFLICT","message":"exists"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/rules":
			_, _ = w.Write([]byte(`{"data":[{"id":"r-9","name":"disk-full"}]}`))
		case r.Method == http.MethodPut && r.URL.Path == "/api/v1/rules/r-9":
			puts++
			_, _ = w.Write([]byte(`{"data":{"id":"r-9","name":"disk-full"}}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	prevServer, prevReplace := serverURL, importReplace
	serverURL, importReplace = srv.URL, true
	defer func() { serverURL, importReplace = prevServer, prevReplace }()

	require.NoError(t, rulesImportCmd.RunE(rulesImportCmd, []string{writeRules(t, rulesFile)}))
	assert.Equal(t, 1, posts)
	assert.Equal(t, 1, puts)

	importReplace = false
	err := rulesImportCmd.RunE(rulesImportCmd, []string{writeRules(t, rulesFile)})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Len(t, truncate("a much longer string than allowed", 10), 10)
}
