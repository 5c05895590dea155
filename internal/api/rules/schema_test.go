package rules

import (
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCompiles(t *testing.T) {
	schema, err := Schema()
	require.NoError(t, err)
	require.NotNil(t, schema)
}

func TestValidateDocument(t *testing.T) {
	valid := `{
		"name": "api-latency",
		"severity": "critical",
		"channels": ["direct_message", "mobile_push"],
		"recipients": {"roles": ["oncall"]},
		"aggregation": {"method": "similar_events", "window": "30m", "similarity_threshold": 0.7},
		"quiet_hours": {"timezone": "Europe/Berlin", "days": {"saturday": [{"start": 0, "end": 0}]}},
		"expire_after": "24h",
		"enabled": false
	}`
	assert.NoError(t, ValidateDocument(strings.NewReader(valid)))

	err := ValidateDocument(strings.NewReader(`{"name": "x", "channels": [], "severity": "loud"}`))
	require.Error(t, err)
	var verr *jsonschema.ValidationError
	require.ErrorAs(t, err, &verr)

	msg := schemaMessage(verr)
	assert.True(t, strings.HasPrefix(msg, "rule does not match schema; "))
	assert.Contains(t, msg, "/channels")
	assert.Contains(t, msg, "/severity")
}

func TestValidateDocumentRejectsMalformedJSON(t *testing.T) {
	err := ValidateDocument(strings.NewReader(`{"name":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}
