package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

func TestFingerprintNormalizes(t *testing.T) {
	a := Fingerprint("Disk Full", "db-1  at 95%")
	assert.Equal(t, a, Fingerprint("  disk full", "DB-1 at 95%\n"))
	assert.NotEqual(t, a, Fingerprint("Disk Full", "db-2 at 95%"))
	// The separator keeps title and message apart.
	assert.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", "", "", ""))
	assert.Equal(t, 1.0, Similarity("CPU high", "web-1", "cpu HIGH", "web-1"))
	assert.Equal(t, 0.0, Similarity("cpu", "", "disk", ""))
	assert.InDelta(t, 4.0/6.0, Similarity("disk usage high", "host db1", "disk usage high", "host db2"), 1e-9)
}

func TestMergeable(t *testing.T) {
	candidate := &models.Alert{Title: "disk usage high", Message: "host db1", Fingerprint: Fingerprint("disk usage high", "host db1")}

	tests := []struct {
		method    models.AggregationMethod
		threshold float64
		title     string
		message   string
		want      bool
	}{
		{models.AggregationTimeWindow, 0, "anything", "else", true},
		{models.AggregationDuplicateContent, 0, "disk usage high", "host db1", true},
		{models.AggregationDuplicateContent, 0, "disk usage high", "host db2", false},
		{models.AggregationCount, 0, "Disk usage HIGH", "host db1", true},
		{models.AggregationSimilarEvents, 0, "disk usage high", "host db2", false},
		{models.AggregationSimilarEvents, 0.6, "disk usage high", "host db2", true},
		{models.AggregationNone, 0, "disk usage high", "host db1", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			rule := &models.AlertRule{Aggregation: tt.method, SimilarityThreshold: tt.threshold}
			got := mergeable(rule, candidate, tt.title, tt.message, Fingerprint(tt.title, tt.message))
			assert.Equal(t, tt.want, got)
		})
	}
}
