package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: FormatJSON}, &buf)

	log.Info().Msg("dropped")
	log.Warn().Str("rule_id", "r1").Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "r1", entry["rule_id"])
	assert.Equal(t, "warn", entry["level"])
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "loud"}, &buf)
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestWriterForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "blazealert.log")
	w := writerFor(Config{FilePath: path, MaxSizeMB: 5})
	lj, ok := w.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, path, lj.Filename)
	assert.Equal(t, 5, lj.MaxSize)
	assert.DirExists(t, filepath.Dir(path))
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Logger = New(Config{}, &buf)
	l := WithComponent("dispatcher")
	l.Info().Msg("hi")
	assert.Contains(t, buf.String(), `"component":"dispatcher"`)
}
