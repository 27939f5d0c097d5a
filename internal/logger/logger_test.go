package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseLevel tests level name mapping
func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

// TestNew_FiltersBelowLevel tests that the configured level is applied
func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Out: &buf})

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

// TestNewWorkflowLog_WritesFile tests the per-workflow file sink
func TestNewWorkflowLog_WritesFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	wl, err := NewWorkflowLog(Config{Level: "info", Out: &console}, dir, "wf-123")
	require.NoError(t, err)

	wl.Info().Str("step", "02_compile").Msg("step passed")
	require.NoError(t, wl.Close())

	data, err := os.ReadFile(wl.Path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"workflow_id":"wf-123"`))
	assert.Contains(t, string(data), "02_compile")
	assert.Contains(t, console.String(), "step passed")
}
