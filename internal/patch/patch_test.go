package patch

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/proposal"
)

var eaSource = strings.Join([]string{
	"#property strict",
	"// EA_STRESS_ONTESTER_INJECTED",
	"double OnTester() { return 0; }",
	"input int Period = 14;",
	"void OnTick() {",
	"  Trade();",
	"}",
	"",
}, "\n")

var sessionDiff = strings.Join([]string{
	"diff --git a/TrendEA.mq5 b/TrendEA.mq5",
	"--- a/TrendEA.mq5",
	"+++ b/TrendEA.mq5",
	"@@ -5,3 +5,3 @@",
	" void OnTick() {",
	"-  Trade();",
	"+  if (Hour() >= 7) Trade();",
	" }",
	"",
}, "\n")

// TestApplyDiff tests a clean single-hunk patch
func TestApplyDiff(t *testing.T) {
	out, err := ApplyDiff([]byte(eaSource), sessionDiff)
	require.NoError(t, err)

	assert.Contains(t, string(out), "  if (Hour() >= 7) Trade();\n")
	assert.NotContains(t, string(out), "\n  Trade();\n")
	assert.Contains(t, string(out), "EA_STRESS_ONTESTER_INJECTED")
}

// TestApplyDiff_Conflict tests that stale context is a schema error
func TestApplyDiff_Conflict(t *testing.T) {
	stale := strings.Replace(eaSource, "  Trade();", "  TradeV2();", 1)

	_, err := ApplyDiff([]byte(stale), sessionDiff)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, wferrors.ErrSchema))

	var se *wferrors.SchemaError
	require.True(t, stderrors.As(err, &se))
	assert.Equal(t, "ea_patch.diff", se.Fields[0].Path)
}

// TestApplyDiff_ProtectedMarker tests that dropping injected code is refused
func TestApplyDiff_ProtectedMarker(t *testing.T) {
	diff := strings.Join([]string{
		"diff --git a/TrendEA.mq5 b/TrendEA.mq5",
		"--- a/TrendEA.mq5",
		"+++ b/TrendEA.mq5",
		"@@ -1,3 +1,2 @@",
		" #property strict",
		"-// EA_STRESS_ONTESTER_INJECTED",
		" double OnTester() { return 0; }",
		"",
	}, "\n")

	_, err := ApplyDiff([]byte(eaSource), diff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EA_STRESS_ONTESTER_INJECTED")
}

// TestApplyDiff_Garbage tests input with no file changes
func TestApplyDiff_Garbage(t *testing.T) {
	_, err := ApplyDiff([]byte(eaSource), "please add a session filter")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, wferrors.ErrSchema))
}

// TestFileApplier_Apply tests writing the patched version and its record
func TestFileApplier_Apply(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "TrendEA.mq5")
	require.NoError(t, os.WriteFile(src, []byte(eaSource), 0644))

	a := NewFileApplier(filepath.Join(dir, "patches"), zerolog.Nop())
	out, err := a.Apply(context.Background(), src, proposal.EAPatch{Description: "asia filter", Diff: sessionDiff}, "v2")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "patches", "TrendEA_v2.mq5"), out)
	patched, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(patched), "Hour() >= 7")

	record, err := os.ReadFile(filepath.Join(dir, "patches", "TrendEA_v2.patch"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(record), "Description: asia filter"))

	// baseline untouched
	base, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, eaSource, string(base))
}

// TestFileApplier_MissingSource tests a missing source file
func TestFileApplier_MissingSource(t *testing.T) {
	a := NewFileApplier(t.TempDir(), zerolog.Nop())
	_, err := a.Apply(context.Background(), "/nonexistent/EA.mq5", proposal.EAPatch{Diff: sessionDiff}, "v2")
	assert.Error(t, err)
}
