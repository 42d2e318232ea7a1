package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		lvl, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.want, lvl, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestNewWritesJSONToDir(t *testing.T) {
	dir := t.TempDir()
	l := New("debug", dir)
	assert.Equal(t, filepath.Join(dir, FileName), l.LogFile)

	l.Debug("tick complete", "mutations", 3)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.LogFile)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "tick complete", rec["msg"])
	assert.Equal(t, "DEBUG", rec["level"])
	assert.EqualValues(t, 3, rec["mutations"])
}

func TestNewStderrHasNothingToClose(t *testing.T) {
	l := New("info", "")
	assert.Empty(t, l.LogFile)
	assert.NoError(t, l.Close())

	var nilLogger *Logger
	assert.NoError(t, nilLogger.Close())
}

func TestNewWriterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter("warn", &buf)

	l.Info("hidden")
	l.Warn("using simulated flights", "airport", "ATL")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "using simulated flights")
	assert.Contains(t, out, "airport=ATL")
}
