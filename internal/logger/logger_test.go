package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"INFO", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{" ERROR ", LevelError},
		{"none", LevelNone},
		{"off", LevelNone},
		{"invalid", LevelInfo}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLookupLevelRejectsUnknown(t *testing.T) {
	_, err := LookupLevel("verbose")
	assert.Error(t, err)

	level, err := LookupLevel("Warn")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, level)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "NONE", LevelNone.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNewLoggerAppendsToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	l, err := New(LevelInfo, logPath, "test")
	require.NoError(t, err)
	l.Info("first message")
	l.Debug("should not appear")
	require.NoError(t, l.Close())

	l, err = New(LevelInfo, logPath, "test")
	require.NoError(t, err)
	l.Info("second message")
	require.NoError(t, l.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)

	assert.Contains(t, string(content), "first message")
	assert.Contains(t, string(content), "second message")
	assert.Contains(t, string(content), "[test]")
	assert.NotContains(t, string(content), "should not appear")
}

func TestWithPrefixSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriter(LevelInfo, &buf, "parent")
	child := parent.WithPrefix("child")

	child.Debug("hidden")
	parent.SetLevel(LevelDebug)
	child.Debug("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[parent:child] visible")
	assert.Equal(t, LevelDebug, child.GetLevel())
}

func TestLevelNoneDisablesOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelNone, &buf, "test")

	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")

	assert.Empty(t, buf.String())
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetGlobal(NewWriter(LevelWarn, &buf, ""))
	t.Cleanup(func() { SetGlobal(NewWriter(LevelNone, nil, "")) })

	Info("quiet")
	Warn("loud %d", 1)
	SetLevel(LevelInfo)
	Info("now heard")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "[WARN] loud 1")
	assert.Contains(t, out, "[INFO] now heard")
}

func TestStdLoggerForwardsToLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelInfo, &buf, "admin")

	std := StdLogger(l, slog.LevelError)
	std.Printf("http: TLS handshake error")

	assert.Contains(t, buf.String(), "[ERROR] [admin] http: TLS handshake error")
}

func TestSlogHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelDebug, &buf, "")

	sl := slog.New(NewSlogHandler(l)).With("conn", "c1").WithGroup("req")
	sl.Info("served", "bytes", 12)

	assert.Contains(t, buf.String(), "served conn=c1 req.bytes=12")
}
