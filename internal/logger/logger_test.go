package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, o Options) *bytes.Buffer {
	t.Helper()
	prev := log
	t.Cleanup(func() { log = prev })

	var buf bytes.Buffer
	o.Output = &buf
	Setup(o)
	return &buf
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		emit    func()
		wantOut string
	}{
		{"Info at info", "info", func() { Info("settled", "payment_id", "pay_1") }, "pay_1"},
		{"Error at info", "", func() { Errorf("charge %s failed", "pay_2") }, "charge pay_2 failed"},
		{"Warn at warn", "warn", func() { Warn("reconcile lagging", "attempts", 3) }, "WARN"},
		{"Debug at debug", "debug", func() { Debug("poll tick") }, "poll tick"},
		{"Debug suppressed at info", "info", func() { Debug("poll tick") }, ""},
		{"Info suppressed at error", "error", func() { Infof("topped up %d", 5) }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t, Options{Level: tt.level})

			tt.emit()

			if tt.wantOut == "" {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), tt.wantOut)
		})
	}
}

func TestJSONRecordShape(t *testing.T) {
	buf := capture(t, Options{})

	WithError(assert.AnError).Info("refund failed", "payment_id", "pay_9")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "refund failed", rec["msg"])
	assert.Equal(t, "pay_9", rec["payment_id"])
	assert.Equal(t, assert.AnError.Error(), rec["error"])
}

func TestTextFormat(t *testing.T) {
	buf := capture(t, Options{Format: "TEXT"})

	Component("poller").Info("sweep done", "checked", 2)

	out := buf.String()
	assert.Contains(t, out, "component=poller")
	assert.Contains(t, out, "checked=2")
	assert.NotContains(t, out, "{")
}

func TestInitFromEnv(t *testing.T) {
	prev := log
	t.Cleanup(func() { log = prev })
	t.Setenv("LOG_LEVEL", "error")

	Init()

	assert.False(t, log.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, log.Enabled(context.Background(), slog.LevelError))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
