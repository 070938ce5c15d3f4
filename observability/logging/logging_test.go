package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerRenamesStandardKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "validatorgate", "dev", slog.LevelInfo, false)
	logger.Info("routed command", slog.String("command", "verify"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "routed command", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "validatorgate", line["service"])
	require.Equal(t, "dev", line["env"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, "verify", line["command"])
}

func TestLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "validatorgate", "", slog.LevelWarn, false)
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestMaskFieldRedactsSensitiveKeys(t *testing.T) {
	attr := MaskField("Signature", "0xdeadbeef")
	require.Equal(t, "Signature", attr.Key)
	require.Equal(t, RedactedValue, attr.Value.String())

	attr = MaskField("wallet", "0xabc")
	require.Equal(t, "0xabc", attr.Value.String())

	attr = MaskField("token", "  ")
	require.Equal(t, "  ", attr.Value.String())
}

func TestSensitiveKeysSorted(t *testing.T) {
	keys := SensitiveKeys()
	require.IsIncreasing(t, keys)
	require.Contains(t, keys, "api_key")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}
