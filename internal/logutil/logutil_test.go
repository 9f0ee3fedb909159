package logutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", zap.Uint64("region_id", 7))
	require.NoError(t, logger.Sync())

	out := buf.String()
	require.NotContains(t, out, "dropped")
	require.Contains(t, out, `"msg":"kept"`)
	require.Contains(t, out, `"region_id":7`)
}

func TestNewWithWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "debug", Format: "console"}, &buf)
	require.NoError(t, err)
	logger.Debug("hello")
	require.Contains(t, buf.String(), "DEBUG")
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
	_, err = New(Config{Format: "xml"})
	require.Error(t, err)
}
