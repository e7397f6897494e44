package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"info", zapcore.InfoLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"warning", zapcore.WarnLevel},
		{" error ", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(&buf, Options{Level: "info"})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("translated", zap.String("target", "influxql"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"translated"`)
	assert.Contains(t, out, `"target":"influxql"`)
	assert.Contains(t, out, `"level":"info"`)
}

func TestNew_LevelCanChange(t *testing.T) {
	var buf bytes.Buffer
	logger, level, err := New(&buf, Options{Level: "warn", Format: FormatConsole})
	require.NoError(t, err)

	logger.Info("first")
	level.SetLevel(zapcore.DebugLevel)
	logger.Debug("second")

	assert.NotContains(t, buf.String(), "first")
	assert.Contains(t, buf.String(), "second")
	assert.Contains(t, buf.String(), "DEBUG")
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, _, err := New(&bytes.Buffer{}, Options{Format: "xml"})
	assert.Error(t, err)
}
