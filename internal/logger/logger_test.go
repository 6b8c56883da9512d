package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":        zap.InfoLevel,
		"debug":   zap.DebugLevel,
		"WARNING": zap.WarnLevel,
		" error ": zap.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := newWithSink(Config{JSON: true, Level: "info"}, &buf)
	require.NoError(t, err)
	log.Debug("hidden")
	log.Info("refresh complete", zap.Int("trees", 3))
	require.NoError(t, log.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "refresh complete", entry["msg"])
	assert.EqualValues(t, 3, entry["trees"])
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := newWithSink(Config{Level: "debug"}, &buf)
	require.NoError(t, err)
	log.Debug("watered", zap.Int64("tree", 7))
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "watered")

	_, err = New(Config{Level: "nope"})
	require.Error(t, err)
}
