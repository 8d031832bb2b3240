package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "warn"}, &buf)

	log.Info().Msg("hidden")
	log.Warn().Str("symbol", "AAPL").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "AAPL", entry["symbol"])
	assert.Equal(t, "shown", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewWithWriter_LevelFallback(t *testing.T) {
	for _, level := range []string{"", "loud", "INFO"} {
		var buf bytes.Buffer
		log := NewWithWriter(Config{Level: level}, &buf)
		log.Debug().Msg("debug")
		log.Info().Msg("info")
		assert.NotContains(t, buf.String(), `"debug"`, level)
		assert.Contains(t, buf.String(), `"info"`, level)
	}
}

func TestNewWithWriter_Pretty(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "debug", Pretty: true}, &buf)
	log.Debug().Msg("console")

	assert.Contains(t, buf.String(), "console")
	assert.False(t, json.Valid(buf.Bytes()))
}
