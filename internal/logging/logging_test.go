package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/stream-fusion/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, closeFn, err := New(config.LoggingConfig{Level: "warn"}, &buf)
	require.NoError(t, err)
	defer closeFn()

	log.Info().Msg("hidden")
	log.Warn().Str("id", "x").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"shown"`)
	assert.Contains(t, out, `"app":"stream-fusion"`)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sf.log")
	var buf bytes.Buffer
	log, closeFn, err := New(config.LoggingConfig{Level: "debug", File: path}, &buf)
	require.NoError(t, err)

	log.Debug().Msg("to both")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}
