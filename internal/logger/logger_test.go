package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/masterdoc/internal/config"
)

func TestInitWritesStructuredLines(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "masterdoc.log")
	require.NoError(t, Init(Options{Level: "info", File: file, MaxSizeMB: 1, Console: &console}))
	t.Cleanup(Close)

	log.Debug().Msg("hidden")
	log.Info().Str("category", "news").Msg("rollover")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(console.Bytes()), &line))
	assert.Equal(t, "rollover", line["message"])
	assert.Equal(t, "news", line["category"])
	assert.Equal(t, "masterdoc", line["service"])

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"rollover"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestFromConfigDisablesAxiomWithoutKey(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	cfg := config.Default()
	cfg.Axiom.Send = true
	opts := FromConfig(cfg)
	assert.False(t, opts.SendToAxiom)

	require.NoError(t, Init(Options{Level: "bogus", Console: &bytes.Buffer{}}))
	assert.Equal(t, zerolog.InfoLevel, log.Logger.GetLevel())
}
