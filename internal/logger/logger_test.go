package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourney/backend/internal/config"
)

func TestNewLogger_WritesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "gateway.log")
	cfg := FromConfig(config.LogConfig{Level: "debug", File: file}, "gateway")

	log, err := NewLogger(cfg)
	require.NoError(t, err)
	log.Info("hello")
	_ = log.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"gateway"`)
	assert.Contains(t, string(data), `"message":"hello"`)
}

func TestNewLogger_InvalidLevelFallsBack(t *testing.T) {
	log, err := NewLogger(Config{Level: "loud"})
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.NotNil(t, NewDevelopmentLogger("cli"))
}
