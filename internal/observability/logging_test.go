package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/support-bridge/internal/config"
)

func TestNewZapConfig_StampsDeployment(t *testing.T) {
	cfg := newZapConfig(
		config.LoggerConfig{Level: "DEBUG"},
		config.AppConfig{Name: "support-bridge", Version: "1.4.0", Env: "production"},
	)

	assert.Equal(t, "json", cfg.Encoding)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level.Level())
	assert.True(t, cfg.Development)
	assert.Equal(t, "support-bridge", cfg.InitialFields["service"])
	assert.Equal(t, "1.4.0", cfg.InitialFields["version"])
	assert.Equal(t, "production", cfg.InitialFields["env"])
}

func TestNewZapConfig_ConsoleAndBadLevel(t *testing.T) {
	cfg := newZapConfig(config.LoggerConfig{Level: "loud", Format: "console"}, config.AppConfig{})

	assert.Equal(t, "console", cfg.Encoding)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level.Level())
	assert.False(t, cfg.Development)
}

func TestNewLogger_Builds(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "warn"}, config.AppConfig{Name: "support-bridge"})
	assert.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}
