package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"HelpdeskPulse/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewZapLogger_NilConfig(t *testing.T) {
	logger, err := NewZapLogger(nil)
	assert.Nil(t, logger)
	assert.EqualError(t, err, "log config is nil")
}

func TestNewZapLogger_InvalidLevel(t *testing.T) {
	_, err := NewZapLogger(&conf.Log{Level: "loud", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid log level "loud"`)
}

func TestNewZapLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", "CONSOLE"} {
		t.Run(format, func(t *testing.T) {
			logger, err := NewZapLogger(&conf.Log{Level: "info", Format: format, Env: "production"})
			require.NoError(t, err)
			require.NotNil(t, logger)
			assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		})
	}
}

func TestNewZapLogger_LevelFiltering(t *testing.T) {
	logger, err := NewZapLogger(&conf.Log{Level: "warn", Format: "json", Env: "production"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}

func TestNewZapLogger_OutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.log")

	logger, err := NewZapLogger(&conf.Log{Level: "debug", Format: "json", Env: "production", OutputFile: path})
	require.NoError(t, err)

	logger.Info("circuit closed")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `"msg":"circuit closed"`)
	assert.Contains(t, content, `"service":"HelpdeskPulse"`)
	assert.Contains(t, content, `"env":"production"`)
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("HELPDESKPULSE_ENV", "")
	assert.Equal(t, "production", resolveEnv(&conf.Log{}))

	t.Setenv("HELPDESKPULSE_ENV", "development")
	assert.Equal(t, "development", resolveEnv(&conf.Log{}))
	assert.Equal(t, "staging", resolveEnv(&conf.Log{Env: "staging"}))
}

func TestNewZapLogger_DevelopmentUsesConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.log")
	t.Setenv("HELPDESKPULSE_ENV", "development")

	logger, err := NewZapLogger(&conf.Log{Level: "info", Format: "json", OutputFile: path})
	require.NoError(t, err)

	logger.Info("started")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(strings.TrimSpace(string(data)), "{"))
	assert.Contains(t, string(data), "started")
}
