package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		enabled zapcore.Level
		skipped zapcore.Level
	}{
		{name: "development default", cfg: Config{Development: true}, enabled: zapcore.InfoLevel, skipped: zapcore.DebugLevel},
		{name: "development debug", cfg: Config{Development: true, Level: "debug"}, enabled: zapcore.DebugLevel, skipped: zapcore.DebugLevel - 1},
		{name: "production warn", cfg: Config{Level: "warn"}, enabled: zapcore.WarnLevel, skipped: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, err := New(tt.cfg)
			require.NoError(t, err)
			defer logger.Sync() //nolint:errcheck // best-effort flush
			require.True(t, logger.Core().Enabled(tt.enabled))
			require.False(t, logger.Core().Enabled(tt.skipped))
		})
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Level: "loud"})
	require.ErrorContains(t, err, "parse log level")
}
