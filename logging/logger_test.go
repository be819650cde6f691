package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_Fields(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Debug("burst started", "items", 2)
	logger.Warn("item failed", "index", 1, "kind", "permit")

	entries := observed.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "burst started", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, int64(2), entries[0].ContextMap()["items"])
	assert.Equal(t, "permit", entries[1].ContextMap()["kind"])
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		development bool
		wantErr     bool
	}{
		{name: "info production", level: "info"},
		{name: "debug development", level: "debug", development: true},
		{name: "invalid level", level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.development)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		OrNop(nil).Error("ignored", "k", "v")
		NewZapLogger(nil).Info("ignored")
	})
}
