package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServerStartStop(t *testing.T) {
	cfg := &Config{
		Host:           "127.0.0.1",
		Port:           0,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		IdleTimeout:    10 * time.Second,
		AllowedOrigins: []string{"*"},
		DatabasePath:   ":memory:",
		SweepInterval:  time.Hour,
		AuditDir:       t.TempDir(),
		AuditMaxSizeMB: 10,
		LogLevel:       "info",
	}

	srv, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	assert.True(t, srv.IsRunning())

	assert.Error(t, srv.Start(), "starting twice must fail")

	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
}

func TestNewServerRequiresConfig(t *testing.T) {
	_, err := NewServer(nil, zap.NewNop())
	assert.Error(t, err)
}
