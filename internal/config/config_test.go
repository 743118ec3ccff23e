package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-weconnect/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, v := range []string{"WECONNECT_TIMEOUT", "WECONNECT_RETRIES", "WECONNECT_INTERVAL", "WECONNECT_MAX_AGE", "WECONNECT_SERVICE", "WECONNECT_FORCE_RELOGIN_AFTER", "ENV"} {
		t.Setenv(v, "")
	}
	cfg := config.New()

	require.Equal(t, 180*time.Second, cfg.GetTimeout())
	require.Equal(t, 3, cfg.GetRetries())
	require.Equal(t, 300*time.Second, cfg.GetInterval())
	require.Equal(t, 299*time.Second, cfg.GetMaxAge())
	require.Equal(t, "WeConnect", cfg.GetService())
	require.Equal(t, "DEV", cfg.GetEnv())
	require.Zero(t, cfg.GetForceReloginAfter())
}

func TestOverrides(t *testing.T) {
	t.Setenv("WECONNECT_TIMEOUT", "30")
	t.Setenv("WECONNECT_RETRIES", "0")
	t.Setenv("WECONNECT_FORCE_RELOGIN_AFTER", "12h")
	t.Setenv("WECONNECT_ACCEPT_TERMS", "true")
	t.Setenv("WECONNECT_INTERVAL", "60")
	t.Setenv("WECONNECT_MAX_AGE", "")
	t.Setenv("WECONNECT_SERVICE", "MyVW")
	cfg := config.New()

	require.Equal(t, 30*time.Second, cfg.GetTimeout())
	require.Zero(t, cfg.GetRetries())
	require.Equal(t, 12*time.Hour, cfg.GetForceReloginAfter())
	require.True(t, cfg.GetAcceptTerms())
	require.Equal(t, 180*time.Second, cfg.GetInterval(), "interval is clamped")
	require.Equal(t, 179*time.Second, cfg.GetMaxAge())
	require.Equal(t, "MyVW", cfg.GetService())
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WECONNECT_TIMEOUT", "soon")
	t.Setenv("WECONNECT_RETRIES", "many")
	t.Setenv("WECONNECT_ACCEPT_TERMS", "maybe")
	cfg := config.New()

	require.Equal(t, 180*time.Second, cfg.GetTimeout())
	require.Equal(t, 3, cfg.GetRetries())
	require.False(t, cfg.GetAcceptTerms())
}
