package app

import (
	"context"
	goruntime "runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecode-sandbox/internal/config"
	"livecode-sandbox/internal/hooks"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	if goruntime.GOOS != "linux" {
		t.Skip("native backend requires linux")
	}
	cfg := config.DefaultConfig()
	cfg.Sandbox.Backend = "native"
	cfg.Sandbox.PrepareImages = false
	cfg.Assistant.APIKey = ""
	return cfg
}

func TestNew_WiresServices(t *testing.T) {
	cfg := testConfig(t)
	mr := miniredis.RunT(t)
	cfg.Redis.Enabled = true
	cfg.Redis.URL = "redis://" + mr.Addr() + "/0"
	cfg.Hooks.Enabled = map[string]bool{"on_save": false}

	ctx := context.Background()
	a, err := New(ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, "native", a.Orchestrator.BackendName())
	assert.NotNil(t, a.Bus)
	assert.True(t, a.Router.Stats().BusEnabled)
	assert.Nil(t, a.Assistant)
	assert.Nil(t, a.DB)
	assert.True(t, a.Hooks.IsEnabled(hooks.OnRun))
	assert.False(t, a.Hooks.IsEnabled(hooks.OnSave))

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	assert.NoError(t, a.Close(closeCtx))
}

func TestNew_RedisDownStaysLocal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.URL = "redis://127.0.0.1:1/0"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, a.Bus)
	assert.False(t, a.Router.Stats().BusEnabled)
	require.NoError(t, a.Close(context.Background()))
}

func TestNew_BadPruneSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hooks.PruneSchedule = "every now and then"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestEnabledHooks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Hooks.Enabled = map[string]bool{"on_error": false}

	got := enabledHooks(cfg)
	assert.Equal(t, map[hooks.EventType]bool{
		hooks.OnRun:   true,
		hooks.OnError: false,
		hooks.OnSave:  true,
	}, got)
}
