package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/safe-connect/backend/internal/config"
	"github.com/zhouzirui/safe-connect/backend/internal/service/relay"
)

func TestBuildChannelFallsBackOffline(t *testing.T) {
	ch := buildChannel(config.MatrixConfig{})
	_, ok := ch.(*relay.OfflineChannel)
	assert.True(t, ok)

	ch = buildChannel(config.MatrixConfig{
		Homeserver:  "https://matrix.example.org",
		AccessToken: "token",
		RoomID:      "!room:example.org",
		OperatorID:  "@helper:example.org",
	})
	_, ok = ch.(*relay.MatrixChannel)
	assert.True(t, ok)
}

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	configureLogging(config.LogConfig{Level: "DEBUG"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	configureLogging(config.LogConfig{Level: "loud"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestApplyFlagsOverridesConfig(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Addr: ":8080"}, Log: config.LogConfig{Level: "info"}}
	require.NoError(t, rootCmd.Flags().Set("port", "9090"))
	require.NoError(t, rootCmd.Flags().Set("log-level", "warn"))

	require.NoError(t, applyFlags(rootCmd, cfg))
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
}

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
