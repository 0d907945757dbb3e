package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/safe-connect/backend/internal/config"
	"github.com/zhouzirui/safe-connect/backend/internal/handler"
	"github.com/zhouzirui/safe-connect/backend/internal/metrics"
	"github.com/zhouzirui/safe-connect/backend/internal/model/exit"
	"github.com/zhouzirui/safe-connect/backend/internal/service/bridge"
	"github.com/zhouzirui/safe-connect/backend/internal/service/erasure"
	"github.com/zhouzirui/safe-connect/backend/internal/service/relay"
	"github.com/zhouzirui/safe-connect/backend/internal/service/session"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Anonymous support chat relayed into a Matrix room",
	RunE:  runRelay,
}

var (
	flagEnvFile  string
	flagPort     string
	flagLogLevel string
	flagPretty   bool
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagEnvFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	flags.StringVar(&flagPort, "port", "", "listen port or address (overrides PORT)")
	flags.StringVar(&flagLogLevel, "log-level", "", "zerolog level (overrides LOG_LEVEL)")
	flags.BoolVar(&flagPretty, "pretty", false, "human-readable console logs (overrides LOG_PRETTY)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute relay command")
	}
}

func runRelay(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(flagEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load env file, continuing with system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}
	configureLogging(cfg.Log)

	m := metrics.New()
	destinations := exit.NewMemoryStore(exit.Seed(cfg.Exit.URLA, cfg.Exit.URLB))
	channel := buildChannel(cfg.Matrix)
	registry := session.NewRegistry(cfg.Matrix.RoomID)

	b := bridge.New(bridge.Config{
		RoomID: cfg.Matrix.RoomID,
		Erasure: erasure.Config{
			InactivityTimeout: cfg.Session.InactivityTimeout,
			CancelPresses:     cfg.Session.CancelPresses,
			CancelWindow:      cfg.Session.CancelWindow,
		},
		LeaveWhenEmpty: cfg.Matrix.LeaveWhenEmpty,
	}, channel, registry, bridge.WithMetrics(m))

	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		b.Run(bridgeCtx)
	}()

	connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
	if err := b.ConnectRelay(connectCtx); err != nil {
		log.Warn().Msg("[relay] starting without relay connection, will retry on next session")
	}
	cancelConnect()

	router := handler.NewRouter(b, destinations, m, cfg.Server.AllowedOrigins)
	err = startServer(ctx, cfg.Server, router)

	// Sessions are wiped only after the listener stopped accepting.
	stopBridge()
	<-bridgeDone
	return err
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("port") {
		addr, err := config.ParseAddr(flagPort)
		if err != nil {
			return err
		}
		cfg.Server.Addr = addr
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = flagPretty
	}
	return nil
}

func configureLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func buildChannel(cfg config.MatrixConfig) relay.Channel {
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Msg("[relay] matrix disabled, sessions run in local-echo mode")
		return relay.NewOfflineChannel(err)
	}
	return relay.NewMatrixChannel(relay.MatrixOptions{
		Homeserver:  cfg.Homeserver,
		UserID:      cfg.UserID,
		AccessToken: cfg.AccessToken,
		Password:    cfg.Password,
		DeviceName:  cfg.DeviceName,
		RoomID:      cfg.RoomID,
		OperatorID:  cfg.OperatorID,
	})
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", serverCfg.Addr).Msg("[relay] listening")
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
