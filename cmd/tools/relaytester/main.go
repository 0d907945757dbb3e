package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/safe-connect/backend/internal/config"
	"github.com/zhouzirui/safe-connect/backend/internal/model/chat"
	"github.com/zhouzirui/safe-connect/backend/internal/service/relay"
)

var rootCmd = &cobra.Command{
	Use:   "relaytester",
	Short: "Manual checks for the relay: a terminal visitor and a Matrix login probe",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Connect to /ws as a visitor; stdin lines are sent as messages",
	RunE:  runChat,
}

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Log in with the MATRIX_* environment, join the room and leave again",
	RunE:  runMatrix,
}

var (
	flagURL     string
	flagTimeout time.Duration
)

func init() {
	chatCmd.Flags().StringVar(&flagURL, "url", "ws://127.0.0.1:8080/ws", "relay websocket URL")
	matrixCmd.Flags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "login and join timeout")
	rootCmd.AddCommand(chatCmd, matrixCmd)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("relaytester")
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	conn, _, err := websocket.DefaultDialer.Dial(flagURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", flagURL, err)
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var env chat.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("read failed")
				}
				return
			}
			fmt.Fprintln(out, describe(env))
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-closed:
			return nil
		case line, ok := <-lines:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				<-closed
				return nil
			}
			env, ok := parseLine(line)
			if !ok {
				continue
			}
			if err := conn.WriteJSON(env); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

func runMatrix(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env, using system environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Matrix.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, flagTimeout)
	defer cancel()

	ch := relay.NewMatrixChannel(relay.MatrixOptions{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		Password:    cfg.Matrix.Password,
		DeviceName:  cfg.Matrix.DeviceName,
		RoomID:      cfg.Matrix.RoomID,
		OperatorID:  cfg.Matrix.OperatorID,
	})
	handle, err := ch.Connect(ctx)
	if err != nil {
		return err
	}
	defer ch.Disconnect()

	fmt.Fprintf(cmd.OutOrStdout(), "connected as %s in %s\n", handle.UserID, handle.RoomID)
	return nil
}
