package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/callrelay/internal/config"
	"github.com/BioHazard786/callrelay/internal/logging"
	"github.com/BioHazard786/callrelay/internal/metrics"
	"github.com/BioHazard786/callrelay/internal/server"
	"github.com/BioHazard786/callrelay/internal/signaling"
	"github.com/BioHazard786/callrelay/internal/version"
)

const shutdownTimeout = 10 * time.Second

var (
	flagListen         string
	flagWSPath         string
	flagAllowedOrigins string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay.

Malformed or unknown frames are ignored and the connection stays open. A frame
larger than server.max_message_bytes (default 64 KiB) is different: the relay
closes that connection with code 1009 and its room sees the user leave.

Examples:
  callrelay serve
  callrelay serve --listen :9000 --allowed-origins https://clinic.example
  RELAY_LISTEN=:9000 LOG_FORMAT=json callrelay serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{
			Listen:         flagListen,
			WSPath:         flagWSPath,
			AllowedOrigins: flagAllowedOrigins,
		})
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "listen address (env RELAY_LISTEN, default :8080)")
	serveCmd.Flags().StringVar(&flagWSPath, "ws-path", "", "websocket endpoint path (env RELAY_WS_PATH, default /ws)")
	serveCmd.Flags().StringVar(&flagAllowedOrigins, "allowed-origins", "", "comma-separated allowed Origin values (env RELAY_ALLOWED_ORIGINS)")
	rootCmd.AddCommand(serveCmd)
}

// serve runs the relay until ctx is cancelled, then drains HTTP and stops the hub.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.Init(cfg.Log.Level, cfg.Log.Format)

	m := metrics.New()
	hub := signaling.NewHub(signaling.Options{
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		SendBuffer:      cfg.Server.SendBuffer,
		PingPeriod:      cfg.Server.PingPeriod,
		PongWait:        cfg.Server.PongWait,
		WriteWait:       cfg.Server.WriteWait,
	}, logger, m)

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()
	defer func() {
		stopHub()
		<-hubDone
	}()

	srv := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: server.NewMux(hub, m, server.Routes{
			WSPath:         cfg.Server.WSPath,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting signaling relay",
			"addr", cfg.Server.Listen,
			"ws_path", cfg.Server.WSPath,
			"version", version.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down signaling relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown does not touch hijacked websocket connections; stopping the
	// hub closes them with a close frame.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
		return err
	}
	return nil
}
