package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/callrelay/internal/config"
	"github.com/BioHazard786/callrelay/internal/ui"
	"github.com/BioHazard786/callrelay/internal/version"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "callrelay",
	Short: "WebRTC signaling relay for room-based video consultations",
	Long: `callrelay runs a WebSocket signaling relay that groups connections into rooms and
forwards SDP offers, answers and ICE candidates between members. It also ships
probe tooling to join rooms, negotiate a real peer connection and list live rooms.`,
	Version: version.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: text or json (env LOG_FORMAT)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

// loadConfig fills the shared flags into opts and loads the configuration.
func loadConfig(opts config.Options) (*config.Config, error) {
	opts.File = flagConfig
	opts.LogLevel = flagLogLevel
	opts.LogFormat = flagLogFormat
	return config.Load(opts)
}
