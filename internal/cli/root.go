package cli

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/computerd/internal/config"
	"github.com/me/computerd/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagConfig    string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking COMPUTERD_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("COMPUTERD_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// defaultConfigPath returns the config file used when --config is not set.
func defaultConfigPath() string {
	return filepath.Join(config.DefaultDataDir(), "computerd.yaml")
}

// NewRootCmd creates the root cobra command for the computerd CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "computerd",
		Short: "computerd: scheduler for scripted computers",
		Long: `computerd runs many sandboxed, event-driven scripted computers side by side.
Each computer runs a JavaScript program on its own worker; the host tick applies
their effects, enforces execution time limits and persists their state.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "computerd server URL (or COMPUTERD_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath(), "Config file (.yaml or .toml)")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newListCmd(),
		newStatusCmd(),
		newCreateCmd(),
		newRemoveCmd(),
		newOnCmd(),
		newOffCmd(),
		newRebootCmd(),
		newQueueCmd(),
		newKeyCmd(),
		newTypeCmd(),
		newPasteCmd(),
		newMouseCmd(),
		newKeepAliveCmd(),
		newLabelCmd(),
		newRedstoneCmd(),
		newAttachCmd(),
		newDetachCmd(),
		newConfigCmd(),
	)

	return root
}
