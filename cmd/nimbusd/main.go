package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nimbus/config"
	"nimbus/daemon"
	"nimbus/internal/buildinfo"
	"nimbus/internal/logging"
)

func main() {
	if err := logging.Configure(logging.LevelInfo, false); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var dataDir string
	var debug bool

	cmd := &cobra.Command{
		Use:     "nimbusd",
		Short:   "Nimbus device agent daemon",
		Version: buildinfo.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			level := cfg.LogLevel
			if debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level, cfg.LogJSON); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return daemon.Run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath, "Path to the config file")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}
