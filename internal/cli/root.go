package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wheelguard/internal/config"
	"github.com/ppiankov/wheelguard/internal/logger"
)

var (
	configPath string
	daemonAddr string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "wheelguard",
	Short: "Safety interlock and torque arbitration for force-feedback wheels",
	Long: "Gates high-torque force feedback behind operator consent and a held\n" +
		"physical button combo, and drops output to zero on any critical fault.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config YAML (default ~/.wheelguard/wheelguard.yaml)")
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", config.DefaultListen, "Address of the wheelguard daemon")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format override (text|json)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads --config and returns it with its content hash.
func loadConfig() (*config.Config, string, error) {
	return config.Load(configPath)
}

// newLogger builds the process logger from cfg and the flag overrides.
func newLogger(cfg *config.Config) *slog.Logger {
	level, format := cfg.Log.Level, cfg.Log.Format
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	return logger.New(level, format, os.Stderr)
}
