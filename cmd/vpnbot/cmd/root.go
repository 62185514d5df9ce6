package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xam55/new-vpn-bot/internal/shared/logger"
	"github.com/xam55/new-vpn-bot/internal/vpnbot/config"
)

const version = "1.0.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vpnbot",
	Short: "WireGuard credential vending service",
	Long: `vpnbot sells WireGuard access: it takes payment confirmations,
provisions peers on a gateway host over SSH, renders client configs and
reaps credentials when their paid period ends.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
}

// loadConfig loads and validates configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadWithPath(configPath)
	}
	return config.NewLoader().Load()
}

// buildLogger creates the logger from the loaded configuration.
func buildLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:     logger.LogLevel(cfg.Log.Level),
		Format:    logger.OutputFormat(cfg.Log.Format),
		Component: "vpnbot",
		Version:   version,
	})
}
