package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xam55/new-vpn-bot/internal/vpnbot"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the credential vending service",
	Long: `Start the full service: payment workflow, provisioning driven by
payment confirmations, the expiry reaper and the reconciliation sweep.
Blocks until SIGINT/SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg, err := loadConfig()
		if err != nil {
			cmd.PrintErrf("Error loading config: %v\n", err)
			os.Exit(1)
		}
		log := buildLogger(cfg)

		service, err := vpnbot.NewService(cfg, log)
		if err != nil {
			log.ErrorCtx(ctx, "failed to create service", err)
			os.Exit(1)
		}

		if err := service.Start(ctx); err != nil {
			log.ErrorCtx(ctx, "failed to start service", err)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if stopErr := service.Stop(shutdownCtx); stopErr != nil {
				log.ErrorCtx(ctx, "failed to cleanup service after startup failure", stopErr)
			}
			os.Exit(1)
		}

		service.WaitForShutdown()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
