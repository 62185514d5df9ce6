package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xam55/new-vpn-bot/internal/vpnbot"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation sweep",
	Long: `Settle divergence between the gateway peer table and the store:
promote stale provisional records whose peer exists, discard the rest,
and remove gateway peers no record claims.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

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
		defer service.Close()

		report, err := service.Provisioner().Reconcile(ctx)
		if err != nil {
			log.ErrorCtx(ctx, "reconciliation failed", err)
			os.Exit(1)
		}

		cmd.Printf("Reconciliation complete: %d promoted, %d discarded, %d orphan peers removed.\n",
			report.Promoted, report.Discarded, report.OrphansRemoved)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
