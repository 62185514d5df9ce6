package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xam55/new-vpn-bot/internal/vpnbot"
)

var (
	revokeKeyName string
	revokeReason  string
)

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke a credential by key name",
	Long: `Remove a peer from the gateway and mark its record revoked.
Revoking a key that is already gone from the gateway still succeeds.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
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

		if err := service.Provisioner().Revoke(ctx, revokeKeyName, revokeReason); err != nil {
			log.ErrorCtx(ctx, "revocation failed", err)
			os.Exit(1)
		}

		cmd.Printf("Key %s revoked.\n", revokeKeyName)
	},
}

func init() {
	revokeCmd.Flags().StringVar(&revokeKeyName, "key-name", "", "name of the key to revoke")
	revokeCmd.Flags().StringVar(&revokeReason, "reason", "operator", "reason recorded with the revocation")
	revokeCmd.MarkFlagRequired("key-name")
	rootCmd.AddCommand(revokeCmd)
}
