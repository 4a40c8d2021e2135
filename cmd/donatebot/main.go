package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "donatebot",
		Short:         "Telegram Stars donation bot with operator refunds",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "config file (optional)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(checkConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Receive updates the way server.mode says (webhook or polling)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(cmd, "")
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Register the webhook and serve updates over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(cmd, modeWebhook)
		},
	}
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Long-poll the Bot API for updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(cmd, modePolling)
		},
	}
}

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"config ok: mode=%s ledger=%s operator=%d amounts=%v mysql=%t redis=%t\n",
				cfg.Server.Mode, cfg.Ledger.Path, cfg.Refund.OperatorID, cfg.Donation.Amounts,
				cfg.MySQL.Enabled, cfg.Redis.Enabled)
			return nil
		},
	}
}
