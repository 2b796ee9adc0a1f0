package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultAddr = "http://localhost:8080"

type options struct {
	addr       string
	adminToken string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "econctl",
		Short:         "Operate a running economy server",
		Long:          "econctl inspects accounts and runs admin operations against an economy server over its HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	addr := os.Getenv("ECON_CTL_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	rootCmd.PersistentFlags().StringVar(&opts.addr, "addr", addr, "server base URL")
	rootCmd.PersistentFlags().StringVar(&opts.adminToken, "admin-token", os.Getenv("ECON_ADMIN_TOKEN"), "admin token for privileged commands")

	rootCmd.AddCommand(
		newAccountCmd(opts, "balance", "Show liquid and banked balance for a subject", "/api/economy/balance"),
		newAccountCmd(opts, "profile", "Show the full profile and active cooldowns for a subject", "/api/economy/profile"),
		newKPICmd(opts),
		newResetCmd(opts),
	)
	return rootCmd
}
