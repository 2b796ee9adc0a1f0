package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newAccountCmd(opts *options, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <subject-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(opts.addr)
			body, err := c.do(cmd.Context(), http.MethodGet, path, map[string]string{subjectHeader: args[0]})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), body)
		},
	}
}

func newKPICmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "kpi",
		Short: "Show flow success and conflict counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(opts.addr).do(cmd.Context(), http.MethodGet, "/ops/kpi", nil)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), body)
		},
	}
}

func newResetCmd(opts *options) *cobra.Command {
	var confirm bool
	var actor string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe every account from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errors.New("refusing to reset without --confirm")
			}
			if opts.adminToken == "" {
				return errors.New("admin token is required (--admin-token or ECON_ADMIN_TOKEN)")
			}
			headers := map[string]string{adminHeader: opts.adminToken}
			if actor != "" {
				headers[subjectHeader] = actor
			}
			if _, err := newClient(opts.addr).do(cmd.Context(), http.MethodPost, "/api/admin/reset", headers); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "ledger reset")
			return err
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the irreversible reset")
	cmd.Flags().StringVar(&actor, "actor", "", "name recorded in the server log")
	return cmd
}
