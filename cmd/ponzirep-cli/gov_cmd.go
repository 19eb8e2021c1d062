package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ponzirep/crypto"
)

func newGovCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "gov", Short: "Inspect or bind the governance address"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Show the bound governance address",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return c.callAndPrint("gov_governance", false)
			},
		},
		&cobra.Command{
			Use:   "set <address>",
			Short: "Bind the governance address once; the --keystore account must be the owner",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				addr, err := crypto.ParseAddress(args[0])
				if err != nil {
					return fmt.Errorf("address: %w", err)
				}
				return c.signedCallAndPrint("gov_setGovernance", map[string]string{"address": addr.Common().Hex()})
			},
		},
	)
	return cmd
}

func newBalanceCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Show the native balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			addr, err := crypto.ParseAddress(args[0])
			if err != nil {
				return err
			}
			return c.callAndPrint("ponzirep_balance", false, addr.Common().Hex())
		},
	}
}

func newHeadCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Show the committed height and state root",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.callAndPrint("ponzirep_head", false)
		},
	}
}
