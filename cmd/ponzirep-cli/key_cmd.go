package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ponzirep/crypto"
	"ponzirep/rpc"
)

type keyInfo struct {
	Address string `json:"address"`
	Bech32  string `json:"bech32"`
	Path    string `json:"path,omitempty"`
}

func newKeyInfo(addr crypto.Address, path string) keyInfo {
	return keyInfo{Address: addr.Common().Hex(), Bech32: addr.String(), Path: path}
}

func newKeyCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "Manage keystore accounts"}

	var out string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Create a new account and write it to a keystore file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(out) == "" {
				return fmt.Errorf("--out is required")
			}
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			pass, err := c.passphrase()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(out, key, pass); err != nil {
				return err
			}
			return c.printJSON(newKeyInfo(key.PubKey().Address(), out))
		},
	}
	generate.Flags().StringVar(&out, "out", "", "keystore file to create")

	address := &cobra.Command{
		Use:   "address",
		Short: "Print the account address recorded in --keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := crypto.KeystoreAddress(c.keystore)
			if err != nil {
				return err
			}
			return c.printJSON(newKeyInfo(addr, c.keystore))
		},
	}

	cmd.AddCommand(generate, address)
	return cmd
}

func newTokenCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Issue RPC bearer tokens"}

	var (
		secret  string
		subject string
		ttl     time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for client --subject (defaults to the --keystore account)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(secret) == "" {
				return fmt.Errorf("--secret or %s is required", jwtSecretEnv)
			}
			if strings.TrimSpace(subject) == "" {
				addr, err := crypto.KeystoreAddress(c.keystore)
				if err != nil {
					return fmt.Errorf("--subject or --keystore is required: %w", err)
				}
				subject = addr.Common().Hex()
			}
			token, err := rpc.IssueToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, token)
			return nil
		},
	}
	issue.Flags().StringVar(&secret, "secret", os.Getenv(jwtSecretEnv), "HMAC secret shared with the node")
	issue.Flags().StringVar(&subject, "subject", "", "client name the node rate limits by")
	issue.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	cmd.AddCommand(issue)
	return cmd
}
