package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"ponzirep/core/types"
	"ponzirep/crypto"
	"ponzirep/native/escrow"
	"ponzirep/rpc"
)

func newOfferCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "offer", Short: "Create, finalise, and inspect trade offers"}
	cmd.AddCommand(
		newOfferCreateCommand(c),
		newOfferFinaliseCommand(c),
		newOfferWithdrawCommand(c),
		&cobra.Command{
			Use:   "get <offer-id>",
			Short: "Show a trade offer",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				if _, err := parseOfferID(args[0]); err != nil {
					return err
				}
				return c.callAndPrint("escrow_tradeOffers", false, args[0])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List the ids of every offer ever created",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return c.callAndPrint("escrow_getTrades", false)
			},
		},
		newOfferHistoryCommand(c),
		&cobra.Command{
			Use:   "count",
			Short: "Print the number of offers ever created",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return c.callAndPrint("escrow_getTradesCount", false)
			},
		},
		&cobra.Command{
			Use:   "escrowed <offer-id>",
			Short: "Print the wei the vault holds for an offer",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				if _, err := parseOfferID(args[0]); err != nil {
					return err
				}
				return c.callAndPrint("escrow_balance", false, args[0])
			},
		},
		&cobra.Command{
			Use:   "nonce <address>",
			Short: "Print the next offer nonce of an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				addr, err := crypto.ParseAddress(args[0])
				if err != nil {
					return err
				}
				return c.callAndPrint("escrow_nonces", false, addr.Common().Hex())
			},
		},
		&cobra.Command{
			Use:   "domain",
			Short: "Show the signing domain of the node",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return c.callAndPrint("escrow_domain", false)
			},
		},
		&cobra.Command{
			Use:   "events [from]",
			Short: "Show committed events starting at a sequence number",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				if len(args) == 0 {
					return c.callAndPrint("escrow_events", false)
				}
				from, ok := new(big.Int).SetString(args[0], 10)
				if !ok || !from.IsInt64() || from.Sign() < 0 {
					return fmt.Errorf("from must be a non-negative integer")
				}
				return c.callAndPrint("escrow_events", false, from.Int64())
			},
		},
	)
	return cmd
}

func newOfferHistoryCommand(c *cli) *cobra.Command {
	var (
		creator string
		status  string
		limit   int
		offset  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List offers from the node's offer index",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			filter := map[string]interface{}{}
			if strings.TrimSpace(creator) != "" {
				addr, err := crypto.ParseAddress(creator)
				if err != nil {
					return fmt.Errorf("--creator: %w", err)
				}
				filter["creator"] = addr.Common().Hex()
			}
			if status != "" {
				filter["status"] = status
			}
			if limit > 0 {
				filter["limit"] = limit
			}
			if offset > 0 {
				filter["offset"] = offset
			}
			return c.callAndPrint("escrow_listOffers", false, filter)
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "only offers by this creator")
	cmd.Flags().StringVar(&status, "status", "", "only offers in this status (initialised, finalised, withdrawn)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newOfferCreateCommand(c *cli) *cobra.Command {
	var (
		amount string
		value  string
		price  string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Escrow --amount ether from the --keystore account and publish a trade offer",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			escrowed, err := types.ParseEther(amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			attached := escrowed
			if strings.TrimSpace(value) != "" {
				if attached, err = types.ParseEther(value); err != nil {
					return fmt.Errorf("--value: %w", err)
				}
			}
			quoted, err := types.ParseEther(price)
			if err != nil {
				return fmt.Errorf("--price: %w", err)
			}
			return c.signedCallAndPrint("escrow_createTradeOffer", map[string]string{
				"value":          attached.String(),
				"escrowedAmount": escrowed.String(),
				"quotedPrice":    quoted.String(),
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "ether to escrow")
	cmd.Flags().StringVar(&value, "value", "", "ether attached to the call (defaults to --amount)")
	cmd.Flags().StringVar(&price, "price", "", "quoted price, informational")
	return cmd
}

func newOfferFinaliseCommand(c *cli) *cobra.Command {
	var (
		creator         string
		nonce           uint64
		creatorSig      string
		counterpartySig string
	)
	cmd := &cobra.Command{
		Use:   "finalise",
		Short: "Release an offer's escrow to the co-signing counterparty",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			addr, err := crypto.ParseAddress(creator)
			if err != nil {
				return fmt.Errorf("--creator: %w", err)
			}
			for flag, sig := range map[string]string{"--creator-sig": creatorSig, "--counterparty-sig": counterpartySig} {
				raw, err := hexutil.Decode(strings.TrimSpace(sig))
				if err != nil {
					return fmt.Errorf("%s: %w", flag, err)
				}
				if len(raw) != escrow.SignatureLength {
					return fmt.Errorf("%s must be %d bytes", flag, escrow.SignatureLength)
				}
			}
			return c.callAndPrint("escrow_finaliseTrade", true, map[string]interface{}{
				"offerCreator":          addr.Common().Hex(),
				"offerCreatorNonce":     nonce,
				"creatorSignature":      strings.TrimSpace(creatorSig),
				"counterpartySignature": strings.TrimSpace(counterpartySig),
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "offer creator address")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "creator nonce the offer was created with")
	cmd.Flags().StringVar(&creatorSig, "creator-sig", "", "creator's FinaliseTrade signature")
	cmd.Flags().StringVar(&counterpartySig, "counterparty-sig", "", "counterparty's FinaliseTrade signature")
	return cmd
}

func newOfferWithdrawCommand(c *cli) *cobra.Command {
	var nonce uint64
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Cancel one of the --keystore account's offers and refund its escrow",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.signedCallAndPrint("escrow_withdrawTradeOffer", map[string]uint64{"nonce": nonce})
		},
	}
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "nonce the offer was created with")
	return cmd
}

func newSignCommand(c *cli) *cobra.Command {
	var (
		creator  string
		nonce    uint64
		name     string
		chainID  uint64
		contract string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign FinaliseTrade consent for an offer with the --keystore account",
		Long: "Sign FinaliseTrade consent for an offer with the --keystore account.\n" +
			"The signing domain is read from the node unless --chain-id and --contract are both given.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			addr, err := crypto.ParseAddress(creator)
			if err != nil {
				return fmt.Errorf("--creator: %w", err)
			}
			domain, err := c.resolveDomain(name, chainID, contract)
			if err != nil {
				return err
			}
			key, err := c.loadKey()
			if err != nil {
				return err
			}
			sig, err := escrow.Sign(key.PrivateKey, domain, escrow.FinaliseTrade{OfferCreator: addr.Common(), OfferCreatorNonce: nonce})
			if err != nil {
				return err
			}
			return c.printJSON(map[string]string{
				"signer":    key.PubKey().Address().Common().Hex(),
				"offerId":   escrow.OfferID(addr.Common(), nonce).Hex(),
				"signature": hexutil.Encode(sig),
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "offer creator address")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "creator nonce the offer was created with")
	cmd.Flags().StringVar(&name, "domain-name", "PonziRep", "signing domain name for offline signing")
	cmd.Flags().Uint64Var(&chainID, "chain-id", 0, "chain id for offline signing")
	cmd.Flags().StringVar(&contract, "contract", "", "verifying contract for offline signing")
	return cmd
}

func (c *cli) resolveDomain(name string, chainID uint64, contract string) (escrow.Domain, error) {
	if chainID != 0 && strings.TrimSpace(contract) != "" {
		addr, err := crypto.ParseAddress(contract)
		if err != nil {
			return escrow.Domain{}, fmt.Errorf("--contract: %w", err)
		}
		return escrow.NewDomain(name, new(big.Int).SetUint64(chainID), addr.Common()), nil
	}
	return c.fetchDomain()
}

// fetchDomain reads the signing domain the node verifies against.
func (c *cli) fetchDomain() (escrow.Domain, error) {
	var remote rpc.DomainJSON
	if err := c.call("escrow_domain", false, &remote); err != nil {
		return escrow.Domain{}, fmt.Errorf("fetch signing domain: %w", err)
	}
	id, ok := new(big.Int).SetString(remote.ChainID, 10)
	if !ok {
		return escrow.Domain{}, fmt.Errorf("node returned invalid chain id %q", remote.ChainID)
	}
	if !common.IsHexAddress(remote.VerifyingContract) {
		return escrow.Domain{}, fmt.Errorf("node returned invalid contract %q", remote.VerifyingContract)
	}
	return escrow.NewDomain(remote.Name, id, common.HexToAddress(remote.VerifyingContract)), nil
}

func parseOfferID(value string) (common.Hash, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("offer id must be a 0x-prefixed 32-byte hex string")
	}
	return common.BytesToHash(raw), nil
}
