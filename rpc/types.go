package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"ponzirep/core/types"
	"ponzirep/crypto"
	"ponzirep/native/escrow"
)

type createTradeOfferParams struct {
	Value          string `json:"value"`
	EscrowedAmount string `json:"escrowedAmount"`
	QuotedPrice    string `json:"quotedPrice"`
}

type finaliseTradeParams struct {
	OfferCreator          string `json:"offerCreator"`
	OfferCreatorNonce     uint64 `json:"offerCreatorNonce"`
	CreatorSignature      string `json:"creatorSignature"`
	CounterpartySignature string `json:"counterpartySignature"`
}

type withdrawTradeOfferParams struct {
	Nonce uint64 `json:"nonce"`
}

type setGovernanceParams struct {
	Address string `json:"address"`
}

type CreateTradeOfferResult struct {
	Offer       OfferJSON `json:"offer"`
	TradesCount uint64    `json:"tradesCount"`
}

type OfferJSON struct {
	ID             string `json:"id"`
	Creator        string `json:"creator"`
	Nonce          uint64 `json:"nonce"`
	EscrowedAmount string `json:"escrowedAmount"`
	QuotedPrice    string `json:"quotedPrice"`
	Status         string `json:"status"`
	StatusCode     uint8  `json:"statusCode"`
	Counterparty   string `json:"counterparty,omitempty"`
}

func offerToJSON(o *escrow.TradeOffer) OfferJSON {
	out := OfferJSON{
		ID:             o.ID.Hex(),
		Nonce:          o.Nonce,
		EscrowedAmount: amountString(o.EscrowedAmount),
		QuotedPrice:    amountString(o.QuotedPrice),
		Status:         o.Status.String(),
		StatusCode:     uint8(o.Status),
	}
	if o.Creator != (common.Address{}) {
		out.Creator = o.Creator.Hex()
	}
	if o.Counterparty != (common.Address{}) {
		out.Counterparty = o.Counterparty.Hex()
	}
	return out
}

type DomainJSON struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
	Separator         string `json:"separator"`
}

type GovernanceJSON struct {
	Address string `json:"address,omitempty"`
	Bound   bool   `json:"bound"`
	Owner   string `json:"owner"`
}

type BalanceJSON struct {
	Address string `json:"address"`
	Wei     string `json:"wei"`
	Ether   string `json:"ether"`
}

type HeadJSON struct {
	Height uint64 `json:"height"`
	Root   string `json:"root"`
}

type TokenJSON struct {
	Name     string   `json:"name"`
	Symbol   string   `json:"symbol"`
	Owner    string   `json:"owner"`
	Founders []string `json:"founders"`
	Contract string   `json:"contract"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func decodeStringParam(req *RPCRequest) (string, error) {
	if len(req.Params) != 1 {
		return "", fmt.Errorf("exactly one parameter expected")
	}
	var value string
	if err := json.Unmarshal(req.Params[0], &value); err != nil {
		return "", err
	}
	return value, nil
}

func parseAddress(value string) (common.Address, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return common.Address{}, err
	}
	return addr.Common(), nil
}

func parseHash(value string) (common.Hash, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid hash: %w", err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("hash must be %d bytes", common.HashLength)
	}
	return common.BytesToHash(raw), nil
}

// parseAmount accepts a base-10 wei amount.
func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	return amount, nil
}

func parseSignature(field, value string) ([]byte, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return raw, nil
}

func balanceJSON(addr common.Address, wei *big.Int) BalanceJSON {
	return BalanceJSON{Address: addr.Hex(), Wei: amountString(wei), Ether: types.FormatEther(wei)}
}
