package escrow

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// DomainVersion is the fixed version of the signing domain.
	DomainVersion = "1"
	// FinaliseTradeType labels the typed consent message.
	FinaliseTradeType = "FinaliseTrade"
	// SignatureLength is the size of a packed v ‖ r ‖ s signature.
	SignatureLength = 1 + 32 + 32
)

var finaliseTradeTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	FinaliseTradeType: {
		{Name: "offerCreator", Type: "address"},
		{Name: "offerCreatorNonce", Type: "uint256"},
	},
}

// Domain binds signatures to one contract instance on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain returns the signing domain for a deployment.
func NewDomain(name string, chainID *big.Int, contract common.Address) Domain {
	return Domain{
		Name:              name,
		Version:           DomainVersion,
		ChainID:           cloneBigInt(chainID),
		VerifyingContract: contract,
	}
}

func (d Domain) typed() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(cloneBigInt(d.ChainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// FinaliseTrade is the consent message both parties sign. It names the offer
// by identity only; amounts are not part of the signed payload.
type FinaliseTrade struct {
	OfferCreator      common.Address
	OfferCreatorNonce uint64
}

// TypedData assembles the EIP-712 payload for a consent message.
func TypedData(domain Domain, msg FinaliseTrade) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       finaliseTradeTypes,
		PrimaryType: FinaliseTradeType,
		Domain:      domain.typed(),
		Message: apitypes.TypedDataMessage{
			"offerCreator":      msg.OfferCreator.Hex(),
			"offerCreatorNonce": strconv.FormatUint(msg.OfferCreatorNonce, 10),
		},
	}
}

// Digest returns keccak256(0x19 0x01 ‖ domainSeparator ‖ hashStruct(msg)).
func Digest(domain Domain, msg FinaliseTrade) ([]byte, error) {
	if domain.ChainID == nil {
		return nil, fmt.Errorf("escrow: signing domain missing chain id")
	}
	digest, _, err := apitypes.TypedDataAndHash(TypedData(domain, msg))
	if err != nil {
		return nil, fmt.Errorf("escrow: typed data hash: %w", err)
	}
	return digest, nil
}

// DomainSeparator returns hashStruct(EIP712Domain) for the domain.
func DomainSeparator(domain Domain) (common.Hash, error) {
	td := TypedData(domain, FinaliseTrade{})
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("escrow: domain separator: %w", err)
	}
	return common.BytesToHash(sep), nil
}

// Signature is a decoded secp256k1 signature. V is 27 or 28.
type Signature struct {
	V byte
	R common.Hash
	S common.Hash
}

// ParseSignature decodes a packed v ‖ r ‖ s signature. V may be given as
// 27/28 or 0/1. Zero, out-of-range and upper-half S values are rejected.
func ParseSignature(raw []byte) (Signature, error) {
	if len(raw) != SignatureLength {
		return Signature{}, fmt.Errorf("%w: length %d, want %d", ErrInvalidSignature, len(raw), SignatureLength)
	}
	v := raw[0]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return Signature{}, fmt.Errorf("%w: recovery byte %d", ErrInvalidSignature, raw[0])
	}
	sig := Signature{V: v}
	copy(sig.R[:], raw[1:33])
	copy(sig.S[:], raw[33:65])
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	if !ethcrypto.ValidateSignatureValues(v-27, r, s, true) {
		return Signature{}, fmt.Errorf("%w: r/s out of range", ErrInvalidSignature)
	}
	return sig, nil
}

// Bytes returns the packed v ‖ r ‖ s encoding.
func (s Signature) Bytes() []byte {
	out := make([]byte, 0, SignatureLength)
	out = append(out, s.V)
	out = append(out, s.R[:]...)
	return append(out, s.S[:]...)
}

func (s Signature) rsv() []byte {
	out := make([]byte, 0, SignatureLength)
	out = append(out, s.R[:]...)
	out = append(out, s.S[:]...)
	return append(out, s.V-27)
}

// PackSignature converts a wallet-style r ‖ s ‖ v signature into the packed
// v ‖ r ‖ s order accepted by FinaliseTrade.
func PackSignature(rsv []byte) ([]byte, error) {
	if len(rsv) != SignatureLength {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrInvalidSignature, len(rsv), SignatureLength)
	}
	v := rsv[64]
	if v < 27 {
		v += 27
	}
	out := make([]byte, 0, SignatureLength)
	out = append(out, v)
	return append(out, rsv[:64]...), nil
}

// Sign produces a packed consent signature with the given key.
func Sign(key *ecdsa.PrivateKey, domain Domain, msg FinaliseTrade) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("escrow: nil signing key")
	}
	digest, err := Digest(domain, msg)
	if err != nil {
		return nil, err
	}
	rsv, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	return PackSignature(rsv)
}

// SignatureVerifier checks consent signatures for a single domain. It holds
// no mutable state.
type SignatureVerifier struct {
	domain Domain
}

// NewSignatureVerifier returns a verifier bound to domain.
func NewSignatureVerifier(domain Domain) *SignatureVerifier {
	return &SignatureVerifier{domain: domain}
}

// Domain returns the verifier's signing domain.
func (v *SignatureVerifier) Domain() Domain {
	d := v.domain
	d.ChainID = cloneBigInt(v.domain.ChainID)
	return d
}

// Recover returns the address that signed msg.
func (v *SignatureVerifier) Recover(msg FinaliseTrade, raw []byte) (common.Address, error) {
	sig, err := ParseSignature(raw)
	if err != nil {
		return common.Address{}, err
	}
	digest, err := Digest(v.domain, msg)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(digest, sig.rsv())
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	signer := ethcrypto.PubkeyToAddress(*pub)
	if signer == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero signer", ErrInvalidSignature)
	}
	return signer, nil
}

// Verify reports whether raw is a valid signature of msg by expected.
func (v *SignatureVerifier) Verify(expected common.Address, msg FinaliseTrade, raw []byte) bool {
	if expected == (common.Address{}) {
		return false
	}
	signer, err := v.Recover(msg, raw)
	return err == nil && signer == expected
}
