package rpc

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"ponzirep/crypto"
)

const (
	callDigestTag   = "PonziRep signed call"
	maxCallLifetime = 10 * time.Minute
)

// SignedCall binds a write request to the account it acts for. Signature is
// a 65-byte secp256k1 signature in r‖s‖v order over CallDigest.
type SignedCall struct {
	From      string `json:"from"`
	Nonce     uint64 `json:"nonce"`
	Expiry    int64  `json:"expiry"`
	Signature string `json:"signature"`
}

// CallDigest returns the hash the signer of a write request commits to. The
// params are compacted so whitespace differences do not change the digest.
// nonce is chosen by the client so identical calls get distinct digests.
func CallDigest(chainID *big.Int, contract common.Address, method string, params []json.RawMessage, from common.Address, nonce uint64, expiry int64) (common.Hash, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, p := range params {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := json.Compact(&buf, p); err != nil {
			return common.Hash{}, fmt.Errorf("params[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')

	var chain common.Hash
	if chainID != nil {
		chain = common.BigToHash(chainID)
	}
	var seq, exp [8]byte
	binary.BigEndian.PutUint64(seq[:], nonce)
	binary.BigEndian.PutUint64(exp[:], uint64(expiry))
	return ethcrypto.Keccak256Hash(
		[]byte(callDigestTag),
		chain.Bytes(),
		contract.Bytes(),
		ethcrypto.Keccak256([]byte(method)),
		ethcrypto.Keccak256(buf.Bytes()),
		from.Bytes(),
		seq[:],
		exp[:],
	), nil
}

// SignCall authorises method with params on behalf of key's account until
// expiry.
func SignCall(key *ecdsa.PrivateKey, chainID *big.Int, contract common.Address, method string, params []json.RawMessage, expiry time.Time) (*SignedCall, error) {
	if key == nil {
		return nil, fmt.Errorf("signing key required")
	}
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	nonce := binary.BigEndian.Uint64(seed[:])
	from := ethcrypto.PubkeyToAddress(key.PublicKey)
	digest, err := CallDigest(chainID, contract, method, params, from, nonce, expiry.Unix())
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return &SignedCall{From: from.Hex(), Nonce: nonce, Expiry: expiry.Unix(), Signature: hexutil.Encode(sig)}, nil
}

// callVerifier recovers the acting account of signed write requests and
// refuses digests it has already accepted until they expire.
type callVerifier struct {
	mu   sync.Mutex
	seen map[common.Hash]int64
	now  func() time.Time
}

func newCallVerifier() *callVerifier {
	return &callVerifier{seen: make(map[common.Hash]int64), now: time.Now}
}

func (v *callVerifier) verify(chainID *big.Int, contract common.Address, req *RPCRequest) (common.Address, int, *RPCError) {
	auth := req.Auth
	if auth == nil {
		return common.Address{}, http.StatusUnauthorized, &RPCError{Code: codeUnauthorized, Message: "signed call required", Data: req.Method}
	}
	from, err := crypto.ParseAddress(auth.From)
	if err != nil || from.IsZero() {
		return common.Address{}, http.StatusUnauthorized, &RPCError{Code: codeUnauthorized, Message: "invalid signed call sender", Data: auth.From}
	}

	now := v.now()
	expiry := time.Unix(auth.Expiry, 0)
	if expiry.Before(now.Add(-clockSkew)) {
		return common.Address{}, http.StatusUnauthorized, &RPCError{Code: codeUnauthorized, Message: "signed call expired"}
	}
	if expiry.After(now.Add(maxCallLifetime + clockSkew)) {
		return common.Address{}, http.StatusUnauthorized, &RPCError{Code: codeUnauthorized, Message: fmt.Sprintf("signed call expiry exceeds %s", maxCallLifetime)}
	}

	sig, err := hexutil.Decode(strings.TrimSpace(auth.Signature))
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, http.StatusUnauthorized, &RPCError{Code: codeUnauthorized, Message: "signed call signature must be 65 bytes"}
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r, s := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, http.StatusUnauthorized, &RPCError{Code: codeUnauthorized, Message: "malformed signed call signature"}
	}

	digest, err := CallDigest(chainID, contract, req.Method, req.Params, from.Common(), auth.Nonce, auth.Expiry)
	if err != nil {
		return common.Address{}, http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: "invalid params", Data: err.Error()}
	}
	pub, err := ethcrypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, http.StatusUnauthorized, &RPCError{Code: codeUnauthorized, Message: "unrecoverable signed call signature", Data: err.Error()}
	}
	if signer := ethcrypto.PubkeyToAddress(*pub); signer != from.Common() {
		return common.Address{}, http.StatusUnauthorized, &RPCError{Code: codeUnauthorized, Message: "signed call signer does not match from", Data: signer.Hex()}
	}
	if !v.remember(digest, auth.Expiry, now) {
		return common.Address{}, http.StatusConflict, &RPCError{Code: codeDuplicateCall, Message: "signed call has already been submitted", Data: digest.Hex()}
	}
	return from.Common(), http.StatusOK, nil
}

// remember records digest until expiry and reports whether it was new.
func (v *callVerifier) remember(digest common.Hash, expiry int64, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	cutoff := now.Add(-clockSkew).Unix()
	for d, exp := range v.seen {
		if exp < cutoff {
			delete(v.seen, d)
		}
	}
	if _, ok := v.seen[digest]; ok {
		return false
	}
	v.seen[digest] = expiry
	return true
}
