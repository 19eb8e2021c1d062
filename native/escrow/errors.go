package escrow

import "errors"

var (
	ErrNilState = errors.New("escrow engine: state not configured")

	ErrInvalidAmount    = errors.New("escrow: invalid amount")
	ErrValueMismatch    = errors.New("escrow: attached value does not match escrowed amount")
	ErrOfferNotFound    = errors.New("escrow: trade offer not found")
	ErrOfferExists      = errors.New("escrow: trade offer already exists")
	ErrInvalidStatus    = errors.New("escrow: trade offer not initialised")
	ErrUnauthorized     = errors.New("escrow: caller is not the offer creator")
	ErrInvalidSignature = errors.New("escrow: invalid signature")
	ErrSignerMismatch   = errors.New("escrow: signature does not match signer")
	ErrSameSigner       = errors.New("escrow: counterparty must differ from creator")
	ErrNonceOverflow    = errors.New("escrow: nonce overflow")

	ErrInsufficientBalance = errors.New("escrow: insufficient balance")
	ErrValueRejected       = errors.New("escrow: recipient rejects value")
	ErrVaultBalance        = errors.New("escrow: vault balance mismatch")
)
