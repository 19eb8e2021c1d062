package state

var (
	accountPrefix       = []byte("account/")
	tokenMetadataKey    = []byte("token/metadata")
	escrowNoncePrefix   = []byte("escrow/nonce/")
	escrowOfferPrefix   = []byte("escrow/offer/")
	escrowOfferCountKey = []byte("escrow/offers/count")
	escrowOfferIdxPref  = []byte("escrow/offers/idx/")
	escrowVaultPrefix   = []byte("escrow/vault/")
	governanceKey       = []byte("governance/binding")
)
