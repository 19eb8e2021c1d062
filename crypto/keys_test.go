package crypto

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddressAcceptsHexAndBech32(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address()

	fromHex, err := ParseAddress(addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr.Raw(), fromHex.Raw())

	bech := addr.String()
	require.True(t, strings.HasPrefix(bech, string(PonziRepPrefix)+"1"))
	fromBech, err := ParseAddress(bech)
	require.NoError(t, err)
	require.Equal(t, addr.Raw(), fromBech.Raw())

	_, err = ParseAddress("0x1234")
	require.Error(t, err)
	_, err = ParseAddress("")
	require.Error(t, err)
}

func TestNewAddressRejectsWrongLength(t *testing.T) {
	_, err := NewAddress(PonziRepPrefix, make([]byte, 19))
	require.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys", "founder.json")
	require.NoError(t, SaveToKeystore(path, key, "hunter2"))

	addr, err := KeystoreAddress(path)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().Raw(), addr.Raw())

	loaded, err := LoadFromKeystore(path, "hunter2")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
