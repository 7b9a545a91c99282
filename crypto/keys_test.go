package crypto

import (
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrivateKeyFromHex(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	raw := hex.EncodeToString(key.Bytes())

	for _, input := range []string{raw, "0x" + raw, "  " + raw + "\n"} {
		parsed, err := PrivateKeyFromHex(input)
		require.NoError(t, err)
		require.Equal(t, key.Address(), parsed.Address())
	}

	_, err = PrivateKeyFromHex("")
	require.ErrorIs(t, err, ErrNoKey)
	_, err = PrivateKeyFromHex("zz")
	require.Error(t, err)
}

func TestSignerSourceKeystore(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "signer.json")
	require.NoError(t, SaveToKeystore(path, key, "correct horse"))

	src := SignerSource{Keystore: path, Passphrase: func() (string, error) { return "correct horse", nil }}
	loaded, err := src.Load()
	require.NoError(t, err)
	require.Equal(t, key.Address(), loaded.Address())

	src.Passphrase = func() (string, error) { return "wrong", nil }
	_, err = src.Load()
	require.Error(t, err)

	prompt := errors.New("no terminal")
	src.Passphrase = func() (string, error) { return "", prompt }
	_, err = src.Load()
	require.ErrorIs(t, err, prompt)

	_, err = SignerSource{Keystore: path}.Load()
	require.Error(t, err)
	_, err = SignerSource{}.Load()
	require.ErrorIs(t, err, ErrNoKey)
}

func TestSignerSourcePrefersHex(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	src := SignerSource{Hex: hex.EncodeToString(key.Bytes()), Keystore: "/does/not/exist"}
	loaded, err := src.Load()
	require.NoError(t, err)
	require.Equal(t, key.Address(), loaded.Address())
}
