package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoKey is returned when a signer source names no key material.
var ErrNoKey = errors.New("crypto: no signer key configured")

// PrivateKey is a secp256k1 signing key for the ledger account.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

// Address is the ledger account controlled by the key.
func (k *PrivateKey) Address() common.Address {
	return crypto.PubkeyToAddress(k.PrivateKey.PublicKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a hex encoded key with or without the 0x prefix.
func PrivateKeyFromHex(raw string) (*PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, ErrNoKey
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return &PrivateKey{key}, nil
}

// SignerSource describes where the signer key comes from. Exactly one of Hex
// and Keystore is expected; Hex wins when both are set.
type SignerSource struct {
	Hex        string
	Keystore   string
	Passphrase func() (string, error)
}

// Load resolves the key described by s.
func (s SignerSource) Load() (*PrivateKey, error) {
	if strings.TrimSpace(s.Hex) != "" {
		return PrivateKeyFromHex(s.Hex)
	}
	path := strings.TrimSpace(s.Keystore)
	if path == "" {
		return nil, ErrNoKey
	}
	if s.Passphrase == nil {
		return nil, fmt.Errorf("crypto: keystore %s requires a passphrase", path)
	}
	pass, err := s.Passphrase()
	if err != nil {
		return nil, err
	}
	return LoadFromKeystore(path, pass)
}
