package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidKey is returned for malformed private keys.
	ErrInvalidKey = errors.New("invalid private key")

	// ErrInvalidSignature is returned when a signature cannot be recovered.
	ErrInvalidSignature = errors.New("invalid signature")
)

// AddressOf returns the account address controlled by key.
// It is deterministic and cannot be inverted to recover the key.
func AddressOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// ParsePrivateKey parses a hex encoded secp256k1 private key, with or without
// the 0x prefix.
func ParsePrivateKey(source string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimSpace(source)
	if !strings.HasPrefix(clean, "0x") && !strings.HasPrefix(clean, "0X") {
		clean = "0x" + clean
	}

	raw, err := hexutil.Decode(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidKey, len(raw))
	}

	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// EncodePrivateKey returns the 0x prefixed hex form of key.
func EncodePrivateKey(key *ecdsa.PrivateKey) string {
	return hexutil.Encode(crypto.FromECDSA(key))
}

// DeriveKey deterministically derives a private key from seed material using
// HKDF-SHA256 with label as the info parameter.
func DeriveKey(seed []byte, label string) (*ecdsa.PrivateKey, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: empty seed", ErrInvalidKey)
	}

	reader := hkdf.New(sha256.New, seed, nil, []byte(label))
	candidate := make([]byte, 32)

	// A candidate outside the curve order is vanishingly rare; draw again.
	for i := 0; i < 8; i++ {
		if _, err := io.ReadFull(reader, candidate); err != nil {
			return nil, fmt.Errorf("deriving key: %w", err)
		}
		if key, err := crypto.ToECDSA(candidate); err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: no valid key derived for %q", ErrInvalidKey, label)
}

// SignHash signs a 32-byte digest, returning a 65-byte [R || S || V] signature.
func SignHash(hash common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(hash.Bytes(), key)
}

// RecoverAddress returns the address that produced sig over hash.
func RecoverAddress(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
