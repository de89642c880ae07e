package keysource

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/nodelist-registry/cryptoutils"
)

const (
	shareSuffix = ".share"
	addressFile = "address"
)

// ErrInsufficientShares is returned when the combined shares do not
// reproduce the recorded key address.
var ErrInsufficientShares = errors.New("shares do not reconstruct the key")

// SplitKey splits key into n shares, any threshold of which reconstruct it.
func SplitKey(key *ecdsa.PrivateKey, n, threshold int) ([][]byte, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if n < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	shares, err := shamir.Split(crypto.FromECDSA(key), n, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split key: %w", err)
	}
	return shares, nil
}

// CombineShares reconstructs a key from shares.
func CombineShares(shares [][]byte) (*ecdsa.PrivateKey, error) {
	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	key, err := crypto.ToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientShares, err)
	}
	return key, nil
}

// WriteShares writes one hex file per share into dir along with the key's
// address, which LoadShares uses to check the reconstruction.
func WriteShares(dir string, key *ecdsa.PrivateKey, shares [][]byte) ([]string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create share directory: %w", err)
	}

	paths := make([]string, 0, len(shares))
	for i, share := range shares {
		path := filepath.Join(dir, fmt.Sprintf("%d%s", i+1, shareSuffix))
		if err := os.WriteFile(path, []byte(hex.EncodeToString(share)), 0600); err != nil {
			return nil, fmt.Errorf("failed to write share %d: %w", i+1, err)
		}
		paths = append(paths, path)
	}

	address := cryptoutils.AddressOf(key).Hex()
	if err := os.WriteFile(filepath.Join(dir, addressFile), []byte(address), 0644); err != nil {
		return nil, fmt.Errorf("failed to write address: %w", err)
	}
	return paths, nil
}

// LoadShares combines the shares found in dir. Shares may be removed from the
// directory as long as the threshold remains.
func LoadShares(dir string) (*ecdsa.PrivateKey, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+shareSuffix))
	if err != nil {
		return nil, err
	}
	if len(matches) < 2 {
		return nil, fmt.Errorf("%w: %d shares in %s", ErrInsufficientShares, len(matches), dir)
	}
	sort.Strings(matches)

	shares := make([][]byte, 0, len(matches))
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		share, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("invalid share %s: %w", filepath.Base(path), err)
		}
		shares = append(shares, share)
	}

	key, err := CombineShares(shares)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(filepath.Join(dir, addressFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return key, nil
	case err != nil:
		return nil, err
	}

	expected := common.HexToAddress(strings.TrimSpace(string(raw)))
	if got := cryptoutils.AddressOf(key); got != expected {
		return nil, fmt.Errorf("%w: got %s, expected %s", ErrInsufficientShares, got.Hex(), expected.Hex())
	}
	return key, nil
}
