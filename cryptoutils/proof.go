package cryptoutils

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
)

// ErrInvalidProof is returned when a Merkle-Patricia proof does not verify.
var ErrInvalidProof = errors.New("invalid merkle proof")

// ProofList collects the nodes of a trie proof in root-to-leaf order.
// It satisfies ethdb.KeyValueWriter so it can be passed to trie.Prove.
type ProofList [][]byte

func (n *ProofList) Put(key []byte, value []byte) error {
	*n = append(*n, value)
	return nil
}

func (n *ProofList) Delete(key []byte) error {
	return errors.New("proof list is append-only")
}

// Hex returns the proof nodes hex encoded, as served over JSON-RPC.
func (n ProofList) Hex() []string {
	out := make([]string, len(n))
	for i, node := range n {
		out[i] = hexutil.Encode(node)
	}
	return out
}

// DecodeHexProof decodes hex encoded proof nodes.
func DecodeHexProof(nodes []string) (ProofList, error) {
	out := make(ProofList, len(nodes))
	for i, node := range nodes {
		raw, err := hexutil.Decode(node)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrInvalidProof, i, err)
		}
		out[i] = raw
	}
	return out, nil
}

// proofDB indexes proof nodes by their hash for trie.VerifyProof.
func proofDB(nodes ProofList) ethdb.KeyValueReader {
	db := memorydb.New()
	for _, node := range nodes {
		_ = db.Put(crypto.Keccak256(node), node)
	}
	return db
}

// VerifyProof verifies a proof for key against root and returns the proven
// value. A nil value with a nil error is a valid proof of absence.
func VerifyProof(root common.Hash, key []byte, proof ProofList) ([]byte, error) {
	// The empty trie has no nodes to prove against.
	if root == types.EmptyRootHash {
		if len(proof) != 0 {
			return nil, fmt.Errorf("%w: non-empty proof for empty trie", ErrInvalidProof)
		}
		return nil, nil
	}

	value, err := trie.VerifyProof(root, key, proofDB(proof))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return value, nil
}

// VerifyAccountProof verifies an account proof in a secure (hashed key) trie
// and returns the proven leaf for address, nil if the account is absent.
func VerifyAccountProof(root common.Hash, address common.Address, proof ProofList) ([]byte, error) {
	return VerifyProof(root, crypto.Keccak256(address.Bytes()), proof)
}

// VerifyStateAccount verifies an Ethereum state trie account proof and decodes
// the proven account. Returns nil when the proof shows the account is absent.
func VerifyStateAccount(root common.Hash, address common.Address, proof ProofList) (*types.StateAccount, error) {
	leaf, err := VerifyAccountProof(root, address, proof)
	if err != nil {
		return nil, err
	}
	if leaf == nil {
		return nil, nil
	}

	account := new(types.StateAccount)
	if err := rlp.DecodeBytes(leaf, account); err != nil {
		return nil, fmt.Errorf("%w: decoding account: %v", ErrInvalidProof, err)
	}
	return account, nil
}
