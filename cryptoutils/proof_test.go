package cryptoutils

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStateTrie(t *testing.T, accounts map[common.Address]*types.StateAccount) *trie.Trie {
	t.Helper()

	tr := trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))
	for addr, account := range accounts {
		leaf, err := rlp.EncodeToBytes(account)
		require.NoError(t, err)
		require.NoError(t, tr.Update(crypto.Keccak256(addr.Bytes()), leaf))
	}
	return tr
}

func proveAccount(t *testing.T, tr *trie.Trie, addr common.Address) ProofList {
	t.Helper()

	var proof ProofList
	require.NoError(t, tr.Prove(crypto.Keccak256(addr.Bytes()), &proof))
	return proof
}

func TestVerifyStateAccount(t *testing.T) {
	present := common.HexToAddress("0x1000000000000000000000000000000000000001")
	other := common.HexToAddress("0x2000000000000000000000000000000000000002")
	absent := common.HexToAddress("0x3000000000000000000000000000000000000003")

	account := types.NewEmptyStateAccount()
	account.Nonce = 7
	account.Balance = uint256.NewInt(1000)
	account.CodeHash = crypto.Keccak256([]byte("code"))

	tr := buildStateTrie(t, map[common.Address]*types.StateAccount{
		present: account,
		other:   types.NewEmptyStateAccount(),
	})
	root := tr.Hash()

	t.Run("present account", func(t *testing.T) {
		proven, err := VerifyStateAccount(root, present, proveAccount(t, tr, present))
		require.NoError(t, err)
		require.NotNil(t, proven)
		assert.Equal(t, uint64(7), proven.Nonce)
		assert.Equal(t, uint64(1000), proven.Balance.Uint64())
		assert.Equal(t, account.CodeHash, proven.CodeHash)
	})

	t.Run("absent account", func(t *testing.T) {
		proven, err := VerifyStateAccount(root, absent, proveAccount(t, tr, absent))
		require.NoError(t, err)
		assert.Nil(t, proven)
	})

	t.Run("wrong root", func(t *testing.T) {
		wrongRoot := common.BytesToHash(crypto.Keccak256([]byte("not a root")))
		_, err := VerifyStateAccount(wrongRoot, present, proveAccount(t, tr, present))
		require.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("proof for another account", func(t *testing.T) {
		proven, err := VerifyStateAccount(root, present, proveAccount(t, tr, other))
		// The sibling proof either fails or proves a different leaf, never the requested account.
		if err == nil {
			assert.Nil(t, proven)
		} else {
			require.ErrorIs(t, err, ErrInvalidProof)
		}
	})

	t.Run("hex round trip", func(t *testing.T) {
		proof := proveAccount(t, tr, present)
		decoded, err := DecodeHexProof(proof.Hex())
		require.NoError(t, err)
		assert.Equal(t, proof, decoded)

		_, err = DecodeHexProof([]string{"0xzz"})
		require.ErrorIs(t, err, ErrInvalidProof)
	})
}
