package cryptoutils

import (
	"crypto/ecdsa"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeyHex  = "0xb903239f8543d04b5dc1ba6579132b143087c68db1b2168786408fcbce568238"
	testKey2Hex = "0xaaaa239f8543d04b5dc1ba6579132b143087c68db1b2168786408fcbce568238"
)

func TestAddressOf(t *testing.T) {
	key, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)
	key2, err := ParsePrivateKey(testKey2Hex)
	require.NoError(t, err)

	// Same key, same address.
	again, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, AddressOf(key), AddressOf(again))

	// Distinct keys, distinct addresses.
	assert.NotEqual(t, AddressOf(key), AddressOf(key2))

	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), AddressOf(key))
	assert.Len(t, AddressOf(key).Hex(), 42)
}

func TestAddressOf_Injective(t *testing.T) {
	const samples = 1000

	seen := make(map[common.Address]int, samples)
	for i := 0; i < samples; i++ {
		var (
			key *ecdsa.PrivateKey
			err error
		)
		if i%2 == 0 {
			key, err = crypto.GenerateKey()
		} else {
			key, err = DeriveKey([]byte("address sample"), fmt.Sprintf("node-%d", i))
		}
		require.NoError(t, err)

		address := AddressOf(key)
		require.Equal(t, address, AddressOf(key), "sample %d", i)

		restored, err := ParsePrivateKey(EncodePrivateKey(key))
		require.NoError(t, err)
		require.Equal(t, address, AddressOf(restored), "sample %d", i)

		first, dup := seen[address]
		require.False(t, dup, "samples %d and %d share address %s", first, i, address.Hex())
		seen[address] = i
	}
	assert.Len(t, seen, samples)
}

func TestParsePrivateKey(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "with prefix", input: testKeyHex},
		{name: "without prefix", input: testKeyHex[2:]},
		{name: "surrounding whitespace", input: "  " + testKeyHex + "\n"},
		{name: "empty", input: "", wantErr: true},
		{name: "short", input: "0x1234", wantErr: true},
		{name: "not hex", input: "0xzz03239f8543d04b5dc1ba6579132b143087c68db1b2168786408fcbce568238", wantErr: true},
		{name: "zero key", input: "0x0000000000000000000000000000000000000000000000000000000000000000", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := ParsePrivateKey(tc.input)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testKeyHex, EncodePrivateKey(key))
		})
	}
}

func TestDeriveKey(t *testing.T) {
	seed := []byte("devchain seed")

	a, err := DeriveKey(seed, "node-1")
	require.NoError(t, err)
	b, err := DeriveKey(seed, "node-1")
	require.NoError(t, err)
	c, err := DeriveKey(seed, "node-2")
	require.NoError(t, err)

	assert.Equal(t, AddressOf(a), AddressOf(b))
	assert.NotEqual(t, AddressOf(a), AddressOf(c))

	_, err = DeriveKey(nil, "node-1")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestSignAndRecover(t *testing.T) {
	key, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)

	hash := common.BytesToHash(crypto.Keccak256([]byte("header")))
	sig, err := SignHash(hash, key)
	require.NoError(t, err)

	signer, err := RecoverAddress(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, AddressOf(key), signer)

	other := common.BytesToHash(crypto.Keccak256([]byte("other header")))
	signer, err = RecoverAddress(other, sig)
	require.NoError(t, err)
	assert.NotEqual(t, AddressOf(key), signer)

	_, err = RecoverAddress(hash, sig[:10])
	require.ErrorIs(t, err, ErrInvalidSignature)
}
