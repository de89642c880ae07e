package contracts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestABIMethods(t *testing.T) {
	for _, name := range []string{"owner", "registerChain", "chains"} {
		_, ok := ChainRegistry.Methods[name]
		assert.True(t, ok, "chain registry method %s", name)
	}
	for _, name := range []string{"chainId", "registerServer", "totalServers", "servers"} {
		_, ok := ServerRegistry.Methods[name]
		assert.True(t, ok, "server registry method %s", name)
	}
	assert.True(t, ServerRegistry.Methods["registerServer"].IsPayable())
}

func TestNativeDeployData(t *testing.T) {
	artifacts := NativeArtifacts()
	require.NoError(t, artifacts.Validate())

	var chain [32]byte
	chain[31] = 0x99

	data, err := artifacts.ServerRegistryDeployData(chain)
	require.NoError(t, err)

	name, args, ok := SplitNative(data)
	require.True(t, ok)
	assert.Equal(t, ServerRegistryName, name)

	unpacked, err := ServerRegistry.Constructor.Inputs.Unpack(args)
	require.NoError(t, err)
	require.Len(t, unpacked, 1)
	assert.Equal(t, chain, unpacked[0].([32]byte))

	data, err = artifacts.ChainRegistryDeployData()
	require.NoError(t, err)
	name, args, ok = SplitNative(data)
	require.True(t, ok)
	assert.Equal(t, ChainRegistryName, name)
	assert.Empty(t, args)

	_, _, ok = SplitNative([]byte{0x60, 0x00})
	assert.False(t, ok)
}

func TestLoadArtifacts(t *testing.T) {
	dir := t.TempDir()
	crPath := filepath.Join(dir, "ChainRegistry.bin")
	srPath := filepath.Join(dir, "ServerRegistry.bin")
	require.NoError(t, os.WriteFile(crPath, []byte("6000600055\n"), 0o600))
	require.NoError(t, os.WriteFile(srPath, []byte("0x60016000f3"), 0o600))

	artifacts, err := LoadArtifacts(crPath, srPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x00, 0x60, 0x00, 0x55}, artifacts.ChainRegistry)
	assert.Equal(t, []byte{0x60, 0x01, 0x60, 0x00, 0xf3}, artifacts.ServerRegistry)

	_, err = LoadArtifacts(filepath.Join(dir, "missing.bin"), srPath)
	require.Error(t, err)

	assert.ErrorIs(t, Artifacts{}.Validate(), ErrMissingArtifact)
}
