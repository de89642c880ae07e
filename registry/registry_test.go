package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/ruteri/nodelist-registry/contracts"
	"github.com/ruteri/nodelist-registry/cryptoutils"
	"github.com/ruteri/nodelist-registry/devchain"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testKeyHex  = "0xb903239f8543d04b5dc1ba6579132b143087c68db1b2168786408fcbce568238"
	testKey2Hex = "0xaaaa239f8543d04b5dc1ba6579132b143087c68db1b2168786408fcbce568238"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func mustKey(t *testing.T, hex string) *ecdsa.PrivateKey {
	t.Helper()
	key, err := cryptoutils.ParsePrivateKey(hex)
	require.NoError(t, err)
	return key
}

func derivedKey(t *testing.T, label string) *ecdsa.PrivateKey {
	t.Helper()
	key, err := cryptoutils.DeriveKey([]byte("registry tests"), label)
	require.NoError(t, err)
	return key
}

// setupDevChain starts an in-process chain 0x99 sealed by the first test key.
func setupDevChain(t *testing.T, opts ...devchain.NodeOption) *devchain.LocalChain {
	t.Helper()
	chain, err := devchain.NewLocalChain("0x99", mustKey(t, testKeyHex), "local://seed", testLogger, opts...)
	require.NoError(t, err)
	return chain
}

func TestRegistryManager_Register(t *testing.T) {
	ctx := context.Background()
	chain := setupDevChain(t)
	pk := mustKey(t, testKeyHex)
	pk2 := mustKey(t, testKey2Hex)

	manager := NewRegistryManager(chain.Client, contracts.NativeArtifacts(), testLogger)
	result, err := manager.Register(ctx, RegisterRequest{
		DeployerKey: pk,
		ChainID:     "0x99",
		Meta:        "dummy",
		Nodes: []interfaces.NodeDescriptor{
			{URL: "#1", PrivateKey: pk, Properties: 0xff},
			{URL: "#2", PrivateKey: pk2, Properties: 0xff},
		},
	})
	require.NoError(t, err)

	assert.NotEqual(t, common.Address{}, result.ChainRegistry)
	assert.NotEqual(t, common.Address{}, result.ServerRegistry)
	assert.Len(t, result.ChainRegistry.Hex(), 42)
	assert.Len(t, result.ServerRegistry.Hex(), 42)
	assert.Equal(t, interfaces.ChainID("0x99"), result.ChainID)

	require.Len(t, result.Nodes, 2)
	assert.Equal(t, cryptoutils.AddressOf(pk), result.Nodes[0].Address)
	assert.Equal(t, cryptoutils.AddressOf(pk2), result.Nodes[1].Address)
	assert.NotNil(t, result.Nodes[1].Confirmation)

	chainRegistry := NewChainRegistry(chain.Client, result.ChainRegistry)
	owner, err := chainRegistry.Owner(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, cryptoutils.AddressOf(pk), owner)

	entry, err := chainRegistry.Chain(ctx, "0x99", nil)
	require.NoError(t, err)
	assert.Equal(t, "dummy", entry.Meta)
	assert.Equal(t, result.ServerRegistry, entry.RegistryContract)
	assert.Equal(t, interfaces.ChainID("0x99"), entry.ContractChain)

	serverRegistry := NewServerRegistry(chain.Client, result.ServerRegistry)
	chainID, err := serverRegistry.ChainID(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ChainID("0x99"), chainID)

	servers, err := serverRegistry.Servers(ctx, nil)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "#1", servers[0].URL)
	assert.Equal(t, cryptoutils.AddressOf(pk), servers[0].Address)
	assert.Equal(t, "#2", servers[1].URL)
	assert.Equal(t, cryptoutils.AddressOf(pk2), servers[1].Address)
	assert.Equal(t, uint64(0xff), servers[1].Properties)
	assert.Equal(t, int64(0), servers[1].Deposit.Int64())
}

func TestRegistryManager_ReuseContracts(t *testing.T) {
	ctx := context.Background()
	chain := setupDevChain(t)
	deployer := derivedKey(t, "deployer")

	manager := NewRegistryManager(chain.Client, contracts.NativeArtifacts(), testLogger)
	first, err := manager.Register(ctx, RegisterRequest{
		DeployerKey: deployer,
		ChainID:     "0x99",
		Meta:        "dummy",
		Nodes:       []interfaces.NodeDescriptor{{URL: "#1", PrivateKey: derivedKey(t, "n1")}},
	})
	require.NoError(t, err)
	deployerNonce := chain.Node.Nonce(cryptoutils.AddressOf(deployer))

	second, err := manager.Register(ctx, RegisterRequest{
		DeployerKey:    deployer,
		ChainRegistry:  &first.ChainRegistry,
		ServerRegistry: &first.ServerRegistry,
		ChainID:        "0x99",
		Meta:           "dummy",
		Nodes:          []interfaces.NodeDescriptor{{URL: "#2", PrivateKey: derivedKey(t, "n2")}},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ChainRegistry, second.ChainRegistry)
	assert.Equal(t, first.ServerRegistry, second.ServerRegistry)

	// Nothing deployed and the identical chain entry was not rewritten.
	assert.Equal(t, deployerNonce, chain.Node.Nonce(cryptoutils.AddressOf(deployer)))

	total, err := NewServerRegistry(chain.Client, second.ServerRegistry).TotalServers(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), total)

	// A changed meta is written again.
	_, err = manager.LinkChain(ctx, RegisterRequest{
		DeployerKey:    deployer,
		ChainRegistry:  &first.ChainRegistry,
		ServerRegistry: &first.ServerRegistry,
		ChainID:        "0x99",
		Meta:           "updated",
	})
	require.NoError(t, err)
	assert.Equal(t, deployerNonce+1, chain.Node.Nonce(cryptoutils.AddressOf(deployer)))

	entry, err := NewChainRegistry(chain.Client, first.ChainRegistry).Chain(ctx, "0x99", nil)
	require.NoError(t, err)
	assert.Equal(t, "updated", entry.Meta)
}

func TestRegistryManager_InvalidNodes(t *testing.T) {
	testCases := []struct {
		name  string
		nodes func(t *testing.T) []interfaces.NodeDescriptor
		index int
	}{
		{
			name: "empty url",
			nodes: func(t *testing.T) []interfaces.NodeDescriptor {
				return []interfaces.NodeDescriptor{
					{URL: "#1", PrivateKey: derivedKey(t, "n1")},
					{URL: "", PrivateKey: derivedKey(t, "n2")},
					{URL: "#3", PrivateKey: derivedKey(t, "n3")},
				}
			},
			index: 1,
		},
		{
			name: "duplicate url",
			nodes: func(t *testing.T) []interfaces.NodeDescriptor {
				return []interfaces.NodeDescriptor{
					{URL: "#1", PrivateKey: derivedKey(t, "n1")},
					{URL: "#1", PrivateKey: derivedKey(t, "n2")},
				}
			},
			index: 1,
		},
		{
			name: "missing key",
			nodes: func(t *testing.T) []interfaces.NodeDescriptor {
				return []interfaces.NodeDescriptor{
					{URL: "#1", PrivateKey: derivedKey(t, "n1")},
					{URL: "#2"},
				}
			},
			index: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			chain := setupDevChain(t)
			nodes := tc.nodes(t)

			manager := NewRegistryManager(chain.Client, contracts.NativeArtifacts(), testLogger)
			result, err := manager.Register(ctx, RegisterRequest{
				DeployerKey: derivedKey(t, "deployer"),
				ChainID:     "0x99",
				Nodes:       nodes,
			})
			require.Error(t, err)
			require.ErrorIs(t, err, interfaces.ErrRegistration)
			require.ErrorIs(t, err, interfaces.ErrInvalidNode)

			var regErr *interfaces.RegistrationError
			require.True(t, errors.As(err, &regErr))
			assert.Equal(t, tc.index, regErr.Index)
			assert.Equal(t, nodes[tc.index].URL, regErr.URL)

			// Earlier registrations stay confirmed and on chain.
			require.NotNil(t, result)
			require.Len(t, result.Nodes, tc.index)
			servers, err := NewServerRegistry(chain.Client, result.ServerRegistry).Servers(ctx, nil)
			require.NoError(t, err)
			require.Len(t, servers, tc.index)
			assert.Equal(t, "#1", servers[0].URL)
		})
	}
}

func TestRegistryManager_InsufficientDeposit(t *testing.T) {
	ctx := context.Background()
	rich := derivedKey(t, "rich")
	poor := derivedKey(t, "poor")
	funded := setupDevChain(t, devchain.WithGenesisAlloc(map[common.Address]*big.Int{
		cryptoutils.AddressOf(rich): big.NewInt(1_000),
	}))

	manager := NewRegistryManager(funded.Client, contracts.NativeArtifacts(), testLogger)
	result, err := manager.Register(ctx, RegisterRequest{
		DeployerKey: derivedKey(t, "deployer"),
		ChainID:     "0x99",
		Nodes: []interfaces.NodeDescriptor{
			{URL: "#1", PrivateKey: rich, Deposit: big.NewInt(500)},
			{URL: "#2", PrivateKey: poor, Deposit: big.NewInt(500)},
		},
	})
	require.ErrorIs(t, err, interfaces.ErrRegistration)
	require.ErrorIs(t, err, devchain.ErrRejected)
	require.Len(t, result.Nodes, 1)
	assert.Equal(t, int64(500), result.Nodes[0].Deposit.Int64())
	assert.Equal(t, int64(500), funded.Node.Balance(result.ServerRegistry).Int64())
}

func TestRegistryManager_ForeignChainRegistry(t *testing.T) {
	ctx := context.Background()
	chain := setupDevChain(t)

	foreign, _, err := DeployChainRegistry(ctx, chain.Client, contracts.NativeArtifacts(), derivedKey(t, "someone else"))
	require.NoError(t, err)
	address := foreign.Address()

	manager := NewRegistryManager(chain.Client, contracts.NativeArtifacts(), testLogger)
	_, err = manager.Register(ctx, RegisterRequest{
		DeployerKey:   derivedKey(t, "deployer"),
		ChainRegistry: &address,
		ChainID:       "0x99",
		Nodes:         []interfaces.NodeDescriptor{{URL: "#1", PrivateKey: derivedKey(t, "n1")}},
	})
	require.ErrorIs(t, err, interfaces.ErrDeployment)
	require.ErrorIs(t, err, interfaces.ErrTxReverted)

	var deployErr *interfaces.DeploymentError
	require.True(t, errors.As(err, &deployErr))
	assert.Equal(t, contracts.ChainRegistryName, deployErr.Contract)
}

func TestRegistryManager_Concurrent(t *testing.T) {
	ctx := context.Background()
	chain := setupDevChain(t)

	keys := []*ecdsa.PrivateKey{derivedKey(t, "a"), derivedKey(t, "b"), derivedKey(t, "c")}
	var nodes []interfaces.NodeDescriptor
	for i := 0; i < 9; i++ {
		nodes = append(nodes, interfaces.NodeDescriptor{
			URL:        fmt.Sprintf("https://node-%d.example", i),
			PrivateKey: keys[i%len(keys)],
			Properties: uint64(i),
		})
	}

	manager := NewRegistryManager(chain.Client, contracts.NativeArtifacts(), testLogger, WithConcurrency(4))
	result, err := manager.Register(ctx, RegisterRequest{
		DeployerKey: derivedKey(t, "deployer"),
		ChainID:     "0x99",
		Nodes:       nodes,
	})
	require.NoError(t, err)

	require.Len(t, result.Nodes, len(nodes))
	for i, record := range result.Nodes {
		assert.Equal(t, nodes[i].URL, record.URL)
		assert.Equal(t, cryptoutils.AddressOf(nodes[i].PrivateKey), record.Address)
	}

	// On-chain order is the confirmation order; compare as sets.
	servers, err := NewServerRegistry(chain.Client, result.ServerRegistry).Servers(ctx, nil)
	require.NoError(t, err)
	var onChain, submitted []string
	for i := range servers {
		onChain = append(onChain, servers[i].URL)
		submitted = append(submitted, nodes[i].URL)
	}
	sort.Strings(onChain)
	sort.Strings(submitted)
	assert.Equal(t, submitted, onChain)
}

func TestRegistryManager_ConcurrentFailures(t *testing.T) {
	ctx := context.Background()
	chain := setupDevChain(t)

	nodes := []interfaces.NodeDescriptor{
		{URL: "#1", PrivateKey: derivedKey(t, "a")},
		{URL: "", PrivateKey: derivedKey(t, "b")},
		{URL: "#3", PrivateKey: derivedKey(t, "c")},
		{URL: "#3", PrivateKey: derivedKey(t, "d")},
	}

	manager := NewRegistryManager(chain.Client, contracts.NativeArtifacts(), testLogger, WithConcurrency(2))
	result, err := manager.Register(ctx, RegisterRequest{
		DeployerKey: derivedKey(t, "deployer"),
		ChainID:     "0x99",
		Nodes:       nodes,
	})
	require.ErrorIs(t, err, interfaces.ErrRegistration)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 2)
	assert.Equal(t, 1, nodeIndex(merr.Errors[0]))
	assert.Equal(t, 3, nodeIndex(merr.Errors[1]))

	require.Len(t, result.Nodes, 2)
	assert.Equal(t, "#1", result.Nodes[0].URL)
	assert.Equal(t, "#3", result.Nodes[1].URL)
}

func TestRegistryManager_DeploymentFailure(t *testing.T) {
	ctx := context.Background()
	cause := fmt.Errorf("%w: connection refused", interfaces.ErrTransport)

	client := new(MockChainClient)
	client.On("Transact", mock.Anything, mock.MatchedBy(func(tx interfaces.TxRequest) bool {
		return tx.To == nil
	})).Return(nil, cause).Once()

	manager := NewRegistryManager(client, contracts.NativeArtifacts(), testLogger)
	result, err := manager.Register(ctx, RegisterRequest{
		DeployerKey: derivedKey(t, "deployer"),
		ChainID:     "0x99",
		Nodes:       []interfaces.NodeDescriptor{{URL: "#1", PrivateKey: derivedKey(t, "n1")}},
	})
	require.ErrorIs(t, err, interfaces.ErrDeployment)
	require.ErrorIs(t, err, interfaces.ErrTransport)
	assert.True(t, interfaces.IsRetryable(err))

	var deployErr *interfaces.DeploymentError
	require.True(t, errors.As(err, &deployErr))
	assert.Equal(t, contracts.ChainRegistryName, deployErr.Contract)
	assert.Equal(t, common.Address{}, result.ChainRegistry)

	client.AssertExpectations(t)
}

func TestRegistryManager_DeploymentWithoutAddress(t *testing.T) {
	ctx := context.Background()

	client := new(MockChainClient)
	client.On("Transact", mock.Anything, mock.Anything).Return(&interfaces.Confirmation{BlockNumber: 1}, nil).Once()

	manager := NewRegistryManager(client, contracts.NativeArtifacts(), testLogger)
	_, err := manager.LinkChain(ctx, RegisterRequest{
		DeployerKey: derivedKey(t, "deployer"),
		ChainID:     "0x99",
	})
	require.ErrorIs(t, err, interfaces.ErrDeployment)
	require.ErrorIs(t, err, ErrNoContractAddress)
}

func TestRegistryManager_RequestValidation(t *testing.T) {
	manager := NewRegistryManager(new(MockChainClient), contracts.NativeArtifacts(), testLogger)

	_, err := manager.Register(context.Background(), RegisterRequest{ChainID: "0x99"})
	require.Error(t, err)

	_, err = manager.Register(context.Background(), RegisterRequest{DeployerKey: derivedKey(t, "deployer")})
	require.ErrorIs(t, err, interfaces.ErrInvalidChainID)

	// Nothing is deployed when there are no nodes; the mock has no expectations.
	result, err := manager.Register(context.Background(), RegisterRequest{DeployerKey: derivedKey(t, "deployer"), ChainID: "0x99"})
	require.ErrorIs(t, err, interfaces.ErrInvalidNode)
	assert.Nil(t, result)
}

func TestRegistryManager_LinkChain(t *testing.T) {
	ctx := context.Background()
	chain := setupDevChain(t)
	deployer := derivedKey(t, "deployer")

	manager := NewRegistryManager(chain.Client, contracts.NativeArtifacts(), testLogger)
	result, err := manager.LinkChain(ctx, RegisterRequest{
		DeployerKey: deployer,
		ChainID:     "0x99",
		Meta:        "meta only",
		Nodes:       []interfaces.NodeDescriptor{{URL: "#ignored", PrivateKey: derivedKey(t, "n1")}},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Nodes)

	entry, err := NewChainRegistry(chain.Client, result.ChainRegistry).Chain(ctx, "0x99", nil)
	require.NoError(t, err)
	assert.Equal(t, "meta only", entry.Meta)
	assert.Equal(t, result.ServerRegistry, entry.RegistryContract)

	total, err := NewServerRegistry(chain.Client, result.ServerRegistry).TotalServers(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), total)
}

func TestRegistryManager_NonCanonicalChainID(t *testing.T) {
	ctx := context.Background()
	pk := mustKey(t, testKeyHex)
	chain := setupDevChain(t)

	client, err := chain.ClientFor(interfaces.ClientConfig{ChainID: "0x099"}, testLogger)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ChainID("0x99"), client.Config().ChainID)

	result, err := NewRegistryManager(client, contracts.NativeArtifacts(), testLogger).Register(ctx, RegisterRequest{
		DeployerKey: pk,
		ChainID:     "0x0099",
		Nodes:       []interfaces.NodeDescriptor{{URL: "#1", PrivateKey: pk}},
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.ChainID("0x99"), result.ChainID)

	entry, err := NewChainRegistry(client, result.ChainRegistry).Chain(ctx, "0x99", nil)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ChainID("0x99"), entry.ContractChain)
}

func TestServerRegistry_ServerOutOfRange(t *testing.T) {
	ctx := context.Background()
	chain := setupDevChain(t)

	registry, _, err := DeployServerRegistry(ctx, chain.Client, contracts.NativeArtifacts(), derivedKey(t, "deployer"), "0x99")
	require.NoError(t, err)

	_, err = registry.Server(ctx, 0, nil)
	require.ErrorIs(t, err, devchain.ErrExecutionReverted)

	total, err := registry.TotalServers(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, total)
}
