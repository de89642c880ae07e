package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/ruteri/nodelist-registry/registry"
)

// ChainResolver reconstructs verified chain metadata from the registry contracts.
type ChainResolver struct {
	log      *slog.Logger
	clients  map[interfaces.ChainID]interfaces.ChainClient
	observer interfaces.ResolverObserver
}

// Option configures a ChainResolver.
type Option func(*ChainResolver)

// WithChainClient registers a client used when a chain's server registry
// lives on a chain other than the one hosting the chain registry.
func WithChainClient(client interfaces.ChainClient) Option {
	return func(r *ChainResolver) {
		r.clients[client.Config().ChainID.Canonical()] = client
	}
}

// WithObserver reports resolution outcomes to o.
func WithObserver(o interfaces.ResolverObserver) Option {
	return func(r *ChainResolver) {
		r.observer = o
	}
}

// NewChainResolver creates a resolver.
func NewChainResolver(log *slog.Logger, opts ...Option) *ChainResolver {
	r := &ChainResolver{
		log:      log,
		clients:  make(map[interfaces.ChainID]interfaces.ChainClient),
		observer: interfaces.NoopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve reads the chain registry entry for chainID and the server registry
// it points to, and returns a snapshot of the chain's metadata. All reads of
// one chain are made at a single pinned block.
//
// Resolve has no side effects and does not retry. Transport failures wrap
// interfaces.ErrTransport and may be retried by the caller.
func (r *ChainResolver) Resolve(ctx context.Context, client interfaces.ChainClient, chainID interfaces.ChainID) (*interfaces.ChainData, error) {
	start := time.Now()
	data, err := r.resolve(ctx, client, chainID)
	r.observer.ObserveResolve(chainID, time.Since(start), err)

	if err != nil {
		r.log.Debug("Resolve failed", "chainId", chainID.String(), "err", err)
		return nil, err
	}

	r.log.Debug("Resolved chain",
		"chainId", chainID.String(),
		"registry", data.RegistryContract.Hex(),
		"bootNodes", len(data.BootNodes),
		"duration", time.Since(start))
	return data, nil
}

func (r *ChainResolver) resolve(ctx context.Context, client interfaces.ChainClient, chainID interfaces.ChainID) (*interfaces.ChainData, error) {
	if chainID.Big().Sign() == 0 {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrInvalidChainID, chainID)
	}
	chainID = interfaces.ChainIDFromBig(chainID.Big())

	cfg := client.Config()
	cfg.ChainID = cfg.ChainID.Canonical()
	if v, ok := client.(interface{ Verified() bool }); ok && !v.Verified() {
		return nil, fmt.Errorf("%w: client for chain %s does not verify reads", interfaces.ErrInvalidConfig, cfg.ChainID)
	}
	if cfg.ChainRegistry == (common.Address{}) {
		return nil, fmt.Errorf("%w: chain registry address is required", interfaces.ErrInvalidConfig)
	}

	block, err := pin(ctx, client)
	if err != nil {
		return nil, err
	}

	entry, err := registry.NewChainRegistry(client, cfg.ChainRegistry).Chain(ctx, chainID, block)
	switch {
	case errors.Is(err, interfaces.ErrNoContract):
		return nil, fmt.Errorf("%w: no chain registry at %s: %v", interfaces.ErrChainNotFound, cfg.ChainRegistry.Hex(), err)
	case err != nil:
		return nil, err
	case entry.IsZero():
		return nil, fmt.Errorf("%w: %s is not registered", interfaces.ErrChainNotFound, chainID)
	}

	if cfg.ServerRegistry != (common.Address{}) && cfg.ServerRegistry != entry.RegistryContract {
		return nil, fmt.Errorf("%w: chain registry points to %s, configured server registry is %s",
			interfaces.ErrVerification, entry.RegistryContract.Hex(), cfg.ServerRegistry.Hex())
	}

	registryClient, registryBlock := client, block
	if !entry.ContractChain.IsZero() && entry.ContractChain != cfg.ChainID {
		foreign, ok := r.clients[entry.ContractChain]
		if !ok {
			return nil, fmt.Errorf("%w: server registry of %s lives on chain %s and no client is configured for it",
				interfaces.ErrChainNotFound, chainID, entry.ContractChain)
		}
		registryClient = foreign
		if registryBlock, err = pin(ctx, foreign); err != nil {
			return nil, err
		}
	}

	serverRegistry := registry.NewServerRegistry(registryClient, entry.RegistryContract)
	registered, err := serverRegistry.ChainID(ctx, registryBlock)
	switch {
	case errors.Is(err, interfaces.ErrNoContract):
		return nil, fmt.Errorf("%w: chain registry points to missing server registry %s", interfaces.ErrVerification, entry.RegistryContract.Hex())
	case err != nil:
		return nil, err
	case registered != chainID:
		return nil, fmt.Errorf("%w: server registry %s serves chain %s, expected %s",
			interfaces.ErrVerification, entry.RegistryContract.Hex(), registered, chainID)
	}

	servers, err := serverRegistry.Servers(ctx, registryBlock)
	if err != nil {
		return nil, err
	}

	bootNodes := make([]interfaces.BootNode, 0, len(servers))
	for i, server := range servers {
		if server.Address == (common.Address{}) {
			return nil, fmt.Errorf("%w: server %d has no owner", interfaces.ErrVerification, i)
		}
		if server.URL == "" {
			return nil, fmt.Errorf("%w: server %d has no url", interfaces.ErrVerification, i)
		}
		bootNodes = append(bootNodes, interfaces.BootNode{Address: server.Address, URL: server.URL})
	}

	contractChain := entry.ContractChain
	if contractChain.IsZero() {
		contractChain = cfg.ChainID
	}

	return &interfaces.ChainData{
		Owner:            entry.Owner,
		RegistryContract: entry.RegistryContract,
		ContractChain:    contractChain,
		BootNodes:        bootNodes,
		Meta:             entry.Meta,
	}, nil
}

func pin(ctx context.Context, client interfaces.ChainClient) (*big.Int, error) {
	block, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("pinning block: %w", err)
	}
	return new(big.Int).SetUint64(block), nil
}
