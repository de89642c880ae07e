package flags

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/nodelist-registry/contracts"
	"github.com/ruteri/nodelist-registry/devchain"
	"github.com/ruteri/nodelist-registry/evmclient"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/ruteri/nodelist-registry/seeds"
	"github.com/urfave/cli/v2"
)

var ChainRegistryCodeFlag = &cli.StringFlag{
	Name:  "chain-registry-code",
	Usage: "file with hex encoded ChainRegistry creation code (EVM only)",
}

var ServerRegistryCodeFlag = &cli.StringFlag{
	Name:  "server-registry-code",
	Usage: "file with hex encoded ServerRegistry creation code (EVM only)",
}

// LoadChainConfig builds the configuration from --config, overridden by the
// chain flags. Boot nodes come from --boot-node, then the config file, then
// --seed-domain discovery.
func LoadChainConfig(cCtx *cli.Context, log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if path := cCtx.String(ConfigFlag.Name); path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if raw := cCtx.String(ChainIDFlag.Name); raw != "" {
		chainID, err := interfaces.NewChainID(raw)
		if err != nil {
			return nil, err
		}
		cfg.ChainID = chainID
	}
	if raw := cCtx.String(ChainRegistryFlag.Name); raw != "" {
		address, err := parseAddress(ChainRegistryFlag.Name, raw)
		if err != nil {
			return nil, err
		}
		cfg.ChainRegistry = address
	}
	if raw := cCtx.String(ServerRegistryFlag.Name); raw != "" {
		address, err := parseAddress(ServerRegistryFlag.Name, raw)
		if err != nil {
			return nil, err
		}
		cfg.ServerRegistry = address
	}

	if raw := cCtx.StringSlice(BootNodeFlag.Name); len(raw) > 0 {
		cfg.BootNodes = cfg.BootNodes[:0]
		for _, source := range raw {
			node, err := interfaces.ParseBootNode(source)
			if err != nil {
				return nil, err
			}
			cfg.BootNodes = append(cfg.BootNodes, node)
		}
	}

	if domain := cCtx.String(SeedDomainFlag.Name); domain != "" && len(cfg.BootNodes) == 0 {
		nodes, err := seeds.NewResolver(cCtx.String(DNSServerFlag.Name), log).Lookup(cCtx.Context, domain, cfg.ChainID)
		if err != nil {
			return nil, fmt.Errorf("discovering boot nodes: %w", err)
		}
		cfg.BootNodes = nodes
	}

	if cfg.ChainID.IsZero() {
		return nil, fmt.Errorf("%w: --%s or chain_id in --%s is required", interfaces.ErrInvalidConfig, ChainIDFlag.Name, ConfigFlag.Name)
	}
	return cfg, nil
}

func parseAddress(name, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid --%s address %q", name, raw)
	}
	return common.HexToAddress(raw), nil
}

// NewChainClient connects to the chain: through JSON-RPC when --rpc-addr is
// set, otherwise through the devchain node API of the configured boot nodes.
func NewChainClient(cCtx *cli.Context, cfg interfaces.ClientConfig, log *slog.Logger) (interfaces.ChainClient, error) {
	if rpcAddr := cCtx.String(RpcAddrFlag.Name); rpcAddr != "" {
		log.Info("Connecting to Ethereum RPC", "address", rpcAddr)
		return evmclient.Dial(cCtx.Context, rpcAddr, cfg, log)
	}

	transport := devchain.NewLoggingTransport(devchain.NewHTTPTransport(cCtx.Duration(NodeTimeoutFlag.Name)), log)
	return devchain.NewClient(cfg, transport, log)
}

// LoadArtifacts returns the contract creation code matching the client
// selected by NewChainClient.
func LoadArtifacts(cCtx *cli.Context, cfg *Config) (contracts.Artifacts, error) {
	if cCtx.String(RpcAddrFlag.Name) == "" {
		return contracts.NativeArtifacts(), nil
	}

	chainRegistry := cCtx.String(ChainRegistryCodeFlag.Name)
	if chainRegistry == "" {
		chainRegistry = cfg.Artifacts.ChainRegistry
	}
	serverRegistry := cCtx.String(ServerRegistryCodeFlag.Name)
	if serverRegistry == "" {
		serverRegistry = cfg.Artifacts.ServerRegistry
	}

	artifacts, err := contracts.LoadArtifacts(chainRegistry, serverRegistry)
	if err != nil {
		return contracts.Artifacts{}, err
	}
	return artifacts, artifacts.Validate()
}

// ValidateForRead checks cfg holds what resolving needs. Boot nodes are only
// required when no --rpc-addr is given.
func ValidateForRead(cCtx *cli.Context, cfg interfaces.ClientConfig) error {
	if cCtx.String(RpcAddrFlag.Name) == "" {
		return cfg.ValidateForRead()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ChainRegistry == (common.Address{}) {
		return fmt.Errorf("%w: --%s is required", interfaces.ErrInvalidConfig, ChainRegistryFlag.Name)
	}
	return nil
}
