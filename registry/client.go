package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/nodelist-registry/contracts"
	"github.com/ruteri/nodelist-registry/cryptoutils"
	"github.com/ruteri/nodelist-registry/interfaces"
)

// ErrNoContractAddress is returned when a deployment receipt carries no contract address.
var ErrNoContractAddress = errors.New("no contract address in deployment receipt")

// ChainEntry is a chain registry record.
type ChainEntry struct {
	Owner            common.Address
	Meta             string
	RegistryContract common.Address
	ContractChain    interfaces.ChainID
}

// IsZero reports whether the entry is unset.
func (e *ChainEntry) IsZero() bool {
	return e.Owner == (common.Address{}) && e.RegistryContract == (common.Address{})
}

// call packs a method call, performs a verified read and unpacks the result.
func call(ctx context.Context, client interfaces.ChainClient, contract *abi.ABI, address common.Address, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}

	output, err := client.Call(ctx, address, data, block)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, address.Hex(), err)
	}

	values, err := contract.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s output: %v", interfaces.ErrVerification, method, err)
	}
	return values, nil
}

func deploy(ctx context.Context, client interfaces.ChainClient, name string, deployer *ecdsa.PrivateKey, data []byte) (*interfaces.Confirmation, error) {
	conf, err := client.Transact(ctx, interfaces.TxRequest{Signer: deployer, Data: data})
	if err != nil {
		return nil, &interfaces.DeploymentError{Contract: name, Err: err}
	}
	if conf.ContractAddress == (common.Address{}) {
		return nil, &interfaces.DeploymentError{Contract: name, Err: ErrNoContractAddress}
	}
	return conf, nil
}

// ChainRegistry is a client of a deployed chain registry contract.
type ChainRegistry struct {
	client  interfaces.ChainClient
	address common.Address
}

// NewChainRegistry binds to the chain registry at address.
func NewChainRegistry(client interfaces.ChainClient, address common.Address) *ChainRegistry {
	return &ChainRegistry{client: client, address: address}
}

// DeployChainRegistry deploys a chain registry owned by deployer.
func DeployChainRegistry(ctx context.Context, client interfaces.ChainClient, artifacts contracts.Artifacts, deployer *ecdsa.PrivateKey) (*ChainRegistry, *interfaces.Confirmation, error) {
	data, err := artifacts.ChainRegistryDeployData()
	if err != nil {
		return nil, nil, &interfaces.DeploymentError{Contract: contracts.ChainRegistryName, Err: err}
	}

	conf, err := deploy(ctx, client, contracts.ChainRegistryName, deployer, data)
	if err != nil {
		return nil, nil, err
	}
	return NewChainRegistry(client, conf.ContractAddress), conf, nil
}

// Address returns the contract address.
func (r *ChainRegistry) Address() common.Address {
	return r.address
}

// Owner returns the registry owner.
func (r *ChainRegistry) Owner(ctx context.Context, block *big.Int) (common.Address, error) {
	values, err := call(ctx, r.client, &contracts.ChainRegistry, r.address, block, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return values[0].(common.Address), nil
}

// Chain returns the entry for chain. Unregistered chains yield a zero entry.
func (r *ChainRegistry) Chain(ctx context.Context, chain interfaces.ChainID, block *big.Int) (*ChainEntry, error) {
	values, err := call(ctx, r.client, &contracts.ChainRegistry, r.address, block, "chains", chain.Bytes32())
	if err != nil {
		return nil, err
	}
	return &ChainEntry{
		Owner:            values[0].(common.Address),
		Meta:             values[1].(string),
		RegistryContract: values[2].(common.Address),
		ContractChain:    interfaces.ChainIDFromBytes32(values[3].([32]byte)),
	}, nil
}

// RegisterChain links chain to its server registry. Only the registry owner may call it.
func (r *ChainRegistry) RegisterChain(ctx context.Context, signer *ecdsa.PrivateKey, chain interfaces.ChainID, meta string, registryContract common.Address, contractChain interfaces.ChainID) (*interfaces.Confirmation, error) {
	data, err := contracts.ChainRegistry.Pack("registerChain", chain.Bytes32(), meta, registryContract, contractChain.Bytes32())
	if err != nil {
		return nil, fmt.Errorf("packing registerChain: %w", err)
	}
	return r.client.Transact(ctx, interfaces.TxRequest{Signer: signer, To: &r.address, Data: data})
}

// ServerRegistry is a client of a deployed server registry contract.
type ServerRegistry struct {
	client  interfaces.ChainClient
	address common.Address
}

// NewServerRegistry binds to the server registry at address.
func NewServerRegistry(client interfaces.ChainClient, address common.Address) *ServerRegistry {
	return &ServerRegistry{client: client, address: address}
}

// DeployServerRegistry deploys a server registry bound to chain.
func DeployServerRegistry(ctx context.Context, client interfaces.ChainClient, artifacts contracts.Artifacts, deployer *ecdsa.PrivateKey, chain interfaces.ChainID) (*ServerRegistry, *interfaces.Confirmation, error) {
	data, err := artifacts.ServerRegistryDeployData(chain.Bytes32())
	if err != nil {
		return nil, nil, &interfaces.DeploymentError{Contract: contracts.ServerRegistryName, Err: err}
	}

	conf, err := deploy(ctx, client, contracts.ServerRegistryName, deployer, data)
	if err != nil {
		return nil, nil, err
	}
	return NewServerRegistry(client, conf.ContractAddress), conf, nil
}

// Address returns the contract address.
func (r *ServerRegistry) Address() common.Address {
	return r.address
}

// ChainID returns the chain the registry serves.
func (r *ServerRegistry) ChainID(ctx context.Context, block *big.Int) (interfaces.ChainID, error) {
	values, err := call(ctx, r.client, &contracts.ServerRegistry, r.address, block, "chainId")
	if err != nil {
		return "", err
	}
	return interfaces.ChainIDFromBytes32(values[0].([32]byte)), nil
}

// TotalServers returns the number of registered servers.
func (r *ServerRegistry) TotalServers(ctx context.Context, block *big.Int) (uint64, error) {
	values, err := call(ctx, r.client, &contracts.ServerRegistry, r.address, block, "totalServers")
	if err != nil {
		return 0, err
	}
	total := values[0].(*big.Int)
	if !total.IsUint64() {
		return 0, fmt.Errorf("%w: server count %s out of range", interfaces.ErrVerification, total)
	}
	return total.Uint64(), nil
}

// Server returns the server registered at index.
func (r *ServerRegistry) Server(ctx context.Context, index uint64, block *big.Int) (interfaces.NodeRecord, error) {
	values, err := call(ctx, r.client, &contracts.ServerRegistry, r.address, block, "servers", new(big.Int).SetUint64(index))
	if err != nil {
		return interfaces.NodeRecord{}, err
	}

	props := values[3].(*big.Int)
	if !props.IsUint64() {
		return interfaces.NodeRecord{}, fmt.Errorf("%w: server %d properties out of range", interfaces.ErrVerification, index)
	}
	return interfaces.NodeRecord{
		URL:        values[0].(string),
		Address:    values[1].(common.Address),
		Deposit:    values[2].(*big.Int),
		Properties: props.Uint64(),
	}, nil
}

// Servers returns all registered servers in registration order.
func (r *ServerRegistry) Servers(ctx context.Context, block *big.Int) ([]interfaces.NodeRecord, error) {
	total, err := r.TotalServers(ctx, block)
	if err != nil {
		return nil, err
	}

	servers := make([]interfaces.NodeRecord, 0, total)
	for i := uint64(0); i < total; i++ {
		server, err := r.Server(ctx, i, block)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// RegisterServer registers a server signed by the node's own key, with
// deposit attached as the transaction value.
func (r *ServerRegistry) RegisterServer(ctx context.Context, signer *ecdsa.PrivateKey, url string, props uint64, deposit *big.Int) (*interfaces.Confirmation, error) {
	data, err := contracts.ServerRegistry.Pack("registerServer", url, new(big.Int).SetUint64(props))
	if err != nil {
		return nil, fmt.Errorf("packing registerServer: %w", err)
	}
	return r.client.Transact(ctx, interfaces.TxRequest{
		Signer: signer,
		To:     &r.address,
		Data:   data,
		Value:  deposit,
	})
}

// owner reports the address controlling signer, for logging.
func owner(signer *ecdsa.PrivateKey) string {
	if signer == nil {
		return ""
	}
	return cryptoutils.AddressOf(signer).Hex()
}
