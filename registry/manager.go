package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-multierror"
	"github.com/ruteri/nodelist-registry/contracts"
	"github.com/ruteri/nodelist-registry/cryptoutils"
	"github.com/ruteri/nodelist-registry/interfaces"
)

// RegisterRequest describes a registration run.
type RegisterRequest struct {
	// DeployerKey signs deployments and the chain registry entry.
	DeployerKey *ecdsa.PrivateKey

	// ChainRegistry reuses an existing chain registry when set.
	ChainRegistry *common.Address

	// ServerRegistry reuses an existing server registry when set.
	ServerRegistry *common.Address

	ChainID interfaces.ChainID
	Nodes   []interfaces.NodeDescriptor
	Meta    string
}

// RegistryManager deploys the registry contracts and enrolls server nodes.
type RegistryManager struct {
	client      interfaces.ChainClient
	artifacts   contracts.Artifacts
	log         *slog.Logger
	concurrency int
	observer    interfaces.RegistryObserver
}

// ManagerOption configures a RegistryManager.
type ManagerOption func(*RegistryManager)

// WithConcurrency sets how many node registrations may be in flight at once.
// Nodes sharing a signing key are always registered one after another.
func WithConcurrency(n int) ManagerOption {
	return func(m *RegistryManager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithObserver reports deployment and registration outcomes to o.
func WithObserver(o interfaces.RegistryObserver) ManagerOption {
	return func(m *RegistryManager) {
		m.observer = o
	}
}

// NewRegistryManager creates a manager writing through client.
func NewRegistryManager(client interfaces.ChainClient, artifacts contracts.Artifacts, log *slog.Logger, opts ...ManagerOption) *RegistryManager {
	m := &RegistryManager{
		client:      client,
		artifacts:   artifacts,
		log:         log,
		concurrency: 1,
		observer:    interfaces.NoopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register deploys or reuses the registry contracts, links the chain in the
// chain registry and registers every node signed by its own key. It returns
// once every registration is confirmed. At least one node is required; use
// LinkChain to update the chain entry alone.
//
// On failure the partial result is returned together with the error.
// Confirmed registrations are not rolled back.
func (m *RegistryManager) Register(ctx context.Context, req RegisterRequest) (*interfaces.RegistrationResult, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if len(req.Nodes) == 0 {
		return nil, fmt.Errorf("%w: at least one node is required", interfaces.ErrInvalidNode)
	}

	result, serverRegistry, err := m.link(ctx, req)
	if err != nil {
		return result, err
	}

	if m.concurrency > 1 {
		err = m.registerConcurrently(ctx, serverRegistry, req, result)
	} else {
		err = m.registerSequentially(ctx, serverRegistry, req, result)
	}

	m.log.Info("Registration finished",
		"chainId", req.ChainID.String(),
		"chainRegistry", result.ChainRegistry.Hex(),
		"serverRegistry", result.ServerRegistry.Hex(),
		"registered", len(result.Nodes),
		"requested", len(req.Nodes),
		"err", err)

	return result, err
}

// LinkChain deploys or reuses the registry contracts and writes the chain
// entry without enrolling nodes. req.Nodes is ignored.
func (m *RegistryManager) LinkChain(ctx context.Context, req RegisterRequest) (*interfaces.RegistrationResult, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	result, _, err := m.link(ctx, req)
	return result, err
}

func validateRequest(req *RegisterRequest) error {
	if req.DeployerKey == nil {
		return errors.New("deployer key required")
	}
	if req.ChainID.IsZero() {
		return fmt.Errorf("%w: chain id required", interfaces.ErrInvalidChainID)
	}
	req.ChainID = req.ChainID.Canonical()
	return nil
}

func (m *RegistryManager) link(ctx context.Context, req RegisterRequest) (*interfaces.RegistrationResult, *ServerRegistry, error) {
	result := &interfaces.RegistrationResult{
		ChainID: req.ChainID,
		Nodes:   []interfaces.NodeRecord{},
	}

	chainRegistry, err := m.chainRegistry(ctx, req)
	if err != nil {
		return result, nil, err
	}
	result.ChainRegistry = chainRegistry.Address()

	serverRegistry, err := m.serverRegistry(ctx, req)
	if err != nil {
		return result, nil, err
	}
	result.ServerRegistry = serverRegistry.Address()

	if err := m.linkChain(ctx, req, chainRegistry, serverRegistry); err != nil {
		return result, nil, err
	}
	return result, serverRegistry, nil
}

func (m *RegistryManager) chainRegistry(ctx context.Context, req RegisterRequest) (*ChainRegistry, error) {
	if req.ChainRegistry != nil {
		m.log.Debug("Reusing chain registry", "address", req.ChainRegistry.Hex())
		return NewChainRegistry(m.client, *req.ChainRegistry), nil
	}

	registry, conf, err := DeployChainRegistry(ctx, m.client, m.artifacts, req.DeployerKey)
	m.observer.ObserveDeployment(contracts.ChainRegistryName, err)
	if err != nil {
		return nil, err
	}

	m.log.Info("Deployed chain registry",
		"address", registry.Address().Hex(),
		"owner", owner(req.DeployerKey),
		"tx", conf.TxHash.Hex())
	return registry, nil
}

func (m *RegistryManager) serverRegistry(ctx context.Context, req RegisterRequest) (*ServerRegistry, error) {
	if req.ServerRegistry != nil {
		m.log.Debug("Reusing server registry", "address", req.ServerRegistry.Hex())
		return NewServerRegistry(m.client, *req.ServerRegistry), nil
	}

	registry, conf, err := DeployServerRegistry(ctx, m.client, m.artifacts, req.DeployerKey, req.ChainID)
	m.observer.ObserveDeployment(contracts.ServerRegistryName, err)
	if err != nil {
		return nil, err
	}

	m.log.Info("Deployed server registry",
		"address", registry.Address().Hex(),
		"chainId", req.ChainID.String(),
		"tx", conf.TxHash.Hex())
	return registry, nil
}

// linkChain records the server registry for the chain in the chain registry,
// unless an identical entry already exists.
func (m *RegistryManager) linkChain(ctx context.Context, req RegisterRequest, chainRegistry *ChainRegistry, serverRegistry *ServerRegistry) error {
	contractChain := m.client.Config().ChainID.Canonical()

	if req.ChainRegistry != nil {
		existing, err := chainRegistry.Chain(ctx, req.ChainID, nil)
		if err != nil {
			return &interfaces.DeploymentError{Contract: contracts.ChainRegistryName, Err: err}
		}
		if existing.Meta == req.Meta &&
			existing.RegistryContract == serverRegistry.Address() &&
			existing.ContractChain == contractChain {
			m.log.Debug("Chain already linked", "chainId", req.ChainID.String())
			return nil
		}
	}

	conf, err := chainRegistry.RegisterChain(ctx, req.DeployerKey, req.ChainID, req.Meta, serverRegistry.Address(), contractChain)
	if err != nil {
		return &interfaces.DeploymentError{Contract: contracts.ChainRegistryName, Err: fmt.Errorf("registering chain %s: %w", req.ChainID, err)}
	}

	m.log.Info("Linked chain",
		"chainId", req.ChainID.String(),
		"serverRegistry", serverRegistry.Address().Hex(),
		"contractChain", contractChain.String(),
		"tx", conf.TxHash.Hex())
	return nil
}

func validateNode(index int, node interfaces.NodeDescriptor, seen map[string]int) error {
	var reason string
	switch {
	case node.URL == "":
		reason = "url is empty"
	case node.PrivateKey == nil:
		reason = "private key is missing"
	case node.Deposit != nil && node.Deposit.Sign() < 0:
		reason = "deposit is negative"
	}
	if first, dup := seen[node.URL]; reason == "" && dup {
		reason = fmt.Sprintf("url already used by node %d", first)
	}
	if reason != "" {
		return &interfaces.RegistrationError{
			URL:   node.URL,
			Index: index,
			Err:   fmt.Errorf("%w: %s", interfaces.ErrInvalidNode, reason),
		}
	}
	seen[node.URL] = index
	return nil
}

func (m *RegistryManager) registerNode(ctx context.Context, registry *ServerRegistry, index int, node interfaces.NodeDescriptor, chain interfaces.ChainID) (*interfaces.NodeRecord, error) {
	conf, err := registry.RegisterServer(ctx, node.PrivateKey, node.URL, node.Properties, node.Deposit)
	m.observer.ObserveRegistration(chain, err)
	if err != nil {
		return nil, &interfaces.RegistrationError{URL: node.URL, Index: index, Err: err}
	}

	record := &interfaces.NodeRecord{
		Address:      cryptoutils.AddressOf(node.PrivateKey),
		URL:          node.URL,
		Properties:   node.Properties,
		Deposit:      bigOrZero(node.Deposit),
		Confirmation: conf,
	}

	m.log.Info("Registered node",
		"index", index,
		"url", node.URL,
		"address", record.Address.Hex(),
		"block", conf.BlockNumber)
	return record, nil
}

func (m *RegistryManager) registerSequentially(ctx context.Context, registry *ServerRegistry, req RegisterRequest, result *interfaces.RegistrationResult) error {
	seen := make(map[string]int, len(req.Nodes))
	for i, node := range req.Nodes {
		if err := validateNode(i, node, seen); err != nil {
			m.observer.ObserveRegistration(req.ChainID, err)
			return err
		}

		record, err := m.registerNode(ctx, registry, i, node, req.ChainID)
		if err != nil {
			return err
		}
		result.Nodes = append(result.Nodes, *record)
	}
	return nil
}

// registerConcurrently submits nodes through a worker pool. Nodes sharing a
// signer form one task so their nonces are used in order. Every failure is
// reported; successful registrations are kept in submission order.
func (m *RegistryManager) registerConcurrently(ctx context.Context, registry *ServerRegistry, req RegisterRequest, result *interfaces.RegistrationResult) error {
	var (
		mu      sync.Mutex
		errs    *multierror.Error
		records = make(map[int]interfaces.NodeRecord, len(req.Nodes))
	)

	groups := make(map[common.Address][]int)
	var order []common.Address

	seen := make(map[string]int, len(req.Nodes))
	for i, node := range req.Nodes {
		if err := validateNode(i, node, seen); err != nil {
			m.observer.ObserveRegistration(req.ChainID, err)
			errs = multierror.Append(errs, err)
			continue
		}
		signer := cryptoutils.AddressOf(node.PrivateKey)
		if _, ok := groups[signer]; !ok {
			order = append(order, signer)
		}
		groups[signer] = append(groups[signer], i)
	}

	pool := workerpool.New(m.concurrency)
	for _, signer := range order {
		indices := groups[signer]
		pool.Submit(func() {
			for pos, i := range indices {
				record, err := m.registerNode(ctx, registry, i, req.Nodes[i], req.ChainID)

				mu.Lock()
				if err == nil {
					records[i] = *record
					mu.Unlock()
					continue
				}
				errs = multierror.Append(errs, err)
				// The signer's nonce is in doubt after a failure; skip its remaining nodes.
				for _, skipped := range indices[pos+1:] {
					errs = multierror.Append(errs, &interfaces.RegistrationError{
						URL:   req.Nodes[skipped].URL,
						Index: skipped,
						Err:   fmt.Errorf("skipped after node %d with the same key failed", i),
					})
				}
				mu.Unlock()
				return
			}
		})
	}
	pool.StopWait()

	indices := make([]int, 0, len(records))
	for i := range records {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		result.Nodes = append(result.Nodes, records[i])
	}

	if errs != nil {
		sort.Sort(byNodeIndex(errs.Errors))
	}
	return errs.ErrorOrNil()
}

// byNodeIndex orders registration errors by node index.
type byNodeIndex []error

func (e byNodeIndex) Len() int      { return len(e) }
func (e byNodeIndex) Swap(i, j int) { e[i], e[j] = e[j], e[i] }
func (e byNodeIndex) Less(i, j int) bool {
	return nodeIndex(e[i]) < nodeIndex(e[j])
}

func nodeIndex(err error) int {
	var regErr *interfaces.RegistrationError
	if errors.As(err, &regErr) {
		return regErr.Index
	}
	return -1
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
