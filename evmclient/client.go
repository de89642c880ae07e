package evmclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/ruteri/nodelist-registry/txwait"
)

// ErrCallReverted is returned when a read-only call reverts.
var ErrCallReverted = errors.New("call reverted")

// Backend is the node connection used by the client. Both *ethclient.Client
// and the simulated backend's client satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ProofBackend serves account and storage proofs (eth_getProof).
// *gethclient.Client satisfies it.
type ProofBackend interface {
	GetProof(ctx context.Context, account common.Address, keys []string, blockNumber *big.Int) (*gethclient.AccountResult, error)
}

// Client implements interfaces.ChainClient against an EVM node.
type Client struct {
	cfg     interfaces.ClientConfig
	backend Backend
	proofs  ProofBackend
	log     *slog.Logger

	// Nonces are read from the pending state; submissions are serialized so
	// concurrent writers sharing a key do not reuse one.
	submitMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithProofBackend makes every read execute locally on proven state.
func WithProofBackend(p ProofBackend) Option {
	return func(c *Client) {
		c.proofs = p
	}
}

// NewClient creates a client over backend.
func NewClient(cfg interfaces.ClientConfig, backend Backend, log *slog.Logger, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		backend: backend,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial connects to the JSON-RPC endpoint at url, checks that it serves
// cfg.ChainID and enables proof verification through eth_getProof.
func Dial(ctx context.Context, url string, cfg interfaces.ClientConfig, log *slog.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", interfaces.ErrTransport, url, err)
	}

	client, err := NewClient(cfg, ethclient.NewClient(rpcClient), log, WithProofBackend(gethclient.New(rpcClient)))
	if err != nil {
		rpcClient.Close()
		return nil, err
	}

	chainID, err := client.backend.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, classify(fmt.Errorf("reading chain id from %s: %w", url, err))
	}
	if interfaces.ChainIDFromBig(chainID) != client.cfg.ChainID {
		rpcClient.Close()
		return nil, fmt.Errorf("%w: %s serves chain %s, expected %s", interfaces.ErrInvalidConfig, url, interfaces.ChainIDFromBig(chainID), client.cfg.ChainID)
	}
	return client, nil
}

// Config returns a copy of the client configuration.
func (c *Client) Config() interfaces.ClientConfig {
	return c.cfg
}

// BlockNumber returns the node's latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, classify(fmt.Errorf("reading block number: %w", err))
	}
	return n, nil
}

// Call executes a read-only call at block, or at the latest block when
// block is nil.
//
// With a ProofBackend the call is executed locally against state proven by
// the block's state root and the node's own call result is never used.
// Without one the node is trusted and only the contract's existence is
// checked.
func (c *Client) Call(ctx context.Context, contract common.Address, data []byte, block *big.Int) ([]byte, error) {
	if block == nil {
		n, err := c.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		block = new(big.Int).SetUint64(n)
	}

	if c.proofs != nil {
		return c.verifiedCall(ctx, contract, data, block)
	}

	code, err := c.backend.CodeAt(ctx, contract, block)
	if err != nil {
		return nil, classify(fmt.Errorf("reading code of %s: %w", contract.Hex(), err))
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s at block %s", interfaces.ErrNoContract, contract.Hex(), block)
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, block)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %v", ErrCallReverted, err)
		}
		return nil, classify(fmt.Errorf("calling %s: %w", contract.Hex(), err))
	}
	return out, nil
}

// Verified reports whether reads are checked against proofs.
func (c *Client) Verified() bool {
	return c.proofs != nil
}

// Transact signs tx with its signer, submits it and waits for the receipt.
func (c *Client) Transact(ctx context.Context, tx interfaces.TxRequest) (*interfaces.Confirmation, error) {
	if tx.Signer == nil {
		return nil, errors.New("transaction signer required")
	}

	opts, err := bind.NewKeyedTransactorWithChainID(tx.Signer, c.cfg.ChainID.Big())
	if err != nil {
		return nil, fmt.Errorf("creating transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = tx.Value

	c.submitMu.Lock()
	signed, err := c.submit(opts, tx)
	c.submitMu.Unlock()
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrTxReverted, err)
		}
		return nil, classify(fmt.Errorf("submitting transaction: %w", err))
	}

	c.log.Debug("Submitted transaction", "hash", signed.Hash().Hex(), "from", opts.From.Hex(), "nonce", signed.Nonce())

	// Like bind.WaitMined, receipt lookup errors (for example while the node
	// is still indexing) count as pending until the timeout.
	var lastErr error
	receipt, err := txwait.Wait(ctx, c.cfg.ConfirmationTimeout, c.cfg.PollInterval, func(ctx context.Context) (*types.Receipt, error) {
		receipt, err := c.backend.TransactionReceipt(ctx, signed.Hash())
		switch {
		case errors.Is(err, ethereum.NotFound):
			return nil, nil
		case err != nil:
			c.log.Debug("Receipt retrieval failed", "hash", signed.Hash().Hex(), "err", err)
			lastErr = err
			return nil, nil
		}
		return receipt, nil
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrConfirmationTimeout) && lastErr != nil {
			return nil, fmt.Errorf("%w (last receipt error: %v)", err, lastErr)
		}
		return nil, err
	}
	return txwait.Confirmation(receipt, opts.From), nil
}

func (c *Client) submit(opts *bind.TransactOpts, tx interfaces.TxRequest) (*types.Transaction, error) {
	if tx.To == nil {
		// Data already carries the packed constructor arguments.
		_, signed, _, err := bind.DeployContract(opts, abi.ABI{}, tx.Data, c.backend)
		return signed, err
	}

	// The bound contract refuses to estimate gas for accounts without code,
	// so plain transfers get their gas limit here.
	code, err := c.backend.PendingCodeAt(opts.Context, *tx.To)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		gas, err := c.backend.EstimateGas(opts.Context, ethereum.CallMsg{
			From:  opts.From,
			To:    tx.To,
			Value: tx.Value,
			Data:  tx.Data,
		})
		if err != nil {
			return nil, err
		}
		opts.GasLimit = gas
	}

	contract := bind.NewBoundContract(*tx.To, abi.ABI{}, c.backend, c.backend, c.backend)
	return contract.RawTransact(opts, tx.Data)
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}

// classify marks network-level failures as interfaces.ErrTransport.
func classify(err error) error {
	var (
		netErr  net.Error
		httpErr rpc.HTTPError
	)
	switch {
	case errors.Is(err, interfaces.ErrTransport):
		return err
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &httpErr) && httpErr.StatusCode >= 500:
		return fmt.Errorf("%w: %v", interfaces.ErrTransport, err)
	}
	return err
}
