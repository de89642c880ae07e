package devchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/hashicorp/go-multierror"
	"github.com/ruteri/nodelist-registry/cryptoutils"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/ruteri/nodelist-registry/txwait"
)

// Client is an interfaces.ChainClient for the development chain. Reads are
// verified against headers sealed by the configured boot nodes.
type Client struct {
	cfg       interfaces.ClientConfig
	transport Transport
	log       *slog.Logger

	// submitMu serializes nonce lookup and submission.
	submitMu sync.Mutex
}

// NewClient creates a client. The config must name at least one boot node.
func NewClient(cfg interfaces.ClientConfig, transport Transport, log *slog.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.BootNodes) == 0 {
		return nil, fmt.Errorf("%w: at least one boot node is required", interfaces.ErrInvalidConfig)
	}

	return &Client{
		cfg:       cfg,
		transport: transport,
		log:       log,
	}, nil
}

// Config returns a copy of the client configuration.
func (c *Client) Config() interfaces.ClientConfig {
	return c.cfg.WithDefaults()
}

// failover runs fn against each boot node in order until one answers.
// Errors other than transport failures end the attempt immediately.
func (c *Client) failover(ctx context.Context, fn func(node interfaces.BootNode) error) error {
	var errs error
	for _, node := range c.cfg.BootNodes {
		err := fn(node)
		if err == nil {
			return nil
		}
		if !errors.Is(err, interfaces.ErrTransport) {
			return err
		}
		c.log.Warn("Boot node unreachable", "err", err, "url", node.URL, "address", node.Address.Hex())
		errs = multierror.Append(errs, err)

		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: no boot node reachable for chain %s: %v", interfaces.ErrTransport, c.cfg.ChainID, errs)
}

// BlockNumber returns the head block number of the first reachable boot node.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.failover(ctx, func(node interfaces.BootNode) error {
		var err error
		number, err = c.transport.BlockNumber(ctx, node.URL)
		return err
	})
	return number, err
}

// Call performs a verified read.
func (c *Client) Call(ctx context.Context, contract common.Address, data []byte, block *big.Int) ([]byte, error) {
	req := CallRequest{To: contract, Data: data}
	if block != nil {
		if !block.IsUint64() {
			return nil, fmt.Errorf("invalid block number %s", block)
		}
		number := block.Uint64()
		req.Block = &number
	}

	var output []byte
	err := c.failover(ctx, func(node interfaces.BootNode) error {
		resp, err := c.transport.Call(ctx, node.URL, req)
		if err != nil {
			return err
		}
		output, err = c.verify(node, req, resp)
		return err
	})
	return output, err
}

// verify checks a call response and returns the verified output.
func (c *Client) verify(node interfaces.BootNode, req CallRequest, resp *CallResponse) ([]byte, error) {
	header := resp.Header

	sealer, err := cryptoutils.RecoverAddress(header.Hash(), resp.Seal)
	if err != nil {
		return nil, fmt.Errorf("%w: header seal: %v", interfaces.ErrVerification, err)
	}
	if sealer != node.Address {
		return nil, fmt.Errorf("%w: header sealed by %s, expected boot node %s", interfaces.ErrVerification, sealer.Hex(), node.Address.Hex())
	}
	if header.ChainID == nil || header.ChainID.Cmp(c.cfg.ChainID.Big()) != 0 {
		return nil, fmt.Errorf("%w: header chain id %v, expected %s", interfaces.ErrVerification, header.ChainID, c.cfg.ChainID)
	}
	if req.Block != nil && header.Number != *req.Block {
		return nil, fmt.Errorf("%w: header number %d, requested %d", interfaces.ErrVerification, header.Number, *req.Block)
	}

	proof := make(cryptoutils.ProofList, len(resp.Proof))
	for i, p := range resp.Proof {
		proof[i] = p
	}
	leafData, err := cryptoutils.VerifyAccountProof(header.StateRoot, req.To, proof)
	if err != nil {
		return nil, fmt.Errorf("%w: account proof for %s: %v", interfaces.ErrVerification, req.To.Hex(), err)
	}
	if leafData == nil {
		if len(resp.State) != 0 || len(resp.Output) != 0 {
			return nil, fmt.Errorf("%w: state returned for absent account %s", interfaces.ErrVerification, req.To.Hex())
		}
		return nil, fmt.Errorf("%w: %s at block %d", interfaces.ErrNoContract, req.To.Hex(), header.Number)
	}

	var leaf accountLeaf
	if err := rlp.DecodeBytes(leafData, &leaf); err != nil {
		return nil, fmt.Errorf("%w: decoding account leaf: %v", interfaces.ErrVerification, err)
	}
	if leaf.Kind != resp.Kind {
		return nil, fmt.Errorf("%w: contract kind %d, proven %d", interfaces.ErrVerification, resp.Kind, leaf.Kind)
	}
	if crypto.Keccak256Hash(resp.State) != leaf.StateHash {
		return nil, fmt.Errorf("%w: contract state does not match proven hash", interfaces.ErrVerification)
	}

	output, _, err := execute(leaf.Kind, resp.State, message{Data: req.Data, ReadOnly: true})
	switch {
	case errors.Is(err, ErrExecutionReverted):
		if !resp.Reverted {
			return nil, fmt.Errorf("%w: node returned output for a reverting call", interfaces.ErrVerification)
		}
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: re-executing call: %v", interfaces.ErrVerification, err)
	case resp.Reverted:
		return nil, fmt.Errorf("%w: node reported revert for a successful call", interfaces.ErrVerification)
	case !bytes.Equal(output, resp.Output):
		return nil, fmt.Errorf("%w: call output does not match proven state", interfaces.ErrVerification)
	}
	return output, nil
}

// Transact signs tx, submits it to the first reachable boot node and waits
// for it to be mined.
func (c *Client) Transact(ctx context.Context, tx interfaces.TxRequest) (*interfaces.Confirmation, error) {
	if tx.Signer == nil {
		return nil, errors.New("transaction signer required")
	}
	from := cryptoutils.AddressOf(tx.Signer)
	signer := types.LatestSignerForChainID(c.cfg.ChainID.Big())

	var (
		hash    common.Hash
		nodeURL string
	)

	c.submitMu.Lock()
	err := c.failover(ctx, func(node interfaces.BootNode) error {
		nonce, err := c.transport.Nonce(ctx, node.URL, from)
		if err != nil {
			return err
		}

		signed, err := types.SignNewTx(tx.Signer, signer, &types.LegacyTx{
			Nonce:    nonce,
			To:       tx.To,
			Value:    bigOrZero(tx.Value),
			Gas:      DefaultGasLimit,
			GasPrice: new(big.Int),
			Data:     tx.Data,
		})
		if err != nil {
			return fmt.Errorf("signing transaction: %w", err)
		}
		raw, err := signed.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encoding transaction: %w", err)
		}

		hash, err = c.transport.SendTransaction(ctx, node.URL, raw)
		if err != nil {
			return err
		}
		nodeURL = node.URL
		return nil
	})
	c.submitMu.Unlock()
	if err != nil {
		return nil, err
	}

	c.log.Debug("Submitted transaction", "hash", hash.Hex(), "from", from.Hex(), "node", nodeURL)

	receipt, err := txwait.Wait(ctx, c.cfg.ConfirmationTimeout, c.cfg.PollInterval, func(ctx context.Context) (*types.Receipt, error) {
		r, err := c.transport.Receipt(ctx, nodeURL, hash)
		if err != nil || r == nil {
			return nil, err
		}
		return r.EthReceipt(), nil
	})
	if err != nil {
		return nil, err
	}
	return txwait.Confirmation(receipt, from), nil
}
