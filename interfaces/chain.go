package interfaces

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultConfirmationTimeout bounds how long a client waits for a
	// submitted transaction to be mined.
	DefaultConfirmationTimeout = 60 * time.Second

	// DefaultPollInterval is the receipt polling interval.
	DefaultPollInterval = 250 * time.Millisecond
)

// ClientConfig is the configuration of a ChainClient.
type ClientConfig struct {
	// ChainID is the chain the client reads from and writes to.
	ChainID ChainID `yaml:"chain_id"`

	// MainChainID is the chain hosting the chain registry. Defaults to ChainID.
	MainChainID ChainID `yaml:"main_chain_id"`

	// ChainRegistry is the chain registry contract address.
	ChainRegistry common.Address `yaml:"chain_registry"`

	// ServerRegistry is the server registry contract address, if known.
	ServerRegistry common.Address `yaml:"server_registry"`

	// BootNodes are the seed nodes used to reach the chain.
	BootNodes []BootNode `yaml:"boot_nodes"`

	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
}

// WithDefaults returns a copy of the config with unset optional fields filled in.
// Chain ids are brought into canonical form.
func (c ClientConfig) WithDefaults() ClientConfig {
	c.ChainID = c.ChainID.Canonical()
	c.MainChainID = c.MainChainID.Canonical()
	if c.MainChainID.IsZero() {
		c.MainChainID = c.ChainID
	}
	if c.ConfirmationTimeout == 0 {
		c.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	c.BootNodes = append([]BootNode(nil), c.BootNodes...)
	return c
}

// Validate checks the config for structural errors.
func (c ClientConfig) Validate() error {
	if c.ChainID.IsZero() {
		return fmt.Errorf("%w: chain id is required", ErrInvalidConfig)
	}
	if c.ChainID.Big().Sign() == 0 {
		return fmt.Errorf("%w: invalid chain id %q", ErrInvalidConfig, c.ChainID)
	}
	for i, n := range c.BootNodes {
		if n.Address == (common.Address{}) {
			return fmt.Errorf("%w: boot node %d has no address", ErrInvalidConfig, i)
		}
		if n.URL == "" {
			return fmt.Errorf("%w: boot node %d has no url", ErrInvalidConfig, i)
		}
	}
	if c.ConfirmationTimeout < 0 || c.PollInterval < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	return nil
}

// ValidateForRead additionally requires what a resolving client needs: a
// chain registry address and at least one boot node.
func (c ClientConfig) ValidateForRead() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ChainRegistry == (common.Address{}) {
		return fmt.Errorf("%w: chain registry address is required", ErrInvalidConfig)
	}
	if len(c.BootNodes) == 0 {
		return fmt.Errorf("%w: at least one boot node is required", ErrInvalidConfig)
	}
	return nil
}

// TxRequest describes a transaction to sign and submit.
type TxRequest struct {
	// Signer signs the transaction.
	Signer *ecdsa.PrivateKey

	// To is the target contract. A nil To deploys Data as contract code.
	To *common.Address

	Data  []byte
	Value *big.Int
}

// Confirmation describes a mined transaction.
type Confirmation struct {
	TxHash          common.Hash    `json:"txHash"`
	From            common.Address `json:"from"`
	BlockNumber     uint64         `json:"blockNumber"`
	ContractAddress common.Address `json:"contractAddress,omitempty"`
}

// ChainClient executes verified reads and signed writes against a chain.
type ChainClient interface {
	// Config returns the client configuration.
	Config() ClientConfig

	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// Call performs a verified read of a contract at the given block.
	// A nil block reads the latest state. Returns ErrNoContract if there is
	// no contract at the address.
	Call(ctx context.Context, contract common.Address, data []byte, block *big.Int) ([]byte, error)

	// Transact signs and submits a transaction and blocks until it is mined.
	Transact(ctx context.Context, tx TxRequest) (*Confirmation, error)
}

// IsRetryable reports whether an operation failed for network-level reasons
// and may be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
