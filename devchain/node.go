package devchain

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/ruteri/nodelist-registry/cryptoutils"
)

var (
	// ErrUnknownBlock is returned for reads at a block the node does not have.
	ErrUnknownBlock = errors.New("unknown block")

	// ErrRejected is returned for transactions the node refuses to mine.
	ErrRejected = errors.New("transaction rejected")
)

// DefaultGasLimit is attached to every development chain transaction.
// Gas is not metered.
const DefaultGasLimit = 1_000_000

type contractAccount struct {
	kind  uint8
	state []byte
}

type block struct {
	header   Header
	seal     []byte
	accounts map[common.Address]contractAccount
	trie     *trie.Trie
}

// Node is an instamine development chain. Every accepted transaction is
// executed immediately and sealed into its own block.
type Node struct {
	mu sync.Mutex

	key     *ecdsa.PrivateKey
	chainID *big.Int
	signer  types.Signer
	log     *slog.Logger
	now     func() time.Time

	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	accounts map[common.Address]contractAccount
	receipts map[common.Hash]*Receipt
	blocks   []*block
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithGenesisAlloc credits genesis balances.
func WithGenesisAlloc(alloc map[common.Address]*big.Int) NodeOption {
	return func(n *Node) {
		for addr, balance := range alloc {
			n.balances[addr] = new(big.Int).Set(balance)
		}
	}
}

// WithClock overrides the block timestamp source.
func WithClock(now func() time.Time) NodeOption {
	return func(n *Node) {
		n.now = now
	}
}

// NewNode creates a node for chainID whose blocks are sealed by key.
func NewNode(chainID *big.Int, key *ecdsa.PrivateKey, log *slog.Logger, opts ...NodeOption) (*Node, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id %v", chainID)
	}
	if key == nil {
		return nil, errors.New("sealing key required")
	}

	n := &Node{
		key:      key,
		chainID:  new(big.Int).Set(chainID),
		signer:   types.LatestSignerForChainID(chainID),
		log:      log,
		now:      time.Now,
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		accounts: make(map[common.Address]contractAccount),
		receipts: make(map[common.Hash]*Receipt),
	}
	for _, opt := range opts {
		opt(n)
	}

	if err := n.seal(common.Hash{}); err != nil {
		return nil, fmt.Errorf("sealing genesis: %w", err)
	}
	return n, nil
}

// ChainID returns the chain id of the node.
func (n *Node) ChainID() *big.Int {
	return new(big.Int).Set(n.chainID)
}

// Sealer returns the address sealing the node's blocks.
func (n *Node) Sealer() common.Address {
	return cryptoutils.AddressOf(n.key)
}

// BlockNumber returns the head block number.
func (n *Node) BlockNumber() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head().header.Number
}

// Nonce returns the next nonce of addr.
func (n *Node) Nonce(addr common.Address) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonces[addr]
}

// Balance returns the balance of addr.
func (n *Node) Balance(addr common.Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return bigOrZero(n.balances[addr])
}

// Receipt returns the receipt of a mined transaction, nil if unknown.
func (n *Node) Receipt(hash common.Hash) *Receipt {
	n.mu.Lock()
	defer n.mu.Unlock()

	receipt, ok := n.receipts[hash]
	if !ok {
		return nil
	}
	out := *receipt
	return &out
}

// SendTransaction accepts a signed, binary encoded transaction and mines it.
// Transactions failing execution are mined with a failed receipt; invalid
// transactions are rejected and not mined.
func (n *Node) SendTransaction(raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("%w: decoding: %v", ErrRejected, err)
	}

	from, err := types.Sender(n.signer, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, seen := n.receipts[tx.Hash()]; seen {
		return tx.Hash(), nil
	}
	if expected := n.nonces[from]; tx.Nonce() != expected {
		return common.Hash{}, fmt.Errorf("%w: nonce %d, expected %d", ErrRejected, tx.Nonce(), expected)
	}
	value := bigOrZero(tx.Value())
	if bigOrZero(n.balances[from]).Cmp(value) < 0 {
		return common.Hash{}, fmt.Errorf("%w: insufficient balance for value %s", ErrRejected, value)
	}

	receipt := &Receipt{
		TxHash: tx.Hash(),
		From:   from,
		Status: types.ReceiptStatusSuccessful,
	}

	execErr := n.apply(tx, from, value, receipt)
	if execErr != nil {
		receipt.Status = types.ReceiptStatusFailed
		receipt.ContractAddress = common.Address{}
	}
	n.nonces[from]++

	if err := n.seal(tx.Hash()); err != nil {
		return common.Hash{}, fmt.Errorf("sealing block: %w", err)
	}
	receipt.BlockNumber = n.head().header.Number
	n.receipts[tx.Hash()] = receipt

	n.log.Debug("mined transaction",
		"hash", tx.Hash().Hex(),
		"from", from.Hex(),
		"block", receipt.BlockNumber,
		"status", receipt.Status,
		"err", execErr)

	return tx.Hash(), nil
}

// apply executes tx on the current state. State is only modified on success.
func (n *Node) apply(tx *types.Transaction, from common.Address, value *big.Int, receipt *Receipt) error {
	if tx.To() == nil {
		address := crypto.CreateAddress(from, tx.Nonce())
		kind, state, err := construct(tx.Data(), from)
		if err != nil {
			return err
		}
		n.accounts[address] = contractAccount{kind: kind, state: state}
		n.transfer(from, address, value)
		receipt.ContractAddress = address
		return nil
	}

	to := *tx.To()
	account, ok := n.accounts[to]
	if !ok {
		n.transfer(from, to, value)
		return nil
	}

	_, newState, err := execute(account.kind, account.state, message{
		From:  from,
		Value: value,
		Data:  tx.Data(),
	})
	if err != nil {
		return err
	}
	n.accounts[to] = contractAccount{kind: account.kind, state: newState}
	n.transfer(from, to, value)
	return nil
}

func (n *Node) transfer(from, to common.Address, value *big.Int) {
	if value.Sign() == 0 {
		return
	}
	n.balances[from] = new(big.Int).Sub(bigOrZero(n.balances[from]), value)
	n.balances[to] = new(big.Int).Add(bigOrZero(n.balances[to]), value)
}

// seal commits the current contract state into a new sealed block.
func (n *Node) seal(txHash common.Hash) error {
	tr := trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))
	snapshot := make(map[common.Address]contractAccount, len(n.accounts))

	addresses := make([]common.Address, 0, len(n.accounts))
	for addr := range n.accounts {
		addresses = append(addresses, addr)
	}
	sort.Slice(addresses, func(i, j int) bool {
		return bytes.Compare(addresses[i][:], addresses[j][:]) < 0
	})

	for _, addr := range addresses {
		account := n.accounts[addr]
		leaf, err := rlp.EncodeToBytes(&accountLeaf{
			Kind:      account.kind,
			StateHash: crypto.Keccak256Hash(account.state),
		})
		if err != nil {
			return err
		}
		if err := tr.Update(crypto.Keccak256(addr.Bytes()), leaf); err != nil {
			return err
		}
		snapshot[addr] = contractAccount{kind: account.kind, state: bytes.Clone(account.state)}
	}

	header := Header{
		ChainID:   n.ChainID(),
		StateRoot: tr.Hash(),
		TxHash:    txHash,
		Time:      uint64(n.now().Unix()),
	}
	if len(n.blocks) > 0 {
		parent := n.head()
		header.Number = parent.header.Number + 1
		header.ParentHash = parent.header.Hash()
	}

	seal, err := cryptoutils.SignHash(header.Hash(), n.key)
	if err != nil {
		return err
	}

	n.blocks = append(n.blocks, &block{
		header:   header,
		seal:     seal,
		accounts: snapshot,
		trie:     tr,
	})
	return nil
}

func (n *Node) head() *block {
	return n.blocks[len(n.blocks)-1]
}

// Call executes a read-only call and returns it together with the data
// needed to verify it.
func (n *Node) Call(req CallRequest) (*CallResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	b := n.head()
	if req.Block != nil {
		if *req.Block >= uint64(len(n.blocks)) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownBlock, *req.Block)
		}
		b = n.blocks[*req.Block]
	}

	var proof cryptoutils.ProofList
	if err := b.trie.Prove(crypto.Keccak256(req.To.Bytes()), &proof); err != nil {
		return nil, fmt.Errorf("proving account %s: %w", req.To.Hex(), err)
	}

	resp := &CallResponse{
		Header: b.header,
		Seal:   bytes.Clone(b.seal),
		Proof:  make([]hexutil.Bytes, len(proof)),
	}
	for i, node := range proof {
		resp.Proof[i] = node
	}

	account, ok := b.accounts[req.To]
	if !ok {
		return resp, nil
	}
	resp.Kind = account.kind
	resp.State = bytes.Clone(account.state)

	output, _, err := execute(account.kind, account.state, message{Data: req.Data, ReadOnly: true})
	switch {
	case errors.Is(err, ErrExecutionReverted):
		resp.Reverted = true
	case err != nil:
		return nil, err
	default:
		resp.Output = output
	}
	return resp, nil
}
