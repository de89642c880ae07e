package devchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Header is a development chain block header. Each header is sealed by the
// node's key.
type Header struct {
	Number     uint64      `json:"number"`
	ParentHash common.Hash `json:"parentHash"`
	StateRoot  common.Hash `json:"stateRoot"`
	TxHash     common.Hash `json:"txHash"`
	ChainID    *big.Int    `json:"chainId"`
	Time       uint64      `json:"time"`
}

// Hash returns the keccak256 hash of the RLP encoded header.
func (h *Header) Hash() common.Hash {
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(enc)
}

// accountLeaf is the state trie value of a contract account.
type accountLeaf struct {
	Kind      uint8
	StateHash common.Hash
}

// CallRequest is a verified read request.
type CallRequest struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`

	// Block pins the read to a block. Nil reads the head.
	Block *uint64 `json:"block,omitempty"`
}

// CallResponse carries everything a client needs to verify a read: the
// sealed header, a proof of the contract account against the header's state
// root, the contract state and the claimed output.
type CallResponse struct {
	Header Header          `json:"header"`
	Seal   hexutil.Bytes   `json:"seal"`
	Proof  []hexutil.Bytes `json:"proof"`

	Kind     uint8         `json:"kind"`
	State    hexutil.Bytes `json:"state,omitempty"`
	Output   hexutil.Bytes `json:"output"`
	Reverted bool          `json:"reverted,omitempty"`
}

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash          common.Hash    `json:"txHash"`
	From            common.Address `json:"from"`
	Status          uint64         `json:"status"`
	BlockNumber     uint64         `json:"blockNumber"`
	ContractAddress common.Address `json:"contractAddress"`
}

// EthReceipt converts the receipt into the go-ethereum representation.
func (r *Receipt) EthReceipt() *types.Receipt {
	return &types.Receipt{
		TxHash:          r.TxHash,
		Status:          r.Status,
		BlockNumber:     new(big.Int).SetUint64(r.BlockNumber),
		ContractAddress: r.ContractAddress,
	}
}
