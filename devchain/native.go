package devchain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ruteri/nodelist-registry/contracts"
)

// ErrExecutionReverted is returned when a native contract rejects a call.
var ErrExecutionReverted = errors.New("execution reverted")

// Contract kinds committed to the state trie.
const (
	kindChainRegistry  uint8 = 1
	kindServerRegistry uint8 = 2
)

func kindABI(kind uint8) (*abi.ABI, error) {
	switch kind {
	case kindChainRegistry:
		return &contracts.ChainRegistry, nil
	case kindServerRegistry:
		return &contracts.ServerRegistry, nil
	default:
		return nil, fmt.Errorf("unknown contract kind %d", kind)
	}
}

type chainEntry struct {
	Chain            [32]byte
	Owner            common.Address
	Meta             string
	RegistryContract common.Address
	ContractChain    [32]byte
}

type chainRegistryState struct {
	Owner  common.Address
	Chains []chainEntry
}

type serverEntry struct {
	URL     string
	Owner   common.Address
	Deposit *big.Int
	Props   *big.Int
}

type serverRegistryState struct {
	ChainID [32]byte
	Servers []serverEntry
}

// message is a call into a native contract.
type message struct {
	From     common.Address
	Value    *big.Int
	Data     []byte
	ReadOnly bool
}

func revert(reason string) error {
	return fmt.Errorf("%w: %s", ErrExecutionReverted, reason)
}

// construct creates the initial state of a native contract from its
// creation code. It returns the contract kind and encoded state.
func construct(code []byte, from common.Address) (uint8, []byte, error) {
	name, args, ok := contracts.SplitNative(code)
	if !ok {
		return 0, nil, revert("unsupported contract code")
	}

	switch name {
	case contracts.ChainRegistryName:
		state, err := rlp.EncodeToBytes(&chainRegistryState{Owner: from})
		return kindChainRegistry, state, err
	case contracts.ServerRegistryName:
		unpacked, err := contracts.ServerRegistry.Constructor.Inputs.Unpack(args)
		if err != nil || len(unpacked) != 1 {
			return 0, nil, revert("invalid constructor arguments")
		}
		chain := unpacked[0].([32]byte)
		if chain == ([32]byte{}) {
			return 0, nil, revert("chain id required")
		}
		state, err := rlp.EncodeToBytes(&serverRegistryState{ChainID: chain})
		return kindServerRegistry, state, err
	default:
		return 0, nil, revert("unknown native contract")
	}
}

// execute runs msg against the encoded contract state and returns the
// ABI encoded output and the new encoded state. Read-only calls and views
// return the unchanged state.
func execute(kind uint8, state []byte, msg message) (output []byte, newState []byte, err error) {
	contractABI, err := kindABI(kind)
	if err != nil {
		return nil, nil, err
	}
	if len(msg.Data) < 4 {
		return nil, nil, revert("missing method selector")
	}
	method, err := contractABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, nil, revert("unknown method selector")
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, nil, revert(fmt.Sprintf("invalid arguments for %s", method.Name))
	}
	if msg.Value != nil && msg.Value.Sign() > 0 && !method.IsPayable() {
		return nil, nil, revert(fmt.Sprintf("%s is not payable", method.Name))
	}
	if msg.ReadOnly && !method.IsConstant() {
		return nil, nil, revert(fmt.Sprintf("%s modifies state", method.Name))
	}

	var results []interface{}
	switch kind {
	case kindChainRegistry:
		var s chainRegistryState
		if err := rlp.DecodeBytes(state, &s); err != nil {
			return nil, nil, fmt.Errorf("decoding chain registry state: %w", err)
		}
		results, err = s.call(method.Name, args, msg)
		if err != nil {
			return nil, nil, err
		}
		if newState, err = rlp.EncodeToBytes(&s); err != nil {
			return nil, nil, err
		}
	case kindServerRegistry:
		var s serverRegistryState
		if err := rlp.DecodeBytes(state, &s); err != nil {
			return nil, nil, fmt.Errorf("decoding server registry state: %w", err)
		}
		results, err = s.call(method.Name, args, msg)
		if err != nil {
			return nil, nil, err
		}
		if newState, err = rlp.EncodeToBytes(&s); err != nil {
			return nil, nil, err
		}
	}

	output, err = method.Outputs.Pack(results...)
	if err != nil {
		return nil, nil, fmt.Errorf("packing %s output: %w", method.Name, err)
	}
	return output, newState, nil
}

func (s *chainRegistryState) call(method string, args []interface{}, msg message) ([]interface{}, error) {
	switch method {
	case "owner":
		return []interface{}{s.Owner}, nil

	case "chains":
		chain := args[0].([32]byte)
		for _, entry := range s.Chains {
			if entry.Chain == chain {
				return []interface{}{entry.Owner, entry.Meta, entry.RegistryContract, entry.ContractChain}, nil
			}
		}
		return []interface{}{common.Address{}, "", common.Address{}, [32]byte{}}, nil

	case "registerChain":
		if msg.From != s.Owner {
			return nil, revert("only the owner may register chains")
		}
		entry := chainEntry{
			Chain:            args[0].([32]byte),
			Owner:            msg.From,
			Meta:             args[1].(string),
			RegistryContract: args[2].(common.Address),
			ContractChain:    args[3].([32]byte),
		}
		if entry.Chain == ([32]byte{}) {
			return nil, revert("chain id required")
		}
		if entry.RegistryContract == (common.Address{}) {
			return nil, revert("registry contract required")
		}
		for i := range s.Chains {
			if s.Chains[i].Chain == entry.Chain {
				s.Chains[i] = entry
				return nil, nil
			}
		}
		s.Chains = append(s.Chains, entry)
		return nil, nil
	}
	return nil, revert("unsupported method " + method)
}

func (s *serverRegistryState) call(method string, args []interface{}, msg message) ([]interface{}, error) {
	switch method {
	case "chainId":
		return []interface{}{s.ChainID}, nil

	case "totalServers":
		return []interface{}{big.NewInt(int64(len(s.Servers)))}, nil

	case "servers":
		index := args[0].(*big.Int)
		if !index.IsInt64() || index.Int64() < 0 || index.Int64() >= int64(len(s.Servers)) {
			return nil, revert("server index out of range")
		}
		entry := s.Servers[index.Int64()]
		return []interface{}{entry.URL, entry.Owner, bigOrZero(entry.Deposit), bigOrZero(entry.Props)}, nil

	case "registerServer":
		url := args[0].(string)
		if url == "" {
			return nil, revert("url required")
		}
		s.Servers = append(s.Servers, serverEntry{
			URL:     url,
			Owner:   msg.From,
			Deposit: bigOrZero(msg.Value),
			Props:   args[1].(*big.Int),
		})
		return nil, nil
	}
	return nil, revert("unsupported method " + method)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
