package evmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
	"github.com/ruteri/nodelist-registry/cryptoutils"
	"github.com/ruteri/nodelist-registry/interfaces"
)

const (
	// callGasLimit bounds local execution when the header carries no gas limit.
	callGasLimit = 50_000_000

	// maxProofRounds bounds how often a call is re-executed after it touched
	// state that was not proven yet.
	maxProofRounds = 8
)

// stateKeys is the set of accounts and storage slots a call touches.
type stateKeys map[common.Address]map[common.Hash]struct{}

func (k stateKeys) addAccount(address common.Address) bool {
	if _, ok := k[address]; ok {
		return false
	}
	k[address] = make(map[common.Hash]struct{})
	return true
}

func (k stateKeys) addSlot(address common.Address, slot common.Hash) bool {
	added := k.addAccount(address)
	if _, ok := k[address][slot]; ok {
		return added
	}
	k[address][slot] = struct{}{}
	return true
}

func (k stateKeys) merge(other stateKeys) bool {
	grew := false
	for address, slots := range other {
		if k.addAccount(address) {
			grew = true
		}
		for slot := range slots {
			if k.addSlot(address, slot) {
				grew = true
			}
		}
	}
	return grew
}

// hooks records the accounts and slots touched during execution. Opcode
// hooks run before the opcode executes, so keys are known even when reading
// them fails.
func (k stateKeys) hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnOpcode: func(pc uint64, opcode byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
			stack := scope.StackData()
			n := len(stack)
			switch op := vm.OpCode(opcode); {
			case (op == vm.SLOAD || op == vm.SSTORE) && n >= 1:
				k.addSlot(scope.Address(), common.Hash(stack[n-1].Bytes32()))
			case (op == vm.BALANCE || op == vm.EXTCODESIZE || op == vm.EXTCODECOPY || op == vm.EXTCODEHASH) && n >= 1:
				k.addAccount(common.Address(stack[n-1].Bytes20()))
			case (op == vm.CALL || op == vm.CALLCODE || op == vm.DELEGATECALL || op == vm.STATICCALL) && n >= 2:
				k.addAccount(common.Address(stack[n-2].Bytes20()))
			}
		},
	}
}

// verifiedCall executes the call locally on a state built only from proof
// nodes that hash into the header's state root. Nodes and code are stored by
// their own hash, so state the node forged or withheld is missing from the
// local state. Missing keys are proven and the call re-executed until it
// runs on proven state only; otherwise it fails with
// interfaces.ErrVerification.
func (c *Client) verifiedCall(ctx context.Context, contract common.Address, data []byte, block *big.Int) ([]byte, error) {
	header, err := c.backend.HeaderByNumber(ctx, block)
	if err != nil {
		return nil, classify(fmt.Errorf("reading header %s: %w", block, err))
	}

	var caller common.Address
	keys := stateKeys{}
	keys.addAccount(caller)
	keys.addAccount(contract)

	for round := 0; round < maxProofRounds; round++ {
		db := rawdb.NewMemoryDatabase()
		for address, slots := range keys {
			account, err := c.loadAccount(ctx, db, header.Root, address, slots, block)
			if err != nil {
				return nil, err
			}
			if address == contract && !hasCode(account) {
				return nil, fmt.Errorf("%w: %s at block %s", interfaces.ErrNoContract, contract.Hex(), block)
			}
		}

		statedb, err := state.New(header.Root, state.NewDatabase(triedb.NewDatabase(db, triedb.HashDefaults), nil))
		if err != nil {
			return nil, fmt.Errorf("%w: opening state at %s: %v", interfaces.ErrVerification, header.Root.Hex(), err)
		}

		touched := stateKeys{}
		evm := vm.NewEVM(blockContext(header), statedb, c.chainConfig(), vm.Config{NoBaseFee: true, Tracer: touched.hooks()})
		evm.SetTxContext(vm.TxContext{Origin: caller, GasPrice: new(big.Int)})

		gas := header.GasLimit
		if gas == 0 {
			gas = callGasLimit
		}
		out, _, callErr := evm.Call(caller, contract, data, gas, new(uint256.Int))

		if dbErr := statedb.Error(); dbErr != nil {
			if !keys.merge(touched) {
				return nil, fmt.Errorf("%w: state for call to %s is not proven: %v", interfaces.ErrVerification, contract.Hex(), dbErr)
			}
			c.log.Debug("Proving additional state", "contract", contract.Hex(), "round", round+1, "err", dbErr)
			continue
		}

		if callErr != nil {
			if errors.Is(callErr, vm.ErrExecutionReverted) {
				return nil, fmt.Errorf("%w: execution reverted", ErrCallReverted)
			}
			return nil, fmt.Errorf("%w: %v", ErrCallReverted, callErr)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: call to %s still touches unproven state after %d rounds", interfaces.ErrVerification, contract.Hex(), maxProofRounds)
}

// loadAccount stores the proof nodes and code of address in db and returns
// the proven account, or nil when the account does not exist.
func (c *Client) loadAccount(ctx context.Context, db ethdb.KeyValueWriter, root common.Hash, address common.Address, slots map[common.Hash]struct{}, block *big.Int) (*types.StateAccount, error) {
	keys := make([]string, 0, len(slots))
	for slot := range slots {
		keys = append(keys, slot.Hex())
	}

	result, err := c.proofs.GetProof(ctx, address, keys, block)
	if err != nil {
		return nil, classify(fmt.Errorf("reading proof of %s: %w", address.Hex(), err))
	}

	proof, err := cryptoutils.DecodeHexProof(result.AccountProof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrVerification, err)
	}
	account, err := cryptoutils.VerifyStateAccount(root, address, proof)
	if err != nil {
		return nil, fmt.Errorf("%w: account proof for %s: %v", interfaces.ErrVerification, address.Hex(), err)
	}
	storeNodes(db, proof)

	for _, sp := range result.StorageProof {
		nodes, err := cryptoutils.DecodeHexProof(sp.Proof)
		if err != nil {
			return nil, fmt.Errorf("%w: storage proof for %s: %v", interfaces.ErrVerification, address.Hex(), err)
		}
		storeNodes(db, nodes)
	}

	if !hasCode(account) {
		return account, nil
	}
	code, err := c.backend.CodeAt(ctx, address, block)
	if err != nil {
		return nil, classify(fmt.Errorf("reading code of %s: %w", address.Hex(), err))
	}
	if !bytes.Equal(crypto.Keccak256(code), account.CodeHash) {
		return nil, fmt.Errorf("%w: code of %s does not match the proven code hash", interfaces.ErrVerification, address.Hex())
	}
	rawdb.WriteCode(db, common.BytesToHash(account.CodeHash), code)
	return account, nil
}

func hasCode(account *types.StateAccount) bool {
	return account != nil && common.BytesToHash(account.CodeHash) != types.EmptyCodeHash
}

func storeNodes(db ethdb.KeyValueWriter, nodes cryptoutils.ProofList) {
	for _, node := range nodes {
		rawdb.WriteLegacyTrieNode(db, crypto.Keccak256Hash(node), node)
	}
}

// chainConfig enables every fork so current contracts execute.
func (c *Client) chainConfig() *params.ChainConfig {
	cfg := *params.AllDevChainProtocolChanges
	cfg.ChainID = c.cfg.ChainID.Big()
	return &cfg
}

func blockContext(header *types.Header) vm.BlockContext {
	random := header.MixDigest
	difficulty := new(big.Int)
	if header.Difficulty != nil {
		difficulty.Set(header.Difficulty)
	}
	return vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		// Block hashes are not proven.
		GetHash:     func(uint64) common.Hash { return common.Hash{} },
		Coinbase:    header.Coinbase,
		GasLimit:    header.GasLimit,
		BlockNumber: new(big.Int).Set(header.Number),
		Time:        header.Time,
		Difficulty:  difficulty,
		BaseFee:     header.BaseFee,
		Random:      &random,
	}
}
