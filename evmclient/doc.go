// Package evmclient implements interfaces.ChainClient on top of a go-ethereum
// JSON-RPC connection.
//
// Writes are signed locally with bind.NewKeyedTransactorWithChainID and
// confirmed by polling for the receipt. Reads are pinned to a block number.
// When a ProofBackend is configured (Dial uses eth_getProof), calls are
// executed locally on state proven against the block header's state root,
// and the node's own call results are never used.
package evmclient
