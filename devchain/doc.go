// Package devchain implements an in-process development chain hosting the
// registry contracts natively, and a ChainClient that verifies every read.
//
// A Node mines each accepted transaction into its own block and seals the
// block header with its key. The header commits to a Merkle-Patricia trie
// mapping keccak(contract address) to the contract kind and the hash of its
// encoded state. Read responses carry the sealed header, an account proof,
// the contract state and the claimed output, so a Client only has to trust
// the address of the boot node it queried:
//
//	node, _ := devchain.NewNode(big.NewInt(0x99), sealKey, log)
//	transport := devchain.NewLocalTransport()
//	transport.Register("local://seed", node)
//	client, _ := devchain.NewClient(interfaces.ClientConfig{
//		ChainID:   "0x99",
//		BootNodes: []interfaces.BootNode{{Address: node.Sealer(), URL: "local://seed"}},
//	}, transport, log)
//
// Nodes can be served over HTTP with NewHandler and reached with HTTPTransport.
package devchain
