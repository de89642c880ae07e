// Package cryptoutils provides the secp256k1 key handling and Merkle-Patricia
// proof verification used across the node list registry.
//
// # Keys
//
//   - ParsePrivateKey / EncodePrivateKey - hex encoding of private keys
//   - DeriveKey - deterministic HKDF-SHA256 key derivation for development keys
//   - SignHash / RecoverAddress - recoverable signatures over 32-byte hashes
//   - AddressOf - the Ethereum address of a key
//
// # Proofs
//
// ProofList collects trie proof nodes and implements ethdb.KeyValueWriter so
// it can be filled by trie.Prove. VerifyProof and VerifyAccountProof check a
// key against a state root; VerifyStateAccount decodes the proven account.
package cryptoutils
