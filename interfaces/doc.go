// Package interfaces defines the data model and the collaborator interfaces
// shared by the node list registry packages.
//
// # Data model
//
// ChainID: canonical hex chain identifier, with symbolic aliases.
//
// NodeDescriptor / NodeRecord: a node to enroll and the record derived from
// it once registered.
//
// ChainData: a verified snapshot of a chain's registry metadata, including the
// boot node list in on-chain order.
//
// RegistrationResult: the contract addresses and confirmed registrations
// produced by a registration run.
//
// # Chain access
//
// ChainClient: verified reads and signed writes against a chain. The
// devchain and evmclient packages provide implementations.
//
// # Storage
//
// StorageBackend: content-addressed publication of ChainData and
// RegistrationResult snapshots.
//
// # Errors
//
// Failures are classified with the Err* sentinels. DeploymentError and
// RegistrationError carry the failing contract or node and match both their
// category sentinel and the underlying cause with errors.Is.
package interfaces
