// Package storage publishes content-addressed snapshots of registration
// results and resolved chain data.
//
// Every snapshot is JSON and identified by the SHA-256 hash of its bytes.
// Backends verify the hash on fetch, so a snapshot read back from any backend
// is exactly the one that was published.
//
// # Storage URI Format
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/nodelist/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://127.0.0.1:5001/nodelist
//   - vault://vault.example.com:8200/secret/nodelist
//
// Content types are kept in separate namespaces ("chains" and
// "registrations") on every backend.
//
// # Usage
//
//	factory := storage.NewStorageBackendFactory(log)
//	backend, err := factory.CreateMultiBackend([]string{"file:///var/lib/nodelist", "s3://snapshots/nodelist"})
//	id, err := storage.PublishChainData(ctx, backend, chainData)
package storage
