// Package main (cmd/httpserver) serves resolved chain node lists over HTTP.
//
// The server resolves chains through the chain registry on demand, caches the
// result for --cache-ttl and optionally publishes every fresh resolution as a
// content-addressed snapshot to the --publish storage locations. Snapshots are
// served back under /api/v1/snapshots/{content_id}.
//
// Endpoints:
//
//   - GET /api/v1/chains/{chain_id}: chain data for a chain (hex, decimal or alias)
//   - GET /api/v1/snapshots/{content_id}: a previously published snapshot
//   - /livez, /readyz, /drain, /undrain: health and load balancer control
//   - /admin/status, /admin/cache/purge: signed admin requests, when
//     --admin-keys-file is given
//
// Prometheus metrics are served on --metrics-addr.
//
// Example usage:
//
//	nodelist-server --chain-id 0x99 --chain-registry 0x5FbD... \
//	    --boot-node 0xB0e...:http://127.0.0.1:8545 \
//	    --listen-addr 0.0.0.0:8080 \
//	    --publish s3://snapshots/registry?region=us-east-1
package main
