/*
Package httpserver serves verified chain data over HTTP.

Clients that cannot verify registry reads themselves can fetch a chain's boot
node list from a server that does. Every response is resolved through a
ChainSource (typically resolver.ChainResolver over a verifying client) and
cached for a configurable TTL.

When a storage backend is configured, each freshly resolved snapshot is
published as content-addressed JSON and its ID is returned in the
X-Snapshot-ID header, so the exact data served can be fetched again later.

# API Endpoints

  - GET /api/v1/chains/{chain_id} - Resolved ChainData for a chain
  - GET /api/v1/snapshots/{content_id} - A published ChainData snapshot
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# Admin API Endpoints

Mounted under /admin when an AdminHandler is configured. Requests carry the
admin address, a unix timestamp and a secp256k1 signature over
"<method> <path> <timestamp>\n<body>" (see CreateSignedAdminRequest).

  - GET /admin/status - Cache status
  - POST /admin/cache/purge - Drop cached chain data

# Example Usage

	source := httpserver.ChainSourceFunc(func(ctx context.Context, id interfaces.ChainID) (*interfaces.ChainData, error) {
		return chainResolver.Resolve(ctx, client, id)
	})
	handler := httpserver.NewHandler(source, time.Minute, logger, httpserver.WithStorage(backend))

	server, err := httpserver.New(cfg, handler, nil, metricsSrv)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	defer server.Shutdown()
*/
package httpserver
