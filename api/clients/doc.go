/*
Package clients provides client libraries for the nodelist server HTTP API.

# Client Types

  - NodelistClient - reads resolved chain data and published snapshots
  - AdminClient - signed cache administration requests

Server errors are mapped back onto the interfaces sentinel errors, so callers
can match them with errors.Is:

	data, snapshot, err := client.GetChainData(ctx, "0x99")
	if errors.Is(err, interfaces.ErrChainNotFound) {
	    // chain is not registered
	}

# Admin Requests

AdminClient signs every request with the admin's secp256k1 key. The server
recovers the signer from the signature and checks it against its allowlist:

	key, _ := cryptoutils.ParsePrivateKey(os.Getenv("ADMIN_KEY"))
	admin := clients.NewAdminClient("http://127.0.0.1:8080/admin", key, 30*time.Second)
	purged, err := admin.PurgeCache(ctx, "0x99")
*/
package clients
