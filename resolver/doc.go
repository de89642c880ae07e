// Package resolver reconstructs the metadata of a registered chain from the
// on-chain registries.
//
// A resolution pins the current block, reads the chain registry entry for the
// requested chain id and then lists the servers of the linked server
// registry. Every read goes through the ChainClient's verified Call, so the
// returned ChainData is only as trusted as the boot nodes the client is
// configured with.
//
//	resolver := resolver.NewChainResolver(log)
//	data, err := resolver.Resolve(ctx, client, "0x99")
//	if errors.Is(err, interfaces.ErrChainNotFound) {
//		// chain was never linked
//	}
package resolver
