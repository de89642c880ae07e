// Package seeds discovers chain boot nodes published in DNS.
//
// A seed domain carries one TXT record per boot node. The record text is the
// boot node in its "<address>:<url>" form, optionally prefixed with the chain
// it serves:
//
//	nodes.example.org. 300 IN TXT "0x99 0xAbC...:https://node-1.example.org"
//	nodes.example.org. 300 IN TXT "0xDeF...:https://node-2.example.org"
//
// Records without a chain prefix apply to every chain. Seeds only bootstrap a
// client: everything read through the discovered nodes is still verified
// against the chain registry.
//
// # Usage Example
//
//	resolver := seeds.NewResolver("", logger)
//	bootNodes, err := resolver.Lookup(ctx, "nodes.example.org", "0x99")
//	if err != nil {
//		log.Fatalf("Failed to discover boot nodes: %v", err)
//	}
//	cfg.BootNodes = bootNodes
package seeds
