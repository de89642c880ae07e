// Package main (cmd/registrar) deploys the registry contracts, enrolls server
// nodes and resolves chain data from the command line.
//
// Commands:
//
//   - register: deploys (or reuses) the chain and server registries, links the
//     chain and registers every node from the configuration file. Node keys are
//     loaded from key source URIs (file://, env://, keystore://, vault://,
//     derive://) and never written anywhere.
//
//   - resolve: looks up a chain in the chain registry and prints its boot nodes,
//     retrying transport failures.
//
//   - split-key / combine-key: split a deployer key into Shamir shares and
//     reconstruct it.
//
// The chain is reached through an Ethereum JSON-RPC endpoint when --rpc-addr is
// set, otherwise through the devchain node API of the configured boot nodes.
// Boot nodes come from --boot-node, the configuration file or DNS TXT records
// under --seed-domain.
//
// Example usage:
//
//	registrar register --config nodes.yaml --deployer-key env://DEPLOYER_KEY \
//	    --boot-node 0xB0e...:http://127.0.0.1:8545 \
//	    --publish file:///var/lib/registry
//
//	registrar resolve --chain-id 0x99 --chain-registry 0x5FbD... \
//	    --seed-domain seeds.example.org
package main
