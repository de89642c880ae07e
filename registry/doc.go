// Package registry deploys and drives the chain registry and server registry
// contracts through an interfaces.ChainClient.
//
// ChainRegistry and ServerRegistry are typed clients of the two contracts.
// Reads go through the client's verified Call; writes are signed and wait for
// confirmation.
//
// RegistryManager performs a complete registration run:
//
//  1. deploy a ChainRegistry owned by the deployer, or reuse the given one
//  2. deploy a ServerRegistry bound to the chain id, or reuse the given one
//  3. link the chain to the server registry in the chain registry
//  4. register every node, each transaction signed by the node's own key
//
// Linking happens before node enrollment so a chain whose registration is
// interrupted can still be resolved with the nodes registered so far.
//
// # Usage Example
//
//	manager := registry.NewRegistryManager(client, contracts.NativeArtifacts(), log)
//	result, err := manager.Register(ctx, registry.RegisterRequest{
//	    DeployerKey: deployerKey,
//	    ChainID:     "0x99",
//	    Meta:        "dummy",
//	    Nodes: []interfaces.NodeDescriptor{
//	        {URL: "#1", PrivateKey: key1, Properties: 0xff},
//	        {URL: "#2", PrivateKey: key2, Properties: 0xff},
//	    },
//	})
//
// A RegistrationError identifies the failing node; registrations confirmed
// before it remain on chain and are listed in the returned result.
package registry
