// Package keysource loads deployer and node signing keys from files,
// environment variables, go-ethereum keystores, Vault and Shamir share sets.
//
// Keys are referenced by URI so registration configs never hold raw key
// material:
//
//	loader := keysource.NewLoader(log)
//	key, err := loader.Load(ctx, "keystore:///etc/registrar/deployer.json?password-env=DEPLOYER_PASSWORD")
//
// SplitKey and WriteShares distribute a key across operators; a shamir://
// URI pointing at a directory holding at least the threshold of shares
// reconstructs it.
package keysource
