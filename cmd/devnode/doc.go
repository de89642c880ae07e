// Package main (cmd/devnode) runs a single-sealer development chain node
// serving the devchain node API. Registrars and resolvers reach it by passing
// the printed boot node string to --boot-node.
//
// Example usage:
//
//	devnode --chain-id 0x99 --seal-key env://SEAL_KEY \
//	    --listen-addr 127.0.0.1:8545 \
//	    --alloc 0xf39F...:1000000000000000000000
package main
