package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ChainRegistryABI is the input ABI of the chain registry contract.
const ChainRegistryABI = `[
  {"type":"constructor","inputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"owner","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
  {"type":"function","name":"registerChain","inputs":[
    {"name":"chain","type":"bytes32"},
    {"name":"meta","type":"string"},
    {"name":"registryContract","type":"address"},
    {"name":"contractChain","type":"bytes32"}
  ],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"chains","inputs":[{"name":"","type":"bytes32"}],"outputs":[
    {"name":"owner","type":"address"},
    {"name":"meta","type":"string"},
    {"name":"registryContract","type":"address"},
    {"name":"contractChain","type":"bytes32"}
  ],"stateMutability":"view"},
  {"type":"event","name":"LogChainRegistered","inputs":[{"name":"chain","type":"bytes32","indexed":true}],"anonymous":false}
]`

// ServerRegistryABI is the input ABI of the server registry contract.
const ServerRegistryABI = `[
  {"type":"constructor","inputs":[{"name":"chain","type":"bytes32"}],"stateMutability":"nonpayable"},
  {"type":"function","name":"chainId","inputs":[],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"},
  {"type":"function","name":"registerServer","inputs":[
    {"name":"url","type":"string"},
    {"name":"props","type":"uint256"}
  ],"outputs":[],"stateMutability":"payable"},
  {"type":"function","name":"totalServers","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"servers","inputs":[{"name":"","type":"uint256"}],"outputs":[
    {"name":"url","type":"string"},
    {"name":"owner","type":"address"},
    {"name":"deposit","type":"uint256"},
    {"name":"props","type":"uint256"}
  ],"stateMutability":"view"},
  {"type":"event","name":"LogServerRegistered","inputs":[
    {"name":"url","type":"string","indexed":false},
    {"name":"props","type":"uint256","indexed":false},
    {"name":"owner","type":"address","indexed":false},
    {"name":"deposit","type":"uint256","indexed":false}
  ],"anonymous":false}
]`

var (
	// ChainRegistry is the parsed chain registry ABI.
	ChainRegistry = mustParseABI(ChainRegistryABI)

	// ServerRegistry is the parsed server registry ABI.
	ServerRegistry = mustParseABI(ServerRegistryABI)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
