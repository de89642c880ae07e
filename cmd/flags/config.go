package flags

import (
	"bytes"
	"fmt"
	"math/big"
	"os"

	"github.com/ruteri/nodelist-registry/interfaces"
	"gopkg.in/yaml.v3"
)

// NodeConfig describes a server node to register. Key is a key source URI
// understood by keysource.Loader.
type NodeConfig struct {
	URL        string `yaml:"url"`
	Key        string `yaml:"key"`
	Properties uint64 `yaml:"properties"`

	// Deposit in wei, decimal or 0x-prefixed hex.
	Deposit string `yaml:"deposit"`
}

// DepositWei parses Deposit. An empty deposit is zero.
func (n NodeConfig) DepositWei() (*big.Int, error) {
	if n.Deposit == "" {
		return new(big.Int), nil
	}
	deposit, ok := new(big.Int).SetString(n.Deposit, 0)
	if !ok || deposit.Sign() < 0 {
		return nil, fmt.Errorf("invalid deposit %q for node %q", n.Deposit, n.URL)
	}
	return deposit, nil
}

// ArtifactsConfig points at hex encoded creation code for EVM deployments.
type ArtifactsConfig struct {
	ChainRegistry  string `yaml:"chain_registry"`
	ServerRegistry string `yaml:"server_registry"`
}

// Config is the registrar configuration file.
//
//	chain_id: 0x99
//	chain_registry: 0x...       # optional, deploys a new one when empty
//	server_registry: 0x...      # optional
//	meta: dummy
//	boot_nodes:
//	  - {address: 0x..., url: http://127.0.0.1:8545}
//	nodes:
//	  - {url: "#1", key: "env://NODE1_KEY", properties: 255, deposit: "0"}
type Config struct {
	interfaces.ClientConfig `yaml:",inline"`

	Meta        string          `yaml:"meta"`
	Nodes       []NodeConfig    `yaml:"nodes"`
	Concurrency int             `yaml:"concurrency"`
	Artifacts   ArtifactsConfig `yaml:"artifacts"`
}

// LoadConfig reads a YAML configuration file. Unknown fields are rejected.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the parts of the file used for registration.
func (c *Config) Validate() error {
	if c.ChainID.IsZero() {
		return fmt.Errorf("%w: chain_id is required", interfaces.ErrInvalidConfig)
	}
	for i, n := range c.Nodes {
		if n.URL == "" {
			return fmt.Errorf("%w: node %d has no url", interfaces.ErrInvalidConfig, i)
		}
		if n.Key == "" {
			return fmt.Errorf("%w: node %d has no key", interfaces.ErrInvalidConfig, i)
		}
		if _, err := n.DepositWei(); err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrInvalidConfig, err)
		}
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: negative concurrency", interfaces.ErrInvalidConfig)
	}
	return nil
}
