package contracts

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Names of the registry contracts, as used in errors and logs.
const (
	ChainRegistryName  = "ChainRegistry"
	ServerRegistryName = "ServerRegistry"
)

// nativePrefix marks code executed natively by the development chain instead
// of by an EVM.
const nativePrefix = "\x00native:"

var (
	// NativeChainRegistryCode deploys the development chain's built-in chain registry.
	NativeChainRegistryCode = []byte(nativePrefix + ChainRegistryName)

	// NativeServerRegistryCode deploys the development chain's built-in server registry.
	NativeServerRegistryCode = []byte(nativePrefix + ServerRegistryName)
)

var ErrMissingArtifact = errors.New("missing contract artifact")

// Artifacts holds the creation code of the registry contracts.
type Artifacts struct {
	ChainRegistry  []byte
	ServerRegistry []byte
}

// NativeArtifacts returns the artifacts understood by the development chain.
func NativeArtifacts() Artifacts {
	return Artifacts{
		ChainRegistry:  bytes.Clone(NativeChainRegistryCode),
		ServerRegistry: bytes.Clone(NativeServerRegistryCode),
	}
}

// LoadArtifacts reads hex encoded creation code from two files, as emitted
// by solc --bin.
func LoadArtifacts(chainRegistryPath, serverRegistryPath string) (Artifacts, error) {
	chainRegistry, err := loadHexFile(chainRegistryPath)
	if err != nil {
		return Artifacts{}, fmt.Errorf("loading %s artifact: %w", ChainRegistryName, err)
	}
	serverRegistry, err := loadHexFile(serverRegistryPath)
	if err != nil {
		return Artifacts{}, fmt.Errorf("loading %s artifact: %w", ServerRegistryName, err)
	}
	return Artifacts{ChainRegistry: chainRegistry, ServerRegistry: serverRegistry}, nil
}

func loadHexFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	clean := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(clean, "0x") {
		clean = "0x" + clean
	}
	return hexutil.Decode(clean)
}

// Validate checks that both artifacts are present.
func (a Artifacts) Validate() error {
	if len(a.ChainRegistry) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingArtifact, ChainRegistryName)
	}
	if len(a.ServerRegistry) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingArtifact, ServerRegistryName)
	}
	return nil
}

// ChainRegistryDeployData returns the creation payload of the chain registry.
func (a Artifacts) ChainRegistryDeployData() ([]byte, error) {
	if len(a.ChainRegistry) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingArtifact, ChainRegistryName)
	}
	return bytes.Clone(a.ChainRegistry), nil
}

// ServerRegistryDeployData returns the creation payload of a server registry
// bound to chain.
func (a Artifacts) ServerRegistryDeployData(chain [32]byte) ([]byte, error) {
	if len(a.ServerRegistry) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingArtifact, ServerRegistryName)
	}
	args, err := ServerRegistry.Pack("", chain)
	if err != nil {
		return nil, fmt.Errorf("packing %s constructor: %w", ServerRegistryName, err)
	}
	return append(bytes.Clone(a.ServerRegistry), args...), nil
}

// SplitNative splits native creation code into the contract name and its
// packed constructor arguments. ok is false for non-native code.
func SplitNative(code []byte) (name string, args []byte, ok bool) {
	for _, candidate := range [][]byte{NativeChainRegistryCode, NativeServerRegistryCode} {
		if bytes.HasPrefix(code, candidate) {
			return strings.TrimPrefix(string(candidate), nativePrefix), code[len(candidate):], true
		}
	}
	return "", nil, false
}
