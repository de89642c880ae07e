package interfaces

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ChainID identifies a chain. The canonical form is a lower-case hex string
// without leading zeros, e.g. "0x99".
type ChainID string

// chainAliases maps symbolic chain names to their numeric identifiers.
var chainAliases = map[string]ChainID{
	"mainnet": "0x1",
	"goerli":  "0x5",
	"kovan":   "0x2a",
	"local":   "0x11",
	"ipfs":    "0x7d0",
}

// NewChainID parses a chain identifier given as hex ("0x99"), decimal ("153")
// or a symbolic alias ("mainnet").
func NewChainID(source string) (ChainID, error) {
	clean := strings.ToLower(strings.TrimSpace(source))
	if clean == "" {
		return "", fmt.Errorf("%w: empty chain id", ErrInvalidChainID)
	}

	if alias, ok := chainAliases[clean]; ok {
		return alias, nil
	}

	value := new(big.Int)
	var ok bool
	if strings.HasPrefix(clean, "0x") {
		_, ok = value.SetString(clean[2:], 16)
	} else {
		_, ok = value.SetString(clean, 10)
	}
	if !ok || value.Sign() <= 0 || value.BitLen() > 256 {
		return "", fmt.Errorf("%w: %q", ErrInvalidChainID, source)
	}

	return ChainIDFromBig(value), nil
}

// ChainIDFromBig converts a numeric chain id into its canonical form.
func ChainIDFromBig(value *big.Int) ChainID {
	if value == nil || value.Sign() <= 0 {
		return ""
	}
	return ChainID("0x" + value.Text(16))
}

// ChainIDFromBytes32 converts the on-chain bytes32 representation.
// A zero value yields the empty ChainID.
func ChainIDFromBytes32(raw [32]byte) ChainID {
	return ChainIDFromBig(new(big.Int).SetBytes(raw[:]))
}

// Big returns the numeric value of the chain id, zero if it is not set.
func (id ChainID) Big() *big.Int {
	value, ok := new(big.Int).SetString(strings.TrimPrefix(string(id), "0x"), 16)
	if !ok || value.BitLen() > 256 {
		return new(big.Int)
	}
	return value
}

// Canonical returns id in the form NewChainID produces, so that equal chains
// compare equal. Unparsable ids are returned unchanged.
func (id ChainID) Canonical() ChainID {
	if canonical := ChainIDFromBig(id.Big()); !canonical.IsZero() {
		return canonical
	}
	return id
}

// Bytes32 returns the left-padded on-chain representation.
func (id ChainID) Bytes32() [32]byte {
	var out [32]byte
	id.Big().FillBytes(out[:])
	return out
}

// IsZero reports whether the chain id is unset.
func (id ChainID) IsZero() bool {
	return id == ""
}

// String returns the canonical hex form.
func (id ChainID) String() string {
	return string(id)
}

// MarshalText implements encoding.TextMarshaler.
func (id ChainID) MarshalText() ([]byte, error) {
	return []byte(id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and normalizes the input.
func (id *ChainID) UnmarshalText(text []byte) error {
	parsed, err := NewChainID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NodeDescriptor describes a server node to enroll. It is owned by the caller
// and the private key is never persisted by this module.
type NodeDescriptor struct {
	URL        string
	PrivateKey *ecdsa.PrivateKey
	Properties uint64
	Deposit    *big.Int
}

// NodeRecord is the registration record derived from a NodeDescriptor.
// Address is derived from the node's private key.
type NodeRecord struct {
	Address    common.Address `json:"address"`
	URL        string         `json:"url"`
	Properties uint64         `json:"props"`
	Deposit    *big.Int       `json:"deposit"`

	// Confirmation of the registration transaction, nil for records read
	// back from chain.
	Confirmation *Confirmation `json:"confirmation,omitempty"`
}

// BootNode is an entry of a chain's boot node list.
type BootNode struct {
	Address common.Address `json:"address" yaml:"address"`
	URL     string         `json:"url" yaml:"url"`
}

// String formats the boot node as "<checksummed address>:<url>".
func (n BootNode) String() string {
	return n.Address.Hex() + ":" + n.URL
}

// ParseBootNode parses the "<address>:<url>" form produced by String.
func ParseBootNode(source string) (BootNode, error) {
	const addrLen = 2 + 2*common.AddressLength
	if len(source) < addrLen+2 || source[addrLen] != ':' {
		return BootNode{}, fmt.Errorf("invalid boot node %q: expected <address>:<url>", source)
	}
	if !common.IsHexAddress(source[:addrLen]) {
		return BootNode{}, fmt.Errorf("invalid boot node address %q", source[:addrLen])
	}
	return BootNode{
		Address: common.HexToAddress(source[:addrLen]),
		URL:     source[addrLen+1:],
	}, nil
}

// ChainData is a verified point-in-time snapshot of a chain's registry metadata.
type ChainData struct {
	Owner            common.Address `json:"owner"`
	RegistryContract common.Address `json:"registryContract"`
	ContractChain    ChainID        `json:"contractChain"`
	BootNodes        []BootNode     `json:"bootNodes"`
	Meta             string         `json:"meta"`
}

// BootNodeStrings returns the boot nodes in their "<address>:<url>" form.
func (d *ChainData) BootNodeStrings() []string {
	out := make([]string, len(d.BootNodes))
	for i, n := range d.BootNodes {
		out[i] = n.String()
	}
	return out
}

// RegistrationResult is returned by the registry manager.
type RegistrationResult struct {
	ChainRegistry  common.Address `json:"chainRegistry"`
	ServerRegistry common.Address `json:"registry"`
	ChainID        ChainID        `json:"chainId"`

	// Nodes lists the confirmed registrations in submission order.
	Nodes []NodeRecord `json:"nodes"`
}
