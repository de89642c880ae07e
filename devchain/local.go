package devchain

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"

	"github.com/ruteri/nodelist-registry/interfaces"
)

// LocalChain is a single in-process node with a client connected to it.
type LocalChain struct {
	Node      *Node
	Transport *LocalTransport
	Client    *Client
	URL       string
}

// NewLocalChain starts an in-process node for chainID sealed by sealKey and
// reachable at url, with a client using it as the only boot node.
func NewLocalChain(chainID interfaces.ChainID, sealKey *ecdsa.PrivateKey, url string, log *slog.Logger, opts ...NodeOption) (*LocalChain, error) {
	node, err := NewNode(chainID.Big(), sealKey, log, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating node: %w", err)
	}

	transport := NewLocalTransport()
	transport.Register(url, node)

	client, err := NewClient(interfaces.ClientConfig{
		ChainID:   chainID,
		BootNodes: []interfaces.BootNode{{Address: node.Sealer(), URL: url}},
	}, transport, log)
	if err != nil {
		return nil, err
	}

	return &LocalChain{
		Node:      node,
		Transport: transport,
		Client:    client,
		URL:       url,
	}, nil
}

// ClientFor returns a client for the local node using cfg, with the node
// as its only boot node.
func (l *LocalChain) ClientFor(cfg interfaces.ClientConfig, log *slog.Logger) (*Client, error) {
	cfg.BootNodes = []interfaces.BootNode{{Address: l.Node.Sealer(), URL: l.URL}}
	return NewClient(cfg, l.Transport, log)
}
