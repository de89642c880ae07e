package devchain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/nodelist-registry/interfaces"
)

// Transport carries client requests to development chain nodes identified
// by URL. Network-level failures are reported as interfaces.ErrTransport.
type Transport interface {
	BlockNumber(ctx context.Context, url string) (uint64, error)
	Nonce(ctx context.Context, url string, addr common.Address) (uint64, error)
	SendTransaction(ctx context.Context, url string, raw []byte) (common.Hash, error)

	// Receipt returns nil while the transaction is pending.
	Receipt(ctx context.Context, url string, hash common.Hash) (*Receipt, error)

	Call(ctx context.Context, url string, req CallRequest) (*CallResponse, error)
}

// LocalTransport routes requests to in-process nodes.
type LocalTransport struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewLocalTransport creates an empty in-process transport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{nodes: make(map[string]*Node)}
}

// Register makes node reachable under url.
func (t *LocalTransport) Register(url string, node *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[url] = node
}

// Unregister makes url unreachable.
func (t *LocalTransport) Unregister(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, url)
}

func (t *LocalTransport) node(ctx context.Context, url string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrTransport, err)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.nodes[url]
	if !ok {
		return nil, fmt.Errorf("%w: no node at %q", interfaces.ErrTransport, url)
	}
	return node, nil
}

func (t *LocalTransport) BlockNumber(ctx context.Context, url string) (uint64, error) {
	node, err := t.node(ctx, url)
	if err != nil {
		return 0, err
	}
	return node.BlockNumber(), nil
}

func (t *LocalTransport) Nonce(ctx context.Context, url string, addr common.Address) (uint64, error) {
	node, err := t.node(ctx, url)
	if err != nil {
		return 0, err
	}
	return node.Nonce(addr), nil
}

func (t *LocalTransport) SendTransaction(ctx context.Context, url string, raw []byte) (common.Hash, error) {
	node, err := t.node(ctx, url)
	if err != nil {
		return common.Hash{}, err
	}
	return node.SendTransaction(raw)
}

func (t *LocalTransport) Receipt(ctx context.Context, url string, hash common.Hash) (*Receipt, error) {
	node, err := t.node(ctx, url)
	if err != nil {
		return nil, err
	}
	return node.Receipt(hash), nil
}

func (t *LocalTransport) Call(ctx context.Context, url string, req CallRequest) (*CallResponse, error) {
	node, err := t.node(ctx, url)
	if err != nil {
		return nil, err
	}
	return node.Call(req)
}

// LoggingTransport logs every request made through the wrapped transport.
type LoggingTransport struct {
	next Transport
	log  *slog.Logger
}

// NewLoggingTransport wraps next with request logging.
func NewLoggingTransport(next Transport, log *slog.Logger) *LoggingTransport {
	return &LoggingTransport{next: next, log: log}
}

func (t *LoggingTransport) record(op, url string, start time.Time, err error, attrs ...any) {
	attrs = append(attrs, "op", op, "url", url, "duration", time.Since(start))
	if err != nil {
		t.log.Warn("devchain request failed", append(attrs, "err", err)...)
		return
	}
	t.log.Debug("devchain request", attrs...)
}

func (t *LoggingTransport) BlockNumber(ctx context.Context, url string) (uint64, error) {
	start := time.Now()
	number, err := t.next.BlockNumber(ctx, url)
	t.record("blockNumber", url, start, err, "number", number)
	return number, err
}

func (t *LoggingTransport) Nonce(ctx context.Context, url string, addr common.Address) (uint64, error) {
	start := time.Now()
	nonce, err := t.next.Nonce(ctx, url, addr)
	t.record("nonce", url, start, err, "address", addr.Hex(), "nonce", nonce)
	return nonce, err
}

func (t *LoggingTransport) SendTransaction(ctx context.Context, url string, raw []byte) (common.Hash, error) {
	start := time.Now()
	hash, err := t.next.SendTransaction(ctx, url, raw)
	t.record("sendTransaction", url, start, err, "hash", hash.Hex(), "size", len(raw))
	return hash, err
}

func (t *LoggingTransport) Receipt(ctx context.Context, url string, hash common.Hash) (*Receipt, error) {
	start := time.Now()
	receipt, err := t.next.Receipt(ctx, url, hash)
	t.record("receipt", url, start, err, "hash", hash.Hex(), "found", receipt != nil)
	return receipt, err
}

func (t *LoggingTransport) Call(ctx context.Context, url string, req CallRequest) (*CallResponse, error) {
	start := time.Now()
	resp, err := t.next.Call(ctx, url, req)
	t.record("call", url, start, err, "to", req.To.Hex())
	return resp, err
}
