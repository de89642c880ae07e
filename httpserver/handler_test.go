package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/nodelist-registry/contracts"
	"github.com/ruteri/nodelist-registry/cryptoutils"
	"github.com/ruteri/nodelist-registry/devchain"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/ruteri/nodelist-registry/registry"
	"github.com/ruteri/nodelist-registry/resolver"
	"github.com/ruteri/nodelist-registry/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var testChain = &interfaces.ChainData{
	Owner:            common.HexToAddress("0x1111111111111111111111111111111111111111"),
	RegistryContract: common.HexToAddress("0x2222222222222222222222222222222222222222"),
	ContractChain:    "0x99",
	BootNodes: []interfaces.BootNode{
		{Address: common.HexToAddress("0x3333333333333333333333333333333333333333"), URL: "#1"},
	},
	Meta: "dummy",
}

// countingSource serves testChain for 0x99 and fails with err otherwise.
type countingSource struct {
	calls atomic.Int32
	err   error
}

func (s *countingSource) Resolve(ctx context.Context, chainID interfaces.ChainID) (*interfaces.ChainData, error) {
	s.calls.Add(1)
	if chainID != "0x99" {
		return nil, s.err
	}
	return testChain, nil
}

type countingObserver struct {
	hits, misses int
}

func (o *countingObserver) ObserveCacheLookup(hit bool) {
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func newRouter(h *Handler) http.Handler {
	mux := chi.NewRouter()
	mux.Get("/api/v1/chains/{chain_id}", h.HandleChainData)
	mux.Get("/api/v1/snapshots/{content_id}", h.HandleSnapshot)
	return mux
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decodeChainData(t *testing.T, w *httptest.ResponseRecorder) *interfaces.ChainData {
	var data interfaces.ChainData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data), w.Body.String())
	return &data
}

func TestHandleChainData_Cached(t *testing.T) {
	source := &countingSource{}
	observer := &countingObserver{}
	handler := NewHandler(source, time.Minute, testLogger, WithCacheObserver(observer))
	router := newRouter(handler)

	for _, path := range []string{"/api/v1/chains/0x99", "/api/v1/chains/153", "/api/v1/chains/0x0099"} {
		w := get(t, router, path)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, testChain, decodeChainData(t, w))
		assert.Empty(t, w.Header().Get(SnapshotIDHeader))
	}

	assert.Equal(t, int32(1), source.calls.Load())
	assert.Equal(t, 2, observer.hits)
	assert.Equal(t, 1, observer.misses)
	assert.Equal(t, 1, handler.CachedChains())

	handler.Purge("0x99")
	assert.Equal(t, 0, handler.CachedChains())
	require.Equal(t, http.StatusOK, get(t, router, "/api/v1/chains/0x99").Code)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestHandleChainData_Expiry(t *testing.T) {
	source := &countingSource{}
	router := newRouter(NewHandler(source, 20*time.Millisecond, testLogger))

	require.Equal(t, http.StatusOK, get(t, router, "/api/v1/chains/0x99").Code)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, http.StatusOK, get(t, router, "/api/v1/chains/0x99").Code)

	assert.Equal(t, int32(2), source.calls.Load())
}

func TestHandleChainData_CacheDisabled(t *testing.T) {
	source := &countingSource{}
	handler := NewHandler(source, 0, testLogger)
	router := newRouter(handler)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, get(t, router, "/api/v1/chains/0x99").Code)
	}
	assert.Equal(t, int32(3), source.calls.Load())
	assert.Equal(t, 0, handler.CachedChains())
}

func TestHandleChainData_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
	}{
		{"malformed chain id", "/api/v1/chains/nonsense", nil, http.StatusBadRequest},
		{"unknown chain", "/api/v1/chains/0x77", fmt.Errorf("reading entry: %w", interfaces.ErrChainNotFound), http.StatusNotFound},
		{"verification", "/api/v1/chains/0x77", interfaces.ErrVerification, http.StatusBadGateway},
		{"transport", "/api/v1/chains/0x77", fmt.Errorf("%w: all boot nodes failed", interfaces.ErrTransport), http.StatusServiceUnavailable},
		{"other", "/api/v1/chains/0x77", interfaces.ErrInvalidConfig, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &countingSource{err: tt.err}
			handler := NewHandler(source, time.Minute, testLogger)

			w := get(t, newRouter(handler), tt.path)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, 0, handler.CachedChains())
		})
	}
}

func TestHandleChainData_PublishesSnapshots(t *testing.T) {
	backend, err := storage.NewFileBackend(t.TempDir(), testLogger)
	require.NoError(t, err)

	handler := NewHandler(&countingSource{}, time.Minute, testLogger, WithStorage(backend))
	router := newRouter(handler)

	w := get(t, router, "/api/v1/chains/0x99")
	require.Equal(t, http.StatusOK, w.Code)
	snapshotID := w.Header().Get(SnapshotIDHeader)
	require.NotEmpty(t, snapshotID)

	// Cached responses carry the same snapshot.
	assert.Equal(t, snapshotID, get(t, router, "/api/v1/chains/0x99").Header().Get(SnapshotIDHeader))

	w = get(t, router, "/api/v1/snapshots/"+snapshotID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testChain, decodeChainData(t, w))

	missing := interfaces.ComputeID([]byte("missing"))
	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/snapshots/"+missing.String()).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, router, "/api/v1/snapshots/xyz").Code)
}

func TestHandleSnapshot_WithoutStorage(t *testing.T) {
	router := newRouter(NewHandler(&countingSource{}, time.Minute, testLogger))
	id := interfaces.ComputeID([]byte("{}"))
	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/snapshots/"+id.String()).Code)
}

// TestHandleChainData_DevChain serves data registered on an in-process chain.
func TestHandleChainData_DevChain(t *testing.T) {
	ctx := context.Background()
	pk, err := cryptoutils.DeriveKey([]byte("httpserver tests"), "deployer")
	require.NoError(t, err)
	pk2, err := cryptoutils.DeriveKey([]byte("httpserver tests"), "node")
	require.NoError(t, err)

	chain, err := devchain.NewLocalChain("0x99", pk, "local://seed", testLogger)
	require.NoError(t, err)

	result, err := registry.NewRegistryManager(chain.Client, contracts.NativeArtifacts(), testLogger).Register(ctx, registry.RegisterRequest{
		DeployerKey: pk,
		ChainID:     "0x99",
		Meta:        "dummy",
		Nodes: []interfaces.NodeDescriptor{
			{URL: "#1", PrivateKey: pk},
			{URL: "#2", PrivateKey: pk2},
		},
	})
	require.NoError(t, err)

	client, err := chain.ClientFor(interfaces.ClientConfig{ChainID: "0x99", ChainRegistry: result.ChainRegistry}, testLogger)
	require.NoError(t, err)

	chainResolver := resolver.NewChainResolver(testLogger)
	source := ChainSourceFunc(func(ctx context.Context, id interfaces.ChainID) (*interfaces.ChainData, error) {
		return chainResolver.Resolve(ctx, client, id)
	})
	router := newRouter(NewHandler(source, time.Minute, testLogger))

	w := get(t, router, "/api/v1/chains/0x99")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := decodeChainData(t, w)
	assert.Equal(t, cryptoutils.AddressOf(pk), data.Owner)
	assert.Equal(t, result.ServerRegistry, data.RegistryContract)
	assert.Equal(t, "dummy", data.Meta)
	require.Len(t, data.BootNodes, 2)
	assert.Equal(t, cryptoutils.AddressOf(pk2).Hex()+":#2", data.BootNodes[1].String())

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/chains/0x77").Code)
}
