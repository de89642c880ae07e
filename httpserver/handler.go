package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/ruteri/nodelist-registry/storage"
)

// SnapshotIDHeader carries the content ID of the published snapshot of a
// chain data response.
const SnapshotIDHeader = "X-Snapshot-ID"

// ChainSource resolves verified chain data.
type ChainSource interface {
	Resolve(ctx context.Context, chainID interfaces.ChainID) (*interfaces.ChainData, error)
}

// ChainSourceFunc adapts a function to ChainSource.
type ChainSourceFunc func(ctx context.Context, chainID interfaces.ChainID) (*interfaces.ChainData, error)

func (f ChainSourceFunc) Resolve(ctx context.Context, chainID interfaces.ChainID) (*interfaces.ChainData, error) {
	return f(ctx, chainID)
}

// CacheObserver receives chain data cache outcomes.
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

type noopCacheObserver struct{}

func (noopCacheObserver) ObserveCacheLookup(bool) {}

// cachedChain is a cache entry: resolved data and the ID of its published snapshot.
type cachedChain struct {
	data       *interfaces.ChainData
	snapshotID *interfaces.ContentID
}

// Handler serves resolved chain data. Results are cached for the configured
// TTL and, when a storage backend is set, published as content-addressed
// snapshots.
type Handler struct {
	source   ChainSource
	cache    *cache.Cache
	ttl      time.Duration
	storage  interfaces.StorageBackend
	observer CacheObserver
	log      *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithStorage publishes every freshly resolved snapshot to backend.
func WithStorage(backend interfaces.StorageBackend) HandlerOption {
	return func(h *Handler) {
		h.storage = backend
	}
}

// WithCacheObserver reports cache hits and misses to o.
func WithCacheObserver(o CacheObserver) HandlerOption {
	return func(h *Handler) {
		h.observer = o
	}
}

// NewHandler creates a handler resolving through source and caching results
// for ttl. A ttl of zero or less disables caching.
func NewHandler(source ChainSource, ttl time.Duration, log *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		source:   source,
		cache:    cache.New(ttl, 2*ttl),
		ttl:      ttl,
		observer: noopCacheObserver{},
		log:      log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleChainData serves GET /api/v1/chains/{chain_id}.
//
// Responses:
//   - 200: ChainData JSON
//   - 400: malformed chain id
//   - 404: chain not registered
//   - 502: node data failed verification
//   - 503: no boot node reachable
func (h *Handler) HandleChainData(w http.ResponseWriter, r *http.Request) {
	chainID, err := interfaces.NewChainID(r.PathValue("chain_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, hit := h.lookup(chainID)
	h.observer.ObserveCacheLookup(hit)
	if !hit {
		entry, err = h.resolve(r.Context(), chainID)
		if err != nil {
			h.log.Warn("Failed to resolve chain", "chainId", chainID.String(), "err", err)
			http.Error(w, err.Error(), statusFor(err))
			return
		}
	}

	if entry.snapshotID != nil {
		w.Header().Set(SnapshotIDHeader, entry.snapshotID.String())
	}
	h.writeJSON(w, entry.data)
}

// HandleSnapshot serves GET /api/v1/snapshots/{content_id} from the
// storage backend.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		http.Error(w, "snapshots are not published", http.StatusNotFound)
		return
	}

	id, err := interfaces.NewContentIDFromHex(r.PathValue("content_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := storage.LoadChainData(r.Context(), h.storage, id)
	switch {
	case errors.Is(err, interfaces.ErrContentNotFound):
		http.Error(w, "snapshot not found", http.StatusNotFound)
		return
	case err != nil:
		h.log.Error("Failed to load snapshot", "contentId", id.String(), "err", err)
		http.Error(w, "failed to load snapshot", http.StatusBadGateway)
		return
	}
	h.writeJSON(w, data)
}

// Purge drops cached data for the given chains, or everything when none are given.
func (h *Handler) Purge(chains ...interfaces.ChainID) {
	if len(chains) == 0 {
		h.cache.Flush()
		return
	}
	for _, chain := range chains {
		h.cache.Delete(chain.String())
	}
}

// CachedChains returns the number of cached chain entries.
func (h *Handler) CachedChains() int {
	return h.cache.ItemCount()
}

func (h *Handler) lookup(chainID interfaces.ChainID) (*cachedChain, bool) {
	if h.ttl <= 0 {
		return nil, false
	}
	v, ok := h.cache.Get(chainID.String())
	if !ok {
		return nil, false
	}
	return v.(*cachedChain), true
}

func (h *Handler) resolve(ctx context.Context, chainID interfaces.ChainID) (*cachedChain, error) {
	data, err := h.source.Resolve(ctx, chainID)
	if err != nil {
		return nil, err
	}

	entry := &cachedChain{data: data}
	if h.storage != nil {
		id, err := storage.PublishChainData(ctx, h.storage, data)
		if err != nil {
			// Serving the data does not depend on publication.
			h.log.Warn("Failed to publish chain snapshot", "chainId", chainID.String(), "err", err)
		} else {
			entry.snapshotID = &id
		}
	}

	if h.ttl > 0 {
		h.cache.SetDefault(chainID.String(), entry)
	}
	return entry, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrChainNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrInvalidChainID):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrVerification):
		return http.StatusBadGateway
	case errors.Is(err, interfaces.ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
