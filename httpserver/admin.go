package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/nodelist-registry/cryptoutils"
	"github.com/ruteri/nodelist-registry/interfaces"
)

const (
	AdminAddressHeader   = "X-Admin-Address"
	AdminSignatureHeader = "X-Admin-Signature"
	AdminTimestampHeader = "X-Admin-Timestamp"

	// maxAdminClockSkew bounds the age of a signed admin request.
	maxAdminClockSkew = 5 * time.Minute
)

// AdminHandler serves cache administration to a fixed set of admins. Each
// request is signed with the admin's secp256k1 key.
type AdminHandler struct {
	handler *Handler
	admins  map[common.Address]string
	log     *slog.Logger
	now     func() time.Time
}

// NewAdminHandler creates an admin API over handler's cache. admins maps
// admin addresses to display names.
func NewAdminHandler(handler *Handler, admins map[common.Address]string, log *slog.Logger) *AdminHandler {
	return &AdminHandler{
		handler: handler,
		admins:  admins,
		log:     log,
		now:     time.Now,
	}
}

// AdminRouter returns the admin routes:
//   - GET  /status
//   - POST /cache/purge  {"chains": ["0x99", ...]}; no chains purges everything
func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(h.authenticate)
	r.Get("/status", h.handleStatus)
	r.Post("/cache/purge", h.handlePurge)
	return r
}

type adminStatusResponse struct {
	Admin        string `json:"admin"`
	CachedChains int    `json:"cachedChains"`
}

type purgeRequest struct {
	Chains []string `json:"chains"`
}

type purgeResponse struct {
	Purged []interfaces.ChainID `json:"purged"`
}

type adminContextKey struct{}

func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.handler.writeJSON(w, adminStatusResponse{
		Admin:        r.Context().Value(adminContextKey{}).(string),
		CachedChains: h.handler.CachedChains(),
	})
}

func (h *AdminHandler) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	chains := make([]interfaces.ChainID, 0, len(req.Chains))
	for _, raw := range req.Chains {
		chain, err := interfaces.NewChainID(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		chains = append(chains, chain)
	}

	h.handler.Purge(chains...)
	h.log.Info("Purged chain data cache",
		"admin", r.Context().Value(adminContextKey{}),
		"chains", len(chains))
	h.handler.writeJSON(w, purgeResponse{Purged: chains})
}

func (h *AdminHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, err := h.verifyAdmin(r)
		if err != nil {
			h.log.Warn("Admin authentication failed", "err", err, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithAdmin(r, name)))
	})
}

// verifyAdmin checks that the request is signed by an allowlisted admin and
// was created recently. The request body is restored for later handlers.
func (h *AdminHandler) verifyAdmin(r *http.Request) (string, error) {
	addressHex := r.Header.Get(AdminAddressHeader)
	if !common.IsHexAddress(addressHex) {
		return "", errors.New("missing or invalid admin address")
	}
	address := common.HexToAddress(addressHex)

	name, ok := h.admins[address]
	if !ok {
		return "", fmt.Errorf("unknown admin %s", address.Hex())
	}

	timestamp, err := strconv.ParseInt(r.Header.Get(AdminTimestampHeader), 10, 64)
	if err != nil {
		return "", errors.New("missing or invalid timestamp")
	}
	if skew := h.now().Sub(time.Unix(timestamp, 0)); skew > maxAdminClockSkew || skew < -maxAdminClockSkew {
		return "", fmt.Errorf("request timestamp is %s off", skew)
	}

	signature, err := hexutil.Decode(r.Header.Get(AdminSignatureHeader))
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return "", fmt.Errorf("reading body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	signer, err := cryptoutils.RecoverAddress(adminMessageHash(r.Method, r.URL.Path, timestamp, body), signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature: %w", err)
	}
	if signer != address {
		return "", fmt.Errorf("signature by %s does not match admin %s", signer.Hex(), address.Hex())
	}
	return name, nil
}

// adminMessageHash is the keccak256 hash of "<method> <path> <timestamp>\n<body>".
func adminMessageHash(method, path string, timestamp int64, body []byte) common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s %s %d\n", method, path, timestamp)), body)
}

func contextWithAdmin(r *http.Request, name string) context.Context {
	return context.WithValue(r.Context(), adminContextKey{}, name)
}

// CreateSignedAdminRequest builds an admin API request signed with key.
func CreateSignedAdminRequest(method, reqURL string, body []byte, key *ecdsa.PrivateKey) (*http.Request, error) {
	parsed, err := url.Parse(reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	req, err := http.NewRequest(method, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	timestamp := time.Now().Unix()
	signature, err := cryptoutils.SignHash(adminMessageHash(method, parsed.Path, timestamp, body), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	req.Header.Set(AdminAddressHeader, cryptoutils.AddressOf(key).Hex())
	req.Header.Set(AdminTimestampHeader, strconv.FormatInt(timestamp, 10))
	req.Header.Set(AdminSignatureHeader, hexutil.Encode(signature))
	return req, nil
}

// LoadAdminKeys loads the admin allowlist from JSON:
//
//	{"admins": [{"id": "alice", "address": "0x..."}]}
func LoadAdminKeys(r io.Reader) (map[common.Address]string, error) {
	var data struct {
		Admins []struct {
			ID      string `json:"id"`
			Address string `json:"address"`
		} `json:"admins"`
	}

	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode admin keys JSON: %w", err)
	}

	result := make(map[common.Address]string, len(data.Admins))
	for _, admin := range data.Admins {
		if !common.IsHexAddress(admin.Address) {
			return nil, fmt.Errorf("invalid address for admin %s", admin.ID)
		}
		result[common.HexToAddress(admin.Address)] = admin.ID
	}
	return result, nil
}
