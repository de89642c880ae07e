package httpserver

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/nodelist-registry/cryptoutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateAdminKeys(t *testing.T, n int) ([]*ecdsa.PrivateKey, map[common.Address]string) {
	keys := make([]*ecdsa.PrivateKey, n)
	admins := make(map[common.Address]string, n)
	for i := range keys {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = key
		admins[cryptoutils.AddressOf(key)] = "admin" + strconv.Itoa(i+1)
	}
	return keys, admins
}

func newAdminRouter(handler *Handler, admins map[common.Address]string) http.Handler {
	r := chi.NewRouter()
	r.Mount("/admin", NewAdminHandler(handler, admins, testLogger).AdminRouter())
	return r
}

func signedRequest(t *testing.T, method, path string, body []byte, key *ecdsa.PrivateKey) *http.Request {
	req, err := CreateSignedAdminRequest(method, "http://registry.local"+path, body, key)
	require.NoError(t, err)
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAdminHandler_Status(t *testing.T) {
	keys, admins := generateAdminKeys(t, 2)
	handler := NewHandler(&countingSource{}, time.Minute, testLogger)
	router := newAdminRouter(handler, admins)

	require.Equal(t, http.StatusOK, get(t, newRouter(handler), "/api/v1/chains/0x99").Code)

	w := serve(router, signedRequest(t, http.MethodGet, "/admin/status", nil, keys[1]))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var status adminStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "admin2", status.Admin)
	assert.Equal(t, 1, status.CachedChains)
}

func TestAdminHandler_Purge(t *testing.T) {
	keys, admins := generateAdminKeys(t, 1)
	source := &countingSource{}
	handler := NewHandler(source, time.Minute, testLogger)
	router := newAdminRouter(handler, admins)

	require.Equal(t, http.StatusOK, get(t, newRouter(handler), "/api/v1/chains/0x99").Code)
	require.Equal(t, 1, handler.CachedChains())

	// Purging another chain keeps the entry.
	w := serve(router, signedRequest(t, http.MethodPost, "/admin/cache/purge", []byte(`{"chains":["0x77"]}`), keys[0]))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, handler.CachedChains())

	w = serve(router, signedRequest(t, http.MethodPost, "/admin/cache/purge", []byte(`{"chains":["153"]}`), keys[0]))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"purged":["0x99"]}`, w.Body.String())
	assert.Equal(t, 0, handler.CachedChains())

	require.Equal(t, http.StatusOK, get(t, newRouter(handler), "/api/v1/chains/0x99").Code)
	w = serve(router, signedRequest(t, http.MethodPost, "/admin/cache/purge", nil, keys[0]))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0, handler.CachedChains())

	w = serve(router, signedRequest(t, http.MethodPost, "/admin/cache/purge", []byte(`{"chains":["nonsense"]}`), keys[0]))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_Authentication(t *testing.T) {
	keys, admins := generateAdminKeys(t, 1)
	outsider, err := crypto.GenerateKey()
	require.NoError(t, err)

	router := newAdminRouter(NewHandler(&countingSource{}, time.Minute, testLogger), admins)

	tests := []struct {
		name   string
		modify func(req *http.Request)
		key    *ecdsa.PrivateKey
	}{
		{
			name:   "missing headers",
			key:    keys[0],
			modify: func(req *http.Request) { req.Header.Del(AdminAddressHeader) },
		},
		{
			name: "unknown admin",
			key:  outsider,
		},
		{
			name: "impersonation",
			key:  outsider,
			modify: func(req *http.Request) {
				req.Header.Set(AdminAddressHeader, cryptoutils.AddressOf(keys[0]).Hex())
			},
		},
		{
			name: "tampered body",
			key:  keys[0],
			modify: func(req *http.Request) {
				body := []byte(`{"chains":["0x1"]}`)
				req.Body = io.NopCloser(bytes.NewReader(body))
				req.ContentLength = int64(len(body))
			},
		},
		{
			name: "stale timestamp",
			key:  keys[0],
			modify: func(req *http.Request) {
				req.Header.Set(AdminTimestampHeader, strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))
			},
		},
		{
			name:   "malformed signature",
			key:    keys[0],
			modify: func(req *http.Request) { req.Header.Set(AdminSignatureHeader, "0x1234") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedRequest(t, http.MethodPost, "/admin/cache/purge", []byte(`{"chains":["0x99"]}`), tt.key)
			if tt.modify != nil {
				tt.modify(req)
			}
			assert.Equal(t, http.StatusUnauthorized, serve(router, req).Code)
		})
	}
}

func TestLoadAdminKeys(t *testing.T) {
	admins, err := LoadAdminKeys(strings.NewReader(`{"admins":[
		{"id":"alice","address":"0x1111111111111111111111111111111111111111"},
		{"id":"bob","address":"0x2222222222222222222222222222222222222222"}
	]}`))
	require.NoError(t, err)
	assert.Len(t, admins, 2)
	assert.Equal(t, "bob", admins[common.HexToAddress("0x2222222222222222222222222222222222222222")])

	_, err = LoadAdminKeys(strings.NewReader(`{"admins":[{"id":"eve","address":"not-an-address"}]}`))
	require.Error(t, err)

	_, err = LoadAdminKeys(strings.NewReader(`not json`))
	require.Error(t, err)
}
