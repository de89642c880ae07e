package storage

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChainData = &interfaces.ChainData{
	Owner:            common.HexToAddress("0x1111111111111111111111111111111111111111"),
	RegistryContract: common.HexToAddress("0x2222222222222222222222222222222222222222"),
	ContractChain:    "0x99",
	BootNodes: []interfaces.BootNode{
		{Address: common.HexToAddress("0x3333333333333333333333333333333333333333"), URL: "#1"},
	},
	Meta: "dummy",
}

// exerciseBackend publishes a snapshot, reads it back and checks namespaces.
func exerciseBackend(t *testing.T, backend interfaces.StorageBackend) {
	t.Helper()
	ctx := context.Background()

	require.True(t, backend.Available(ctx))

	id, err := PublishChainData(ctx, backend, testChainData)
	require.NoError(t, err)

	loaded, err := LoadChainData(ctx, backend, id)
	require.NoError(t, err)
	assert.Equal(t, testChainData, loaded)

	_, err = backend.Fetch(ctx, id, interfaces.RegistrationType)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)

	_, err = backend.Fetch(ctx, interfaces.ComputeID([]byte("missing")), interfaces.ChainDataType)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, testLogger)
	require.NoError(t, err)

	exerciseBackend(t, backend)
	assert.Equal(t, "file://"+dir, backend.LocationURI())

	// Tampered content is rejected.
	data := []byte(`{"meta":"original"}`)
	id, err := backend.Store(context.Background(), data, interfaces.ChainDataType)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chains", id.String()+".json"), []byte(`{"meta":"tampered"}`), 0644))

	_, err = backend.Fetch(context.Background(), id, interfaces.ChainDataType)
	require.ErrorIs(t, err, ErrContentMismatch)
}

// fakeS3 serves path-style object requests for a single bucket.
func fakeS3(t *testing.T, bucket string) *httptest.Server {
	var (
		mu      sync.Mutex
		objects = make(map[string][]byte)
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		if strings.TrimSuffix(r.URL.Path, "/") == "/"+bucket && r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}

		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			body, ok := objects[r.URL.Path]
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
				return
			}
			_, _ = w.Write(body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestS3Backend(t *testing.T) {
	server := fakeS3(t, "snapshots")

	backend, err := NewS3Backend(S3Config{
		Bucket:    "snapshots",
		Prefix:    "nodelist",
		Endpoint:  server.URL,
		AccessKey: "access",
		SecretKey: "secret",
		PathStyle: true,
	}, testLogger)
	require.NoError(t, err)

	exerciseBackend(t, backend)
	assert.Equal(t, "s3-snapshots", backend.Name())
}

// fakeVault serves the KV v2 and health endpoints used by VaultBackend.
func fakeVault(t *testing.T, token string) *httptest.Server {
	var (
		mu      sync.Mutex
		secrets = make(map[string]map[string]interface{})
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		if r.URL.Path == "/v1/sys/health" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"initialized": true, "sealed": false, "standby": false})
			return
		}
		if r.Header.Get("X-Vault-Token") != token {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"errors": []string{"permission denied"}})
			return
		}

		switch r.Method {
		case http.MethodPut, http.MethodPost:
			var body struct {
				Data map[string]interface{} `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			secrets[r.URL.Path] = body.Data
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"version": 1}})
		case http.MethodGet:
			data, ok := secrets[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"errors": []string{}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"data": data}})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestVaultBackend(t *testing.T) {
	server := fakeVault(t, "root-token")

	backend, err := NewVaultBackend(server.URL, "secret", "nodelist", "root-token", testLogger)
	require.NoError(t, err)
	exerciseBackend(t, backend)

	unauthorized, err := NewVaultBackend(server.URL, "secret", "nodelist", "wrong", testLogger)
	require.NoError(t, err)
	_, err = unauthorized.Store(context.Background(), []byte("{}"), interfaces.ChainDataType)
	require.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}

// fakeIPFS serves the MFS endpoints used by IPFSBackend.
func fakeIPFS(t *testing.T) *httptest.Server {
	var (
		mu    sync.Mutex
		files = make(map[string][]byte)
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch r.URL.Path {
		case "/api/v0/version":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"Version": "0.24.0", "Commit": ""})
		case "/api/v0/files/write":
			mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(mediaType, "multipart/"))
			reader := multipart.NewReader(r.Body, params["boundary"])
			part, err := reader.NextPart()
			require.NoError(t, err)
			body, err := io.ReadAll(part)
			require.NoError(t, err)
			files[r.URL.Query().Get("arg")] = body
			w.WriteHeader(http.StatusOK)
		case "/api/v0/files/read":
			body, ok := files[r.URL.Query().Get("arg")]
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"Message": "file does not exist", "Code": 0, "Type": "error"})
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write(body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestIPFSBackend(t *testing.T) {
	server := fakeIPFS(t)
	host, port, _ := strings.Cut(strings.TrimPrefix(server.URL, "http://"), ":")

	location, err := interfaces.NewStorageBackendLocation("ipfs://" + host + ":" + port + "/registry?timeout=5s")
	require.NoError(t, err)
	backend, err := NewStorageBackendFactory(testLogger).StorageBackendFor(location)
	require.NoError(t, err)

	exerciseBackend(t, backend)
}

func TestStorageBackendFactory(t *testing.T) {
	dir := t.TempDir()
	factory := NewStorageBackendFactory(testLogger)

	location, err := interfaces.NewStorageBackendLocation("file://" + dir)
	require.NoError(t, err)
	backend, err := factory.StorageBackendFor(location)
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	_, err = interfaces.NewStorageBackendLocation("github://owner/repo")
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	location, err = interfaces.NewStorageBackendLocation("ipfs://127.0.0.1:5001/?timeout=soon")
	require.NoError(t, err)
	_, err = factory.StorageBackendFor(location)
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	single, err := factory.CreateMultiBackend([]string{"file://" + dir, "github://owner/repo"})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, single)

	multi, err := factory.CreateMultiBackend([]string{"file://" + dir, "file://" + filepath.Join(dir, "mirror")})
	require.NoError(t, err)
	exerciseBackend(t, multi)

	_, err = factory.CreateMultiBackend([]string{"github://owner/repo"})
	require.Error(t, err)
}
