package keysource

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/hashicorp/vault/api"
	"github.com/ruteri/nodelist-registry/cryptoutils"
)

var (
	// ErrUnsupportedSource is returned for key URIs with an unknown scheme.
	ErrUnsupportedSource = errors.New("unsupported key source")

	// ErrKeyNotFound is returned when the referenced key does not exist.
	ErrKeyNotFound = errors.New("key not found")
)

// Loader resolves key URIs into private keys.
//
// Supported sources:
//
//	0x<hex>                                      raw key
//	file:///path/key.hex                         file holding a hex key
//	env://NAME                                   environment variable holding a hex key
//	keystore:///path/key.json?password-env=NAME  go-ethereum keystore file
//	vault://host:8200/mount/path?field=key       Vault KV v2 secret, token from VAULT_TOKEN
//	shamir:///path/shares                        directory of Shamir shares written by SplitKey
//	derive://label?seed-env=NAME                 deterministic development key
type Loader struct {
	log    *slog.Logger
	getenv func(string) string
}

// NewLoader creates a loader reading environment variables through os.Getenv.
func NewLoader(log *slog.Logger) *Loader {
	return &Loader{log: log, getenv: os.Getenv}
}

// Load resolves source into a private key.
func (l *Loader) Load(ctx context.Context, source string) (*ecdsa.PrivateKey, error) {
	if strings.HasPrefix(source, "0x") {
		return cryptoutils.ParsePrivateKey(source)
	}

	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}

	var key *ecdsa.PrivateKey
	switch strings.ToLower(u.Scheme) {
	case "file":
		key, err = l.fromFile(filePath(u))
	case "env":
		key, err = l.fromEnv(u.Host)
	case "keystore":
		key, err = l.fromKeystore(filePath(u), u.Query())
	case "vault":
		key, err = l.fromVault(ctx, u)
	case "shamir":
		key, err = LoadShares(filePath(u))
	case "derive":
		key, err = l.derive(u)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, u.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("loading key from %s: %w", redact(u), err)
	}

	l.log.Debug("Loaded key", "source", redact(u), "address", cryptoutils.AddressOf(key).Hex())
	return key, nil
}

func (l *Loader) fromFile(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return cryptoutils.ParsePrivateKey(strings.TrimSpace(string(data)))
}

func (l *Loader) fromEnv(name string) (*ecdsa.PrivateKey, error) {
	value := l.getenv(name)
	if value == "" {
		return nil, fmt.Errorf("%w: $%s is empty", ErrKeyNotFound, name)
	}
	return cryptoutils.ParsePrivateKey(strings.TrimSpace(value))
}

func (l *Loader) fromKeystore(path string, query url.Values) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, path)
	}
	if err != nil {
		return nil, err
	}

	password := ""
	switch {
	case query.Get("password-env") != "":
		password = l.getenv(query.Get("password-env"))
	case query.Get("password-file") != "":
		raw, err := os.ReadFile(query.Get("password-file"))
		if err != nil {
			return nil, fmt.Errorf("reading password file: %w", err)
		}
		password = strings.TrimRight(string(raw), "\r\n")
	}

	key, err := keystore.DecryptKey(data, password)
	if err != nil {
		return nil, fmt.Errorf("decrypting keystore: %w", err)
	}
	return key.PrivateKey, nil
}

// fromVault reads a KV v2 secret. The URI path is <mount>/<secret path>.
func (l *Loader) fromVault(ctx context.Context, u *url.URL) (*ecdsa.PrivateKey, error) {
	query := u.Query()

	mount, secretPath, ok := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if !ok || secretPath == "" {
		return nil, fmt.Errorf("%w: vault uri must be vault://host/mount/path", ErrUnsupportedSource)
	}

	scheme := "https"
	if query.Get("tls") == "false" {
		scheme = "http"
	}

	config := api.DefaultConfig()
	config.Address = scheme + "://" + u.Host
	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}

	tokenEnv := query.Get("token-env")
	if tokenEnv == "" {
		tokenEnv = "VAULT_TOKEN"
	}
	if token := l.getenv(tokenEnv); token != "" {
		client.SetToken(token)
	}

	path := fmt.Sprintf("%s/data/%s", mount, secretPath)
	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in vault response for %s", path)
	}

	field := query.Get("field")
	if field == "" {
		field = "key"
	}
	value, ok := data[field].(string)
	if !ok {
		return nil, fmt.Errorf("%w: field %q in %s", ErrKeyNotFound, field, path)
	}
	return cryptoutils.ParsePrivateKey(strings.TrimSpace(value))
}

func (l *Loader) derive(u *url.URL) (*ecdsa.PrivateKey, error) {
	seedEnv := u.Query().Get("seed-env")
	if seedEnv == "" {
		return nil, fmt.Errorf("%w: derive requires seed-env", ErrUnsupportedSource)
	}
	seed := l.getenv(seedEnv)
	if seed == "" {
		return nil, fmt.Errorf("%w: $%s is empty", ErrKeyNotFound, seedEnv)
	}
	return cryptoutils.DeriveKey([]byte(seed), u.Host)
}

// filePath returns the filesystem path of a file-like URI, accepting both
// scheme:///abs/path and scheme://relative/path.
func filePath(u *url.URL) string {
	if u.Host == "" {
		return u.Path
	}
	return u.Host + u.Path
}

// redact drops user info and query values from u for logging.
func redact(u *url.URL) string {
	clean := *u
	clean.User = nil
	clean.RawQuery = ""
	return clean.String()
}
