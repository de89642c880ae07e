package clients

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/nodelist-registry/httpserver"
	"github.com/ruteri/nodelist-registry/interfaces"
)

// ErrUnauthorized is returned when the server rejects the admin signature.
var ErrUnauthorized = errors.New("admin request unauthorized")

// AdminStatus is the server state reported to admins.
type AdminStatus struct {
	Admin        string `json:"admin"`
	CachedChains int    `json:"cachedChains"`
}

// AdminClient sends signed requests to the admin API.
type AdminClient struct {
	baseURL    string
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewAdminClient creates a client for the admin API mounted at baseURL,
// e.g. "http://127.0.0.1:8080/admin".
func NewAdminClient(baseURL string, privateKey *ecdsa.PrivateKey, timeout time.Duration) *AdminClient {
	return &AdminClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Status returns the admin name the server knows this key by and the number
// of cached chains.
func (c *AdminClient) Status(ctx context.Context) (*AdminStatus, error) {
	var status AdminStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// PurgeCache drops cached chain data for chains, or everything when none are
// given. It returns the chains the server purged.
func (c *AdminClient) PurgeCache(ctx context.Context, chains ...string) ([]interfaces.ChainID, error) {
	if chains == nil {
		chains = []string{}
	}
	body, err := json.Marshal(map[string][]string{"chains": chains})
	if err != nil {
		return nil, err
	}

	var result struct {
		Purged []interfaces.ChainID `json:"purged"`
	}
	if err := c.do(ctx, http.MethodPost, "/cache/purge", body, &result); err != nil {
		return nil, err
	}
	return result.Purged, nil
}

func (c *AdminClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := httpserver.CreateSignedAdminRequest(method, c.baseURL+path, body, c.privateKey)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var kind error
		if resp.StatusCode == http.StatusUnauthorized {
			kind = ErrUnauthorized
		}
		return newAPIError(resp, kind)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse response: %w", err)
	}
	return nil
}
