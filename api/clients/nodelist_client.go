package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/nodelist-registry/httpserver"
	"github.com/ruteri/nodelist-registry/interfaces"
)

// ErrSnapshotNotFound is returned when the server has no snapshot for a
// content id, or does not publish snapshots at all.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// APIError is a non-200 response from the server.
type APIError struct {
	StatusCode int
	Message    string

	// kind is the sentinel error the status maps to, if any.
	kind error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// NodelistClient reads chain data from a nodelist server.
type NodelistClient struct {
	serverAddr string
	httpClient *http.Client
}

// NewNodelistClient creates a client for the server at serverAddr, e.g.
// "http://127.0.0.1:8080".
func NewNodelistClient(serverAddr string, timeout time.Duration) *NodelistClient {
	return &NodelistClient{
		serverAddr: strings.TrimSuffix(serverAddr, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetChainData returns the chain data the server resolved for chain, and the
// id of the snapshot it published, if any.
func (c *NodelistClient) GetChainData(ctx context.Context, chain string) (*interfaces.ChainData, *interfaces.ContentID, error) {
	reqURL := fmt.Sprintf("%s/api/v1/chains/%s", c.serverAddr, url.PathEscape(chain))

	var data interfaces.ChainData
	header, err := c.getJSON(ctx, reqURL, &data, chainErrorKind)
	if err != nil {
		return nil, nil, err
	}

	raw := header.Get(httpserver.SnapshotIDHeader)
	if raw == "" {
		return &data, nil, nil
	}
	id, err := interfaces.NewContentIDFromHex(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid %s header: %w", httpserver.SnapshotIDHeader, err)
	}
	return &data, &id, nil
}

// GetSnapshot returns a previously published chain data snapshot.
func (c *NodelistClient) GetSnapshot(ctx context.Context, id interfaces.ContentID) (*interfaces.ChainData, error) {
	reqURL := fmt.Sprintf("%s/api/v1/snapshots/%s", c.serverAddr, id.String())

	var data interfaces.ChainData
	if _, err := c.getJSON(ctx, reqURL, &data, snapshotErrorKind); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *NodelistClient) getJSON(ctx context.Context, reqURL string, out any, kindFor func(int) error) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp, kindFor(resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("could not parse response: %w", err)
	}
	return resp.Header, nil
}

func newAPIError(resp *http.Response, kind error) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		kind:       kind,
	}
}

func chainErrorKind(status int) error {
	switch status {
	case http.StatusNotFound:
		return interfaces.ErrChainNotFound
	case http.StatusBadRequest:
		return interfaces.ErrInvalidChainID
	case http.StatusBadGateway:
		return interfaces.ErrVerification
	case http.StatusServiceUnavailable:
		return interfaces.ErrTransport
	default:
		return nil
	}
}

func snapshotErrorKind(status int) error {
	switch status {
	case http.StatusNotFound:
		return ErrSnapshotNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return interfaces.ErrTransport
	default:
		return nil
	}
}
