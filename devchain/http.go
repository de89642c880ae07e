package devchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/nodelist-registry/interfaces"
)

type blockNumberResponse struct {
	Number uint64 `json:"number"`
}

type nonceResponse struct {
	Nonce uint64 `json:"nonce"`
}

type sendTransactionRequest struct {
	Raw hexutil.Bytes `json:"raw"`
}

type sendTransactionResponse struct {
	Hash common.Hash `json:"hash"`
}

type receiptResponse struct {
	Receipt *Receipt `json:"receipt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves a Node over HTTP.
type Handler struct {
	node *Node
	log  *slog.Logger
}

// NewHandler creates an HTTP handler for node.
func NewHandler(node *Node, log *slog.Logger) *Handler {
	return &Handler{node: node, log: log}
}

// RegisterRoutes configures the node API:
//   - GET  /v1/block-number
//   - GET  /v1/accounts/{address}/nonce
//   - POST /v1/transactions
//   - GET  /v1/transactions/{hash}/receipt
//   - POST /v1/call
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/block-number", h.handleBlockNumber)
	r.Get("/v1/accounts/{address}/nonce", h.handleNonce)
	r.Post("/v1/transactions", h.handleSendTransaction)
	r.Get("/v1/transactions/{hash}/receipt", h.handleReceipt)
	r.Post("/v1/call", h.handleCall)
}

func (h *Handler) handleBlockNumber(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, blockNumberResponse{Number: h.node.BlockNumber()})
}

func (h *Handler) handleNonce(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if !common.IsHexAddress(address) {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address %q", address))
		return
	}
	h.writeJSON(w, http.StatusOK, nonceResponse{Nonce: h.node.Nonce(common.HexToAddress(address))})
}

func (h *Handler) handleSendTransaction(w http.ResponseWriter, r *http.Request) {
	var req sendTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	hash, err := h.node.SendTransaction(req.Raw)
	if errors.Is(err, ErrRejected) {
		h.writeError(w, http.StatusBadRequest, err)
		return
	} else if err != nil {
		h.log.Error("Failed to mine transaction", "err", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sendTransactionResponse{Hash: hash})
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	raw, err := hexutil.Decode(r.PathValue("hash"))
	if err != nil || len(raw) != common.HashLength {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid transaction hash %q", r.PathValue("hash")))
		return
	}
	h.writeJSON(w, http.StatusOK, receiptResponse{Receipt: h.node.Receipt(common.BytesToHash(raw))})
}

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	resp, err := h.node.Call(req)
	if errors.Is(err, ErrUnknownBlock) {
		h.writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		h.log.Error("Failed to execute call", "err", err, "to", req.To.Hex())
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// HTTPTransport reaches nodes served by Handler. Node URLs are the base URLs
// of the node API, e.g. "http://127.0.0.1:8545".
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport with the given per-request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) do(ctx context.Context, method, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", interfaces.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		_ = json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(respBody))
		}
		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s: %s", interfaces.ErrTransport, resp.Status, errResp.Error)
		case resp.StatusCode == http.StatusNotFound && strings.Contains(errResp.Error, ErrUnknownBlock.Error()):
			return fmt.Errorf("%w: %s", ErrUnknownBlock, errResp.Error)
		default:
			return fmt.Errorf("%w: %s", ErrRejected, errResp.Error)
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: could not parse response: %v", interfaces.ErrTransport, err)
	}
	return nil
}

func (t *HTTPTransport) BlockNumber(ctx context.Context, url string) (uint64, error) {
	var resp blockNumberResponse
	if err := t.do(ctx, http.MethodGet, url+"/v1/block-number", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Number, nil
}

func (t *HTTPTransport) Nonce(ctx context.Context, url string, addr common.Address) (uint64, error) {
	var resp nonceResponse
	if err := t.do(ctx, http.MethodGet, fmt.Sprintf("%s/v1/accounts/%s/nonce", url, addr.Hex()), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Nonce, nil
}

func (t *HTTPTransport) SendTransaction(ctx context.Context, url string, raw []byte) (common.Hash, error) {
	var resp sendTransactionResponse
	if err := t.do(ctx, http.MethodPost, url+"/v1/transactions", sendTransactionRequest{Raw: raw}, &resp); err != nil {
		return common.Hash{}, err
	}
	return resp.Hash, nil
}

func (t *HTTPTransport) Receipt(ctx context.Context, url string, hash common.Hash) (*Receipt, error) {
	var resp receiptResponse
	if err := t.do(ctx, http.MethodGet, fmt.Sprintf("%s/v1/transactions/%s/receipt", url, hash.Hex()), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Receipt, nil
}

func (t *HTTPTransport) Call(ctx context.Context, url string, req CallRequest) (*CallResponse, error) {
	var resp CallResponse
	if err := t.do(ctx, http.MethodPost, url+"/v1/call", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
