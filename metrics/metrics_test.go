package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, srv *MetricsServer) string {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorder(t *testing.T) {
	srv, err := New("test", "127.0.0.1:0")
	require.NoError(t, err)
	rec := srv.Recorder()

	rec.ObserveDeployment("ChainRegistry", nil)
	rec.ObserveDeployment("ServerRegistry", &interfaces.DeploymentError{Contract: "ServerRegistry", Err: interfaces.ErrTxReverted})
	rec.ObserveRegistration("0x99", nil)
	rec.ObserveRegistration("0x99", nil)
	rec.ObserveResolve("0x99", 20*time.Millisecond, fmt.Errorf("reading entry: %w", interfaces.ErrChainNotFound))
	rec.ObserveCacheLookup(true)

	body := scrape(t, srv)
	assert.Contains(t, body, `test_contract_deployments_total{contract="ChainRegistry",result="ok"} 1`)
	assert.Contains(t, body, `test_contract_deployments_total{contract="ServerRegistry",result="reverted"} 1`)
	assert.Contains(t, body, `test_node_registrations_total{chain="0x99",result="ok"} 2`)
	assert.Contains(t, body, `test_chain_resolutions_total{chain="0x99",result="chain_not_found"} 1`)
	assert.Contains(t, body, `test_chain_resolution_duration_seconds_count{chain="0x99"} 1`)
	assert.Contains(t, body, `test_chain_data_cache_lookups_total{outcome="hit"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("dial: %w", interfaces.ErrTransport), "transport"},
		{interfaces.ErrVerification, "verification"},
		{&interfaces.RegistrationError{Index: 1, Err: interfaces.ErrInvalidNode}, "invalid"},
		{interfaces.ErrConfirmationTimeout, "timeout"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Result(tt.err))
	}
}

func TestPush(t *testing.T) {
	var (
		method string
		path   string
		body   []byte
	)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	srv, err := New("test", "127.0.0.1:0")
	require.NoError(t, err)
	srv.Recorder().ObserveRegistration("0x99", nil)

	require.NoError(t, srv.Push(context.Background(), gateway.URL, "registrar"))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/registrar", path)
	assert.NotEmpty(t, body)
}
