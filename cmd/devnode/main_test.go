package main

import (
	"context"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/nodelist-registry/cryptoutils"
	"github.com/ruteri/nodelist-registry/devchain"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlloc(t *testing.T) {
	alloc, err := parseAlloc([]string{
		"0x1111111111111111111111111111111111111111:1000",
		"0x2222222222222222222222222222222222222222:0x10",
	})
	require.NoError(t, err)
	require.Len(t, alloc, 2)
	assert.Equal(t, big.NewInt(1000), alloc[common.HexToAddress("0x1111111111111111111111111111111111111111")])
	assert.Equal(t, big.NewInt(16), alloc[common.HexToAddress("0x2222222222222222222222222222222222222222")])

	for _, entry := range []string{
		"0x1111111111111111111111111111111111111111",
		"nothex:10",
		"0x1111111111111111111111111111111111111111:ten",
		"0x1111111111111111111111111111111111111111:-1",
	} {
		_, err := parseAlloc([]string{entry})
		assert.Error(t, err, entry)
	}
}

func TestRouterServesNodeAPI(t *testing.T) {
	sealKey, err := cryptoutils.DeriveKey([]byte("devnode tests"), "sealer")
	require.NoError(t, err)

	chainID := interfaces.ChainID("0x99")
	node, err := devchain.NewNode(chainID.Big(), sealKey, slog.Default())
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(node, slog.Default()))
	defer srv.Close()

	client, err := devchain.NewClient(interfaces.ClientConfig{
		ChainID:   chainID,
		BootNodes: []interfaces.BootNode{{Address: node.Sealer(), URL: srv.URL}},
	}, devchain.NewHTTPTransport(0), slog.Default())
	require.NoError(t, err)

	height, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), height)
}
