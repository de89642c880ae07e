package txwait

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitMined(t *testing.T) {
	calls := 0
	receipt, err := Wait(context.Background(), time.Second, time.Millisecond, func(ctx context.Context) (*types.Receipt, error) {
		calls++
		if calls < 3 {
			return nil, nil
		}
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(5)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	conf := Confirmation(receipt, common.HexToAddress("0x01"))
	assert.Equal(t, uint64(5), conf.BlockNumber)
	assert.Equal(t, common.HexToAddress("0x01"), conf.From)
}

func TestWaitReverted(t *testing.T) {
	receipt, err := Wait(context.Background(), time.Second, time.Millisecond, func(ctx context.Context) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}, nil
	})
	require.ErrorIs(t, err, interfaces.ErrTxReverted)
	assert.NotNil(t, receipt)
}

func TestWaitTimeout(t *testing.T) {
	_, err := Wait(context.Background(), 20*time.Millisecond, 5*time.Millisecond, func(ctx context.Context) (*types.Receipt, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, interfaces.ErrConfirmationTimeout)
}

func TestWaitFetchError(t *testing.T) {
	fetchErr := errors.New("connection refused")
	_, err := Wait(context.Background(), time.Second, time.Millisecond, func(ctx context.Context) (*types.Receipt, error) {
		return nil, fetchErr
	})
	require.ErrorIs(t, err, fetchErr)
}

func TestWaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Wait(ctx, time.Second, time.Millisecond, func(ctx context.Context) (*types.Receipt, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, interfaces.ErrConfirmationTimeout)
}
