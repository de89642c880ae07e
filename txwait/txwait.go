// Package txwait waits for submitted transactions to be mined, with a bounded
// timeout and a fixed polling interval.
package txwait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/sethvargo/go-retry"
)

// ReceiptFetcher returns the receipt of the awaited transaction. It returns
// (nil, nil) while the transaction is pending.
type ReceiptFetcher func(ctx context.Context) (*types.Receipt, error)

var errPending = errors.New("transaction pending")

// Wait polls fetch every interval until a receipt is available or timeout
// elapses. Fetch errors are returned as they are; callers classify them.
// A receipt with a failed status is returned together with ErrTxReverted.
func Wait(ctx context.Context, timeout, interval time.Duration, fetch ReceiptFetcher) (*types.Receipt, error) {
	if timeout <= 0 {
		timeout = interfaces.DefaultConfirmationTimeout
	}
	if interval <= 0 {
		interval = interfaces.DefaultPollInterval
	}

	backoff := retry.WithMaxDuration(timeout, retry.NewConstant(interval))

	var receipt *types.Receipt
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := fetch(ctx)
		if err != nil {
			return err
		}
		if r == nil {
			return retry.RetryableError(errPending)
		}
		receipt = r
		return nil
	})

	switch {
	case errors.Is(err, errPending):
		return nil, fmt.Errorf("%w after %s", interfaces.ErrConfirmationTimeout, timeout)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return nil, fmt.Errorf("%w: %v", interfaces.ErrConfirmationTimeout, err)
	case err != nil:
		return nil, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: tx %s in block %d", interfaces.ErrTxReverted, receipt.TxHash.Hex(), receipt.BlockNumber)
	}
	return receipt, nil
}

// Confirmation converts a successful receipt into an interfaces.Confirmation.
func Confirmation(receipt *types.Receipt, from common.Address) *interfaces.Confirmation {
	conf := &interfaces.Confirmation{
		TxHash:          receipt.TxHash,
		From:            from,
		ContractAddress: receipt.ContractAddress,
	}
	if receipt.BlockNumber != nil {
		conf.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return conf
}
