package registry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockChainClient mocks the interfaces.ChainClient interface
type MockChainClient struct {
	mock.Mock
}

// Config mocks the Config method
func (m *MockChainClient) Config() interfaces.ClientConfig {
	args := m.Called()
	return args.Get(0).(interfaces.ClientConfig)
}

// BlockNumber mocks the BlockNumber method
func (m *MockChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

// Call mocks the Call method
func (m *MockChainClient) Call(ctx context.Context, contract common.Address, data []byte, block *big.Int) ([]byte, error) {
	args := m.Called(ctx, contract, data, block)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// Transact mocks the Transact method
func (m *MockChainClient) Transact(ctx context.Context, tx interfaces.TxRequest) (*interfaces.Confirmation, error) {
	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Confirmation), args.Error(1)
}
