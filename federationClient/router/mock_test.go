package router

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"

	"github.com/centauron/federation-node/federationClient/chain"
	"github.com/centauron/federation-node/federationClient/store"
)

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) LatestHeight(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockAdapter) BlockByNumber(ctx context.Context, number uint64) (*chain.ChainBlock, error) {
	args := m.Called(ctx, number)
	if b := args.Get(0); b != nil {
		return b.(*chain.ChainBlock), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAdapter) PendingNonce(ctx context.Context, account string) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockAdapter) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockAdapter) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *mockAdapter) ChainID() *big.Int { return big.NewInt(1337) }

func (m *mockAdapter) Close() {}

type mockContent struct {
	mock.Mock
}

func (m *mockContent) Fetch(ctx context.Context, cid string) ([]byte, error) {
	args := m.Called(ctx, cid)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockContent) Add(ctx context.Context, data []byte) (string, error) {
	args := m.Called(ctx, data)
	return args.String(0), args.Error(1)
}

// mockInbox records envelopes handed to the inbox.
type mockInbox struct {
	mock.Mock
}

func (m *mockInbox) Receive(ctx context.Context, raw []byte, businessKey string) (*store.InboxMessage, error) {
	args := m.Called(ctx, raw, businessKey)
	if msg := args.Get(0); msg != nil {
		return msg.(*store.InboxMessage), args.Error(1)
	}
	return nil, args.Error(1)
}
