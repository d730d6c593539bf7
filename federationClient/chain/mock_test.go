package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"

	"github.com/centauron/federation-node/federationClient/store"
)

// Valid CIDs for broadcast pointers.
const (
	cidOne   = "QmbyV4BASLJCFiCfKz37eNwFX8y6hefQ7LGpzvEwJQzNft"
	cidTwo   = "QmSXDk2v6kPu4BXW7UE6BsE4rB3k7Y1yJ11a9owiH52Ti4"
	cidThree = "QmRU8AbmfH5aRkC5LebWmsbZGFGuqf332kUJKWgB3LJHeD"
	cidLate  = "QmPzxpxeWZdUjCwYZ43vjgb6ZGdep9HasLwwhpF2uEAZo1"
	cidV1    = "bafkreib37qtjlfhpmsjcr2nhjovqb4cc57er2wwmn67oggryf2anii4i7y"
)

// mockAdapter is a testify mock of BroadcastAdapter
type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) LatestHeight(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockAdapter) BlockByNumber(ctx context.Context, number uint64) (*ChainBlock, error) {
	args := m.Called(ctx, number)
	if b := args.Get(0); b != nil {
		return b.(*ChainBlock), args.Error(1)
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
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockAdapter) ChainID() *big.Int {
	return big.NewInt(1337)
}

func (m *mockAdapter) Close() {}

// mockContent is a testify mock of contentstore.Store
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

// recordingHandler collects notified blocks
type recordingHandler struct {
	blocks []*store.Block
}

func (r *recordingHandler) OnBlock(_ context.Context, block *store.Block) error {
	r.blocks = append(r.blocks, block)
	return nil
}
