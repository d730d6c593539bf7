package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T, adapter *mockAdapter, content *mockContent) *Sender {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewSender(adapter, hex.EncodeToString(crypto.FromECDSA(key)), content, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNewSender_InvalidKey(t *testing.T) {
	_, err := NewSender(&mockAdapter{}, "not-a-key", nil, zerolog.Nop())
	assert.ErrorContains(t, err, "invalid private key")
}

func TestSender_SendBatch(t *testing.T) {
	adapter := &mockAdapter{}
	s := newTestSender(t, adapter, nil)
	ctx := context.Background()

	adapter.On("PendingNonce", mock.Anything, s.Address().Hex()).Return(uint64(7), nil)
	adapter.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(100000), nil)

	var sent []*types.Transaction
	adapter.On("SendTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = append(sent, args.Get(1).(*types.Transaction))
	}).Return(nil)

	hashes, err := s.SendBatch(ctx, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	require.Len(t, hashes, 3)
	require.Len(t, sent, 3)

	signer := types.NewEIP155Signer(big.NewInt(1337))
	for i, tx := range sent {
		assert.Equal(t, uint64(7+i), tx.Nonce())
		assert.Equal(t, uint64(150000), tx.Gas())
		assert.Zero(t, tx.GasPrice().Sign())
		assert.Zero(t, tx.Value().Sign())
		assert.Equal(t, s.Address(), *tx.To())
		from, err := types.Sender(signer, tx)
		require.NoError(t, err)
		assert.Equal(t, s.Address(), from)
		assert.Equal(t, tx.Hash().Hex(), hashes[i])
	}
}

func TestSender_SendBatchFailFast(t *testing.T) {
	adapter := &mockAdapter{}
	s := newTestSender(t, adapter, nil)

	adapter.On("PendingNonce", mock.Anything, mock.Anything).Return(uint64(0), nil)
	adapter.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(0), errors.New("no estimate"))
	var first *types.Transaction
	adapter.On("SendTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		first = args.Get(1).(*types.Transaction)
	}).Return(nil).Once()
	adapter.On("SendTransaction", mock.Anything, mock.Anything).Return(errors.New("nonce too low")).Once()

	hashes, err := s.SendBatch(context.Background(), [][]byte{[]byte("1"), []byte("2"), []byte("3")})
	require.Error(t, err)
	assert.Len(t, hashes, 1)
	adapter.AssertNumberOfCalls(t, "SendTransaction", 2)
	require.NotNil(t, first)
	assert.Equal(t, uint64(batchGasFallback), first.Gas())
}

func TestSender_SendUsesSingleFallback(t *testing.T) {
	adapter := &mockAdapter{}
	s := newTestSender(t, adapter, nil)

	adapter.On("PendingNonce", mock.Anything, mock.Anything).Return(uint64(3), nil)
	adapter.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(0), errors.New("no estimate"))
	var sent *types.Transaction
	adapter.On("SendTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(*types.Transaction)
	}).Return(nil)

	_, err := s.Send(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, uint64(singleGasFallback), sent.Gas())
	assert.Equal(t, uint64(3), sent.Nonce())
}

func TestSender_SendBroadcast(t *testing.T) {
	adapter := &mockAdapter{}
	content := &mockContent{}
	s := newTestSender(t, adapter, content)

	content.On("Add", mock.Anything, mock.Anything).Return(cidOne, nil)
	adapter.On("PendingNonce", mock.Anything, mock.Anything).Return(uint64(0), nil)
	adapter.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(50000), nil)
	var sent *types.Transaction
	adapter.On("SendTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(*types.Transaction)
	}).Return(nil)

	cid, hash, err := s.SendBroadcast(context.Background(), "test", map[string]string{"action": "test"})
	require.NoError(t, err)
	assert.Equal(t, cidOne, cid)
	assert.Equal(t, sent.Hash().Hex(), hash)

	var input map[string]string
	require.NoError(t, json.Unmarshal(sent.Data(), &input))
	assert.Equal(t, map[string]string{"type": "broadcast", "cid": cidOne}, input)

	content.AssertNumberOfCalls(t, "Add", 1)
	stored := content.Calls[0].Arguments.Get(1).([]byte)
	assert.JSONEq(t,
		`{"header":{"topics":["test"]},"data":[{"validator":"json","value":{"action":"test"}}]}`,
		string(stored))

	decoded, ok := DecodeAndCheckTxData(sent.Data())
	require.True(t, ok)
	assert.Equal(t, cidOne, decoded.CID)
}

func TestNonceAllocator_SharedPerAddress(t *testing.T) {
	adapter := &mockAdapter{}
	s := newTestSender(t, adapter, nil)
	other, err := NewSender(adapter, hex.EncodeToString(crypto.FromECDSA(s.key)), nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Same(t, s.nonces, other.nonces)
}
