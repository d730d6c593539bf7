package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/centauron/federation-node/federationClient/db"
	"github.com/centauron/federation-node/federationClient/metrics"
	"github.com/centauron/federation-node/federationClient/store"
)

type pollerFixture struct {
	database *db.DB
	adapter  *mockAdapter
	content  *mockContent
	handler  *recordingHandler
	metrics  *metrics.Metrics
	poller   *Poller
}

func newPollerFixture(t *testing.T) *pollerFixture {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	f := &pollerFixture{
		database: database,
		adapter:  &mockAdapter{},
		content:  &mockContent{},
		handler:  &recordingHandler{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	f.poller = NewPoller(f.adapter, database, f.content, f.handler, f.metrics,
		PollerConfig{StartHeight: 0}, zerolog.New(zerolog.NewTestWriter(t)))
	return f
}

func broadcastTx(hash, cid string) ChainTx {
	return ChainTx{Hash: hash, Input: []byte(`{"type":"broadcast","cid":"` + cid + `"}`)}
}

func (f *pollerFixture) blockCount(t *testing.T) int64 {
	var n int64
	require.NoError(t, f.database.Client().Model(&store.Block{}).Count(&n).Error)
	return n
}

func TestPoller_ExampleScenario(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.poller.store.UpdateCursor(9))

	f.adapter.On("LatestHeight", mock.Anything).Return(uint64(10), nil)
	f.adapter.On("BlockByNumber", mock.Anything, uint64(10)).Return(&ChainBlock{
		Number:       10,
		Transactions: []ChainTx{broadcastTx("0x01", cidOne), {Hash: "0x02", Input: []byte("not a broadcast")}},
	}, nil)
	f.content.On("Fetch", mock.Anything, cidOne).
		Return([]byte(`{"type":"create","object":{"type":"project"}}`), nil)

	cursor, err := f.poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cursor)

	assert.Equal(t, int64(1), f.blockCount(t))
	f.content.AssertNumberOfCalls(t, "Fetch", 1)
	require.Len(t, f.handler.blocks, 1)
	assert.Equal(t, "0x01", f.handler.blocks[0].MessageHash)
	assert.True(t, f.handler.blocks[0].CIDDownloaded)

	// a second pass at the same latest height is a no-op
	cursor, err = f.poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cursor)
	f.adapter.AssertNumberOfCalls(t, "BlockByNumber", 1)
	assert.Equal(t, 10.0, testutil.ToFloat64(f.metrics.CursorHeight))
}

func TestPoller_IdempotentIngestion(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	f.content.On("Fetch", mock.Anything, cidTwo).Return([]byte(`{"header":{},"data":[]}`), nil)

	content, ok := DecodeAndCheckTxData(broadcastTx("0xaa", cidTwo).Input)
	require.True(t, ok)
	tx := broadcastTx("0xaa", cidTwo)

	require.NoError(t, f.poller.Process(ctx, content, 5, tx))
	require.NoError(t, f.poller.Process(ctx, content, 5, tx))

	assert.Equal(t, int64(1), f.blockCount(t))
	assert.Len(t, f.handler.blocks, 1)
	f.content.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestPoller_FailingBlockIsSkipped(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()

	f.adapter.On("LatestHeight", mock.Anything).Return(uint64(3), nil)
	f.adapter.On("BlockByNumber", mock.Anything, uint64(1)).Return(&ChainBlock{Number: 1}, nil)
	f.adapter.On("BlockByNumber", mock.Anything, uint64(2)).Return(nil, errors.New("rpc down"))
	f.adapter.On("BlockByNumber", mock.Anything, uint64(3)).Return(&ChainBlock{
		Number: 3, Transactions: []ChainTx{broadcastTx("0x03", cidThree)},
	}, nil)
	f.content.On("Fetch", mock.Anything, cidThree).Return([]byte(`{}`), nil)

	cursor, err := f.poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cursor)
	assert.Equal(t, int64(1), f.blockCount(t))
	f.adapter.AssertNumberOfCalls(t, "BlockByNumber", 3)
}

func TestPoller_CursorMonotonic(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.poller.store.UpdateCursor(5))

	f.adapter.On("LatestHeight", mock.Anything).Return(uint64(4), nil).Once()
	f.adapter.On("LatestHeight", mock.Anything).Return(uint64(0), errors.New("unreachable")).Once()
	f.adapter.On("LatestHeight", mock.Anything).Return(uint64(6), nil).Once()
	f.adapter.On("BlockByNumber", mock.Anything, uint64(6)).Return(&ChainBlock{Number: 6}, nil)

	var seen []uint64
	for i := 0; i < 3; i++ {
		_, _ = f.poller.PollOnce(ctx)
		h, _, err := f.poller.store.GetCursor()
		require.NoError(t, err)
		seen = append(seen, h)
	}
	assert.Equal(t, []uint64{5, 5, 6}, seen)
}

func TestPoller_RestoreUndownloaded(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()

	f.content.On("Fetch", mock.Anything, cidLate).Return(nil, errors.New("timeout")).Once()
	f.content.On("Fetch", mock.Anything, cidLate).Return([]byte(`{"ok":true}`), nil).Once()

	content, _ := DecodeAndCheckTxData(broadcastTx("0xbb", cidLate).Input)
	err := f.poller.Process(ctx, content, 7, broadcastTx("0xbb", cidLate))
	require.Error(t, err)
	assert.Empty(t, f.handler.blocks)

	f.poller.RestoreUndownloaded(ctx)
	require.Len(t, f.handler.blocks, 1)

	pending, err := f.poller.store.UndownloadedBlocks()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPoller_StartStop(t *testing.T) {
	f := newPollerFixture(t)
	f.content.On("Fetch", mock.Anything, mock.Anything).Return([]byte(`{}`), nil)
	f.adapter.On("LatestHeight", mock.Anything).Return(uint64(0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.poller.Start(ctx))
	assert.True(t, f.poller.IsRunning())
	assert.Error(t, f.poller.Start(ctx))

	f.poller.Stop()
	assert.False(t, f.poller.IsRunning())

	h, ok, err := f.poller.store.GetCursor()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), h)
}
