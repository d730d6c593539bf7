package federation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/metrics"
	"github.com/centauron/federation-node/federationClient/store"
)

type mockPointerSender struct {
	mock.Mock
}

func (m *mockPointerSender) SendPointer(ctx context.Context, v any) (string, string, error) {
	args := m.Called(ctx, v)
	return args.String(0), args.String(1), args.Error(2)
}

type outboxFixture struct {
	database *db.DB
	outbox   *Outbox
	inbox    *Inbox
	alice    *store.Profile
	bob      *store.Profile
	carol    *store.Profile
}

// newOutboxFixture seeds alice and carol on node-a and bob on node-b, whose
// inbox is served at bobInbox.
func newOutboxFixture(t *testing.T, bobInbox string) *outboxFixture {
	t.Helper()
	database := setupTestDB(t)
	a := seedNode(t, database, "node-a", "http://node-a/inbox")
	b := seedNode(t, database, "node-b", bobInbox)

	dir := NewDirectory(database, zerolog.Nop())
	queue := stoppedQueue()
	inbox := NewInbox(database, NewDispatcher(nil), queue, fastRetry(1), nil, zerolog.Nop())
	outbox := NewOutbox(database, dir, queue, metrics.New(nil), zerolog.Nop())
	outbox.RegisterTransport(NewHTTPTransport(time.Second, 64, fastRetry(3), zerolog.Nop()))
	outbox.RegisterTransport(NewLocalTransport(inbox))

	return &outboxFixture{
		database: database,
		outbox:   outbox,
		inbox:    inbox,
		alice:    seedProfile(t, database, "alice", a),
		bob:      seedProfile(t, database, "bob", b),
		carol:    seedProfile(t, database, "carol", a),
	}
}

func (f *outboxFixture) reload(t *testing.T, id uint) store.OutboxMessage {
	t.Helper()
	var msg store.OutboxMessage
	require.NoError(t, f.database.Client().First(&msg, id).Error)
	return msg
}

func TestOutbox_CreateStampsEnvelope(t *testing.T) {
	f := newOutboxFixture(t, "http://node-b/inbox")

	msg, err := f.outbox.Create(context.Background(), f.alice, f.bob, EnvelopeCreate,
		Object{Type: ContentSubmission, Content: json.RawMessage(`{"x":1}`)},
		&CreateOptions{BusinessKey: "bk-1"})
	require.NoError(t, err)

	env, err := DecodeEnvelope(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, "node-a", env.From)
	require.NotNil(t, env.To)
	assert.Equal(t, "node-b", *env.To)
	assert.Equal(t, "alice", env.Object.Sender)
	assert.Equal(t, "bob", *env.Object.Recipient)

	stored := f.reload(t, msg.ID)
	assert.Equal(t, store.BoxOutbox, stored.Box)
	assert.False(t, stored.Processed)
	assert.JSONEq(t, `{"business_key":"bk-1"}`, string(stored.ExtraData))
}

func TestOutbox_CreateRejectsBadInput(t *testing.T) {
	f := newOutboxFixture(t, "")

	_, err := f.outbox.Create(context.Background(), nil, f.bob, EnvelopeCreate, Object{}, nil)
	assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeValidation))

	_, err = f.outbox.Create(context.Background(), f.alice, f.bob, EnvelopeType("shout"), Object{}, nil)
	assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeValidation))
}

func TestOutbox_HTTPDelivery(t *testing.T) {
	var gotKey, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(BusinessKeyHeader)
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Location", "/message/42")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer server.Close()

	f := newOutboxFixture(t, server.URL)
	ctx := context.Background()
	msg, err := f.outbox.Create(ctx, f.alice, f.bob, EnvelopeCreate, Object{Type: ContentSubmission}, &CreateOptions{BusinessKey: "bk-7"})
	require.NoError(t, err)

	require.NoError(t, f.outbox.Send(ctx, msg, false))

	stored := f.reload(t, msg.ID)
	assert.True(t, stored.Processed)
	assert.False(t, stored.Processing)
	assert.Equal(t, http.StatusCreated, stored.StatusCode)
	assert.Equal(t, "/message/42", stored.RemoteLocation)
	assert.Equal(t, `{"id":42}`, stored.ResponseBody)
	assert.Equal(t, 1, stored.Tries)
	assert.Equal(t, "bk-7", gotKey)
	assert.JSONEq(t, string(msg.Payload), gotBody)

	// processed messages are not sent again
	stored.Processed = true
	require.NoError(t, f.outbox.Send(ctx, &stored, false))
	assert.Equal(t, 1, f.reload(t, msg.ID).Tries)
}

func TestOutbox_HTTPDeliveryRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"User recipient or sender not found."}`))
	}))
	defer server.Close()

	f := newOutboxFixture(t, server.URL)
	ctx := context.Background()
	msg, err := f.outbox.Create(ctx, f.alice, f.bob, EnvelopeCreate, Object{Type: ContentSubmission}, nil)
	require.NoError(t, err)

	err = f.outbox.Deliver(ctx, msg.ID)
	require.Error(t, err)
	assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeHandler))

	stored := f.reload(t, msg.ID)
	assert.False(t, stored.Processed)
	assert.False(t, stored.Processing)
	assert.Equal(t, http.StatusNotFound, stored.StatusCode)
	assert.Contains(t, stored.ResponseBody, "not found")
	assert.NotEmpty(t, stored.Error)
	assert.Equal(t, 1, stored.Tries)
}

func TestOutbox_HTTPDeliveryRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	f := newOutboxFixture(t, server.URL)
	ctx := context.Background()
	msg, err := f.outbox.Create(ctx, f.alice, f.bob, EnvelopeCreate, Object{Type: ContentLeaderboard}, nil)
	require.NoError(t, err)

	require.NoError(t, f.outbox.Deliver(ctx, msg.ID))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.True(t, f.reload(t, msg.ID).Processed)
}

func TestOutbox_HTTPDeliveryThrottled(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer server.Close()

	f := newOutboxFixture(t, server.URL)
	ctx := context.Background()
	msg, err := f.outbox.Create(ctx, f.alice, f.bob, EnvelopeCreate, Object{Type: ContentSubmission}, nil)
	require.NoError(t, err)

	err = f.outbox.Deliver(ctx, msg.ID)
	require.Error(t, err)
	assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeNetwork))
	assert.Equal(t, fedErrors.SeverityLow, fedErrors.GetSeverity(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	stored := f.reload(t, msg.ID)
	assert.Equal(t, http.StatusTooManyRequests, stored.StatusCode)
	assert.Len(t, stored.ResponseBody, 64, "answers are cut at the configured maximum")
}

func TestOutbox_LocalDelivery(t *testing.T) {
	f := newOutboxFixture(t, "")
	ctx := context.Background()

	msg, err := f.outbox.Create(ctx, f.alice, f.carol, EnvelopeCreate, Object{Type: ContentSubmission}, &CreateOptions{BusinessKey: "bk-local"})
	require.NoError(t, err)
	require.NoError(t, f.outbox.Deliver(ctx, msg.ID))

	stored := f.reload(t, msg.ID)
	assert.True(t, stored.Processed)
	assert.Equal(t, http.StatusCreated, stored.StatusCode)

	var in store.InboxMessage
	require.NoError(t, f.database.Client().First(&in).Error)
	assert.Equal(t, MessageLocation(in.ID), stored.RemoteLocation)
	assert.Equal(t, f.alice.ID, in.SenderID)
	require.NotNil(t, in.RecipientID)
	assert.Equal(t, f.carol.ID, *in.RecipientID)
	assert.Equal(t, "bk-local", in.BusinessKey)
}

func TestOutbox_BroadcastDelivery(t *testing.T) {
	f := newOutboxFixture(t, "")
	ctx := context.Background()

	sender := &mockPointerSender{}
	sender.On("SendPointer", mock.Anything, mock.Anything).Return("bafyCID", "0xhash", nil).Once()
	f.outbox.RegisterTransport(NewBroadcastTransport(sender))

	msg, err := f.outbox.Create(ctx, f.alice, nil, EnvelopeCreate, Object{Type: ContentProfile}, nil)
	require.NoError(t, err)
	assert.Nil(t, msg.RecipientID)

	require.NoError(t, f.outbox.Deliver(ctx, msg.ID))
	stored := f.reload(t, msg.ID)
	assert.True(t, stored.Processed)
	assert.Equal(t, "bafyCID", stored.RemoteLocation)
	assert.JSONEq(t, `{"cid":"bafyCID","tx_hash":"0xhash"}`, stored.ResponseBody)
	sender.AssertExpectations(t)
}

func TestOutbox_MissingBackendRecordsFailure(t *testing.T) {
	f := newOutboxFixture(t, "")
	ctx := context.Background()

	msg, err := f.outbox.Create(ctx, f.alice, nil, EnvelopeCreate, Object{Type: ContentProfile}, nil)
	require.NoError(t, err)

	err = f.outbox.Deliver(ctx, msg.ID)
	assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeConfig))
	stored := f.reload(t, msg.ID)
	assert.False(t, stored.Processed)
	assert.Contains(t, stored.Error, "no broadcast backend registered")
}

func TestOutbox_SweepAndReplay(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	f := newOutboxFixture(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.outbox.queue = NewQueue(2, 16, zerolog.Nop())
	f.outbox.queue.Start(ctx)
	defer f.outbox.queue.Stop()

	first, err := f.outbox.Create(ctx, f.alice, f.bob, EnvelopeCreate, Object{Type: ContentSubmission}, nil)
	require.NoError(t, err)
	_, err = f.outbox.Create(ctx, f.alice, f.bob, EnvelopeCreate, Object{Type: ContentSubmission}, nil)
	require.NoError(t, err)

	n, err := f.outbox.ProcessOutboxMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Eventually(t, func() bool {
		var pending int64
		f.database.Client().Model(&store.OutboxMessage{}).Where("processed = ?", false).Count(&pending)
		return pending == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.outbox.Replay(ctx, first.ID))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, f.reload(t, first.ID).Tries)
}
