package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/centauron/federation-node/federationClient/store"
)

type mockInbox struct {
	mock.Mock
}

func (m *mockInbox) Receive(ctx context.Context, raw []byte, businessKey string) (*store.InboxMessage, error) {
	args := m.Called(ctx, raw, businessKey)
	msg, _ := args.Get(0).(*store.InboxMessage)
	return msg, args.Error(1)
}

func (m *mockInbox) Get(ctx context.Context, id uint) (*store.InboxMessage, error) {
	args := m.Called(ctx, id)
	msg, _ := args.Get(0).(*store.InboxMessage)
	return msg, args.Error(1)
}

type mockDownloads struct {
	mock.Mock
}

func (m *mockDownloads) Redeem(ctx context.Context, token string) (*store.File, error) {
	args := m.Called(ctx, token)
	f, _ := args.Get(0).(*store.File)
	return f, args.Error(1)
}

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Submit(ctx context.Context, identifier string) error {
	return m.Called(ctx, identifier).Error(0)
}

func (m *mockJobs) JobFinished(ctx context.Context, identifier, status string) error {
	return m.Called(ctx, identifier, status).Error(0)
}

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) List(ctx context.Context, limit int) ([]store.Log, error) {
	args := m.Called(ctx, limit)
	logs, _ := args.Get(0).([]store.Log)
	return logs, args.Error(1)
}
