package api

import (
	"context"

	"github.com/centauron/federation-node/federationClient/store"
)

// InboxService is the part of the inbox the HTTP endpoint needs.
type InboxService interface {
	Receive(ctx context.Context, raw []byte, businessKey string) (*store.InboxMessage, error)
	Get(ctx context.Context, id uint) (*store.InboxMessage, error)
}

// DownloadService redeems single-use file tokens.
type DownloadService interface {
	Redeem(ctx context.Context, token string) (*store.File, error)
}

// JobService hands computing job executions to the compute backend and
// records the status it reports back.
type JobService interface {
	Submit(ctx context.Context, identifier string) error
	JobFinished(ctx context.Context, identifier, status string) error
}

// EventLog lists decoded events.
type EventLog interface {
	List(ctx context.Context, limit int) ([]store.Log, error)
}
