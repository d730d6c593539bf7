package federation

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/store"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func seedNode(t *testing.T, database *db.DB, identifier, apiAddress string) *store.Node {
	t.Helper()
	n := &store.Node{Identifier: identifier, APIAddress: apiAddress}
	require.NoError(t, database.Client().Create(n).Error)
	return n
}

func seedProfile(t *testing.T, database *db.DB, identifier string, node *store.Node) *store.Profile {
	t.Helper()
	p := &store.Profile{Identifier: identifier, NodeID: &node.ID}
	require.NoError(t, database.Client().Create(p).Error)
	return p
}

func fastRetry(attempts int) *fedErrors.RetryConfig {
	return &fedErrors.RetryConfig{
		MaxAttempts:     attempts,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		Multiplier:      2.0,
		RetryableErrors: []fedErrors.ErrorCode{fedErrors.ErrCodeNetwork, fedErrors.ErrCodeTimeout},
	}
}

// stoppedQueue rejects every submission so tests drive processing inline.
func stoppedQueue() *Queue {
	return NewQueue(1, 1, zerolog.Nop())
}
