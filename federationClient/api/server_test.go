package api

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	inbox := &mockInbox{}

	server := NewServer(inbox, nil, nil, nil, nil, logger, 8080)
	assert.NotNil(t, server)
	assert.Equal(t, inbox, server.inbox)
	assert.Equal(t, ":8080", server.server.Addr)
}

func TestServerStartStop(t *testing.T) {
	// The serve goroutine may log after the test returns.
	logger := zerolog.Nop()

	t.Run("Start and stop server", func(t *testing.T) {
		server := NewServer(&mockInbox{}, nil, nil, nil, nil, logger, 0)
		require.NoError(t, server.Start())
		assert.NoError(t, server.Stop())
	})

	t.Run("Start with nil server", func(t *testing.T) {
		server := &Server{logger: logger}
		err := server.Start()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "api server is nil")
	})

	t.Run("Stop with nil server", func(t *testing.T) {
		server := &Server{logger: logger}
		assert.NoError(t, server.Stop())
	})
}
