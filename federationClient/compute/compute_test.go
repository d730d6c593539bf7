package compute

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/centauron/federation-node/federationClient/config"
	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/store"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) Prepare(ctx context.Context, executionID string) error {
	return m.Called(ctx, executionID).Error(0)
}

func (m *mockBackend) Execute(ctx context.Context, executionID string) error {
	return m.Called(ctx, executionID).Error(0)
}

func setupJobs(t *testing.T, backend Backend) (*Jobs, *db.DB) {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, database.Client().Create(&store.ComputingJobExecution{
		Identifier: "node-a#execution::1",
		Status:     StatusPending,
	}).Error)
	return NewJobs(database, backend, zerolog.Nop()), database
}

func loadExecution(t *testing.T, database *db.DB) store.ComputingJobExecution {
	t.Helper()
	var exec store.ComputingJobExecution
	require.NoError(t, database.Client().Where("identifier = ?", "node-a#execution::1").First(&exec).Error)
	return exec
}

func TestNew_Registry(t *testing.T) {
	t.Run("noop", func(t *testing.T) {
		b, err := New(&config.Config{ComputeBackend: BackendNoop}, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, BackendNoop, b.Name())
		assert.NoError(t, b.Prepare(context.Background(), "x"))
		assert.NoError(t, b.Execute(context.Background(), "x"))
	})

	t.Run("http needs url", func(t *testing.T) {
		_, err := New(&config.Config{ComputeBackend: BackendHTTP}, zerolog.Nop())
		require.Error(t, err)
		assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeConfig))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(&config.Config{ComputeBackend: "k8s"}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown compute backend")
	})

	assert.Equal(t, []string{BackendHTTP, BackendNoop}, Backends())
}

func TestHTTPBackend(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		paths = append(paths, r.URL.Path+"="+body["execution"])
		if body["execution"] == "rejected" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body["execution"] == "down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewHTTPBackend(server.URL+"/", time.Second, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, b.Prepare(context.Background(), "e1"))
	require.NoError(t, b.Execute(context.Background(), "e1"))
	assert.Equal(t, []string{"/prepare=e1", "/execute=e1"}, paths)

	err = b.Execute(context.Background(), "rejected")
	assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeHandler))

	err = b.Execute(context.Background(), "down")
	assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeNetwork))
}

func TestJobs_Submit(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		backend := &mockBackend{}
		backend.On("Prepare", mock.Anything, "node-a#execution::1").Return(nil)
		backend.On("Execute", mock.Anything, "node-a#execution::1").Return(nil)
		jobs, database := setupJobs(t, backend)

		require.NoError(t, jobs.Submit(context.Background(), "node-a#execution::1"))
		exec := loadExecution(t, database)
		assert.Equal(t, StatusSubmitted, exec.Status)
		assert.NotNil(t, exec.StartedAt)
		backend.AssertExpectations(t)
	})

	t.Run("prepare failure marks failed", func(t *testing.T) {
		backend := &mockBackend{}
		backend.On("Prepare", mock.Anything, "node-a#execution::1").
			Return(fedErrors.NewHandlerError("compute", "no capacity", nil))
		jobs, database := setupJobs(t, backend)

		err := jobs.Submit(context.Background(), "node-a#execution::1")
		require.Error(t, err)
		assert.Equal(t, StatusFailed, loadExecution(t, database).Status)
		backend.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	})

	t.Run("unknown execution", func(t *testing.T) {
		jobs, _ := setupJobs(t, &mockBackend{})
		err := jobs.Submit(context.Background(), "node-a#execution::missing")
		assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeUnresolvedReference))
	})
}

func TestJobs_JobFinished(t *testing.T) {
	jobs, database := setupJobs(t, NewNoopBackend(zerolog.Nop()))

	require.Error(t, jobs.JobFinished(context.Background(), "node-a#execution::1", ""))

	require.NoError(t, jobs.JobFinished(context.Background(), "node-a#execution::1", StatusSucceeded))
	exec := loadExecution(t, database)
	assert.Equal(t, StatusSucceeded, exec.Status)
	assert.NotNil(t, exec.FinishedAt)

	err := jobs.JobFinished(context.Background(), "node-a#execution::2", StatusFailed)
	assert.True(t, fedErrors.HasCode(err, fedErrors.ErrCodeUnresolvedReference))
}
