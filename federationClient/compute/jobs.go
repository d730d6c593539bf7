package compute

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/store"
)

// Execution statuses written by the node. Finished statuses come from the backend.
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Jobs hands executions to the backend and tracks their status.
type Jobs struct {
	database *db.DB
	backend  Backend
	now      func() time.Time
	logger   zerolog.Logger
}

func NewJobs(database *db.DB, backend Backend, logger zerolog.Logger) *Jobs {
	return &Jobs{
		database: database,
		backend:  backend,
		now:      time.Now,
		logger:   logger.With().Str("component", "compute_jobs").Logger(),
	}
}

// Submit prepares and executes the execution with the given identifier.
func (j *Jobs) Submit(ctx context.Context, identifier string) error {
	exec, err := j.find(ctx, j.database.WithContext(ctx), identifier)
	if err != nil {
		return err
	}

	if err := j.backend.Prepare(ctx, identifier); err != nil {
		return j.fail(ctx, exec, err)
	}
	if err := j.backend.Execute(ctx, identifier); err != nil {
		return j.fail(ctx, exec, err)
	}

	now := j.now()
	err = j.database.WithContext(ctx).Model(exec).Updates(map[string]any{
		"status":     StatusSubmitted,
		"started_at": now,
	}).Error
	if err != nil {
		return fedErrors.NewDatabaseError("compute", "failed to mark execution submitted", err)
	}
	j.logger.Info().Str("execution", identifier).Str("backend", j.backend.Name()).Msg("execution submitted")
	return nil
}

// JobFinished records the status reported by the backend for an execution.
func (j *Jobs) JobFinished(ctx context.Context, identifier, status string) error {
	if status == "" {
		return fedErrors.NewValidationError("compute", "status is required")
	}
	return j.database.Transaction(ctx, func(tx *gorm.DB) error {
		exec, err := j.find(ctx, tx, identifier)
		if err != nil {
			return err
		}
		if err := tx.Model(exec).Updates(map[string]any{
			"status":      status,
			"finished_at": j.now(),
		}).Error; err != nil {
			return fedErrors.NewDatabaseError("compute", "failed to record execution status", err)
		}
		j.logger.Info().Str("execution", identifier).Str("status", status).Msg("job finished")
		return nil
	})
}

func (j *Jobs) find(ctx context.Context, tx *gorm.DB, identifier string) (*store.ComputingJobExecution, error) {
	var exec store.ComputingJobExecution
	err := tx.WithContext(ctx).Where("identifier = ?", identifier).First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fedErrors.NewUnresolvedReferenceError("compute", store.KindComputingJobExecution, identifier)
	}
	if err != nil {
		return nil, fedErrors.NewDatabaseError("compute", "failed to load execution", err)
	}
	return &exec, nil
}

func (j *Jobs) fail(ctx context.Context, exec *store.ComputingJobExecution, cause error) error {
	if err := j.database.WithContext(ctx).Model(exec).Update("status", StatusFailed).Error; err != nil {
		j.logger.Warn().Err(err).Str("execution", exec.Identifier).Msg("failed to mark execution failed")
	}
	return cause
}
