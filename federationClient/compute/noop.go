package compute

import (
	"context"

	"github.com/rs/zerolog"
)

const BackendNoop = "noop"

// NoopBackend accepts every execution and runs nothing.
type NoopBackend struct {
	logger zerolog.Logger
}

func NewNoopBackend(logger zerolog.Logger) *NoopBackend {
	return &NoopBackend{logger: logger.With().Str("component", "compute_noop").Logger()}
}

func (b *NoopBackend) Name() string { return BackendNoop }

func (b *NoopBackend) Prepare(_ context.Context, executionID string) error {
	b.logger.Debug().Str("execution", executionID).Msg("prepare skipped")
	return nil
}

func (b *NoopBackend) Execute(_ context.Context, executionID string) error {
	b.logger.Debug().Str("execution", executionID).Msg("execute skipped")
	return nil
}
