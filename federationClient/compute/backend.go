// Package compute connects computing job executions to an external backend
// and records the status that backend reports back.
package compute

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/centauron/federation-node/federationClient/config"
)

// Backend runs computing job executions. Scheduling is the backend's business.
type Backend interface {
	Name() string
	Prepare(ctx context.Context, executionID string) error
	Execute(ctx context.Context, executionID string) error
}

// Factory builds a backend from configuration.
type Factory func(cfg *config.Config, logger zerolog.Logger) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Factory{}
)

// Register makes a backend available under name.
func Register(name string, f Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = f
}

// Backends lists the registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the backend selected by cfg.ComputeBackend.
func New(cfg *config.Config, logger zerolog.Logger) (Backend, error) {
	backendsMu.RLock()
	f, ok := backends[cfg.ComputeBackend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown compute backend %q (registered: %v)", cfg.ComputeBackend, Backends())
	}
	return f(cfg, logger)
}

func init() {
	Register(BackendNoop, func(_ *config.Config, logger zerolog.Logger) (Backend, error) {
		return NewNoopBackend(logger), nil
	})
	Register(BackendHTTP, func(cfg *config.Config, logger zerolog.Logger) (Backend, error) {
		return NewHTTPBackend(cfg.ComputeBackendURL, cfg.HTTPTimeout(), logger)
	})
}
