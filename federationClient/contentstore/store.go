// Package contentstore resolves content-addressed payloads referenced by
// broadcast pointers and stores outbound payloads.
package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/centauron/federation-node/federationClient/config"
	"github.com/centauron/federation-node/federationClient/db"
)

// Store is a content-addressed object store.
type Store interface {
	// Fetch returns the bytes addressed by cid.
	Fetch(ctx context.Context, cid string) ([]byte, error)
	// Add stores data and returns its CID.
	Add(ctx context.Context, data []byte) (string, error)
}

// Factory builds a Store from configuration.
type Factory func(cfg *config.Config, database *db.DB, logger zerolog.Logger) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. Registering a name twice replaces it.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Backends lists registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the backend selected by cfg.ContentStore.Backend.
func New(cfg *config.Config, database *db.DB, logger zerolog.Logger) (Store, error) {
	registryMu.RLock()
	f, ok := registry[cfg.ContentStore.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown content store backend %q (registered: %v)", cfg.ContentStore.Backend, Backends())
	}
	return f(cfg, database, logger)
}

func init() {
	Register("ipfs", func(cfg *config.Config, _ *db.DB, logger zerolog.Logger) (Store, error) {
		return NewIPFSStore(cfg.ContentStore.IPFSAPI, cfg.HTTPTimeout(), cfg.ContentStore.MaxFetchBytes, logger)
	})
	Register("local", func(_ *config.Config, database *db.DB, _ zerolog.Logger) (Store, error) {
		if database == nil {
			return nil, fmt.Errorf("local content store requires a database")
		}
		return NewLocalStore(database), nil
	})
}

// Payload is the broadcast body stored behind a CID.
type Payload struct {
	Header PayloadHeader `json:"header"`
	Data   []PayloadItem `json:"data"`
}

type PayloadHeader struct {
	Topics []string `json:"topics"`
}

type PayloadItem struct {
	Validator string          `json:"validator"`
	Value     json.RawMessage `json:"value"`
}

// BuildPayload wraps data under topic as a single json-validated item.
func BuildPayload(topic string, data any) (*Payload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload data: %w", err)
	}
	return &Payload{
		Header: PayloadHeader{Topics: []string{topic}},
		Data:   []PayloadItem{{Validator: "json", Value: raw}},
	}, nil
}

// AddJSON marshals v and stores it.
func AddJSON(ctx context.Context, s Store, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal content: %w", err)
	}
	return s.Add(ctx, raw)
}
