// Package chain anchors broadcasts on a shared ledger: it polls blocks for
// broadcast transactions, persists them and submits outbound broadcasts.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/centauron/federation-node/federationClient/config"
	"github.com/centauron/federation-node/federationClient/store"
)

// ChainTx is a transaction as seen by the poller.
type ChainTx struct {
	Hash        string        `json:"hash"` // 0x-prefixed
	From        string        `json:"from"`
	To          string        `json:"to,omitempty"`
	Nonce       uint64        `json:"nonce"`
	Gas         uint64        `json:"gas"`
	Value       string        `json:"value"`
	Input       hexutil.Bytes `json:"input"`
	BlockNumber uint64        `json:"blockNumber"`
}

// ChainBlock is a block with full transaction bodies.
type ChainBlock struct {
	Number       uint64
	Hash         string
	Transactions []ChainTx
}

// BroadcastAdapter is the ledger RPC surface used by the poller and the sender.
type BroadcastAdapter interface {
	LatestHeight(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*ChainBlock, error)
	PendingNonce(ctx context.Context, account string) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	ChainID() *big.Int
	Close()
}

// BlockHandler is notified once per newly downloaded broadcast block.
type BlockHandler interface {
	OnBlock(ctx context.Context, block *store.Block) error
}

// BlockHandlerFunc adapts a function to BlockHandler.
type BlockHandlerFunc func(ctx context.Context, block *store.Block) error

func (f BlockHandlerFunc) OnBlock(ctx context.Context, block *store.Block) error {
	return f(ctx, block)
}

// AdapterFactory connects an adapter from configuration.
type AdapterFactory func(ctx context.Context, cfg config.ChainConfig, logger zerolog.Logger) (BroadcastAdapter, error)

var (
	adaptersMu sync.RWMutex
	adapters   = map[string]AdapterFactory{}
)

// RegisterAdapter makes an adapter available under name.
func RegisterAdapter(name string, f AdapterFactory) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	adapters[name] = f
}

// Adapters lists the registered adapter names.
func Adapters() []string {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	names := make([]string, 0, len(adapters))
	for n := range adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Connect builds the adapter selected by cfg.Adapter. A failure is returned,
// never panicked, so the caller can log and retry.
func Connect(ctx context.Context, cfg config.ChainConfig, logger zerolog.Logger) (BroadcastAdapter, error) {
	adaptersMu.RLock()
	f, ok := adapters[cfg.Adapter]
	adaptersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown broadcast adapter %q (registered: %v)", cfg.Adapter, Adapters())
	}
	return f(ctx, cfg, logger)
}

func init() {
	RegisterAdapter("ethereum", func(ctx context.Context, cfg config.ChainConfig, logger zerolog.Logger) (BroadcastAdapter, error) {
		return NewEthereumAdapter(ctx, cfg.RPCURLs, cfg.ChainID, logger)
	})
}
