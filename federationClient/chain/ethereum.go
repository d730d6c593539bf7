package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// EthereumAdapter reads and writes an EVM ledger over JSON-RPC with
// round-robin failover across endpoints.
type EthereumAdapter struct {
	clients []*ethclient.Client
	index   uint64
	mu      sync.RWMutex
	chainID *big.Int
	logger  zerolog.Logger
}

// NewEthereumAdapter dials every URL and keeps the endpoints whose chain id
// matches expectedChainID.
func NewEthereumAdapter(ctx context.Context, rpcURLs []string, expectedChainID int64, logger zerolog.Logger) (*EthereumAdapter, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("no RPC URLs provided")
	}

	log := logger.With().Str("component", "ethereum_adapter").Logger()
	clients := make([]*ethclient.Client, 0, len(rpcURLs))

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, url := range rpcURLs {
		client, err := ethclient.DialContext(dialCtx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("failed to connect to RPC endpoint, skipping")
			continue
		}

		clientChainID, err := client.ChainID(dialCtx)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("failed to verify chain ID, skipping")
			client.Close()
			continue
		}
		if clientChainID.Int64() != expectedChainID {
			client.Close()
			log.Warn().
				Str("url", url).
				Int64("expected_chain_id", expectedChainID).
				Int64("actual_chain_id", clientChainID.Int64()).
				Msg("chain ID mismatch, closing client")
			continue
		}

		clients = append(clients, client)
		log.Info().Str("url", url).Msg("connected to RPC endpoint")
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("failed to connect to any valid RPC endpoints")
	}

	return &EthereumAdapter{
		clients: clients,
		chainID: big.NewInt(expectedChainID),
		logger:  log,
	}, nil
}

// executeWithFailover runs fn against each client at most once, starting at
// the next round-robin position.
func (a *EthereumAdapter) executeWithFailover(ctx context.Context, operation string, fn func(*ethclient.Client) error) error {
	a.mu.RLock()
	clients := a.clients
	a.mu.RUnlock()

	if len(clients) == 0 {
		return fmt.Errorf("no RPC clients available for %s", operation)
	}

	var lastErr error
	for attempt := 0; attempt < len(clients); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		index := atomic.AddUint64(&a.index, 1) - 1
		client := clients[index%uint64(len(clients))]

		err := fn(client)
		if err == nil {
			return nil
		}
		lastErr = err

		a.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Err(err).
			Msg("RPC call failed, trying next endpoint")
	}

	return fmt.Errorf("%s failed on all %d endpoints: %w", operation, len(clients), lastErr)
}

func (a *EthereumAdapter) ChainID() *big.Int {
	return new(big.Int).Set(a.chainID)
}

func (a *EthereumAdapter) LatestHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := a.executeWithFailover(ctx, "block_number", func(c *ethclient.Client) error {
		var err error
		height, err = c.BlockNumber(ctx)
		return err
	})
	return height, err
}

func (a *EthereumAdapter) BlockByNumber(ctx context.Context, number uint64) (*ChainBlock, error) {
	var block *types.Block
	err := a.executeWithFailover(ctx, "block_by_number", func(c *ethclient.Client) error {
		var err error
		block, err = c.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		return nil, err
	}
	return a.convertBlock(block), nil
}

func (a *EthereumAdapter) convertBlock(block *types.Block) *ChainBlock {
	signer := types.LatestSignerForChainID(a.chainID)
	out := &ChainBlock{
		Number:       block.NumberU64(),
		Hash:         block.Hash().Hex(),
		Transactions: make([]ChainTx, 0, len(block.Transactions())),
	}
	for _, tx := range block.Transactions() {
		ctx := ChainTx{
			Hash:        tx.Hash().Hex(),
			Nonce:       tx.Nonce(),
			Gas:         tx.Gas(),
			Value:       tx.Value().String(),
			Input:       tx.Data(),
			BlockNumber: block.NumberU64(),
		}
		if from, err := types.Sender(signer, tx); err == nil {
			ctx.From = from.Hex()
		} else {
			a.logger.Debug().Err(err).Str("tx_hash", ctx.Hash).Msg("could not recover sender")
		}
		if to := tx.To(); to != nil {
			ctx.To = to.Hex()
		}
		out.Transactions = append(out.Transactions, ctx)
	}
	return out
}

func (a *EthereumAdapter) PendingNonce(ctx context.Context, account string) (uint64, error) {
	var nonce uint64
	err := a.executeWithFailover(ctx, "pending_nonce", func(c *ethclient.Client) error {
		var err error
		nonce, err = c.PendingNonceAt(ctx, ethcommon.HexToAddress(account))
		return err
	})
	return nonce, err
}

func (a *EthereumAdapter) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := a.executeWithFailover(ctx, "estimate_gas", func(c *ethclient.Client) error {
		var err error
		gas, err = c.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SendTransaction submits through the first endpoint only. It is not retried.
func (a *EthereumAdapter) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.clients) == 0 {
		return fmt.Errorf("no RPC clients available for send_transaction")
	}
	return a.clients[0].SendTransaction(ctx, tx)
}

func (a *EthereumAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.clients {
		c.Close()
	}
	a.clients = nil
}
