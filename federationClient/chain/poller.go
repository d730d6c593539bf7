package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/centauron/federation-node/federationClient/contentstore"
	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/metrics"
	"github.com/centauron/federation-node/federationClient/store"
)

// Poller is the single worker that walks the ledger, persists broadcast
// blocks and hands downloaded content to the handler. Only the poller
// advances the cursor.
type Poller struct {
	adapter     BroadcastAdapter
	store       *Store
	content     contentstore.Store
	handler     BlockHandler
	metrics     *metrics.Metrics
	interval    time.Duration
	startHeight int64
	logger      zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// PollerConfig carries the poller tuning knobs.
type PollerConfig struct {
	Interval time.Duration
	// StartHeight seeds the cursor when none is stored; negative means latest.
	StartHeight int64
}

// NewPoller creates a poller. handler may be nil.
func NewPoller(
	adapter BroadcastAdapter,
	database *db.DB,
	content contentstore.Store,
	handler BlockHandler,
	m *metrics.Metrics,
	cfg PollerConfig,
	logger zerolog.Logger,
) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Poller{
		adapter:     adapter,
		store:       NewStore(database),
		content:     content,
		handler:     handler,
		metrics:     m,
		interval:    cfg.Interval,
		startHeight: cfg.StartHeight,
		logger:      logger.With().Str("component", "broadcast_poller").Logger(),
	}
}

// Start restores blocks whose content was never downloaded, makes sure a
// cursor exists and launches the poll loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("poller is already running")
	}

	p.RestoreUndownloaded(ctx)

	if err := p.ensureCursor(ctx); err != nil {
		return err
	}

	p.running = true
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info().Dur("interval", p.interval).Msg("broadcast poller started")
	return nil
}

// Stop signals the loop and waits for the current pass to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info().Msg("broadcast poller stopped")
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) ensureCursor(ctx context.Context) error {
	_, ok, err := p.store.GetCursor()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	var height uint64
	if p.startHeight >= 0 {
		height = uint64(p.startHeight)
	} else {
		height, err = p.adapter.LatestHeight(ctx)
		if err != nil {
			return fedErrors.NewNetworkError("poller", "failed to read latest height for initial cursor", err)
		}
	}
	p.logger.Info().Uint64("height", height).Msg("initialising cursor")
	return p.store.UpdateCursor(height)
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil {
			p.logger.Error().Err(err).Msg("poll pass failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// PollOnce processes every height in (cursor, latest] and persists the
// cursor at the last attempted height. A failing block is logged and
// skipped; it is not retried. It returns the new cursor.
func (p *Poller) PollOnce(ctx context.Context) (uint64, error) {
	cursor, _, err := p.store.GetCursor()
	if err != nil {
		return 0, err
	}

	latest, err := p.adapter.LatestHeight(ctx)
	if err != nil {
		return cursor, fedErrors.NewNetworkError("poller", "failed to read latest height", err)
	}

	attempted := cursor
	for h := cursor + 1; h <= latest; h++ {
		if ctx.Err() != nil {
			break
		}

		if err := p.processBlock(ctx, h); err != nil {
			p.logger.Error().Err(err).Uint64("block", h).Msg("failed to process block, skipping")
		}
		attempted = h
		p.metrics.BlockPolled()
	}

	if attempted > cursor {
		if err := p.store.UpdateCursor(attempted); err != nil {
			return cursor, err
		}
		p.metrics.SetCursor(attempted)
		p.logger.Debug().Uint64("cursor", attempted).Msg("updated last seen block")
	}
	return attempted, nil
}

func (p *Poller) processBlock(ctx context.Context, height uint64) error {
	block, err := p.adapter.BlockByNumber(ctx, height)
	if err != nil {
		return fedErrors.NewNetworkError("poller", "failed to fetch block", err)
	}
	if block == nil {
		return fmt.Errorf("block %d not returned", height)
	}

	for _, tx := range block.Transactions {
		content, ok := DecodeAndCheckTxData(tx.Input)
		if !ok {
			continue
		}
		p.logger.Info().Str("tx_hash", tx.Hash).Uint64("block", height).Msg("broadcast found")
		if err := p.Process(ctx, content, height, tx); err != nil {
			p.logger.Error().Err(err).Str("message_hash", tx.Hash).Msg("failed to process broadcast")
		}
	}
	return nil
}

// Process persists a broadcast on first sight, then downloads its content
// and notifies the handler. A message hash seen before is a no-op.
func (p *Poller) Process(ctx context.Context, content *TxContent, number uint64, tx ChainTx) error {
	block, created, err := p.store.InsertBlockIfNotExists(number, tx, content)
	if err != nil {
		return err
	}
	if !created {
		p.logger.Debug().Str("message_hash", tx.Hash).Msg("duplicate broadcast ignored")
		return nil
	}
	p.metrics.BroadcastIngested()
	return p.downloadAndSave(ctx, block)
}

// RestoreUndownloaded retries the content download of every block still
// flagged cid_downloaded = false.
func (p *Poller) RestoreUndownloaded(ctx context.Context) {
	blocks, err := p.store.UndownloadedBlocks()
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to list blocks without content")
		return
	}
	p.logger.Info().Int("count", len(blocks)).Msg("restoring blocks that have no content downloaded yet")

	for i := range blocks {
		if ctx.Err() != nil {
			return
		}
		if err := p.downloadAndSave(ctx, &blocks[i]); err != nil {
			p.logger.Warn().Err(err).Str("message_hash", blocks[i].MessageHash).Msg("content still unavailable")
		}
	}
}

func (p *Poller) downloadAndSave(ctx context.Context, block *store.Block) error {
	data, err := p.content.Fetch(ctx, block.CID)
	if err != nil {
		p.metrics.DownloadFailed()
		return fmt.Errorf("failed to download %s: %w", block.CID, err)
	}

	notify := true
	if !json.Valid(data) {
		p.logger.Error().Str("cid", block.CID).Msg("content is not valid JSON, storing null")
		data = []byte("null")
		notify = false
	}

	if err := p.store.MarkDownloaded(block, data); err != nil {
		return err
	}

	if notify && p.handler != nil {
		if err := p.handler.OnBlock(ctx, block); err != nil {
			p.logger.Error().Err(err).Str("message_hash", block.MessageHash).Msg("block handler failed")
		}
	}
	return nil
}
