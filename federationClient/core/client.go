// Package core owns the lifecycle of a federation node: it constructs every
// dependency once and starts and stops them in order.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/centauron/federation-node/federationClient/api"
	"github.com/centauron/federation-node/federationClient/chain"
	"github.com/centauron/federation-node/federationClient/compute"
	"github.com/centauron/federation-node/federationClient/config"
	"github.com/centauron/federation-node/federationClient/constant"
	"github.com/centauron/federation-node/federationClient/contentstore"
	"github.com/centauron/federation-node/federationClient/cron"
	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/eventlog"
	"github.com/centauron/federation-node/federationClient/federation"
	"github.com/centauron/federation-node/federationClient/identifier"
	"github.com/centauron/federation-node/federationClient/metrics"
	"github.com/centauron/federation-node/federationClient/router"
	"github.com/centauron/federation-node/federationClient/share"
)

// Options adjusts how a Client is assembled.
type Options struct {
	// Database replaces the file database under <home>/data.
	Database *db.DB
	// Offline skips the ledger connection: no poller and no broadcast sender.
	Offline bool
	// Headless skips the HTTP API server.
	Headless bool
}

// Client is a running federation node.
type Client struct {
	cfg *config.Config
	log zerolog.Logger

	db        *db.DB
	ownsDB    bool
	metrics   *metrics.Metrics
	content   contentstore.Store
	adapter   chain.BroadcastAdapter
	sender    *chain.Sender
	queue     *federation.Queue
	directory *federation.Directory
	inbox     *federation.Inbox
	outbox    *federation.Outbox
	writer    *eventlog.Writer
	router    *router.Router
	shares    *share.Service
	downloads *share.Downloads
	jobs      *compute.Jobs
	poller    *chain.Poller
	sweeps    []*cron.SweepJob
	server    *api.Server
}

// NewClient builds a node from cfg. Nothing runs until Start.
func NewClient(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (c *Client, err error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fedErrors.NewConfigError("core", err.Error())
	}
	if cfg.NodeIdentifier == "" {
		return nil, fedErrors.NewConfigError("core", "node_identifier is required")
	}

	c = &Client{cfg: cfg, log: log.With().Str("component", "core").Logger()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.db = opts.Database
	if c.db == nil {
		c.db, err = db.OpenFileDB(cfg.DataDir(), db.DefaultFileName, true)
		if err != nil {
			return nil, fedErrors.NewDatabaseError("core", "failed to open database", err)
		}
		c.ownsDB = true
	}

	c.metrics = metrics.New(prometheus.NewRegistry())

	c.content, err = contentstore.New(cfg, c.db, log)
	if err != nil {
		return nil, fedErrors.NewConfigError("core", err.Error())
	}

	if !opts.Offline {
		c.adapter, err = chain.Connect(ctx, cfg.Chain, log)
		if err != nil {
			return nil, fedErrors.NewNetworkError("core", "failed to connect broadcast adapter", err)
		}
		if cfg.Chain.PrivateKeyHex != "" {
			c.sender, err = chain.NewSender(c.adapter, cfg.Chain.PrivateKeyHex, c.content, log)
			if err != nil {
				return nil, err
			}
		}
	}

	ids := identifier.NewGenerator(cfg.NodeIdentifier)
	c.queue = federation.NewQueue(cfg.Bus.Workers, cfg.Bus.QueueSize, log)
	c.directory = federation.NewDirectory(c.db, log)
	c.writer = eventlog.NewWriter(c.db, log)

	forward := federation.NewApplicationForwarder(cfg.Applications, cfg.HTTPTimeout())
	dispatcher := federation.NewDispatcher(forward)
	federation.RegisterDirectoryHandlers(dispatcher, c.directory, forward)

	c.inbox = federation.NewInbox(c.db, dispatcher, c.queue, InboxRetryConfig(cfg), c.metrics, log)

	importer := share.NewImporter(c.db, c.directory, c.writer, ids, c.metrics, share.ImporterOptions{
		ServiceProfile: cfg.ServiceProfile,
		DataDir:        cfg.SharesDir(),
	}, log)
	share.RegisterHandlers(dispatcher, importer)

	c.outbox = federation.NewOutbox(c.db, c.directory, c.queue, c.metrics, log)
	c.outbox.RegisterTransport(federation.NewHTTPTransport(cfg.HTTPTimeout(), cfg.Bus.MaxResponseBytes, DeliveryRetryConfig(cfg), log))
	c.outbox.RegisterTransport(federation.NewLocalTransport(c.inbox))
	var pointers federation.PointerSender
	if c.sender != nil {
		pointers = c.sender
	}
	c.outbox.RegisterTransport(federation.NewBroadcastTransport(pointers))

	c.shares = share.NewService(c.db, c.directory, c.outbox, ids, share.ServiceOptions{
		TaskTimeout:   cfg.ShareTaskTimeout(),
		TokenValidity: cfg.TokenValidity(),
	}, log)
	c.downloads = share.NewDownloads(c.db, cfg.DownloadTokenTTL())

	backend, err := compute.New(cfg, log)
	if err != nil {
		return nil, err
	}
	c.jobs = compute.NewJobs(c.db, backend, log)

	c.router = router.New(cfg.NodeIdentifier, c.directory, c.inbox, c.writer, log)
	if c.adapter != nil {
		c.poller = chain.NewPoller(c.adapter, c.db, c.content, c.router, c.metrics, chain.PollerConfig{
			Interval:    cfg.PollingInterval(),
			StartHeight: cfg.Chain.StartHeight,
		}, log)
	}

	c.sweeps = []*cron.SweepJob{
		cron.NewSweepJob("outbox", c.outbox.ProcessOutboxMessages,
			time.Duration(cfg.Bus.OutboxSweepIntervalSeconds)*time.Second, 0, log),
		cron.NewSweepJob("inbox", c.inbox.ProcessInboxMessages,
			time.Duration(cfg.Bus.InboxSweepIntervalSeconds)*time.Second, 0, log),
		cron.NewSweepJob("download-tokens", c.downloads.Purge, time.Hour, 0, log),
	}

	if !opts.Headless {
		c.server = api.NewServer(c.inbox, c.downloads, c.jobs, c.writer, c.metrics.Handler(), log, cfg.QueryServerPort)
	}

	return c, nil
}

// Start brings the node up. Stale processing flags from an interrupted run
// are cleared before any worker picks up messages.
func (c *Client) Start(ctx context.Context) error {
	c.log.Info().Str("node", c.cfg.NodeIdentifier).Msg("starting federation node")

	if err := c.inbox.ResetStale(ctx); err != nil {
		return err
	}
	if err := c.registerSelf(ctx); err != nil {
		return err
	}

	c.queue.Start(ctx)

	if c.server != nil {
		if err := c.server.Start(); err != nil {
			return fmt.Errorf("failed to start api server: %w", err)
		}
		c.log.Info().Int("port", c.cfg.QueryServerPort).Msg("api server started")
	}

	if c.poller != nil {
		if err := c.poller.Start(ctx); err != nil {
			return fmt.Errorf("failed to start poller: %w", err)
		}
	}

	for _, job := range c.sweeps {
		if err := job.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s sweep: %w", job.Name(), err)
		}
	}

	c.log.Info().Msg("initialization complete")
	return nil
}

// Run starts the node, blocks until ctx is done and stops it.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		c.Stop()
		return err
	}
	<-ctx.Done()
	c.log.Info().Msg("shutting down federation node")
	c.Stop()
	return nil
}

// Stop halts the background work in reverse start order.
func (c *Client) Stop() {
	for _, job := range c.sweeps {
		job.Stop()
	}
	if c.poller != nil {
		c.poller.Stop()
	}
	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			c.log.Warn().Err(err).Msg("failed to stop api server")
		}
	}
	if c.queue != nil {
		c.queue.Stop()
	}
}

// Close releases the ledger connection and the database.
func (c *Client) Close() error {
	if c.adapter != nil {
		c.adapter.Close()
	}
	if c.db != nil && c.ownsDB {
		return c.db.Close()
	}
	return nil
}

func (c *Client) registerSelf(ctx context.Context) error {
	self := federation.NodeContent{
		Identifier: c.cfg.NodeIdentifier,
		APIAddress: c.cfg.NodeAPIAddress,
	}
	if c.sender != nil {
		self.Address = c.sender.Address().Hex()
	}
	_, err := c.directory.EnsureNode(ctx, self)
	return err
}

// SendTestEvent broadcasts a diagnostic "test" log message naming this node.
func (c *Client) SendTestEvent(ctx context.Context) (cid string, txHash string, err error) {
	if c.sender == nil {
		return "", "", fedErrors.NewConfigError("core", "broadcasts need a chain connection and private_key_hex")
	}
	self := eventlog.Identifiable{Identifier: c.cfg.NodeIdentifier, Display: c.cfg.NodeIdentifier, Model: "node"}
	value, err := json.Marshal(self)
	if err != nil {
		return "", "", err
	}
	msg := eventlog.Message{
		Action: eventlog.ActionTest,
		Actor:  eventlog.Actor{Identifiable: self},
		Object: eventlog.Object{Model: "node", Value: value},
	}
	return c.sender.SendBroadcast(ctx, constant.LogTopic, msg)
}

func (c *Client) Config() *config.Config           { return c.cfg }
func (c *Client) Database() *db.DB                 { return c.db }
func (c *Client) Directory() *federation.Directory { return c.directory }
func (c *Client) Inbox() *federation.Inbox         { return c.inbox }
func (c *Client) Outbox() *federation.Outbox       { return c.outbox }
func (c *Client) Shares() *share.Service           { return c.shares }
func (c *Client) Downloads() *share.Downloads      { return c.downloads }
func (c *Client) Jobs() *compute.Jobs              { return c.jobs }
func (c *Client) Router() *router.Router           { return c.router }
func (c *Client) Poller() *chain.Poller            { return c.poller }
func (c *Client) Sweeps() []*cron.SweepJob         { return c.sweeps }
func (c *Client) Metrics() *metrics.Metrics        { return c.metrics }
func (c *Client) ContentStore() contentstore.Store { return c.content }
