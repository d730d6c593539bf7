// Package metrics exposes Prometheus instruments for the exchange layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every instrument of the daemon. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Broadcast log
	BlocksPolled         prometheus.Counter
	BroadcastsIngested   prometheus.Counter
	BroadcastDownloadErr prometheus.Counter
	CursorHeight         prometheus.Gauge

	// Outbox/inbox
	OutboxDelivered *prometheus.CounterVec
	OutboxFailed    prometheus.Counter
	InboxReceived   prometheus.Counter
	InboxProcessed  *prometheus.CounterVec
	InboxFailed     prometheus.Counter

	// Shares
	ShareImportDuration prometheus.Histogram
	ShareImportFailed   prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates and registers the instruments. With a nil registry a private one is used.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	f := promauto.With(registry)

	return &Metrics{
		BlocksPolled: f.NewCounter(prometheus.CounterOpts{
			Name: "cfed_blocks_polled_total",
			Help: "Chain blocks scanned by the broadcast poller",
		}),
		BroadcastsIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "cfed_broadcasts_ingested_total",
			Help: "Broadcast transactions persisted as new blocks",
		}),
		BroadcastDownloadErr: f.NewCounter(prometheus.CounterOpts{
			Name: "cfed_broadcast_download_errors_total",
			Help: "Content downloads that failed and await the startup sweep",
		}),
		CursorHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "cfed_chain_cursor_height",
			Help: "Highest fully processed chain height",
		}),
		OutboxDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cfed_outbox_delivered_total",
			Help: "Outbox messages delivered, by backend",
		}, []string{"backend"}),
		OutboxFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "cfed_outbox_failed_total",
			Help: "Outbox delivery attempts that failed",
		}),
		InboxReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "cfed_inbox_received_total",
			Help: "Envelopes accepted by the inbox endpoint",
		}),
		InboxProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cfed_inbox_processed_total",
			Help: "Inbox messages processed, by content type",
		}, []string{"type"}),
		InboxFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "cfed_inbox_failed_total",
			Help: "Inbox handler failures",
		}),
		ShareImportDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cfed_share_import_seconds",
			Help:    "Duration of share imports",
			Buckets: prometheus.DefBuckets,
		}),
		ShareImportFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "cfed_share_import_failed_total",
			Help: "Share imports rolled back",
		}),
		gatherer: registry,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) BlockPolled() {
	if m != nil {
		m.BlocksPolled.Inc()
	}
}

func (m *Metrics) BroadcastIngested() {
	if m != nil {
		m.BroadcastsIngested.Inc()
	}
}

func (m *Metrics) DownloadFailed() {
	if m != nil {
		m.BroadcastDownloadErr.Inc()
	}
}

func (m *Metrics) SetCursor(height uint64) {
	if m != nil {
		m.CursorHeight.Set(float64(height))
	}
}

func (m *Metrics) Delivered(backend string) {
	if m != nil {
		m.OutboxDelivered.WithLabelValues(backend).Inc()
	}
}

func (m *Metrics) DeliveryFailed() {
	if m != nil {
		m.OutboxFailed.Inc()
	}
}

func (m *Metrics) Received() {
	if m != nil {
		m.InboxReceived.Inc()
	}
}

func (m *Metrics) Processed(contentType string) {
	if m != nil {
		m.InboxProcessed.WithLabelValues(contentType).Inc()
	}
}

func (m *Metrics) ProcessingFailed() {
	if m != nil {
		m.InboxFailed.Inc()
	}
}

// ObserveImport records one share import that started at start.
func (m *Metrics) ObserveImport(start time.Time, err error) {
	if m == nil {
		return
	}
	m.ShareImportDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.ShareImportFailed.Inc()
	}
}
