package config

import (
	"path/filepath"
	"time"

	"github.com/centauron/federation-node/federationClient/constant"
)

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	NodeHome       string `json:"node_home"`        // Node home directory (default: ~/.cfederation)
	NodeIdentifier string `json:"node_identifier"`  // Global identifier of this node, e.g. "org.example"
	NodeAPIAddress string `json:"node_api_address"` // Inbox URL peers deliver to
	ServiceProfile string `json:"service_profile"`  // Identifier of the node service account profile

	// Query Server Config
	QueryServerPort int `json:"query_server_port"` // Port for HTTP inbox/query server (default: 8080)

	Chain        ChainConfig        `json:"chain"`
	ContentStore ContentStoreConfig `json:"content_store"`
	Bus          BusConfig          `json:"bus"`
	Share        ShareConfig        `json:"share"`

	// ComputeBackend names the registered compute backend ("noop" or "http")
	ComputeBackend    string `json:"compute_backend"`
	ComputeBackendURL string `json:"compute_backend_url,omitempty"`

	// Applications maps an application (or content type) name to the URL inbox
	// messages without a built-in handler are forwarded to.
	Applications map[string]string `json:"applications,omitempty"`
}

// ChainConfig configures the broadcast ledger
type ChainConfig struct {
	Adapter                string   `json:"adapter"`                   // registered broadcast adapter (default: "ethereum")
	RPCURLs                []string `json:"rpc_urls"`                  // JSON-RPC endpoints, tried round-robin
	ChainID                int64    `json:"chain_id"`                  // EIP-155 chain id
	PrivateKeyHex          string   `json:"private_key_hex,omitempty"` // signing key for outbound broadcasts
	PollingIntervalSeconds int      `json:"polling_interval_seconds"`  // sleep between poll passes (default: 5)
	StartHeight            int64    `json:"start_height"`              // cursor used when none is stored; -1 = latest
	RequestTimeoutSeconds  int      `json:"request_timeout_seconds"`   // per RPC call (default: 10)
}

// ContentStoreConfig configures where broadcast payloads are stored
type ContentStoreConfig struct {
	Backend       string `json:"backend"`         // "ipfs" or "local"
	IPFSAPI       string `json:"ipfs_api"`        // e.g. http://127.0.0.1:5001/
	MaxFetchBytes int64  `json:"max_fetch_bytes"` // largest payload read from the store (default: 64 MiB)
}

// BusConfig tunes outbox delivery and inbox processing
type BusConfig struct {
	Workers                    int   `json:"workers"`                       // async task queue workers (default: 4)
	QueueSize                  int   `json:"queue_size"`                    // pending task buffer (default: 1024)
	OutboxSweepIntervalSeconds int   `json:"outbox_sweep_interval_seconds"` // default: 60
	InboxSweepIntervalSeconds  int   `json:"inbox_sweep_interval_seconds"`  // default: 60
	HTTPTimeoutSeconds         int   `json:"http_timeout_seconds"`          // default: 30
	DeliveryMaxAttempts        int   `json:"delivery_max_attempts"`         // default: 5
	DeliveryMaxBackoffSeconds  int   `json:"delivery_max_backoff_seconds"`  // default: 60
	InboxMaxAttempts           int   `json:"inbox_max_attempts"`            // inline retries of retryable handler failures (default: 3)
	InboxMaxBackoffSeconds     int   `json:"inbox_max_backoff_seconds"`     // default: 30
	MaxResponseBytes           int64 `json:"max_response_bytes"`            // largest peer inbox answer read (default: 1 MiB)
}

// ShareConfig tunes share creation
type ShareConfig struct {
	TaskTimeoutHours  int `json:"task_timeout_hours"`  // ceiling for one share creation task (default: 24)
	TokenValidityDays int `json:"token_validity_days"` // default ShareToken lifetime (default: 30)
	// DownloadTokenTTLMinutes bounds single-use download tokens (default: 15)
	DownloadTokenTTLMinutes int `json:"download_token_ttl_minutes"`
}

// PollingInterval returns the chain polling interval
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Chain.PollingIntervalSeconds) * time.Second
}

// HTTPTimeout returns the delivery timeout for one HTTP attempt
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Bus.HTTPTimeoutSeconds) * time.Second
}

// ShareTaskTimeout returns the ceiling for a share creation task
func (c *Config) ShareTaskTimeout() time.Duration {
	return time.Duration(c.Share.TaskTimeoutHours) * time.Hour
}

// TokenValidity returns the default ShareToken lifetime
func (c *Config) TokenValidity() time.Duration {
	return time.Duration(c.Share.TokenValidityDays) * 24 * time.Hour
}

// DownloadTokenTTL returns the lifetime of a download token
func (c *Config) DownloadTokenTTL() time.Duration {
	return time.Duration(c.Share.DownloadTokenTTLMinutes) * time.Minute
}

// Home returns the node home directory, falling back to ~/.cfederation
func (c *Config) Home() string {
	if c.NodeHome == "" {
		return constant.DefaultNodeHome
	}
	return c.NodeHome
}

// DataDir returns <home>/data
func (c *Config) DataDir() string {
	return filepath.Join(c.Home(), constant.DataSubdir)
}

// SharesDir returns the directory imported submission data files are written to
func (c *Config) SharesDir() string {
	return filepath.Join(c.DataDir(), constant.SharesSubdir)
}
