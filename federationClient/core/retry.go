package core

import (
	"time"

	"github.com/centauron/federation-node/federationClient/config"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
)

// DeliveryRetryConfig derives the HTTP delivery backoff from the bus settings.
func DeliveryRetryConfig(cfg *config.Config) *fedErrors.RetryConfig {
	rc := fedErrors.DeliveryRetryConfig()
	if cfg.Bus.DeliveryMaxAttempts > 0 {
		rc.MaxAttempts = cfg.Bus.DeliveryMaxAttempts
	}
	if cfg.Bus.DeliveryMaxBackoffSeconds > 0 {
		rc.MaxDelay = time.Duration(cfg.Bus.DeliveryMaxBackoffSeconds) * time.Second
	}
	return rc
}

// InboxRetryConfig derives the inline retry of retryable handler failures.
func InboxRetryConfig(cfg *config.Config) *fedErrors.RetryConfig {
	rc := fedErrors.DefaultRetryConfig()
	if cfg.Bus.InboxMaxAttempts > 0 {
		rc.MaxAttempts = cfg.Bus.InboxMaxAttempts
	}
	if cfg.Bus.InboxMaxBackoffSeconds > 0 {
		rc.MaxDelay = time.Duration(cfg.Bus.InboxMaxBackoffSeconds) * time.Second
	}
	return rc
}
