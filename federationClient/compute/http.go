package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	fedErrors "github.com/centauron/federation-node/federationClient/errors"
)

const BackendHTTP = "http"

// HTTPBackend submits executions to a job service:
//
//	POST <base>/prepare  {"execution": "<identifier>"}
//	POST <base>/execute  {"execution": "<identifier>"}
//
// Any 2xx answer is an accepted submission.
type HTTPBackend struct {
	base   string
	client *http.Client
	logger zerolog.Logger
}

func NewHTTPBackend(baseURL string, timeout time.Duration, logger zerolog.Logger) (*HTTPBackend, error) {
	if baseURL == "" {
		return nil, fedErrors.NewConfigError("compute", "compute_backend_url is required for the http backend")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fedErrors.NewConfigError("compute", "invalid compute_backend_url: "+err.Error())
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "compute_http").Logger(),
	}, nil
}

func (b *HTTPBackend) Name() string { return BackendHTTP }

func (b *HTTPBackend) Prepare(ctx context.Context, executionID string) error {
	return b.submit(ctx, "prepare", executionID)
}

func (b *HTTPBackend) Execute(ctx context.Context, executionID string) error {
	return b.submit(ctx, "execute", executionID)
}

func (b *HTTPBackend) submit(ctx context.Context, action, executionID string) error {
	body, err := json.Marshal(map[string]string{"execution": executionID})
	if err != nil {
		return fedErrors.NewInternalError("compute", "failed to encode request", err)
	}

	target := b.base + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fedErrors.NewValidationError("compute", "invalid backend address: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fedErrors.NewNetworkError("compute", "request to "+target+" failed", err)
	}
	defer resp.Body.Close()
	answer, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("%s of %s yields status code %d: %s", action, executionID, resp.StatusCode, strings.TrimSpace(string(answer)))
		if resp.StatusCode >= 500 {
			return fedErrors.NewNetworkError("compute", msg, nil)
		}
		return fedErrors.NewHandlerError("compute", msg, nil)
	}

	b.logger.Info().Str("execution", executionID).Str("action", action).Msg("submitted to compute backend")
	return nil
}
