package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	fedErrors "github.com/centauron/federation-node/federationClient/errors"
)

const component = "contentstore"

// IPFSStore talks to the HTTP RPC API of an IPFS daemon.
type IPFSStore struct {
	apiURL   string
	maxFetch int64
	client   *http.Client
	logger   zerolog.Logger
}

const (
	defaultMaxFetchBytes = 64 << 20
	maxErrorBody         = 4 << 10
)

// NewIPFSStore creates a client for the daemon at apiURL (e.g. http://127.0.0.1:5001/).
// Fetch refuses objects larger than maxFetch bytes.
func NewIPFSStore(apiURL string, timeout time.Duration, maxFetch int64, logger zerolog.Logger) (*IPFSStore, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("ipfs api url is required")
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid ipfs api url: %w", err)
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxFetch <= 0 {
		maxFetch = defaultMaxFetchBytes
	}
	return &IPFSStore{
		apiURL:   apiURL,
		maxFetch: maxFetch,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "ipfs_store").Logger(),
	}, nil
}

// Fetch downloads the object via api/v0/cat.
func (s *IPFSStore) Fetch(ctx context.Context, cid string) ([]byte, error) {
	endpoint := s.apiURL + "api/v0/cat?arg=" + url.QueryEscape(cid)
	s.logger.Debug().Str("cid", cid).Msg("downloading content")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build cat request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fedErrors.NewNetworkError(component, "ipfs cat failed", err).WithContext("cid", cid)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxFetch+1))
	if err != nil {
		return nil, fedErrors.NewNetworkError(component, "failed to read ipfs response", err)
	}
	if int64(len(body)) > s.maxFetch {
		return nil, fedErrors.NewValidationError(component,
			fmt.Sprintf("ipfs object exceeds %d bytes", s.maxFetch)).WithContext("cid", cid)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fedErrors.NewNetworkError(component,
			fmt.Sprintf("ipfs cat returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil).
			WithContext("cid", cid)
	}
	return body, nil
}

// Add uploads data via api/v0/add and returns the reported Hash.
func (s *IPFSStore) Add(ctx context.Context, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", uuid.NewString()+".json")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"api/v0/add", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to build add request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fedErrors.NewNetworkError(component, "ipfs add failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fedErrors.NewNetworkError(component,
			fmt.Sprintf("ipfs add returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var out struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fedErrors.NewMalformedPayloadError(component, "invalid ipfs add response", err)
	}
	if out.Hash == "" {
		return "", fedErrors.NewMalformedPayloadError(component, "ipfs add response has no Hash", nil)
	}
	return out.Hash, nil
}
