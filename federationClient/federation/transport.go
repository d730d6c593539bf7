package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/store"
)

// Backend names.
const (
	BackendHTTP      = "http"
	BackendLocal     = "local"
	BackendBroadcast = "broadcast"
)

// BusinessKeyHeader carries the external correlation key.
const BusinessKeyHeader = "X-Business-Key"

// Delivery is one outbox message ready to be handed to a backend.
type Delivery struct {
	Message     *store.OutboxMessage
	Payload     []byte
	Recipient   *store.Node // nil for broadcasts
	BusinessKey string
}

// DeliveryResult is what the remote side answered.
type DeliveryResult struct {
	StatusCode int
	Body       string
	Location   string
}

// Transport delivers an outbox message.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, d *Delivery) (*DeliveryResult, error)
}

const defaultMaxResponseBytes = 1 << 20

// HTTPTransport POSTs envelopes to the inbox of the recipient node. Answers
// longer than maxResponse bytes are truncated.
type HTTPTransport struct {
	client      *http.Client
	maxResponse int64
	retry       *fedErrors.RetryConfig
	logger      zerolog.Logger
}

func NewHTTPTransport(timeout time.Duration, maxResponse int64, retry *fedErrors.RetryConfig, logger zerolog.Logger) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retry == nil {
		retry = fedErrors.DeliveryRetryConfig()
	}
	if maxResponse <= 0 {
		maxResponse = defaultMaxResponseBytes
	}
	return &HTTPTransport{
		client:      &http.Client{Timeout: timeout},
		maxResponse: maxResponse,
		retry:       retry,
		logger:      logger.With().Str("component", "http_transport").Logger(),
	}
}

func (t *HTTPTransport) Name() string { return BackendHTTP }

func (t *HTTPTransport) Deliver(ctx context.Context, d *Delivery) (*DeliveryResult, error) {
	if d.Recipient == nil || d.Recipient.APIAddress == "" {
		return nil, fedErrors.NewValidationError("outbox", "recipient node has no api address")
	}

	var result *DeliveryResult
	err := fedErrors.RetryWithConfig(ctx, func() error {
		var err error
		result, err = t.post(ctx, d)
		return err
	}, t.retry)
	return result, err
}

func (t *HTTPTransport) post(ctx context.Context, d *Delivery) (*DeliveryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Recipient.APIAddress, bytes.NewReader(d.Payload))
	if err != nil {
		return nil, fedErrors.NewValidationError("outbox", "invalid inbox address: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if d.BusinessKey != "" {
		req.Header.Set(BusinessKeyHeader, d.BusinessKey)
	}

	t.logger.Info().Uint("message_id", d.Message.ID).Str("address", d.Recipient.APIAddress).Msg("sending message")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fedErrors.NewNetworkError("outbox", "request to "+d.Recipient.APIAddress+" failed", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, t.maxResponse))

	result := &DeliveryResult{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Location:   resp.Header.Get("Location"),
	}
	if resp.StatusCode == http.StatusCreated {
		return result, nil
	}

	msg := fmt.Sprintf("request to %s yields status code %d", d.Recipient.APIAddress, resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests {
		return result, fedErrors.NewNetworkError("outbox", msg, nil).WithSeverity(fedErrors.SeverityLow)
	}
	if resp.StatusCode >= 500 {
		return result, fedErrors.NewNetworkError("outbox", msg, nil)
	}
	return result, fedErrors.NewHandlerError("outbox", msg, nil)
}

// InboxReceiver accepts an envelope as if it arrived at the inbox endpoint.
type InboxReceiver interface {
	Receive(ctx context.Context, raw []byte, businessKey string) (*store.InboxMessage, error)
}

// LocalTransport hands messages between profiles of this node to its own inbox.
type LocalTransport struct {
	inbox InboxReceiver
}

func NewLocalTransport(inbox InboxReceiver) *LocalTransport {
	return &LocalTransport{inbox: inbox}
}

func (t *LocalTransport) Name() string { return BackendLocal }

func (t *LocalTransport) Deliver(ctx context.Context, d *Delivery) (*DeliveryResult, error) {
	msg, err := t.inbox.Receive(ctx, d.Payload, d.BusinessKey)
	if err != nil {
		return &DeliveryResult{StatusCode: http.StatusNotFound, Body: err.Error()}, err
	}
	body, _ := json.Marshal(map[string]uint{"id": msg.ID})
	return &DeliveryResult{
		StatusCode: http.StatusCreated,
		Body:       string(body),
		Location:   MessageLocation(msg.ID),
	}, nil
}

// PointerSender anchors a JSON document on the broadcast ledger.
type PointerSender interface {
	SendPointer(ctx context.Context, v any) (cid string, txHash string, err error)
}

// BroadcastTransport publishes messages without a recipient via the ledger.
type BroadcastTransport struct {
	sender PointerSender
}

func NewBroadcastTransport(sender PointerSender) *BroadcastTransport {
	return &BroadcastTransport{sender: sender}
}

func (t *BroadcastTransport) Name() string { return BackendBroadcast }

func (t *BroadcastTransport) Deliver(ctx context.Context, d *Delivery) (*DeliveryResult, error) {
	if t.sender == nil {
		return nil, fedErrors.NewConfigError("outbox", "no broadcast sender configured")
	}
	cid, hash, err := t.sender.SendPointer(ctx, json.RawMessage(d.Payload))
	if err != nil {
		return nil, err
	}
	body, _ := json.Marshal(map[string]string{"cid": cid, "tx_hash": hash})
	return &DeliveryResult{Body: string(body), Location: cid}, nil
}

// MessageLocation is the path of a stored inbox message.
func MessageLocation(id uint) string {
	return fmt.Sprintf("/message/%d", id)
}
