package federation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/metrics"
	"github.com/centauron/federation-node/federationClient/store"
)

// Outbox creates and delivers messages to peers.
type Outbox struct {
	database   *db.DB
	directory  *Directory
	queue      *Queue
	transports map[string]Transport
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewOutbox(database *db.DB, directory *Directory, queue *Queue, m *metrics.Metrics, logger zerolog.Logger) *Outbox {
	return &Outbox{
		database:   database,
		directory:  directory,
		queue:      queue,
		transports: map[string]Transport{},
		metrics:    m,
		logger:     logger.With().Str("component", "outbox").Logger(),
	}
}

// RegisterTransport installs the backend serving t.Name().
func (o *Outbox) RegisterTransport(t Transport) {
	o.transports[t.Name()] = t
}

// CreateOptions are optional attributes of a new outbox message.
type CreateOptions struct {
	BusinessKey string
	ExtraData   map[string]any
}

// Create stamps sender and recipient into obj, wraps it in an envelope and
// persists it. A nil recipient creates a broadcast.
func (o *Outbox) Create(
	ctx context.Context,
	sender *store.Profile,
	recipient *store.Profile,
	envType EnvelopeType,
	obj Object,
	opts *CreateOptions,
) (*store.OutboxMessage, error) {
	if sender == nil {
		return nil, fedErrors.NewValidationError("outbox", "sender is required")
	}
	if !envType.Valid() {
		return nil, fedErrors.NewValidationError("outbox", fmt.Sprintf("unknown envelope type %q", envType))
	}

	senderNode, err := o.directory.NodeOf(ctx, sender)
	if err != nil {
		return nil, err
	}

	obj.Sender = sender.Identifier
	env := &Envelope{Type: envType, From: senderNode.Identifier, Object: &obj}

	msg := &store.OutboxMessage{}
	msg.SenderID = sender.ID
	if recipient != nil {
		recipientNode, err := o.directory.NodeOf(ctx, recipient)
		if err != nil {
			return nil, err
		}
		obj.Recipient = strPtr(recipient.Identifier)
		env.To = strPtr(recipientNode.Identifier)
		msg.RecipientID = &recipient.ID
	} else {
		obj.Recipient = nil
	}

	payload, err := env.Encode()
	if err != nil {
		return nil, fedErrors.NewInternalError("outbox", "failed to encode envelope", err)
	}
	msg.Payload = datatypes.JSON(payload)

	extra := map[string]any{}
	if opts != nil {
		for k, v := range opts.ExtraData {
			extra[k] = v
		}
		if opts.BusinessKey != "" {
			extra["business_key"] = opts.BusinessKey
		}
	}
	if len(extra) > 0 {
		raw, err := json.Marshal(extra)
		if err != nil {
			return nil, fedErrors.NewValidationError("outbox", "extra data is not serialisable: "+err.Error())
		}
		msg.ExtraData = datatypes.JSON(raw)
	}

	if err := o.database.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fedErrors.NewDatabaseError("outbox", "failed to persist outbox message", err)
	}
	return msg, nil
}

// Send delivers msg in the background (async) or inline. Processed messages
// are skipped.
func (o *Outbox) Send(ctx context.Context, msg *store.OutboxMessage, async bool) error {
	if msg.Processed {
		return nil
	}
	if async {
		o.Enqueue(msg.ID)
		return nil
	}
	return o.Deliver(ctx, msg.ID)
}

// Enqueue schedules delivery of the message with the given id. A full or
// stopped queue leaves the row for the outbox sweep.
func (o *Outbox) Enqueue(id uint) {
	err := o.queue.Submit(fmt.Sprintf("outbox:%d", id), func(ctx context.Context) error {
		return o.Deliver(ctx, id)
	})
	if err != nil {
		o.logger.Warn().Err(err).Uint("message_id", id).Msg("could not enqueue delivery, leaving it for the sweep")
	}
}

// Deliver sends the stored message through the matching backend and records
// the outcome on the row.
func (o *Outbox) Deliver(ctx context.Context, id uint) error {
	var msg store.OutboxMessage
	if err := o.database.WithContext(ctx).First(&msg, id).Error; err != nil {
		return fedErrors.NewDatabaseError("outbox", fmt.Sprintf("failed to load outbox message %d", id), err)
	}
	if msg.Processed {
		return nil
	}

	delivery, transport, err := o.prepare(ctx, &msg)
	if err != nil {
		o.recordFailure(ctx, &msg, nil, err)
		return err
	}

	msg.Processing = true
	msg.Tries++
	if err := o.database.WithContext(ctx).Model(&msg).Select("processing", "tries").Updates(&msg).Error; err != nil {
		return fedErrors.NewDatabaseError("outbox", "failed to mark message processing", err)
	}

	result, err := transport.Deliver(ctx, delivery)
	if err != nil {
		o.recordFailure(ctx, &msg, result, err)
		return err
	}

	msg.Processing = false
	msg.Processed = true
	msg.Error = ""
	applyResult(&msg, result)
	if err := o.save(ctx, &msg); err != nil {
		return err
	}
	o.metrics.Delivered(transport.Name())
	o.logger.Info().Uint("message_id", msg.ID).Str("backend", transport.Name()).Int("status_code", msg.StatusCode).Msg("message delivered")
	return nil
}

func (o *Outbox) prepare(ctx context.Context, msg *store.OutboxMessage) (*Delivery, Transport, error) {
	d := &Delivery{Message: msg, Payload: msg.Payload}
	if len(msg.ExtraData) > 0 {
		var extra struct {
			BusinessKey string `json:"business_key"`
		}
		if err := json.Unmarshal(msg.ExtraData, &extra); err == nil {
			d.BusinessKey = extra.BusinessKey
		}
	}

	name := BackendBroadcast
	if msg.RecipientID != nil {
		sender, err := o.directory.ProfileByID(ctx, msg.SenderID)
		if err != nil {
			return nil, nil, err
		}
		recipient, err := o.directory.ProfileByID(ctx, *msg.RecipientID)
		if err != nil {
			return nil, nil, err
		}
		node, err := o.directory.NodeOf(ctx, recipient)
		if err != nil {
			return nil, nil, err
		}
		d.Recipient = node
		if sender.NodeID != nil && *sender.NodeID == node.ID {
			name = BackendLocal
		} else {
			name = BackendHTTP
		}
	}

	t, ok := o.transports[name]
	if !ok {
		return nil, nil, fedErrors.NewConfigError("outbox", fmt.Sprintf("no %s backend registered", name))
	}
	return d, t, nil
}

func (o *Outbox) recordFailure(ctx context.Context, msg *store.OutboxMessage, result *DeliveryResult, cause error) {
	msg.Processing = false
	msg.Processed = false
	msg.Error = cause.Error()
	applyResult(msg, result)
	if err := o.save(ctx, msg); err != nil {
		o.logger.Error().Err(err).Uint("message_id", msg.ID).Msg("failed to record delivery failure")
	}
	o.metrics.DeliveryFailed()
	severityEvent(o.logger, cause).Uint("message_id", msg.ID).Int("status_code", msg.StatusCode).Msg("delivery failed")
}

func applyResult(msg *store.OutboxMessage, result *DeliveryResult) {
	if result == nil {
		return
	}
	msg.StatusCode = result.StatusCode
	msg.ResponseBody = result.Body
	if result.Location != "" {
		msg.RemoteLocation = result.Location
	}
}

func (o *Outbox) save(ctx context.Context, msg *store.OutboxMessage) error {
	err := o.database.WithContext(ctx).Model(msg).
		Select("processing", "processed", "status_code", "response_body", "error", "remote_location").
		Updates(msg).Error
	if err != nil {
		return fedErrors.NewDatabaseError("outbox", "failed to save delivery state", err)
	}
	return nil
}

// ProcessOutboxMessages re-enqueues every unprocessed outbox message.
func (o *Outbox) ProcessOutboxMessages(ctx context.Context) (int, error) {
	var ids []uint
	if err := o.database.WithContext(ctx).Model(&store.OutboxMessage{}).
		Where("processed = ?", false).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return 0, fedErrors.NewDatabaseError("outbox", "failed to list unprocessed messages", err)
	}
	for _, id := range ids {
		o.Enqueue(id)
	}
	return len(ids), nil
}

// Replay clears the processed flag and delivers the message inline.
func (o *Outbox) Replay(ctx context.Context, id uint) error {
	if err := o.database.WithContext(ctx).Model(&store.OutboxMessage{}).Where("id = ?", id).
		Update("processed", false).Error; err != nil {
		return fedErrors.NewDatabaseError("outbox", "failed to reset message", err)
	}
	return o.Deliver(ctx, id)
}
