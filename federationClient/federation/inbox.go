package federation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/metrics"
	"github.com/centauron/federation-node/federationClient/store"
)

// PrincipalNotFoundMessage is the body returned to peers addressing unknown principals.
const PrincipalNotFoundMessage = "User recipient or sender not found."

// ErrPrincipalNotFound is returned by Receive when sender or recipient is unknown.
var ErrPrincipalNotFound = errors.New("user recipient or sender not found")

// Inbox persists inbound envelopes and processes them asynchronously.
type Inbox struct {
	database   *db.DB
	dispatcher *Dispatcher
	queue      *Queue
	retry      *fedErrors.RetryConfig
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewInbox(
	database *db.DB,
	dispatcher *Dispatcher,
	queue *Queue,
	retry *fedErrors.RetryConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Inbox {
	if retry == nil {
		retry = fedErrors.DefaultRetryConfig()
	}
	return &Inbox{
		database:   database,
		dispatcher: dispatcher,
		queue:      queue,
		retry:      retry,
		metrics:    m,
		logger:     logger.With().Str("component", "inbox").Logger(),
	}
}

// Receive resolves sender and recipient on their declared nodes and stores
// the envelope. Processing is scheduled only once the row is committed.
// Unresolvable principals yield ErrPrincipalNotFound and no row.
func (i *Inbox) Receive(ctx context.Context, raw []byte, businessKey string) (*store.InboxMessage, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if env.Object == nil || env.Object.Sender == "" {
		return nil, fedErrors.NewMalformedPayloadError("inbox", "envelope has no sender", nil)
	}
	i.logger.Info().Str("sender", env.Object.Sender).Interface("recipient", env.Object.Recipient).Msg("receiving message")

	msg := &store.InboxMessage{BusinessKey: businessKey}
	msg.Payload = datatypes.JSON(raw)

	err = i.database.Transaction(ctx, func(tx *gorm.DB) error {
		if env.Object.Recipient != nil {
			if env.To == nil {
				return ErrPrincipalNotFound
			}
			recipient, err := ProfileOnNode(tx, *env.Object.Recipient, *env.To)
			if err != nil {
				return err
			}
			msg.RecipientID = &recipient.ID
		}
		sender, err := ProfileOnNode(tx, env.Object.Sender, env.From)
		if err != nil {
			return err
		}
		msg.SenderID = sender.ID
		return tx.Create(msg).Error
	})
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) || fedErrors.HasCode(err, fedErrors.ErrCodeUnresolvedReference) {
			i.logger.Error().Err(err).Msg("user recipient or sender does not exist on this server")
			return nil, fmt.Errorf("%w: %v", ErrPrincipalNotFound, err)
		}
		return nil, fedErrors.NewDatabaseError("inbox", "failed to persist inbox message", err)
	}

	i.metrics.Received()
	i.Enqueue(msg.ID)
	return msg, nil
}

// Enqueue schedules processing. A full or stopped queue leaves the row for the sweep.
func (i *Inbox) Enqueue(id uint) {
	err := i.queue.Submit(fmt.Sprintf("inbox:%d", id), func(ctx context.Context) error {
		return i.Process(ctx, id)
	})
	if err != nil {
		i.logger.Warn().Err(err).Uint("message_id", id).Msg("could not enqueue processing, leaving it for the sweep")
	}
}

// Get loads one inbox message.
func (i *Inbox) Get(ctx context.Context, id uint) (*store.InboxMessage, error) {
	var msg store.InboxMessage
	if err := i.database.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// Process runs the handler of a stored message. Retryable handler failures
// are retried inline with backoff; a final failure leaves the message
// unprocessed for the sweep or a manual replay.
func (i *Inbox) Process(ctx context.Context, id uint) error {
	msg, err := i.Get(ctx, id)
	if err != nil {
		return fedErrors.NewDatabaseError("inbox", fmt.Sprintf("failed to load inbox message %d", id), err)
	}
	if msg.Processed {
		return nil
	}

	env, err := DecodeEnvelope(msg.Payload)
	if err != nil {
		i.fail(ctx, msg, err)
		return err
	}
	handler := i.dispatcher.Lookup(env)
	if handler == nil {
		err := fedErrors.NewHandlerError("inbox", "no handler for "+env.DispatchKey(), nil)
		i.fail(ctx, msg, err)
		return err
	}

	msg.Processing = true
	msg.Tries++
	if err := i.database.WithContext(ctx).Model(msg).Select("processing", "tries").Updates(msg).Error; err != nil {
		return fedErrors.NewDatabaseError("inbox", "failed to mark message processing", err)
	}

	i.logger.Info().Uint("message_id", msg.ID).Str("type", env.DispatchKey()).Msg("processing inbox message")
	err = fedErrors.RetryWithConfig(ctx, func() error {
		return handler.Handle(ctx, msg, env)
	}, i.retry)
	if err != nil {
		i.fail(ctx, msg, err)
		return fedErrors.WrapExchangeError(err, fedErrors.ErrCodeHandler, "inbox", "handler failed")
	}

	msg.Processing = false
	msg.Processed = true
	msg.Error = ""
	if err := i.save(ctx, msg); err != nil {
		return err
	}
	i.metrics.Processed(env.DispatchKey())
	return nil
}

func (i *Inbox) fail(ctx context.Context, msg *store.InboxMessage, cause error) {
	msg.Processing = false
	msg.Processed = false
	msg.Error = cause.Error()
	if err := i.save(ctx, msg); err != nil {
		i.logger.Error().Err(err).Uint("message_id", msg.ID).Msg("failed to record processing failure")
	}
	i.metrics.ProcessingFailed()
	severityEvent(i.logger, cause).Uint("message_id", msg.ID).Msg("inbox message processing failed")
}

// severityEvent logs critical and high severity failures as errors and the
// rest as warnings.
func severityEvent(logger zerolog.Logger, err error) *zerolog.Event {
	sev := fedErrors.GetSeverity(err)
	ev := logger.Warn()
	if sev == fedErrors.SeverityCritical || sev == fedErrors.SeverityHigh {
		ev = logger.Error()
	}
	return ev.Err(err).Str("severity", string(sev))
}

func (i *Inbox) save(ctx context.Context, msg *store.InboxMessage) error {
	err := i.database.WithContext(ctx).Model(msg).
		Select("processing", "processed", "error").
		Updates(msg).Error
	if err != nil {
		return fedErrors.NewDatabaseError("inbox", "failed to save processing state", err)
	}
	return nil
}

// ProcessInboxMessages re-enqueues every unprocessed message that is not
// currently being processed.
func (i *Inbox) ProcessInboxMessages(ctx context.Context) (int, error) {
	var ids []uint
	if err := i.database.WithContext(ctx).Model(&store.InboxMessage{}).
		Where("processed = ? AND processing = ?", false, false).
		Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return 0, fedErrors.NewDatabaseError("inbox", "failed to list unprocessed messages", err)
	}
	for _, id := range ids {
		i.Enqueue(id)
	}
	return len(ids), nil
}

// ResetStale clears processing flags left behind by an interrupted process.
func (i *Inbox) ResetStale(ctx context.Context) error {
	err := i.database.WithContext(ctx).Model(&store.InboxMessage{}).
		Where("processed = ? AND processing = ?", false, true).
		Update("processing", false).Error
	if err != nil {
		return fedErrors.NewDatabaseError("inbox", "failed to reset stale messages", err)
	}
	return nil
}

// Replay clears the processed flag and processes the message inline.
func (i *Inbox) Replay(ctx context.Context, id uint) error {
	if err := i.database.WithContext(ctx).Model(&store.InboxMessage{}).Where("id = ?", id).
		Updates(map[string]any{"processed": false, "processing": false}).Error; err != nil {
		return fedErrors.NewDatabaseError("inbox", "failed to reset message", err)
	}
	return i.Process(ctx, id)
}
