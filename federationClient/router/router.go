// Package router classifies downloaded broadcast content and hands it to the
// event log, the federation directory or the inbox.
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/centauron/federation-node/federationClient/contentstore"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/eventlog"
	"github.com/centauron/federation-node/federationClient/federation"
	"github.com/centauron/federation-node/federationClient/store"
)

// privileged content types are deliverable without an allow-list entry.
var privileged = map[federation.ContentType]bool{
	federation.ContentProjectInvitation: true,
}

// Router dispatches broadcast blocks and data-transfer envelopes.
type Router struct {
	node      string
	directory *federation.Directory
	inbox     federation.InboxReceiver
	writer    *eventlog.Writer
	logger    zerolog.Logger
}

func New(
	nodeIdentifier string,
	directory *federation.Directory,
	inbox federation.InboxReceiver,
	writer *eventlog.Writer,
	logger zerolog.Logger,
) *Router {
	return &Router{
		node:      nodeIdentifier,
		directory: directory,
		inbox:     inbox,
		writer:    writer,
		logger:    logger.With().Str("component", "router").Logger(),
	}
}

// OnBlock implements chain.BlockHandler.
func (r *Router) OnBlock(ctx context.Context, block *store.Block) error {
	content := []byte(block.Content)
	if len(content) == 0 || string(content) == "null" {
		return nil
	}
	src := eventlog.Source{
		EventID:     block.EventID(),
		BlockNumber: block.Number,
		EventDate:   block.CreatedAt,
		RawEvent:    json.RawMessage(block.Tx),
	}

	if block.IsDataTransfer() || federation.LooksLikeEnvelope(content) {
		return r.OnMessage(ctx, content, src)
	}

	var payload contentstore.Payload
	if err := json.Unmarshal(content, &payload); err != nil {
		return fedErrors.NewMalformedPayloadError("router", "broadcast content is not a payload", err).
			WithContext("message_hash", block.MessageHash)
	}
	_, err := r.ProcessMessage(ctx, payload.Data, src)
	return err
}

// OnMessage routes one envelope observed on the ledger.
func (r *Router) OnMessage(ctx context.Context, raw []byte, src eventlog.Source) error {
	env, err := federation.DecodeEnvelope(raw)
	if err != nil {
		return err
	}
	log := r.logger.With().Str("event_id", src.EventID).Str("from", env.From).Logger()

	if env.From == r.node && env.IsBroadcast() {
		log.Debug().Msg("dropping own broadcast")
		return nil
	}
	if !env.IsBroadcast() && *env.To != r.node {
		log.Debug().Str("to", *env.To).Msg("envelope addressed to another node")
		return nil
	}

	allowed, err := r.IsAllowed(ctx, env)
	if err != nil {
		return err
	}
	if !allowed {
		log.Warn().Str("type", env.DispatchKey()).Msg("sender is not allowed to message recipient, dropping")
		return nil
	}

	if env.IsBroadcast() && env.Type == federation.EnvelopeCreate && env.Object != nil {
		switch env.Object.Type {
		case federation.ContentNode:
			_, err := r.directory.ImportNode(ctx, env)
			return err
		case federation.ContentProfile:
			_, err := r.directory.ImportProfile(ctx, env)
			return err
		}
	}

	if env.IsBroadcast() {
		if err := r.logEnvelope(ctx, env, raw, src); err != nil {
			return err
		}
	}

	msg, err := r.inbox.Receive(ctx, raw, "")
	if err != nil {
		return err
	}
	log.Info().Uint("message_id", msg.ID).Msg("envelope delivered to inbox")
	return nil
}

// IsAllowed applies the allow-list policy to env.
func (r *Router) IsAllowed(ctx context.Context, env *federation.Envelope) (bool, error) {
	if env.IsBroadcast() || env.Object == nil || privileged[env.Object.Type] {
		return true, nil
	}
	if env.Object.Recipient == nil {
		return false, nil
	}
	recipient, err := r.directory.Profile(ctx, *env.Object.Recipient)
	if err != nil {
		if fedErrors.HasCode(err, fedErrors.ErrCodeUnresolvedReference) {
			return false, nil
		}
		return false, err
	}
	return recipient.Allows(env.Object.Sender), nil
}

// ProcessMessage appends one Log entry per valid data item and reports how
// many were new. Items with an unknown action or an invalid shape are
// logged and skipped.
func (r *Router) ProcessMessage(ctx context.Context, data []contentstore.PayloadItem, src eventlog.Source) (int, error) {
	created := 0
	for idx, item := range data {
		itemSrc := src
		itemSrc.MessageID = messageID(src.EventID, idx)

		var msg eventlog.Message
		if err := json.Unmarshal(item.Value, &msg); err != nil {
			r.logger.Error().Err(err).Str("message_id", itemSrc.MessageID).Msg("could not decode message")
			continue
		}
		ok, err := r.append(ctx, &msg, itemSrc, item.Value)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (r *Router) append(ctx context.Context, msg *eventlog.Message, src eventlog.Source, raw json.RawMessage) (bool, error) {
	schema, ok := eventlog.SchemaFor(msg.Action)
	if !ok {
		r.logger.Error().Str("action", msg.Action).Str("message_id", src.MessageID).Msg("could not find schema for action")
		return false, nil
	}
	if err := schema.Validate(msg); err != nil {
		r.logger.Error().Err(err).Str("message_id", src.MessageID).Msg("message does not match schema")
		return false, nil
	}
	return r.writer.Append(ctx, msg, src, raw)
}

// logEnvelope records an envelope broadcast that is not a bootstrap import.
func (r *Router) logEnvelope(ctx context.Context, env *federation.Envelope, raw []byte, src eventlog.Source) error {
	value := json.RawMessage("null")
	model := ""
	actor := env.From
	if env.Object != nil {
		model = string(env.Object.Type)
		if len(env.Object.Content) > 0 {
			value = env.Object.Content
		}
		if env.Object.Sender != "" {
			actor = env.Object.Sender
		}
	}
	if actor == "" {
		actor = txSender(src.RawEvent)
	}

	msg := &eventlog.Message{
		Action: string(env.Type),
		Actor:  eventlog.Actor{Identifiable: eventlog.Identifiable{Identifier: actor}},
		Object: eventlog.Object{Model: model, Value: value},
	}
	src.MessageID = messageID(src.EventID, 0)
	_, err := r.append(ctx, msg, src, raw)
	return err
}

func messageID(eventID string, idx int) string {
	return fmt.Sprintf("%s:%d", eventID, idx)
}

func txSender(rawTx json.RawMessage) string {
	var tx struct {
		From string `json:"from"`
	}
	if len(rawTx) > 0 && json.Unmarshal(rawTx, &tx) == nil && tx.From != "" {
		return tx.From
	}
	return "unknown"
}
