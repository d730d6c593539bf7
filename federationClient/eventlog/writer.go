// Package eventlog is the append-only audit log fed by decoded broadcasts.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"github.com/centauron/federation-node/federationClient/db"
	"github.com/centauron/federation-node/federationClient/store"
)

// Writer appends Log entries.
type Writer struct {
	database *db.DB
	logger   zerolog.Logger
}

func NewWriter(database *db.DB, logger zerolog.Logger) *Writer {
	return &Writer{
		database: database,
		logger:   logger.With().Str("component", "eventlog").Logger(),
	}
}

// Source identifies where a message was observed.
type Source struct {
	EventID     string
	MessageID   string
	BlockNumber uint64
	EventDate   time.Time
	RawEvent    json.RawMessage
}

// Append stores the message as a Log entry unless an entry for the same
// (event_id, message_id) exists. It reports whether a row was created.
func (w *Writer) Append(ctx context.Context, msg *Message, src Source, raw json.RawMessage) (bool, error) {
	object, err := json.Marshal(msg.Object)
	if err != nil {
		return false, fmt.Errorf("failed to marshal object: %w", err)
	}
	var logContext datatypes.JSON
	if len(msg.Context) > 0 {
		if logContext, err = json.Marshal(msg.Context); err != nil {
			return false, fmt.Errorf("failed to marshal context: %w", err)
		}
	}
	if src.EventDate.IsZero() {
		src.EventDate = time.Now().UTC()
	}

	entry := &store.Log{
		EventDate:       src.EventDate,
		ActorIdentifier: msg.Actor.Identifier,
		ActorDisplay:    msg.Actor.Display,
		Object:          datatypes.JSON(object),
		Context:         logContext,
		Action:          msg.Action,
		RawMessage:      datatypes.JSON(raw),
		RawEvent:        datatypes.JSON(src.RawEvent),
		EventID:         src.EventID,
		MessageID:       src.MessageID,
		BlockNumber:     src.BlockNumber,
	}

	var actor store.Profile
	if err := w.database.WithContext(ctx).Where("identifier = ?", msg.Actor.Identifier).Limit(1).Find(&actor).Error; err == nil && actor.ID != "" {
		entry.ActorID = &actor.ID
	}

	result := w.database.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "message_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		return false, fmt.Errorf("failed to append log entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		w.logger.Info().Str("event_id", src.EventID).Str("message_id", src.MessageID).Msg("ignoring message as it is already persisted")
		return false, nil
	}
	return true, nil
}

// List returns the newest entries first.
func (w *Writer) List(ctx context.Context, limit int) ([]store.Log, error) {
	var logs []store.Log
	q := w.database.WithContext(ctx).Order("event_date DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	return logs, nil
}
