package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/identifier"
	"github.com/centauron/federation-node/federationClient/store"
)

// Handler contributes one section to a package under construction.
type Handler interface {
	Name() string
	// Handle writes the section into pkg.
	Handle(ctx context.Context, tx *gorm.DB, pkg Package) error
	// Set records the entities of the section as members of the share.
	Set(ctx context.Context, tx *gorm.DB, share *store.Share) error
}

// Builder assembles a share from a list of handlers.
type Builder struct {
	database *db.DB
	ids      *identifier.Generator
	logger   zerolog.Logger

	Name               string
	Description        string
	FileQuery          string
	PreviousIdentifier string
	GroundTruth        string
	GroundTruthSchema  string
	Project            *store.Project
	Origin             *store.Profile
	CreatedBy          *store.Profile

	handlers []Handler
}

func NewBuilder(database *db.DB, ids *identifier.Generator, logger zerolog.Logger) *Builder {
	return &Builder{
		database: database,
		ids:      ids,
		logger:   logger.With().Str("component", "share_builder").Logger(),
	}
}

// Add appends handlers; they run in the order added.
func (b *Builder) Add(handlers ...Handler) *Builder {
	b.handlers = append(b.handlers, handlers...)
	return b
}

// Build runs every handler in one transaction, stores the resulting content
// and freezes it into the share snapshot.
func (b *Builder) Build(ctx context.Context) (*store.Share, error) {
	if b.Name == "" {
		return nil, fedErrors.NewValidationError("share", "share name is required")
	}
	s := &store.Share{
		Identifier:         b.ids.CreateRandom(identifier.TypeShare),
		Name:               b.Name,
		Description:        b.Description,
		FileQuery:          b.FileQuery,
		PreviousIdentifier: b.PreviousIdentifier,
		GroundTruth:        b.GroundTruth,
		GroundTruthSchema:  b.GroundTruthSchema,
	}
	pkg := Package{
		KeyIdentifier:  s.Identifier,
		KeyName:        s.Name,
		KeyDescription: s.Description,
	}
	if b.Project != nil {
		s.ProjectID = &b.Project.ID
		pkg[KeyProject] = b.Project.Identifier
	}
	if b.Origin != nil {
		s.OriginID = &b.Origin.ID
	}
	if b.CreatedBy != nil {
		s.CreatedByID = &b.CreatedBy.ID
	}
	if b.PreviousIdentifier != "" {
		pkg[KeyPreviousIdentifier] = b.PreviousIdentifier
	}
	if b.GroundTruth != "" {
		pkg[KeyGroundTruth] = b.GroundTruth
	}
	if b.GroundTruthSchema != "" {
		pkg[KeyGroundTruthSchema] = b.GroundTruthSchema
	}

	err := b.database.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return fmt.Errorf("failed to create share: %w", err)
		}
		for _, h := range b.handlers {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := h.Handle(ctx, tx, pkg); err != nil {
				return fmt.Errorf("handler %s: %w", h.Name(), err)
			}
			if err := h.Set(ctx, tx, s); err != nil {
				return fmt.Errorf("handler %s: %w", h.Name(), err)
			}
			b.logger.Debug().Str("share", s.Identifier).Str("handler", h.Name()).Msg("section built")
		}
		if t, ok := pkg[KeyType].(string); ok {
			s.Type = t
		}

		content, err := json.Marshal(pkg)
		if err != nil {
			return fmt.Errorf("failed to encode share content: %w", err)
		}
		s.Content = content
		if s.Snapshot, s.SnapshotDigest, err = Freeze(content); err != nil {
			return err
		}
		return tx.Save(s).Error
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fedErrors.NewTimeoutError("share", "building share "+s.Identifier+" timed out")
		}
		var ee *fedErrors.ExchangeError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, fedErrors.NewDatabaseError("share", "failed to build share", err)
	}
	b.logger.Info().Str("share", s.Identifier).Int("sections", len(b.handlers)).Msg("share built")
	return s, nil
}
