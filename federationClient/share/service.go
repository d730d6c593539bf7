package share

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/federation"
	"github.com/centauron/federation-node/federationClient/identifier"
	"github.com/centauron/federation-node/federationClient/store"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	TaskTimeout   time.Duration
	TokenValidity time.Duration
}

// Service creates shares, grants them to recipients and sends them through
// the outbox.
type Service struct {
	database  *db.DB
	directory *federation.Directory
	outbox    *federation.Outbox
	ids       *identifier.Generator
	opts      ServiceOptions
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(
	database *db.DB,
	directory *federation.Directory,
	outbox *federation.Outbox,
	ids *identifier.Generator,
	opts ServiceOptions,
	logger zerolog.Logger,
) *Service {
	return &Service{
		database:  database,
		directory: directory,
		outbox:    outbox,
		ids:       ids,
		opts:      opts,
		now:       time.Now,
		logger:    logger.With().Str("component", "share_service").Logger(),
	}
}

// NewBuilder returns a builder stamping this node's identifiers.
func (s *Service) NewBuilder() *Builder {
	return NewBuilder(s.database, s.ids, s.logger)
}

// CreateShare builds the share under the task timeout, grants it to every
// recipient and, when send is set, queues delivery of each grant.
func (s *Service) CreateShare(ctx context.Context, b *Builder, recipients []*store.Profile, send bool) (*store.Share, []*store.ShareToken, error) {
	if s.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TaskTimeout)
		defer cancel()
	}
	sh, err := b.Build(ctx)
	if err != nil {
		return nil, nil, err
	}

	from := s.now()
	tokens := make([]*store.ShareToken, 0, len(recipients))
	for _, r := range recipients {
		t, err := s.Grant(ctx, sh, r, b.CreatedBy, from, from.Add(s.opts.TokenValidity))
		if err != nil {
			return sh, tokens, err
		}
		tokens = append(tokens, t)
		if !send {
			continue
		}
		if err := s.SendToNode(ctx, t); err != nil {
			return sh, tokens, err
		}
	}
	return sh, tokens, nil
}

// Grant creates a share token for recipient.
func (s *Service) Grant(ctx context.Context, sh *store.Share, recipient, createdBy *store.Profile, from, until time.Time) (*store.ShareToken, error) {
	t := &store.ShareToken{
		Identifier:  s.ids.CreateRandom(identifier.TypeShareToken),
		ShareID:     sh.ID,
		RecipientID: recipient.ID,
		ValidFrom:   from,
		ValidUntil:  until,
	}
	if createdBy != nil {
		t.CreatedByID = &createdBy.ID
	}
	if sh.ProjectID != nil {
		var p store.Project
		if err := s.database.WithContext(ctx).First(&p, "id = ?", *sh.ProjectID).Error; err == nil {
			t.ProjectIdentifier = p.Identifier
		}
	}
	if err := t.Validate(); err != nil {
		return nil, fedErrors.NewValidationError("share", err.Error())
	}
	if err := s.database.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fedErrors.NewDatabaseError("share", "failed to create share token", err)
	}
	return t, nil
}

// SendToNode sends the frozen content of the token's share to its recipient.
func (s *Service) SendToNode(ctx context.Context, t *store.ShareToken) error {
	if !t.IsValid(s.now()) {
		return fedErrors.NewValidationError("share", "share token "+t.Identifier+" is not valid now")
	}
	sh, sender, recipient, err := s.grantParties(ctx, t)
	if err != nil {
		return err
	}
	if err := VerifySnapshot(sh); err != nil {
		return fedErrors.NewInternalError("share", "refusing to send share "+sh.Identifier, err)
	}
	content, err := Thaw(sh.Snapshot)
	if err != nil {
		return fedErrors.NewInternalError("share", "failed to thaw share "+sh.Identifier, err)
	}
	return s.send(ctx, sender, recipient, federation.EnvelopeCreate, federation.ContentShare, content, sh, t)
}

// SendRetraction asks the token's recipient to drop the share.
func (s *Service) SendRetraction(ctx context.Context, t *store.ShareToken) error {
	sh, sender, recipient, err := s.grantParties(ctx, t)
	if err != nil {
		return err
	}
	content, err := json.Marshal(RetractContent{Identifier: sh.Identifier})
	if err != nil {
		return err
	}
	return s.send(ctx, sender, recipient, federation.EnvelopeDelete, federation.ContentRetractShare, content, sh, t)
}

func (s *Service) send(
	ctx context.Context,
	sender, recipient *store.Profile,
	envType federation.EnvelopeType,
	ct federation.ContentType,
	content []byte,
	sh *store.Share,
	t *store.ShareToken,
) error {
	msg, err := s.outbox.Create(ctx, sender, recipient, envType, federation.Object{Type: ct, Content: content},
		&federation.CreateOptions{ExtraData: map[string]any{"share": sh.Identifier, "token": t.Identifier}})
	if err != nil {
		return err
	}
	s.logger.Info().Str("share", sh.Identifier).Str("recipient", recipient.Identifier).Str("type", string(ct)).Msg("share queued")
	return s.outbox.Send(ctx, msg, true)
}

// grantParties loads the share of t, its sender (creator, else origin) and
// the recipient.
func (s *Service) grantParties(ctx context.Context, t *store.ShareToken) (*store.Share, *store.Profile, *store.Profile, error) {
	var sh store.Share
	err := s.database.WithContext(ctx).First(&sh, "id = ?", t.ShareID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil, fedErrors.NewUnresolvedReferenceError("share", "share", t.ShareID)
	}
	if err != nil {
		return nil, nil, nil, fedErrors.NewDatabaseError("share", "failed to load share", err)
	}
	senderID := t.CreatedByID
	if senderID == nil {
		senderID = sh.CreatedByID
	}
	if senderID == nil {
		senderID = sh.OriginID
	}
	if senderID == nil {
		return nil, nil, nil, fedErrors.NewValidationError("share", "share "+sh.Identifier+" has no sender")
	}
	sender, err := s.directory.ProfileByID(ctx, *senderID)
	if err != nil {
		return nil, nil, nil, err
	}
	recipient, err := s.directory.ProfileByID(ctx, t.RecipientID)
	if err != nil {
		return nil, nil, nil, err
	}
	return &sh, sender, recipient, nil
}
