package share

import (
	"context"
	"errors"

	"gorm.io/gorm"

	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/federation"
	"github.com/centauron/federation-node/federationClient/store"
)

// RetractContent is the content of a retract-share envelope.
type RetractContent struct {
	Identifier string `json:"identifier"`
}

// HandleRetract is the inbox handler for retract-share envelopes.
func (im *Importer) HandleRetract(ctx context.Context, _ *store.InboxMessage, env *federation.Envelope) error {
	var c RetractContent
	if err := env.DecodeContent(&c); err != nil {
		return err
	}
	im.logger.Info().Str("share", c.Identifier).Str("sender", env.Object.Sender).Msg("retraction received")
	return im.Retract(ctx, c.Identifier)
}

// Retract removes a received share, its tokens and memberships, and the
// cases no other share references. An unknown share is ignored.
func (im *Importer) Retract(ctx context.Context, shareIdentifier string) error {
	var removedCases int64
	err := im.database.Transaction(ctx, func(tx *gorm.DB) error {
		var s store.Share
		err := tx.Where("identifier = ?", shareIdentifier).First(&s).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			im.logger.Warn().Str("share", shareIdentifier).Msg("retraction of unknown share ignored")
			return nil
		}
		if err != nil {
			return err
		}
		exclusive := tx.Model(&store.ShareMember{}).Select("entity_id").
			Where("share_id = ? AND kind = ?", s.ID, store.KindCase).
			Where("entity_id NOT IN (?)", tx.Model(&store.ShareMember{}).Select("entity_id").
				Where("share_id <> ? AND kind = ?", s.ID, store.KindCase))
		var caseIDs []string
		if err := exclusive.Pluck("entity_id", &caseIDs).Error; err != nil {
			return err
		}
		if len(caseIDs) > 0 {
			if err := deleteCaseFiles(tx, caseIDs); err != nil {
				return err
			}
			if err := tx.Where("case_id IN ?", caseIDs).Delete(&store.DatasetCase{}).Error; err != nil {
				return err
			}
			if err := tx.Where("kind = ? AND entity_id IN ?", store.KindCase, caseIDs).Delete(&store.ProjectMember{}).Error; err != nil {
				return err
			}
			res := tx.Where("id IN ?", caseIDs).Delete(&store.Case{})
			if res.Error != nil {
				return res.Error
			}
			removedCases = res.RowsAffected
		}
		if err := tx.Where("share_id = ?", s.ID).Delete(&store.ShareMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("share_id = ?", s.ID).Delete(&store.ShareToken{}).Error; err != nil {
			return err
		}
		return tx.Delete(&s).Error
	})
	if err != nil {
		var ee *fedErrors.ExchangeError
		if errors.As(err, &ee) {
			return err
		}
		return fedErrors.NewDatabaseError("share", "failed to retract share "+shareIdentifier, err)
	}
	im.logger.Info().Str("share", shareIdentifier).Int64("cases_removed", removedCases).Msg("share retracted")
	return nil
}

// deleteCaseFiles removes the files of the given cases together with the
// rows that point at them. Artefacts outlive their file.
func deleteCaseFiles(tx *gorm.DB, caseIDs []string) error {
	var files []store.File
	if err := tx.Select("id", "identifier").Where("case_id IN ?", caseIDs).Find(&files).Error; err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	ids := make([]string, 0, len(files))
	identifiers := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
		identifiers = append(identifiers, f.Identifier)
	}

	steps := []func() *gorm.DB{
		func() *gorm.DB { return tx.Where("file_id IN ?", ids).Delete(&store.FileCode{}) },
		func() *gorm.DB { return tx.Where("file_id IN ?", ids).Delete(&store.DatasetFile{}) },
		func() *gorm.DB { return tx.Where("file_id IN ?", ids).Delete(&store.ExtraData{}) },
		func() *gorm.DB { return tx.Where("file_id IN ?", ids).Delete(&store.DownloadToken{}) },
		func() *gorm.DB {
			return tx.Model(&store.ComputingJobArtefact{}).Where("file_id IN ?", ids).Update("file_id", nil)
		},
		func() *gorm.DB {
			return tx.Where("kind = ? AND entity_id IN ?", store.KindFile, ids).Delete(&store.ShareMember{})
		},
		func() *gorm.DB {
			return tx.Where("kind = ? AND entity_id IN ?", store.KindFile, ids).Delete(&store.ProjectMember{})
		},
		func() *gorm.DB { return tx.Where("object_identifier IN ?", identifiers).Delete(&store.Permission{}) },
		func() *gorm.DB { return tx.Where("id IN ?", ids).Delete(&store.File{}) },
	}
	for _, step := range steps {
		if err := step().Error; err != nil {
			return err
		}
	}
	return nil
}

// RegisterHandlers installs the share and retract-share inbox handlers.
func RegisterHandlers(d *federation.Dispatcher, im *Importer) {
	d.Register(federation.ContentShare, im)
	d.Register(federation.ContentRetractShare, federation.HandlerFunc(im.HandleRetract))
}
