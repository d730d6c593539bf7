package share

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/mr-tron/base58"
	"gorm.io/gorm"

	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/store"
)

const downloadTokenBytes = 24

// ErrTokenUnusable is returned for unknown, expired or already used download tokens.
var ErrTokenUnusable = errors.New("download token is unknown, expired or already used")

// Downloads issues and redeems single-use file download tokens.
type Downloads struct {
	database *db.DB
	ttl      time.Duration
	now      func() time.Time
}

func NewDownloads(database *db.DB, ttl time.Duration) *Downloads {
	return &Downloads{database: database, ttl: ttl, now: time.Now}
}

// Issue creates a token granting profileID one download of fileID.
func (d *Downloads) Issue(ctx context.Context, fileID, profileID string) (*store.DownloadToken, error) {
	buf := make([]byte, downloadTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fedErrors.NewInternalError("share", "failed to generate download token", err)
	}
	t := &store.DownloadToken{
		Token:     base58.Encode(buf),
		FileID:    fileID,
		ProfileID: profileID,
		ExpiresAt: d.now().Add(d.ttl),
	}
	if err := d.database.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fedErrors.NewDatabaseError("share", "failed to store download token", err)
	}
	return t, nil
}

// Redeem marks the token used and returns its file. A token redeems once.
func (d *Downloads) Redeem(ctx context.Context, token string) (*store.File, error) {
	var file store.File
	err := d.database.Transaction(ctx, func(tx *gorm.DB) error {
		now := d.now()
		res := tx.Model(&store.DownloadToken{}).
			Where("token = ? AND used_at IS NULL AND expires_at > ?", token, now).
			Update("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrTokenUnusable
		}
		var t store.DownloadToken
		if err := tx.Where("token = ?", token).First(&t).Error; err != nil {
			return err
		}
		return tx.First(&file, "id = ?", t.FileID).Error
	})
	if errors.Is(err, ErrTokenUnusable) {
		return nil, err
	}
	if err != nil {
		return nil, fedErrors.NewDatabaseError("share", "failed to redeem download token", err)
	}
	return &file, nil
}

// Purge deletes expired tokens and reports how many were removed.
func (d *Downloads) Purge(ctx context.Context) (int, error) {
	res := d.database.WithContext(ctx).Where("expires_at <= ?", d.now()).Delete(&store.DownloadToken{})
	if res.Error != nil {
		return 0, fedErrors.NewDatabaseError("share", "failed to purge download tokens", res.Error)
	}
	return int(res.RowsAffected), nil
}
