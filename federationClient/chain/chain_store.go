package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/centauron/federation-node/federationClient/db"
	"github.com/centauron/federation-node/federationClient/store"
)

// Store provides database operations for the cursor and observed blocks.
type Store struct {
	database *db.DB
}

// NewStore creates a new chain store
func NewStore(database *db.DB) *Store {
	return &Store{database: database}
}

// GetCursor returns the highest fully processed height and whether a cursor exists.
func (s *Store) GetCursor() (uint64, bool, error) {
	if s.database == nil {
		return 0, false, fmt.Errorf("database is nil")
	}

	var cursor store.LastSeenBlock
	err := s.database.Client().First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cursor: %w", err)
	}
	return cursor.BlockNumber, true, nil
}

// UpdateCursor advances the cursor. Lower heights are ignored.
func (s *Store) UpdateCursor(height uint64) error {
	return s.writeCursor(height, false)
}

// SetCursor overwrites the cursor, also backwards. Operator use only.
func (s *Store) SetCursor(height uint64) error {
	return s.writeCursor(height, true)
}

func (s *Store) writeCursor(height uint64, force bool) error {
	if s.database == nil {
		return fmt.Errorf("database is nil")
	}

	return s.database.Client().Transaction(func(tx *gorm.DB) error {
		var cursor store.LastSeenBlock
		err := tx.First(&cursor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cursor = store.LastSeenBlock{BlockNumber: height}
			if err := tx.Create(&cursor).Error; err != nil {
				return fmt.Errorf("failed to create cursor: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query cursor: %w", err)
		}

		if force || height > cursor.BlockNumber {
			cursor.BlockNumber = height
			if err := tx.Save(&cursor).Error; err != nil {
				return fmt.Errorf("failed to update cursor: %w", err)
			}
		}
		return nil
	})
}

// InsertBlockIfNotExists persists a broadcast block unless its message hash
// was seen before. It reports whether a row was created.
func (s *Store) InsertBlockIfNotExists(number uint64, tx ChainTx, content *TxContent) (*store.Block, bool, error) {
	if s.database == nil {
		return nil, false, fmt.Errorf("database is nil")
	}

	rawTx, err := json.Marshal(tx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal tx: %w", err)
	}

	block := &store.Block{
		Number:      number,
		Tx:          datatypes.JSON(rawTx),
		MessageHash: tx.Hash,
		CID:         content.CID,
		TxContent:   datatypes.JSON(content.Raw),
	}

	result := s.database.Client().
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_hash"}}, DoNothing: true}).
		Create(block)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to insert block: %w", result.Error)
	}
	return block, result.RowsAffected > 0, nil
}

// MarkDownloaded stores the fetched content and sets cid_downloaded.
func (s *Store) MarkDownloaded(block *store.Block, content []byte) error {
	block.Content = datatypes.JSON(content)
	block.CIDDownloaded = true
	err := s.database.Client().Model(block).Updates(map[string]any{
		"content":        block.Content,
		"cid_downloaded": true,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to save block content: %w", err)
	}
	return nil
}

// UndownloadedBlocks returns blocks whose content was never fetched, oldest first.
func (s *Store) UndownloadedBlocks() ([]store.Block, error) {
	var blocks []store.Block
	if err := s.database.Client().
		Where("cid_downloaded = ?", false).
		Order("number ASC, id ASC").
		Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("failed to query undownloaded blocks: %w", err)
	}
	return blocks, nil
}

// BlockByMessageHash loads one block.
func (s *Store) BlockByMessageHash(hash string) (*store.Block, error) {
	var block store.Block
	if err := s.database.Client().Where("message_hash = ?", hash).First(&block).Error; err != nil {
		return nil, fmt.Errorf("failed to load block %s: %w", hash, err)
	}
	return &block, nil
}
