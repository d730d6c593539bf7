package contentstore

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/klauspost/compress/zstd"
	mh "github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/centauron/federation-node/federationClient/db"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/store"
)

// ErrNotFound is returned by LocalStore.Fetch for unknown CIDs.
var ErrNotFound = errors.New("content not found")

// Shared zstd encoder/decoder; both are safe for concurrent EncodeAll/DecodeAll.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("contentstore: creating zstd encoder: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("contentstore: creating zstd decoder: " + err.Error())
	}
}

// Compress zstd-compresses data.
func Compress(data []byte) []byte {
	return encoder.EncodeAll(data, nil)
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	return decoder.DecodeAll(data, nil)
}

// ComputeCID returns the CIDv1 (raw codec, BLAKE3 multihash) of data.
func ComputeCID(data []byte) (string, error) {
	sum := blake3.Sum256(data)
	hash, err := mh.Encode(sum[:], mh.BLAKE3)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, hash).String(), nil
}

// LocalStore keeps objects in the node database.
type LocalStore struct {
	database *db.DB
}

func NewLocalStore(database *db.DB) *LocalStore {
	return &LocalStore{database: database}
}

func (s *LocalStore) Add(ctx context.Context, data []byte) (string, error) {
	id, err := ComputeCID(data)
	if err != nil {
		return "", fedErrors.NewInternalError(component, "failed to compute cid", err)
	}
	obj := store.ContentObject{CID: id, Data: Compress(data), Size: len(data)}
	err = s.database.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&obj).Error
	if err != nil {
		return "", fedErrors.NewDatabaseError(component, "failed to store content", err)
	}
	return id, nil
}

func (s *LocalStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	var obj store.ContentObject
	err := s.database.WithContext(ctx).Where("cid = ?", id).First(&obj).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fedErrors.NewDatabaseError(component, "failed to load content", err)
	}
	data, err := Decompress(obj.Data)
	if err != nil {
		return nil, fedErrors.NewMalformedPayloadError(component, "stored content is corrupt", err)
	}
	return data, nil
}
