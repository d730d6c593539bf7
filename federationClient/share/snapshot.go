package share

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/centauron/federation-node/federationClient/contentstore"
	"github.com/centauron/federation-node/federationClient/store"
)

var (
	snapshotEnc cbor.EncMode
	snapshotDec cbor.DecMode
)

func init() {
	var err error
	if snapshotEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if snapshotDec, err = (cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}).DecMode(); err != nil {
		panic(err)
	}
}

// Freeze encodes JSON share content as deterministic CBOR and returns the
// zstd-compressed encoding with its BLAKE3 digest.
func Freeze(content []byte) ([]byte, string, error) {
	enc, err := canonical(content)
	if err != nil {
		return nil, "", err
	}
	return contentstore.Compress(enc), digest(enc), nil
}

// Thaw returns the frozen content as JSON.
func Thaw(snapshot []byte) ([]byte, error) {
	enc, err := contentstore.Decompress(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	var v any
	if err := snapshotDec.Unmarshal(enc, &v); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return json.Marshal(v)
}

// VerifySnapshot checks that the stored snapshot matches its digest and the
// share content.
func VerifySnapshot(s *store.Share) error {
	if len(s.Snapshot) == 0 {
		return fmt.Errorf("share %s has no snapshot", s.Identifier)
	}
	enc, err := contentstore.Decompress(s.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	if d := digest(enc); d != s.SnapshotDigest {
		return fmt.Errorf("snapshot digest mismatch: stored %s, computed %s", s.SnapshotDigest, d)
	}
	current, err := canonical(s.Content)
	if err != nil {
		return err
	}
	if digest(current) != s.SnapshotDigest {
		return fmt.Errorf("share %s content differs from its snapshot", s.Identifier)
	}
	return nil
}

func canonical(content []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("share content is not JSON: %w", err)
	}
	enc, err := snapshotEnc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return enc, nil
}

func digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
