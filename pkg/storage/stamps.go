package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"
)

// Fingerprint hashes the path, size and modification time of every file in paths.
// The order of paths doesn't matter.
func Fingerprint(paths []string) (string, error) {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	hasher := sha256.New()
	for _, item := range sorted {
		info, err := os.Stat(item)
		if err != nil {
			return "", eris.Wrapf(err, "failed to check %s", item)
		}

		fmt.Fprintf(hasher, "%s\x00%d\x00%d\n", item, info.Size(), info.ModTime().UnixNano())
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// GetStamp returns the fingerprint recorded for task or an empty string
func (s *Store) GetStamp(ctx context.Context, task string) (string, error) {
	tx := TxFromCtx(ctx)
	if tx == nil {
		var result string
		err := s.db.View(func(tx *bolt.Tx) error {
			var err error
			result, err = s.GetStamp(CtxWithTx(ctx, tx), task)
			return err
		})
		return result, err
	}

	return string(tx.Bucket(stampBucket).Get([]byte(task))), nil
}

// PutStamp records the input fingerprint of task
func (s *Store) PutStamp(ctx context.Context, task, stamp string) error {
	tx := TxFromCtx(ctx)
	if tx == nil {
		return s.db.Update(func(tx *bolt.Tx) error {
			return s.PutStamp(CtxWithTx(ctx, tx), task, stamp)
		})
	}

	return tx.Bucket(stampBucket).Put([]byte(task), []byte(stamp))
}

// ClearStamps forgets all recorded fingerprints
func (s *Store) ClearStamps(ctx context.Context) error {
	return s.clearBucket(ctx, stampBucket)
}

// ClearManifest forgets all revisioned asset names
func (s *Store) ClearManifest(ctx context.Context) error {
	return s.clearBucket(ctx, manifestBucket)
}

func (s *Store) clearBucket(ctx context.Context, name []byte) error {
	tx := TxFromCtx(ctx)
	if tx == nil {
		return s.db.Update(func(tx *bolt.Tx) error {
			return s.clearBucket(CtxWithTx(ctx, tx), name)
		})
	}

	err := tx.DeleteBucket(name)
	if err != nil && !eris.Is(err, bolt.ErrBucketNotFound) {
		return err
	}

	_, err = tx.CreateBucket(name)
	return err
}

// PutManifest maps an original asset name to its revisioned name
func (s *Store) PutManifest(ctx context.Context, original, revisioned string) error {
	tx := TxFromCtx(ctx)
	if tx == nil {
		return s.db.Update(func(tx *bolt.Tx) error {
			return s.PutManifest(CtxWithTx(ctx, tx), original, revisioned)
		})
	}

	return tx.Bucket(manifestBucket).Put([]byte(original), []byte(revisioned))
}

// Manifest returns all recorded revisioned asset names
func (s *Store) Manifest(ctx context.Context) (map[string]string, error) {
	tx := TxFromCtx(ctx)
	if tx == nil {
		var result map[string]string
		err := s.db.View(func(tx *bolt.Tx) error {
			var err error
			result, err = s.Manifest(CtxWithTx(ctx, tx))
			return err
		})
		return result, err
	}

	result := map[string]string{}
	err := tx.Bucket(manifestBucket).ForEach(func(k, v []byte) error {
		result[string(k)] = string(v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
