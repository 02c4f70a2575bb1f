// Package storage persists build state between runs in a bbolt database.
package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"
)

type txCtxKey struct{}

var (
	stampBucket    = []byte("stamps")
	manifestBucket = []byte("manifest")
)

// Store wraps the state database
type Store struct {
	db *bolt.DB
}

// Open opens (and creates if necessary) the state database at path
func Open(path string) (*Store, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open state database %s", path)
	}

	buckets := [][]byte{stampBucket, manifestBucket}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize state database")
	}

	return &Store{db: db}, nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

// CtxWithTx attaches a transaction to ctx so nested calls reuse it
func CtxWithTx(ctx context.Context, tx *bolt.Tx) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// TxFromCtx returns the transaction attached to ctx or nil
func TxFromCtx(ctx context.Context) *bolt.Tx {
	val := ctx.Value(txCtxKey{})
	if val == nil {
		return nil
	}
	return val.(*bolt.Tx)
}

// BatchUpdate runs callback inside a write transaction
func (s *Store) BatchUpdate(ctx context.Context, callback func(context.Context) error) error {
	return s.db.Batch(func(tx *bolt.Tx) error {
		return callback(CtxWithTx(ctx, tx))
	})
}

// BatchRead runs callback inside a read transaction
func (s *Store) BatchRead(ctx context.Context, callback func(context.Context) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return callback(CtxWithTx(ctx, tx))
	})
}
