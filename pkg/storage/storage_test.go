package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poma-prs/poma-static-project/pkg/storage"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "state", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestStamps(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	stamp, err := store.GetStamp(ctx, "build:sass")
	require.NoError(t, err)
	assert.Empty(t, stamp)

	require.NoError(t, store.PutStamp(ctx, "build:sass", "abc"))

	stamp, err = store.GetStamp(ctx, "build:sass")
	require.NoError(t, err)
	assert.Equal(t, "abc", stamp)

	require.NoError(t, store.ClearStamps(ctx))
	stamp, err = store.GetStamp(ctx, "build:sass")
	require.NoError(t, err)
	assert.Empty(t, stamp)
}

func TestBatchUpdateSharesTransaction(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	err := store.BatchUpdate(ctx, func(ctx context.Context) error {
		require.NotNil(t, storage.TxFromCtx(ctx))
		if err := store.PutStamp(ctx, "a", "1"); err != nil {
			return err
		}
		return store.PutManifest(ctx, "css/app.css", "css/app-0123abcd.css")
	})
	require.NoError(t, err)

	manifest, err := store.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"css/app.css": "css/app-0123abcd.css"}, manifest)

	err = store.BatchRead(ctx, func(ctx context.Context) error {
		stamp, err := store.GetStamp(ctx, "a")
		assert.Equal(t, "1", stamp)
		return err
	})
	require.NoError(t, err)
}

func TestClearManifest(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	require.NoError(t, store.PutStamp(ctx, "build:assets", "abc"))
	require.NoError(t, store.PutManifest(ctx, "dist/scripts/app.js", "dist/scripts/app-0123abcd.js"))

	err := store.BatchUpdate(ctx, func(ctx context.Context) error {
		return store.ClearManifest(ctx)
	})
	require.NoError(t, err)

	err = store.BatchRead(ctx, func(ctx context.Context) error {
		manifest, err := store.Manifest(ctx)
		assert.Empty(t, manifest)
		return err
	})
	require.NoError(t, err)

	// stamps live in their own bucket
	stamp, err := store.GetStamp(ctx, "build:assets")
	require.NoError(t, err)
	assert.Equal(t, "abc", stamp)
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.scss")
	b := filepath.Join(dir, "b.scss")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0o600))

	first, err := storage.Fingerprint([]string{a, b})
	require.NoError(t, err)

	reordered, err := storage.Fingerprint([]string{b, a})
	require.NoError(t, err)
	assert.Equal(t, first, reordered)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(b, later, later))

	changed, err := storage.Fingerprint([]string{a, b})
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)

	_, err = storage.Fingerprint([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}
