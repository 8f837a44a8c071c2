package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockmesh/flock/internal/store"
)

func openTest(t *testing.T) (context.Context, store.KV) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flock.db")
	kv, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return context.Background(), kv
}

func TestOpen_CreatesTheSchemaIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flock.db")
	kv, err := Open(path)
	require.NoError(t, err)
	defer kv.Close()

	kv2, err := Open(path)
	require.NoError(t, err)
	defer kv2.Close()
}

func TestPutAndGet_RoundTripsAValue(t *testing.T) {
	ctx, kv := openTest(t)
	require.NoError(t, kv.Put(ctx, "a", []byte("hello")))

	v, found, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello", string(v))
}

func TestPut_OverwritesOnConflict(t *testing.T) {
	ctx, kv := openTest(t)
	require.NoError(t, kv.Put(ctx, "a", []byte("first")))
	require.NoError(t, kv.Put(ctx, "a", []byte("second")))

	v, _, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "second", string(v))
}

func TestGet_MissingKeyReturnsFoundFalse(t *testing.T) {
	ctx, kv := openTest(t)
	_, found, err := kv.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete_RemovesKeyAndIsIdempotent(t *testing.T) {
	ctx, kv := openTest(t)
	require.NoError(t, kv.Put(ctx, "a", []byte("hello")))
	require.NoError(t, kv.Delete(ctx, "a"))

	_, found, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, kv.Delete(ctx, "a"))
}

func TestList_ReturnsOnlyKeysWithThePrefixAndEscapesWildcards(t *testing.T) {
	ctx, kv := openTest(t)
	require.NoError(t, kv.Put(ctx, "task/1", []byte("one")))
	require.NoError(t, kv.Put(ctx, "task/2", []byte("two")))
	require.NoError(t, kv.Put(ctx, "home/1", []byte("three")))
	require.NoError(t, kv.Put(ctx, "weird%key", []byte("four")))

	out, err := kv.List(ctx, "task/")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, "one", string(out["task/1"]))

	out, err = kv.List(ctx, "weird%")
	require.NoError(t, err)
	assert.Len(t, out, 1, "a literal %% in the prefix must not act as a SQL LIKE wildcard")
}
