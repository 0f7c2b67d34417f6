package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "memory")
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	return store, dir
}

func TestFileStore_GetMissingKey(t *testing.T) {
	store, dir := newTestFileStore(t)

	_, err := store.Get(context.Background(), "pc1-al-bot")
	assert.ErrorIs(t, err, ErrNotFound)

	// Reads never create the directory.
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileStore_SetCreatesDirectoryLazily(t *testing.T) {
	store, dir := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "pc1-al-bot", []byte(`[]`)))

	data, err := os.ReadFile(filepath.Join(dir, "pc1-al-bot"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	got, err := store.Get(ctx, "pc1-al-bot")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), got)
}

func TestFileStore_SetOverwrites(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("first value")))
	require.NoError(t, store.Set(ctx, "k", []byte("2nd")))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "2nd", string(got))
}

func TestFileStore_Delete(t *testing.T) {
	store, dir := newTestFileStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Delete(ctx, "k"), ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err := os.Stat(filepath.Join(dir, "k"))
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, store.Delete(ctx, "k"), ErrNotFound)
}

func TestFileStore_RejectsKeysOutsideRoot(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "/etc/passwd", "a/../../b"} {
		t.Run(key, func(t *testing.T) {
			assert.ErrorIs(t, store.Set(ctx, key, []byte("x")), ErrInvalidKey)
			_, err := store.Get(ctx, key)
			assert.ErrorIs(t, err, ErrInvalidKey)
			assert.ErrorIs(t, store.Delete(ctx, key), ErrInvalidKey)
		})
	}
}

func TestFileStore_Keys(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	keys, err := store.Keys(ctx, "**")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, store.Set(ctx, "system", []byte("a")))
	require.NoError(t, store.Set(ctx, "npc/guard", []byte("b")))
	require.NoError(t, store.Set(ctx, "npc/merchant", []byte("c")))

	keys, err = store.Keys(ctx, "**")
	require.NoError(t, err)
	assert.Equal(t, []string{"npc/guard", "npc/merchant", "system"}, keys)

	keys, err = store.Keys(ctx, "npc/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"npc/guard", "npc/merchant"}, keys)

	_, err = store.Keys(ctx, "[")
	assert.Error(t, err)
}

func TestFileStore_Cleanup(t *testing.T) {
	store, dir := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "old", []byte("x")))
	require.NoError(t, store.Set(ctx, "new", []byte("y")))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old"), past, past))

	removed, err := store.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "new")
	assert.NoError(t, err)
}
