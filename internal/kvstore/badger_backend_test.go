package kvstore_test

import (
	"context"
	"testing"

	"github.com/alexanderramin/dayplan/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBadger(t *testing.T, path string) *kvstore.BadgerBackend {
	t.Helper()
	b, err := kvstore.OpenBadger(kvstore.BadgerConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBadgerBackend_InMemoryRoundTrip(t *testing.T) {
	b := openBadger(t, "")
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "plannerData", []byte(`{"blocks":[]}`)))
	got, err := b.Read(ctx, "plannerData")
	require.NoError(t, err)
	assert.JSONEq(t, `{"blocks":[]}`, string(got))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"plannerData"}, keys)

	require.NoError(t, b.Delete(ctx, "plannerData"))
	_, err = b.Read(ctx, "plannerData")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestBadgerBackend_PersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := kvstore.OpenBadger(kvstore.BadgerConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, b.Write(ctx, "k", []byte(`1`)))
	require.NoError(t, b.Close())

	reopened := openBadger(t, dir)
	got, err := reopened.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
}

func TestBadgerBackend_WriteBatch(t *testing.T) {
	b := openBadger(t, "")
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "gone", []byte(`0`)))
	require.NoError(t, b.WriteBatch(ctx, map[string][]byte{"x": []byte(`1`)}, []string{"gone"}))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, keys)
}
