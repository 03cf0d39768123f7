package bolt_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docproof/apps/backend/internal/adapter/bolt"
	"docproof/apps/backend/internal/cache"
	"docproof/apps/backend/internal/completion"
)

func TestCache_StoreAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	c, err := bolt.Open(path)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	key := cache.NewKey("doc-1", "prompt", "O1:false,EB1:true")

	_, ok, err := c.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	findings := []completion.Finding{{ErrorType: "Grammar", LocationContext: "l", OriginalText: "o", Suggestion: "s", Page: 2}}
	require.NoError(t, c.Store(ctx, key, findings))

	got, ok, err := c.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, findings, got)

	other := cache.NewKey("doc-1", "prompt", "O1:true,EB1:true")
	_, ok, err = c.Lookup(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	key := cache.NewKey("doc", "p", "f")

	c, err := bolt.Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Store(context.Background(), key, []completion.Finding{}))
	require.NoError(t, c.Close())

	c, err = bolt.Open(path)
	require.NoError(t, err)
	defer c.Close()

	got, ok, err := c.Lookup(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}
