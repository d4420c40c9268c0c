// Package relationshipstest holds behaviour checks every relationships.Store
// implementation must pass.
package relationshipstest

import (
	"context"
	"testing"

	"github.com/illmade-knight/panic-signal/pkg/relationships"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreTests exercises a store created fresh by newStore for each subtest.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) relationships.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Empty store", func(t *testing.T) {
		store := newStore(t)
		for _, cat := range relationships.Categories {
			hasAny, err := store.HasAnyEntry(ctx, cat)
			require.NoError(t, err)
			assert.False(t, hasAny)

			ids, err := store.ListSet(ctx, cat)
			require.NoError(t, err)
			assert.Empty(t, ids)

			v, err := store.GetFlag(ctx, cat, "org.example.a")
			require.NoError(t, err)
			assert.False(t, v)
		}
	})

	t.Run("Categories are independent", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SetFlag(ctx, relationships.Connected, "org.example.a", true))

		connected, err := store.GetFlag(ctx, relationships.Connected, "org.example.a")
		require.NoError(t, err)
		assert.True(t, connected)

		enabled, err := store.GetFlag(ctx, relationships.Enabled, "org.example.a")
		require.NoError(t, err)
		assert.False(t, enabled)

		hasAny, err := store.HasAnyEntry(ctx, relationships.Enabled)
		require.NoError(t, err)
		assert.False(t, hasAny)
	})

	t.Run("ListSet only returns true flags", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SetFlag(ctx, relationships.Enabled, "org.example.b", true))
		require.NoError(t, store.SetFlag(ctx, relationships.Enabled, "org.example.a", true))
		require.NoError(t, store.SetFlag(ctx, relationships.Enabled, "org.example.c", false))

		ids, err := store.ListSet(ctx, relationships.Enabled)
		require.NoError(t, err)
		assert.Equal(t, []string{"org.example.a", "org.example.b"}, ids)
	})

	t.Run("False entries still count", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SetFlag(ctx, relationships.Enabled, "org.example.a", true))
		require.NoError(t, store.SetFlag(ctx, relationships.Enabled, "org.example.a", false))

		hasAny, err := store.HasAnyEntry(ctx, relationships.Enabled)
		require.NoError(t, err)
		assert.True(t, hasAny)

		ids, err := store.ListSet(ctx, relationships.Enabled)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Overwrite is idempotent", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SetFlag(ctx, relationships.Enabled, "org.example.a", true))
		require.NoError(t, store.SetFlag(ctx, relationships.Enabled, "org.example.a", true))

		ids, err := store.ListSet(ctx, relationships.Enabled)
		require.NoError(t, err)
		assert.Equal(t, []string{"org.example.a"}, ids)
	})

	t.Run("Rejects bad input", func(t *testing.T) {
		store := newStore(t)
		err := store.SetFlag(ctx, relationships.Category("muted"), "org.example.a", true)
		assert.ErrorIs(t, err, relationships.ErrUnknownCategory)

		err = store.SetFlag(ctx, relationships.Enabled, " ", true)
		assert.ErrorIs(t, err, relationships.ErrInvalidIdentifier)
	})

	t.Run("SetFlags writes every id", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SetFlag(ctx, relationships.Enabled, "org.example.c", false))

		require.NoError(t, store.SetFlags(ctx, relationships.Enabled, []string{"org.example.b", "org.example.a", "org.example.c"}, true))

		ids, err := store.ListSet(ctx, relationships.Enabled)
		require.NoError(t, err)
		assert.Equal(t, []string{"org.example.a", "org.example.b", "org.example.c"}, ids)
	})

	t.Run("SetFlags stores nothing when one id is invalid", func(t *testing.T) {
		store := newStore(t)

		err := store.SetFlags(ctx, relationships.Enabled, []string{"org.example.a", "bad/id", "org.example.c"}, true)

		assert.ErrorIs(t, err, relationships.ErrInvalidIdentifier)
		hasAny, err := store.HasAnyEntry(ctx, relationships.Enabled)
		require.NoError(t, err)
		assert.False(t, hasAny)
	})
}
