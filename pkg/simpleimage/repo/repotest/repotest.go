// Package repotest holds behavior tests shared by every MetadataStore
// implementation.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

func ptr[T any](v T) *T { return &v }

// Run exercises store against the MetadataStore contract. Document ids are
// prefixed with prefix so runs against shared databases do not collide.
func Run(t *testing.T, store simpleimage.MetadataStore, prefix string) {
	ctx := context.Background()
	owner := prefix + "owner"
	uploaded := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, prefix+"missing")
		assert.ErrorIs(t, err, simpleimage.ErrNotFound)
	})

	t.Run("MergeCreatesAndUpdates", func(t *testing.T) {
		id := prefix + "uploads_a.png"
		require.NoError(t, store.Merge(ctx, id, &simpleimage.ImagePatch{
			Container:  ptr("images"),
			Path:       ptr("uploads/a.png"),
			OwnerID:    ptr(owner),
			UploadedAt: ptr(uploaded),
			SizeBytes:  ptr(int64(42)),
		}))

		labels := []simpleimage.Label{{Description: "cat", Score: 0.9, Topicality: 0.95}}
		require.NoError(t, store.Merge(ctx, id, &simpleimage.ImagePatch{
			Labels:  &labels,
			OCRText: ptr("hello"),
		}))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, rec.ID)
		assert.Equal(t, "images", rec.Container)
		assert.Equal(t, "uploads/a.png", rec.Path)
		assert.Equal(t, owner, rec.OwnerID)
		assert.Equal(t, int64(42), rec.SizeBytes)
		require.NotNil(t, rec.UploadedAt)
		assert.True(t, uploaded.Equal(*rec.UploadedAt))
		assert.Equal(t, labels, rec.Labels)
		require.NotNil(t, rec.OCRText)
		assert.Equal(t, "hello", *rec.OCRText)
	})

	t.Run("ListByOwner", func(t *testing.T) {
		require.NoError(t, store.Merge(ctx, prefix+"uploads_b.png", &simpleimage.ImagePatch{
			Container: ptr("images"),
			Path:      ptr("uploads/b.png"),
			OwnerID:   ptr(prefix + "someone-else"),
		}))

		recs, err := store.ListByOwner(ctx, owner)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, prefix+"uploads_a.png", recs[0].ID)

		recs, err = store.ListByOwner(ctx, prefix+"nobody")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("DeleteTwice", func(t *testing.T) {
		id := prefix + "uploads_a.png"
		require.NoError(t, store.Delete(ctx, id))
		assert.ErrorIs(t, store.Delete(ctx, id), simpleimage.ErrNotFound)

		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, simpleimage.ErrNotFound)

		require.NoError(t, store.Delete(ctx, prefix+"uploads_b.png"))
	})
}
