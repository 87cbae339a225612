package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toursync/agent/internal/models"
)

func newTestDB(t *testing.T) (string, *QueueRepository) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "queue.db")
	db, err := NewSQLiteDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return path, NewQueueRepository(db)
}

func mustPhoto(t *testing.T, hotspotID string) *models.PendingPhoto {
	t.Helper()
	photo, err := models.NewPendingPhoto(hotspotID, "tour-1", "tenant-1", "pano.jpg", []byte("image bytes"), nil)
	require.NoError(t, err)
	return photo
}

func TestQueueRepository_EnqueueAndList(t *testing.T) {
	ctx := context.Background()
	_, repo := newTestDB(t)

	t.Run("round trips a photo without its blob", func(t *testing.T) {
		photo := mustPhoto(t, "hs-1")
		require.NoError(t, repo.EnqueuePhoto(ctx, photo))

		listed, err := repo.ListPending(ctx, "")
		require.NoError(t, err)
		require.Len(t, listed, 1)

		assert.Equal(t, photo.ID, listed[0].ID)
		assert.Equal(t, models.StatusPending, listed[0].Status)
		assert.Nil(t, listed[0].Blob)

		blob, err := repo.GetPhotoBlob(ctx, photo.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("image bytes"), blob)
	})

	t.Run("filters by hotspot", func(t *testing.T) {
		require.NoError(t, repo.EnqueuePhoto(ctx, mustPhoto(t, "hs-2")))

		listed, err := repo.ListPending(ctx, "hs-2")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, "hs-2", listed[0].HotspotID)

		count, err := repo.CountPending(ctx, "hs-2")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("preserves insertion order", func(t *testing.T) {
		_, repo := newTestDB(t)

		first := mustPhoto(t, "hs-1")
		second := mustPhoto(t, "hs-1")
		third := mustPhoto(t, "hs-1")
		for _, p := range []*models.PendingPhoto{first, second, third} {
			require.NoError(t, repo.EnqueuePhoto(ctx, p))
		}

		listed, err := repo.ListPending(ctx, "")
		require.NoError(t, err)
		require.Len(t, listed, 3)
		assert.Equal(t, first.ID, listed[0].ID)
		assert.Equal(t, second.ID, listed[1].ID)
		assert.Equal(t, third.ID, listed[2].ID)
	})
}

func TestQueueRepository_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	db, err := NewSQLiteDB(path)
	require.NoError(t, err)
	repo := NewQueueRepository(db)

	photo := mustPhoto(t, "hs-1")
	require.NoError(t, repo.EnqueuePhoto(ctx, photo))
	require.NoError(t, db.Close())

	// Simulates a process restart: same file, fresh connection
	db2, err := NewSQLiteDB(path)
	require.NoError(t, err)
	defer db2.Close()
	repo2 := NewQueueRepository(db2)

	listed, err := repo2.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, photo.ID, listed[0].ID)

	blob, err := repo2.GetPhotoBlob(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("image bytes"), blob)
}

func TestQueueRepository_UpdatePhotoStatus(t *testing.T) {
	ctx := context.Background()
	_, repo := newTestDB(t)

	photo := mustPhoto(t, "hs-1")
	require.NoError(t, repo.EnqueuePhoto(ctx, photo))

	t.Run("syncing counts an attempt", func(t *testing.T) {
		require.NoError(t, repo.UpdatePhotoStatus(ctx, photo.ID, models.StatusSyncing, ""))

		listed, err := repo.ListPending(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusSyncing, listed[0].Status)
		assert.Equal(t, 1, listed[0].Attempts)
	})

	t.Run("error records the message", func(t *testing.T) {
		require.NoError(t, repo.UpdatePhotoStatus(ctx, photo.ID, models.StatusError, "upload timed out"))

		listed, err := repo.ListPending(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusError, listed[0].Status)
		assert.Equal(t, "upload timed out", listed[0].ErrorMessage)
	})

	t.Run("re-setting the same status is idempotent", func(t *testing.T) {
		require.NoError(t, repo.UpdatePhotoStatus(ctx, photo.ID, models.StatusError, "upload timed out"))
		require.NoError(t, repo.UpdatePhotoStatus(ctx, photo.ID, models.StatusError, "upload timed out"))

		listed, err := repo.ListPending(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusError, listed[0].Status)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		err := repo.UpdatePhotoStatus(ctx, photo.ID, models.SyncState("done"), "")
		assert.Equal(t, models.ErrInvalidStatus, err)
	})

	t.Run("missing photo", func(t *testing.T) {
		err := repo.UpdatePhotoStatus(ctx, "nope", models.StatusSynced, "")
		assert.Equal(t, models.ErrPhotoNotFound, err)
	})
}

func TestQueueRepository_RemovePhoto(t *testing.T) {
	ctx := context.Background()
	_, repo := newTestDB(t)

	photo := mustPhoto(t, "hs-1")
	require.NoError(t, repo.EnqueuePhoto(ctx, photo))

	require.NoError(t, repo.RemovePhoto(ctx, photo.ID))

	count, err := repo.CountPending(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.Equal(t, models.ErrPhotoNotFound, repo.RemovePhoto(ctx, photo.ID))
}

func TestQueueRepository_Tours(t *testing.T) {
	ctx := context.Background()
	_, repo := newTestDB(t)

	tour, err := models.NewPendingTour("Office", "HQ", "", models.TourType360, "tenant-1")
	require.NoError(t, err)
	require.NoError(t, repo.EnqueueTour(ctx, tour))

	t.Run("lists queued tours", func(t *testing.T) {
		tours, err := repo.ListPendingTours(ctx)
		require.NoError(t, err)
		require.Len(t, tours, 1)
		assert.Equal(t, tour.ID, tours[0].ID)
		assert.Equal(t, models.StatusPending, tours[0].Status)

		count, err := repo.CountPendingTours(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("resolve retargets queued photos and retires the tour", func(t *testing.T) {
		photo, err := models.NewPendingPhoto("hs-1", tour.ID, "tenant-1", "a.jpg", []byte("x"), nil)
		require.NoError(t, err)
		require.NoError(t, repo.EnqueuePhoto(ctx, photo))

		require.NoError(t, repo.ResolveTour(ctx, tour.ID, "srv-9"))

		tours, err := repo.ListPendingTours(ctx)
		require.NoError(t, err)
		assert.Empty(t, tours)

		photos, err := repo.ListPending(ctx, "")
		require.NoError(t, err)
		require.Len(t, photos, 1)
		assert.Equal(t, "srv-9", photos[0].TourID)
	})

	t.Run("resolve on missing tour", func(t *testing.T) {
		assert.Equal(t, models.ErrTourNotFound, repo.ResolveTour(ctx, "nope", "srv-1"))
	})
}

func TestQueueRepository_PruneStaleTours(t *testing.T) {
	ctx := context.Background()
	_, repo := newTestDB(t)

	old, err := models.NewPendingTour("Old", "", "", models.TourType360, "tenant-1")
	require.NoError(t, err)
	old.CreatedAt = time.Now().UTC().Add(-10 * 24 * time.Hour)
	require.NoError(t, repo.EnqueueTour(ctx, old))

	fresh, err := models.NewPendingTour("Fresh", "", "", models.TourType360, "tenant-1")
	require.NoError(t, err)
	require.NoError(t, repo.EnqueueTour(ctx, fresh))

	pruned, err := repo.PruneStaleTours(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	tours, err := repo.ListPendingTours(ctx)
	require.NoError(t, err)
	require.Len(t, tours, 1)
	assert.Equal(t, fresh.ID, tours[0].ID)
}

func TestQueueRepository_BlobBytes(t *testing.T) {
	ctx := context.Background()
	_, repo := newTestDB(t)

	total, err := repo.BlobBytes(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	photo, err := models.NewPendingPhoto("hs-1", "tour-1", "tenant-1", "a.jpg", make([]byte, 128), nil)
	require.NoError(t, err)
	require.NoError(t, repo.EnqueuePhoto(ctx, photo))

	total, err = repo.BlobBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(128), total)
}
