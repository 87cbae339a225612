package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPendingPhoto(t *testing.T) {
	blob := []byte("image data")

	t.Run("creates photo with defaults", func(t *testing.T) {
		photo, err := NewPendingPhoto("hs-1", "tour-1", "tenant-1", "pano.jpg", blob, nil)
		require.NoError(t, err)

		assert.NotEmpty(t, photo.ID)
		assert.Equal(t, StatusPending, photo.Status)
		assert.Equal(t, "pano.jpg", photo.Filename)
		assert.Zero(t, photo.Attempts)
		assert.Nil(t, photo.CaptureDate)
		assert.False(t, photo.EnqueuedAt.IsZero())
	})

	t.Run("sanitizes filename", func(t *testing.T) {
		photo, err := NewPendingPhoto("hs-1", "tour-1", "tenant-1", "../../etc/pa:ss*wd.jpg", blob, nil)
		require.NoError(t, err)

		assert.NotContains(t, photo.Filename, "..")
		assert.NotContains(t, photo.Filename, "/")
		assert.NotContains(t, photo.Filename, ":")
		assert.NotContains(t, photo.Filename, "*")
	})

	t.Run("generates unique ids", func(t *testing.T) {
		a, err := NewPendingPhoto("hs-1", "tour-1", "tenant-1", "a.jpg", blob, nil)
		require.NoError(t, err)
		b, err := NewPendingPhoto("hs-1", "tour-1", "tenant-1", "a.jpg", blob, nil)
		require.NoError(t, err)

		assert.NotEqual(t, a.ID, b.ID)
	})

	tests := []struct {
		name      string
		hotspotID string
		tourID    string
		tenantID  string
		filename  string
		blob      []byte
		wantErr   error
	}{
		{"empty hotspot", "", "tour-1", "tenant-1", "a.jpg", blob, ErrEmptyHotspotID},
		{"empty tour", "hs-1", "", "tenant-1", "a.jpg", blob, ErrEmptyTourID},
		{"empty tenant", "hs-1", "tour-1", "", "a.jpg", blob, ErrEmptyTenantID},
		{"empty filename", "hs-1", "tour-1", "tenant-1", "  ", blob, ErrEmptyFilename},
		{"empty blob", "hs-1", "tour-1", "tenant-1", "a.jpg", nil, ErrEmptyBlob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPendingPhoto(tt.hotspotID, tt.tourID, tt.tenantID, tt.filename, tt.blob, nil)
			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func TestNewPendingTour(t *testing.T) {
	t.Run("creates tour with local id", func(t *testing.T) {
		tour, err := NewPendingTour("Office", "HQ walkthrough", "", TourType360, "tenant-1")
		require.NoError(t, err)

		assert.NotEmpty(t, tour.ID)
		assert.Equal(t, StatusPending, tour.Status)
		assert.Empty(t, tour.RemoteID)
	})

	t.Run("rejects empty title", func(t *testing.T) {
		_, err := NewPendingTour("  ", "", "", TourType360, "tenant-1")
		assert.Equal(t, ErrEmptyTitle, err)
	})

	t.Run("rejects unknown tour type", func(t *testing.T) {
		_, err := NewPendingTour("Office", "", "", "slideshow", "tenant-1")
		assert.Equal(t, ErrInvalidTourType, err)
	})
}

func TestSortPhotosForUpload(t *testing.T) {
	date := func(day int) *time.Time {
		d := time.Date(2024, 1, day, 12, 0, 0, 0, time.UTC)
		return &d
	}

	t.Run("orders by capture date with nil dates last", func(t *testing.T) {
		photos := []*PendingPhoto{
			{ID: "c", CaptureDate: date(3)},
			{ID: "a", CaptureDate: date(1)},
			{ID: "nodate", CaptureDate: nil},
			{ID: "b", CaptureDate: date(2)},
		}

		SortPhotosForUpload(photos)

		ids := make([]string, len(photos))
		for i, p := range photos {
			ids[i] = p.ID
		}
		assert.Equal(t, []string{"a", "b", "c", "nodate"}, ids)
	})

	t.Run("ties keep enqueue order", func(t *testing.T) {
		base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		photos := []*PendingPhoto{
			{ID: "second", CaptureDate: date(1), EnqueuedAt: base.Add(time.Minute)},
			{ID: "first", CaptureDate: date(1), EnqueuedAt: base},
		}

		SortPhotosForUpload(photos)

		assert.Equal(t, "first", photos[0].ID)
		assert.Equal(t, "second", photos[1].ID)
	})

	t.Run("all nil dates keep enqueue order", func(t *testing.T) {
		base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		photos := []*PendingPhoto{
			{ID: "x", EnqueuedAt: base},
			{ID: "y", EnqueuedAt: base.Add(time.Second)},
			{ID: "z", EnqueuedAt: base.Add(2 * time.Second)},
		}

		SortPhotosForUpload(photos)

		assert.Equal(t, "x", photos[0].ID)
		assert.Equal(t, "y", photos[1].ID)
		assert.Equal(t, "z", photos[2].ID)
	})
}

func TestSyncStateValid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusSyncing.Valid())
	assert.True(t, StatusSynced.Valid())
	assert.True(t, StatusError.Valid())
	assert.False(t, SyncState("done").Valid())
	assert.False(t, SyncState("").Valid())
}
