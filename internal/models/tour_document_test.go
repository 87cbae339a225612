package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripBookkeeping(t *testing.T) {
	t.Run("removes every bookkeeping field", func(t *testing.T) {
		row := map[string]any{
			"id":              "tour-1",
			"title":           "Office",
			"_syncStatus":     "pending",
			"_lastModified":   time.Now().Unix(),
			"_deleted":        false,
			"_compressed":     true,
			"cachedAt":        "2024-01-01T00:00:00Z",
			"hasLocalChanges": true,
			"lastSyncedAt":    "2024-01-01T00:00:00Z",
		}

		clean := StripBookkeeping(row)

		assert.Equal(t, map[string]any{
			"id":    "tour-1",
			"title": "Office",
		}, clean)
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		row := map[string]any{"id": "tour-1", "_syncStatus": "pending"}

		StripBookkeeping(row)

		assert.Contains(t, row, "_syncStatus")
	})

	t.Run("nil row stays nil", func(t *testing.T) {
		assert.Nil(t, StripBookkeeping(nil))
	})
}

func TestStripBookkeepingAll(t *testing.T) {
	rows := []map[string]any{
		{"id": "a", "hasLocalChanges": true},
		{"id": "b", "cachedAt": "x"},
	}

	clean := StripBookkeepingAll(rows)

	require.Len(t, clean, 2)
	assert.Equal(t, map[string]any{"id": "a"}, clean[0])
	assert.Equal(t, map[string]any{"id": "b"}, clean[1])
}

func TestRetargetTourID(t *testing.T) {
	doc := &TourDocument{
		ID:   "local-1",
		Data: map[string]any{"id": "local-1", "title": "Office"},
		FloorPlans: []map[string]any{
			{"id": "fp-1", "tour_id": "local-1"},
		},
		Hotspots: []map[string]any{
			{"id": "hs-1", "tour_id": "local-1"},
			{"id": "hs-2", "tour_id": "other-tour"},
		},
		Photos: []map[string]any{
			{"id": "p-1", "tour_id": "local-1"},
		},
	}

	doc.RetargetTourID("local-1", "srv-9")

	assert.Equal(t, "srv-9", doc.ID)
	assert.Equal(t, "srv-9", doc.Data["id"])
	assert.Equal(t, "srv-9", doc.FloorPlans[0]["tour_id"])
	assert.Equal(t, "srv-9", doc.Hotspots[0]["tour_id"])
	assert.Equal(t, "other-tour", doc.Hotspots[1]["tour_id"])
	assert.Equal(t, "srv-9", doc.Photos[0]["tour_id"])
}

func TestNewTourDocument(t *testing.T) {
	t.Run("stamps cachedAt", func(t *testing.T) {
		doc, err := NewTourDocument("tour-1", "Office", map[string]any{"id": "tour-1"}, nil, nil, nil)
		require.NoError(t, err)

		assert.False(t, doc.CachedAt.IsZero())
		assert.False(t, doc.HasLocalChanges)
	})

	t.Run("rejects empty id", func(t *testing.T) {
		_, err := NewTourDocument("  ", "Office", nil, nil, nil, nil)
		assert.Equal(t, ErrEmptyTourID, err)
	})
}

func TestStringField(t *testing.T) {
	row := map[string]any{"name": "Office", "count": 3}

	assert.Equal(t, "Office", StringField(row, "name"))
	assert.Equal(t, "", StringField(row, "count"))
	assert.Equal(t, "", StringField(row, "missing"))
}
