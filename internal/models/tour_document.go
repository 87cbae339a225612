package models

import (
	"strings"
	"time"
)

// TourDocument is the full local mirror of a tour: the tour row plus its
// floor plans, hotspots and photos, along with sync bookkeeping. Row payloads
// are kept as loosely-typed JSON objects because the editing UI owns their
// shape; the agent only stages, strips and forwards them.
type TourDocument struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Data            map[string]any   `json:"data"`
	FloorPlans      []map[string]any `json:"floorPlans"`
	Hotspots        []map[string]any `json:"hotspots"`
	Photos          []map[string]any `json:"photos,omitempty"`
	HasLocalChanges bool             `json:"hasLocalChanges"`
	LastSyncedAt    *time.Time       `json:"lastSyncedAt,omitempty"`
	CachedAt        time.Time        `json:"cachedAt"`
}

// bookkeepingKeys are internal fields that must never reach the remote store.
var bookkeepingKeys = []string{
	"_syncStatus",
	"_lastModified",
	"_deleted",
	"_compressed",
	"cachedAt",
	"hasLocalChanges",
	"lastSyncedAt",
}

// StripBookkeeping returns a copy of row with all internal bookkeeping
// fields removed. Every payload headed upstream goes through this.
func StripBookkeeping(row map[string]any) map[string]any {
	if row == nil {
		return nil
	}
	clean := make(map[string]any, len(row))
	for k, v := range row {
		clean[k] = v
	}
	for _, key := range bookkeepingKeys {
		delete(clean, key)
	}
	return clean
}

// StripBookkeepingAll strips every row in a slice
func StripBookkeepingAll(rows []map[string]any) []map[string]any {
	if rows == nil {
		return nil
	}
	clean := make([]map[string]any, len(rows))
	for i, row := range rows {
		clean[i] = StripBookkeeping(row)
	}
	return clean
}

// StringField reads a string field from a row payload, empty if absent
func StringField(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

// RetargetTourID rewrites every reference to oldID with newID across the
// document's rows. Used when an offline-created tour receives its server id.
func (d *TourDocument) RetargetTourID(oldID, newID string) {
	if d.ID == oldID {
		d.ID = newID
	}
	retargetRow(d.Data, oldID, newID, "id")
	for _, fp := range d.FloorPlans {
		retargetRow(fp, oldID, newID, "tour_id")
	}
	for _, hs := range d.Hotspots {
		retargetRow(hs, oldID, newID, "tour_id")
	}
	for _, p := range d.Photos {
		retargetRow(p, oldID, newID, "tour_id")
	}
}

func retargetRow(row map[string]any, oldID, newID, key string) {
	if row == nil {
		return
	}
	if v, ok := row[key].(string); ok && v == oldID {
		row[key] = newID
	}
}

// TourSummary is the lightweight listing view of a cached document
type TourSummary struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	SizeBytes       int64      `json:"sizeBytes"`
	HasLocalChanges bool       `json:"hasLocalChanges"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty"`
	CachedAt        time.Time  `json:"cachedAt"`
}

// NewTourDocument builds a cache-ready document, stamping cachedAt
func NewTourDocument(id, name string, data map[string]any, floorPlans, hotspots, photos []map[string]any) (*TourDocument, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyTourID
	}
	return &TourDocument{
		ID:         id,
		Name:       name,
		Data:       data,
		FloorPlans: floorPlans,
		Hotspots:   hotspots,
		Photos:     photos,
		CachedAt:   time.Now().UTC(),
	}, nil
}
