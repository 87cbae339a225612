// Package remote holds the clients for the hosted backend: row-level
// operations against named collections and blob operations against named
// buckets. The sync engine treats every failure from these clients the same
// way, as a per-item retryable error with a message attached.
package remote

import (
	"context"
	"time"

	"github.com/toursync/agent/internal/models"
)

// PhotoRow is the remote record created for a synced photo. ClientRef
// carries the pending photo's local id and acts as the idempotency key.
type PhotoRow struct {
	HotspotID         string
	PhotoURL          string
	PhotoURLMobile    string
	PhotoURLThumbnail string
	OriginalFilename  string
	CaptureDate       *time.Time
	DisplayOrder      int
	ClientRef         string
}

// RowStore is the row-level contract against the hosted database
type RowStore interface {
	// UpsertTour writes a tour row. clientRef is the local id of an
	// offline-created tour; when the row has no server id yet the store
	// inserts keyed on clientRef and returns the server-assigned id, so a
	// retried call after a lost acknowledgement resolves to the same row.
	UpsertTour(ctx context.Context, row map[string]any, clientRef string) (string, error)
	UpsertFloorPlans(ctx context.Context, rows []map[string]any) error
	UpsertHotspots(ctx context.Context, rows []map[string]any) error
	GetTourDocument(ctx context.Context, id string) (*models.TourDocument, error)
	DeleteTour(ctx context.Context, id string) error

	InsertPhoto(ctx context.Context, photo *PhotoRow) error
	MaxDisplayOrder(ctx context.Context, hotspotID string) (int, error)
	// RefreshHotspotPhotoCount recomputes the hotspot's denormalized photo
	// count from its photo rows, so retried passes converge on the true count
	RefreshHotspotPhotoCount(ctx context.Context, hotspotID string) error
}

// BlobStore is the blob-level contract against the hosted object storage.
// Uploads are idempotent by path: re-uploading to the same path after a
// partial failure overwrites rather than erroring.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string
	Download(ctx context.Context, path string) ([]byte, error)
}
