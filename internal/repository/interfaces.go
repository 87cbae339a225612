package repository

import (
	"context"
	"time"

	"github.com/toursync/agent/internal/models"
)

// Queue defines the durable local queue contract used by the reconciler
// and the database service
type Queue interface {
	EnqueuePhoto(ctx context.Context, photo *models.PendingPhoto) error
	ListPending(ctx context.Context, hotspotID string) ([]*models.PendingPhoto, error)
	GetPhotoBlob(ctx context.Context, id string) ([]byte, error)
	CountPending(ctx context.Context, hotspotID string) (int, error)
	UpdatePhotoStatus(ctx context.Context, id string, status models.SyncState, errorMessage string) error
	RemovePhoto(ctx context.Context, id string) error

	EnqueueTour(ctx context.Context, tour *models.PendingTour) error
	ListPendingTours(ctx context.Context) ([]*models.PendingTour, error)
	CountPendingTours(ctx context.Context) (int, error)
	UpdateTourStatus(ctx context.Context, id string, status models.SyncState, errorMessage string) error
	ResolveTour(ctx context.Context, localID, remoteID string) error
	PruneStaleTours(ctx context.Context, maxAge time.Duration) (int, error)
	BlobBytes(ctx context.Context) (int64, error)
}

// TourCache defines the cached document store contract
type TourCache interface {
	SaveTour(ctx context.Context, doc *models.TourDocument) error
	LoadTour(ctx context.Context, id string) (*models.TourDocument, error)
	ListTours(ctx context.Context) ([]*models.TourSummary, error)
	ListModified(ctx context.Context) ([]*models.TourDocument, error)
	MarkTourSynced(ctx context.Context, localID, remoteID string) (string, error)
	DeleteTour(ctx context.Context, id string) error
	Stats(ctx context.Context) (count int, bytes int64, err error)
}
