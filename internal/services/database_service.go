package services

import (
	"context"
	"time"

	"github.com/toursync/agent/internal/models"
	"github.com/toursync/agent/internal/observability"
	"github.com/toursync/agent/internal/remote"
	"github.com/toursync/agent/internal/repository"
)

// DatabaseService is the single data access surface for the local UI. It
// routes each operation to the remote store or the local cache depending on
// connectivity, and strips sync bookkeeping from anything headed upstream.
// Callers never see whether a read was served remotely or from cache.
type DatabaseService struct {
	queue      repository.Queue
	cache      repository.TourCache
	rows       remote.RowStore
	monitor    *ConnectivityMonitor
	hub        *EventHub
	reconciler *Reconciler
	logger     *observability.Logger
}

// NewDatabaseService creates a new DatabaseService
func NewDatabaseService(
	queue repository.Queue,
	cache repository.TourCache,
	rows remote.RowStore,
	monitor *ConnectivityMonitor,
	hub *EventHub,
	reconciler *Reconciler,
	logger *observability.Logger,
) *DatabaseService {
	return &DatabaseService{
		queue:      queue,
		cache:      cache,
		rows:       rows,
		monitor:    monitor,
		hub:        hub,
		reconciler: reconciler,
		logger:     logger,
	}
}

// SaveTour persists a full tour document. Online with immediate set it
// writes through to the remote store and refreshes the cache clean; in every
// other case it stages the document dirty for the next reconciliation pass.
// Either way the caller's payload is stripped of bookkeeping before anything
// leaves the process.
func (s *DatabaseService) SaveTour(ctx context.Context, id, name string, data map[string]any, floorPlans, hotspots []map[string]any, immediate bool) error {
	doc, err := models.NewTourDocument(id, name, data, floorPlans, hotspots, nil)
	if err != nil {
		return err
	}

	if immediate && s.monitor.IsOnline() {
		if err := s.writeThrough(ctx, doc); err != nil {
			s.logger.WithField("tour_id", id).Warnf("Remote save failed, staging locally: %v", err)
			return s.stageLocal(ctx, doc)
		}
		return nil
	}

	return s.stageLocal(ctx, doc)
}

func (s *DatabaseService) writeThrough(ctx context.Context, doc *models.TourDocument) error {
	data := models.StripBookkeeping(doc.Data)
	if data == nil {
		data = map[string]any{}
	}
	if models.StringField(data, "id") == "" {
		data["id"] = doc.ID
	}

	if _, err := s.rows.UpsertTour(ctx, data, doc.ID); err != nil {
		return err
	}
	if err := s.rows.UpsertFloorPlans(ctx, models.StripBookkeepingAll(doc.FloorPlans)); err != nil {
		return err
	}
	if err := s.rows.UpsertHotspots(ctx, models.StripBookkeepingAll(doc.Hotspots)); err != nil {
		return err
	}

	now := time.Now().UTC()
	doc.HasLocalChanges = false
	doc.LastSyncedAt = &now
	if err := s.cache.SaveTour(ctx, doc); err != nil {
		return err
	}

	s.notifyChange("virtual_tours", models.OpUpdate, doc.ID)
	return nil
}

func (s *DatabaseService) stageLocal(ctx context.Context, doc *models.TourDocument) error {
	doc.HasLocalChanges = true
	if err := s.cache.SaveTour(ctx, doc); err != nil {
		return err
	}
	s.notifyChange("virtual_tours", models.OpUpdate, doc.ID)
	return nil
}

// LoadTour fetches a tour document, preferring the remote store when online.
// A cached document with staged edits always wins over the remote copy so
// unsynced work is never clobbered. Offline, cache misses return nil rather
// than an error; being offline is a state, not a failure.
func (s *DatabaseService) LoadTour(ctx context.Context, id string) (*models.TourDocument, error) {
	cached, err := s.cache.LoadTour(ctx, id)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.HasLocalChanges {
		return cached, nil
	}

	if s.monitor.IsOnline() {
		doc, err := s.rows.GetTourDocument(ctx, id)
		if err != nil {
			s.logger.WithField("tour_id", id).Warnf("Remote load failed, falling back to cache: %v", err)
			return cached, nil
		}
		if doc != nil {
			now := time.Now().UTC()
			doc.LastSyncedAt = &now
			if err := s.cache.SaveTour(ctx, doc); err != nil && err != models.ErrStorageFull {
				return nil, err
			}
			return doc, nil
		}
	}

	return cached, nil
}

// ListTours enumerates locally available tours
func (s *DatabaseService) ListTours(ctx context.Context) ([]*models.TourSummary, error) {
	return s.cache.ListTours(ctx)
}

// DeleteTour removes a tour. Online with immediate set the remote row goes
// first; in every other case only the cached copy is dropped and the remote
// row survives until the operator deletes it while connected.
func (s *DatabaseService) DeleteTour(ctx context.Context, id string, immediate bool) error {
	if immediate && s.monitor.IsOnline() {
		if err := s.rows.DeleteTour(ctx, id); err != nil {
			return err
		}
	}

	if err := s.cache.DeleteTour(ctx, id); err != nil {
		return err
	}

	s.notifyChange("virtual_tours", models.OpDelete, id)
	return nil
}

// CreateTour creates a tour. Offline it queues a pending tour under a local
// id and caches a provisional document; the reconciler swaps in the server
// id on first sync. Online it writes through immediately.
func (s *DatabaseService) CreateTour(ctx context.Context, title, description, coverImageRef, tourType, tenantID string) (*models.PendingTour, error) {
	tour, err := models.NewPendingTour(title, description, coverImageRef, tourType, tenantID)
	if err != nil {
		return nil, err
	}

	if err := s.queue.EnqueueTour(ctx, tour); err != nil {
		return nil, err
	}

	data := map[string]any{
		"id":          tour.ID,
		"title":       tour.Title,
		"description": tour.Description,
		"tour_type":   tour.TourType,
		"tenant_id":   tour.TenantID,
	}
	doc, err := models.NewTourDocument(tour.ID, tour.Title, data, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	doc.HasLocalChanges = true
	if err := s.cache.SaveTour(ctx, doc); err != nil && err != models.ErrStorageFull {
		return nil, err
	}

	s.notifyChange("virtual_tours", models.OpInsert, tour.ID)

	if s.monitor.IsOnline() && s.reconciler != nil {
		s.reconciler.TriggerSync("tour_created")
	}

	return tour, nil
}

// QueuePhoto stores a captured photo in the durable queue and, when online,
// kicks off a pass to drain it
func (s *DatabaseService) QueuePhoto(ctx context.Context, hotspotID, tourID, tenantID, filename string, blob []byte, captureDate *time.Time) (*models.PendingPhoto, error) {
	photo, err := models.NewPendingPhoto(hotspotID, tourID, tenantID, filename, blob, captureDate)
	if err != nil {
		return nil, err
	}

	if err := s.queue.EnqueuePhoto(ctx, photo); err != nil {
		return nil, err
	}

	s.notifyChange("pending_photos", models.OpInsert, photo.ID)

	if s.monitor.IsOnline() && s.reconciler != nil {
		s.reconciler.TriggerSync("photo_queued")
	}

	return photo, nil
}

// PendingPhotos lists queued photos, optionally scoped to one hotspot
func (s *DatabaseService) PendingPhotos(ctx context.Context, hotspotID string) ([]*models.PendingPhoto, error) {
	return s.queue.ListPending(ctx, hotspotID)
}

// RemovePendingPhoto drops a queued photo before it syncs
func (s *DatabaseService) RemovePendingPhoto(ctx context.Context, id string) error {
	if err := s.queue.RemovePhoto(ctx, id); err != nil {
		return err
	}
	s.notifyChange("pending_photos", models.OpDelete, id)
	return nil
}

// Stats summarizes local storage usage for the status API
func (s *DatabaseService) Stats(ctx context.Context) (*models.StorageStats, error) {
	cachedTours, cachedBytes, err := s.cache.Stats(ctx)
	if err != nil {
		return nil, err
	}

	pendingPhotos, err := s.queue.CountPending(ctx, "")
	if err != nil {
		return nil, err
	}
	pendingTours, err := s.queue.CountPendingTours(ctx)
	if err != nil {
		return nil, err
	}
	blobBytes, err := s.queue.BlobBytes(ctx)
	if err != nil {
		return nil, err
	}

	return &models.StorageStats{
		CachedTours:    cachedTours,
		CachedBytes:    cachedBytes,
		PendingPhotos:  pendingPhotos,
		PendingTours:   pendingTours,
		QueueBlobBytes: blobBytes,
	}, nil
}

func (s *DatabaseService) notifyChange(entity, operation, id string) {
	if s.hub == nil {
		return
	}
	s.hub.NotifyDataChanged(models.ChangeEvent{
		Entity:    entity,
		Operation: operation,
		ID:        id,
	})
}
