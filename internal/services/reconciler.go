package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/toursync/agent/internal/models"
	"github.com/toursync/agent/internal/observability"
	"github.com/toursync/agent/internal/remote"
	"github.com/toursync/agent/internal/repository"
)

// Reconciler drains the local queue against the remote store. At most one
// pass runs at a time; triggers arriving mid-pass coalesce into a single
// follow-up pass instead of stacking.
type Reconciler struct {
	queue    repository.Queue
	cache    repository.TourCache
	rows     remote.RowStore
	blobs    remote.BlobStore
	images   *ImageService
	monitor  *ConnectivityMonitor
	hub      *EventHub
	notifier *Notifier
	metrics  *observability.SyncMetrics
	logger   *observability.Logger

	tourRetention time.Duration

	running atomic.Bool
	rerun   atomic.Bool

	mu         sync.Mutex
	lastSyncAt *time.Time
	lastError  string
}

// NewReconciler creates a new Reconciler. metrics may be nil when telemetry
// is disabled.
func NewReconciler(
	queue repository.Queue,
	cache repository.TourCache,
	rows remote.RowStore,
	blobs remote.BlobStore,
	images *ImageService,
	monitor *ConnectivityMonitor,
	hub *EventHub,
	notifier *Notifier,
	metrics *observability.SyncMetrics,
	logger *observability.Logger,
	tourRetention time.Duration,
) *Reconciler {
	return &Reconciler{
		queue:         queue,
		cache:         cache,
		rows:          rows,
		blobs:         blobs,
		images:        images,
		monitor:       monitor,
		hub:           hub,
		notifier:      notifier,
		metrics:       metrics,
		logger:        logger,
		tourRetention: tourRetention,
	}
}

// Status reports the engine's current state for the status API and UI
func (r *Reconciler) Status(ctx context.Context) (*models.SyncStatus, error) {
	photos, err := r.queue.CountPending(ctx, "")
	if err != nil {
		return nil, err
	}
	tours, err := r.queue.CountPendingTours(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	lastSyncAt := r.lastSyncAt
	lastError := r.lastError
	r.mu.Unlock()

	return &models.SyncStatus{
		IsSyncing:    r.running.Load(),
		IsOnline:     r.monitor.IsOnline(),
		PendingCount: photos + tours,
		LastSyncAt:   lastSyncAt,
		Error:        lastError,
	}, nil
}

// TriggerSync requests a reconciliation pass. If a pass is already running
// the request is remembered and a single follow-up pass runs after it, so any
// number of concurrent triggers produce at most one extra pass.
func (r *Reconciler) TriggerSync(trigger string) {
	if !r.running.CompareAndSwap(false, true) {
		r.rerun.Store(true)
		return
	}

	go func() {
		defer r.running.Store(false)
		ctx := context.Background()
		for {
			r.runPass(ctx, trigger)
			if !r.rerun.CompareAndSwap(true, false) {
				return
			}
			trigger = "coalesced"
		}
	}()
}

// SyncNow runs a pass synchronously for the manual sync endpoint. When a
// pass is already in flight the call coalesces and reports nothing done.
func (r *Reconciler) SyncNow(ctx context.Context) (*models.SyncResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.rerun.Store(true)
		return nil, nil
	}
	defer r.running.Store(false)

	result := r.runPass(ctx, "manual")
	for r.rerun.CompareAndSwap(true, false) {
		next := r.runPass(ctx, "coalesced")
		result.PhotosSynced += next.PhotosSynced
		result.PhotosFailed += next.PhotosFailed
		result.ToursSynced += next.ToursSynced
		result.ToursFailed += next.ToursFailed
	}
	return &result, nil
}

// runPass executes one full reconciliation pass: stale tour cleanup, queued
// tours, queued photos, then cached documents with staged edits. The queue is
// snapshotted at pass start; items enqueued mid-pass wait for the next one.
func (r *Reconciler) runPass(ctx context.Context, trigger string) models.SyncResult {
	var result models.SyncResult

	if !r.monitor.IsOnline() {
		r.logger.Debug("Skipping sync pass while offline")
		return result
	}

	ctx, span := observability.StartServiceSpan(ctx, "reconciler", "pass")
	defer span.End()
	span.SetAttributes(attribute.String("trigger", trigger))

	start := time.Now()
	log := r.logger.WithContext(ctx)
	log.Infof("Starting sync pass (trigger=%s)", trigger)

	if r.tourRetention > 0 {
		if pruned, err := r.queue.PruneStaleTours(ctx, r.tourRetention); err != nil {
			log.Warnf("Failed to prune stale pending tours: %v", err)
		} else if pruned > 0 {
			log.Infof("Pruned %d stale pending tours", pruned)
		}
	}

	r.syncPendingTours(ctx, &result)
	r.syncPendingPhotos(ctx, &result)
	r.syncModifiedDocuments(ctx, &result)

	now := time.Now().UTC()
	r.mu.Lock()
	r.lastSyncAt = &now
	if result.PhotosFailed > 0 || result.ToursFailed > 0 {
		r.lastError = fmt.Sprintf("%d items failed to sync", result.PhotosFailed+result.ToursFailed)
	} else {
		r.lastError = ""
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordPass(ctx, time.Since(start), trigger)
	}

	if r.hub != nil {
		r.hub.NotifySyncComplete(result)
	}

	if result.Total() > 0 && r.notifier != nil {
		if result.PhotosFailed == 0 && result.ToursFailed == 0 {
			r.notifier.Success(fmt.Sprintf("Synced %d items", result.Total()))
		} else {
			r.notifier.Warning(fmt.Sprintf("Synced %d items, %d failed",
				result.PhotosSynced+result.ToursSynced, result.PhotosFailed+result.ToursFailed))
		}
	}

	log.Infof("Sync pass finished in %s: %d photos synced, %d failed, %d tours synced, %d failed",
		time.Since(start).Round(time.Millisecond),
		result.PhotosSynced, result.PhotosFailed, result.ToursSynced, result.ToursFailed)

	return result
}

// syncPendingTours pushes offline-created tours first, so photos queued under
// a local tour id can be retargeted before they upload
func (r *Reconciler) syncPendingTours(ctx context.Context, result *models.SyncResult) {
	tours, err := r.queue.ListPendingTours(ctx)
	if err != nil {
		r.logger.Errorf("Failed to list pending tours: %v", err)
		return
	}

	for _, tour := range tours {
		if err := r.syncTour(ctx, tour); err != nil {
			result.ToursFailed++
			if r.metrics != nil {
				r.metrics.RecordTourSync(ctx, false)
			}
			r.logger.WithField("tour_id", tour.ID).Errorf("Tour sync failed: %v", err)
			if statusErr := r.queue.UpdateTourStatus(ctx, tour.ID, models.StatusError, err.Error()); statusErr != nil {
				r.logger.Errorf("Failed to record tour error state: %v", statusErr)
			}
			continue
		}
		result.ToursSynced++
		if r.metrics != nil {
			r.metrics.RecordTourSync(ctx, true)
		}
	}
}

func (r *Reconciler) syncTour(ctx context.Context, tour *models.PendingTour) error {
	ctx, span := observability.StartServiceSpan(ctx, "reconciler", "sync_tour")
	defer span.End()
	span.SetAttributes(observability.TourID(tour.ID))

	if err := r.queue.UpdateTourStatus(ctx, tour.ID, models.StatusSyncing, ""); err != nil {
		observability.RecordError(span, err)
		return err
	}

	coverURL := tour.CoverImageRef
	if coverURL != "" && !strings.HasPrefix(coverURL, "http") {
		coverURL = r.blobs.PublicURL(coverURL)
	}

	row := map[string]any{
		"title":           tour.Title,
		"description":     tour.Description,
		"cover_image_url": coverURL,
		"tour_type":       tour.TourType,
		"tenant_id":       tour.TenantID,
	}

	remoteID, err := r.rows.UpsertTour(ctx, row, tour.ID)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	// Retarget the cached document before retiring the queue entry, so a
	// crash between the two leaves a re-runnable state
	if _, err := r.cache.MarkTourSynced(ctx, tour.ID, remoteID); err != nil && err != models.ErrTourNotFound {
		observability.RecordError(span, err)
		return err
	}

	if err := r.queue.ResolveTour(ctx, tour.ID, remoteID); err != nil {
		observability.RecordError(span, err)
		return err
	}

	if r.hub != nil {
		r.hub.NotifyDataChanged(models.ChangeEvent{
			Entity:    "virtual_tours",
			Operation: models.OpInsert,
			ID:        remoteID,
		})
	}

	observability.SetSuccess(span)
	return nil
}

// syncPendingPhotos uploads queued photos in capture order. Each photo is
// its own unit of work: a failure marks that photo and moves on.
func (r *Reconciler) syncPendingPhotos(ctx context.Context, result *models.SyncResult) {
	photos, err := r.queue.ListPending(ctx, "")
	if err != nil {
		r.logger.Errorf("Failed to list pending photos: %v", err)
		return
	}

	models.SortPhotosForUpload(photos)

	for _, photo := range photos {
		size, err := r.syncPhoto(ctx, photo)
		if err != nil {
			result.PhotosFailed++
			if r.metrics != nil {
				r.metrics.RecordPhotoSync(ctx, photo.TourID, 0, false)
			}
			r.logger.WithFields(map[string]interface{}{
				"photo_id":   photo.ID,
				"hotspot_id": photo.HotspotID,
			}).Errorf("Photo sync failed: %v", err)
			if statusErr := r.queue.UpdatePhotoStatus(ctx, photo.ID, models.StatusError, err.Error()); statusErr != nil {
				r.logger.Errorf("Failed to record photo error state: %v", statusErr)
			}
			continue
		}
		result.PhotosSynced++
		if r.metrics != nil {
			r.metrics.RecordPhotoSync(ctx, photo.TourID, size, true)
		}
	}
}

// syncPhoto pushes one queued photo end to end: render variants, upload the
// three renditions, insert the remote row, then retire the queue entry.
// The blob is loaded here, not in the snapshot, so a pass holds one image
// in memory at a time.
func (r *Reconciler) syncPhoto(ctx context.Context, photo *models.PendingPhoto) (int64, error) {
	ctx, span := observability.StartServiceSpan(ctx, "reconciler", "sync_photo")
	defer span.End()
	span.SetAttributes(
		observability.PhotoID(photo.ID),
		observability.HotspotID(photo.HotspotID),
		observability.TourID(photo.TourID),
	)

	if err := r.queue.UpdatePhotoStatus(ctx, photo.ID, models.StatusSyncing, ""); err != nil {
		observability.RecordError(span, err)
		return 0, err
	}

	blob, err := r.queue.GetPhotoBlob(ctx, photo.ID)
	if err != nil {
		observability.RecordError(span, err)
		return 0, err
	}

	variants, err := r.images.CreateVariants(blob, photo.Filename)
	if err != nil {
		observability.RecordError(span, err)
		return 0, err
	}

	captureDate := photo.CaptureDate
	if captureDate == nil {
		captureDate = r.images.CaptureDate(blob)
	}

	base := fmt.Sprintf("%s/%s/%s/%d_%s",
		photo.TenantID, photo.TourID, photo.HotspotID,
		photo.EnqueuedAt.UnixMilli(), photo.ID)

	uploads := []struct {
		path string
		data []byte
	}{
		{base + ".jpg", variants.Original},
		{base + "_mobile.jpg", variants.Mobile},
		{base + "_thumb.jpg", variants.Thumbnail},
	}

	var uploaded int64
	for _, u := range uploads {
		if err := r.blobs.Upload(ctx, u.path, u.data, "image/jpeg"); err != nil {
			observability.RecordError(span, err)
			return 0, err
		}
		uploaded += int64(len(u.data))
	}

	// Display order is read fresh per photo so multiple photos landing on
	// the same hotspot in one pass do not collide
	maxOrder, err := r.rows.MaxDisplayOrder(ctx, photo.HotspotID)
	if err != nil {
		observability.RecordError(span, err)
		return 0, err
	}

	row := &remote.PhotoRow{
		HotspotID:         photo.HotspotID,
		PhotoURL:          r.blobs.PublicURL(uploads[0].path),
		PhotoURLMobile:    r.blobs.PublicURL(uploads[1].path),
		PhotoURLThumbnail: r.blobs.PublicURL(uploads[2].path),
		OriginalFilename:  photo.Filename,
		CaptureDate:       captureDate,
		DisplayOrder:      maxOrder + 1,
		ClientRef:         photo.ID,
	}
	if err := r.rows.InsertPhoto(ctx, row); err != nil {
		observability.RecordError(span, err)
		return 0, err
	}

	if err := r.rows.RefreshHotspotPhotoCount(ctx, photo.HotspotID); err != nil {
		observability.RecordError(span, err)
		return 0, err
	}

	if err := r.queue.UpdatePhotoStatus(ctx, photo.ID, models.StatusSynced, ""); err != nil {
		observability.RecordError(span, err)
		return 0, err
	}
	if err := r.queue.RemovePhoto(ctx, photo.ID); err != nil {
		observability.RecordError(span, err)
		return 0, err
	}

	if r.hub != nil {
		r.hub.NotifyDataChanged(models.ChangeEvent{
			Entity:    "panorama_photos",
			Operation: models.OpInsert,
			ID:        photo.ID,
		})
	}

	observability.SetSuccess(span)
	return uploaded, nil
}

// syncModifiedDocuments pushes cached tours edited while offline
func (r *Reconciler) syncModifiedDocuments(ctx context.Context, result *models.SyncResult) {
	docs, err := r.cache.ListModified(ctx)
	if err != nil {
		r.logger.Errorf("Failed to list modified documents: %v", err)
		return
	}

	for _, doc := range docs {
		if err := r.syncDocument(ctx, doc); err != nil {
			result.ToursFailed++
			if r.metrics != nil {
				r.metrics.RecordTourSync(ctx, false)
			}
			r.logger.WithField("tour_id", doc.ID).Errorf("Document sync failed: %v", err)
			continue
		}
		result.ToursSynced++
		if r.metrics != nil {
			r.metrics.RecordTourSync(ctx, true)
		}
	}
}

func (r *Reconciler) syncDocument(ctx context.Context, doc *models.TourDocument) error {
	ctx, span := observability.StartServiceSpan(ctx, "reconciler", "sync_document")
	defer span.End()
	span.SetAttributes(observability.TourID(doc.ID))

	data := models.StripBookkeeping(doc.Data)
	if data == nil {
		data = map[string]any{}
	}
	if models.StringField(data, "id") == "" {
		data["id"] = doc.ID
	}

	remoteID, err := r.rows.UpsertTour(ctx, data, doc.ID)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	if err := r.rows.UpsertFloorPlans(ctx, models.StripBookkeepingAll(doc.FloorPlans)); err != nil {
		observability.RecordError(span, err)
		return err
	}
	if err := r.rows.UpsertHotspots(ctx, models.StripBookkeepingAll(doc.Hotspots)); err != nil {
		observability.RecordError(span, err)
		return err
	}

	if _, err := r.cache.MarkTourSynced(ctx, doc.ID, remoteID); err != nil {
		observability.RecordError(span, err)
		return err
	}

	if r.hub != nil {
		r.hub.NotifyDataChanged(models.ChangeEvent{
			Entity:    "virtual_tours",
			Operation: models.OpUpdate,
			ID:        remoteID,
		})
	}

	observability.SetSuccess(span)
	return nil
}
