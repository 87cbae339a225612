package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toursync/agent/internal/models"
	"github.com/toursync/agent/internal/observability"
	"github.com/toursync/agent/internal/remote"
	"github.com/toursync/agent/internal/repository"
)

// fakeRowStore records writes and mimics the client_ref dedupe semantics of
// the real store
type fakeRowStore struct {
	mu              sync.Mutex
	photos          map[string]*remote.PhotoRow // keyed by ClientRef
	tours           map[string]map[string]any   // keyed by server id
	tourRefs        map[string]string           // clientRef -> server id
	counts          map[string]int
	failInsertFor   string
	failRefreshOnce map[string]bool
	nextTourID      int
}

func newFakeRowStore() *fakeRowStore {
	return &fakeRowStore{
		photos:          make(map[string]*remote.PhotoRow),
		tours:           make(map[string]map[string]any),
		tourRefs:        make(map[string]string),
		counts:          make(map[string]int),
		failRefreshOnce: make(map[string]bool),
	}
}

func (f *fakeRowStore) UpsertTour(ctx context.Context, row map[string]any, clientRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := models.StringField(row, "id")
	if id == "" {
		if existing, ok := f.tourRefs[clientRef]; ok {
			return existing, nil
		}
		f.nextTourID++
		id = fmt.Sprintf("srv-%d", f.nextTourID)
		f.tourRefs[clientRef] = id
	}
	f.tours[id] = row
	return id, nil
}

func (f *fakeRowStore) UpsertFloorPlans(ctx context.Context, rows []map[string]any) error {
	return nil
}

func (f *fakeRowStore) UpsertHotspots(ctx context.Context, rows []map[string]any) error {
	return nil
}

func (f *fakeRowStore) GetTourDocument(ctx context.Context, id string) (*models.TourDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.tours[id]
	if !ok {
		return nil, nil
	}
	return models.NewTourDocument(id, models.StringField(row, "title"), row, nil, nil, nil)
}

func (f *fakeRowStore) DeleteTour(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tours, id)
	return nil
}

func (f *fakeRowStore) InsertPhoto(ctx context.Context, photo *remote.PhotoRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsertFor == photo.ClientRef {
		return fmt.Errorf("insert rejected")
	}
	if _, ok := f.photos[photo.ClientRef]; ok {
		// ON CONFLICT (client_ref) DO NOTHING
		return nil
	}
	f.photos[photo.ClientRef] = photo
	return nil
}

func (f *fakeRowStore) MaxDisplayOrder(ctx context.Context, hotspotID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := -1
	for _, p := range f.photos {
		if p.HotspotID == hotspotID && p.DisplayOrder > max {
			max = p.DisplayOrder
		}
	}
	return max, nil
}

func (f *fakeRowStore) RefreshHotspotPhotoCount(ctx context.Context, hotspotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefreshOnce[hotspotID] {
		delete(f.failRefreshOnce, hotspotID)
		return fmt.Errorf("hotspot update failed")
	}
	count := 0
	for _, p := range f.photos {
		if p.HotspotID == hotspotID {
			count++
		}
	}
	f.counts[hotspotID] = count
	return nil
}

// fakeBlobStore keeps uploads in memory and can block to hold a pass open.
// With a monitor attached, uploads fail once the monitor reports offline,
// the way the real transport drops a connection.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	block   chan struct{}
	started chan struct{}
	once    sync.Once
	monitor *ConnectivityMonitor
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}
	if f.monitor != nil && !f.monitor.IsOnline() {
		return fmt.Errorf("upload %s: connection lost", path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = data
	return nil
}

func (f *fakeBlobStore) PublicURL(path string) string {
	return "https://cdn.example.com/" + path
}

func (f *fakeBlobStore) Download(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[path], nil
}

func testImageBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for x := 0; x < 16; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 32), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type reconcilerFixture struct {
	queue      *repository.QueueRepository
	cache      *repository.TourCacheRepository
	rows       *fakeRowStore
	blobs      *fakeBlobStore
	monitor    *ConnectivityMonitor
	reconciler *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &reconcilerFixture{
		queue:   repository.NewQueueRepository(db),
		cache:   repository.NewTourCacheRepository(db, 0, 0),
		rows:    newFakeRowStore(),
		blobs:   newFakeBlobStore(),
		monitor: NewConnectivityMonitor(true),
	}

	logger := observability.NewLogger("test", observability.LevelError)
	f.reconciler = NewReconciler(
		f.queue, f.cache, f.rows, f.blobs,
		NewImageService(), f.monitor, nil, nil, nil, logger,
		7*24*time.Hour,
	)
	return f
}

func (f *reconcilerFixture) enqueuePhoto(t *testing.T, hotspotID string, captureDate *time.Time, img []byte) *models.PendingPhoto {
	t.Helper()
	photo, err := models.NewPendingPhoto(hotspotID, "tour-1", "tenant-1", "pano.png", img, captureDate)
	require.NoError(t, err)
	require.NoError(t, f.queue.EnqueuePhoto(context.Background(), photo))
	return photo
}

func TestReconciler_SyncsQueuedPhotos(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	img := testImageBytes(t)

	photo := f.enqueuePhoto(t, "hs-1", nil, img)

	result, err := f.reconciler.SyncNow(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.PhotosSynced)
	assert.Zero(t, result.PhotosFailed)

	// Queue drained
	count, err := f.queue.CountPending(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)

	// Remote row created with three renditions and the local id as its key
	row := f.rows.photos[photo.ID]
	require.NotNil(t, row)
	assert.Equal(t, "hs-1", row.HotspotID)
	assert.Equal(t, 0, row.DisplayOrder)
	assert.Contains(t, row.PhotoURL, ".jpg")
	assert.Contains(t, row.PhotoURLMobile, "_mobile.jpg")
	assert.Contains(t, row.PhotoURLThumbnail, "_thumb.jpg")
	assert.Equal(t, 1, f.rows.counts["hs-1"])
	assert.Len(t, f.blobs.objects, 3)
}

func TestReconciler_CaptureDateOrdering(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	img := testImageBytes(t)

	date := func(day int) *time.Time {
		d := time.Date(2024, 1, day, 12, 0, 0, 0, time.UTC)
		return &d
	}

	// Enqueued out of capture order, one without a date
	late := f.enqueuePhoto(t, "hs-1", date(3), img)
	nodate := f.enqueuePhoto(t, "hs-1", nil, img)
	early := f.enqueuePhoto(t, "hs-1", date(1), img)

	result, err := f.reconciler.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.PhotosSynced)

	assert.Equal(t, 0, f.rows.photos[early.ID].DisplayOrder)
	assert.Equal(t, 1, f.rows.photos[late.ID].DisplayOrder)
	assert.Equal(t, 2, f.rows.photos[nodate.ID].DisplayOrder)
}

func TestReconciler_PartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	img := testImageBytes(t)

	good1 := f.enqueuePhoto(t, "hs-1", nil, img)
	bad := f.enqueuePhoto(t, "hs-1", nil, img)
	good2 := f.enqueuePhoto(t, "hs-1", nil, img)

	f.rows.failInsertFor = bad.ID

	result, err := f.reconciler.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PhotosSynced)
	assert.Equal(t, 1, result.PhotosFailed)

	// Failed photo stays queued in error state with its message
	remaining, err := f.queue.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, bad.ID, remaining[0].ID)
	assert.Equal(t, models.StatusError, remaining[0].Status)
	assert.NotEmpty(t, remaining[0].ErrorMessage)
	assert.Equal(t, 1, remaining[0].Attempts)

	// Good photos made it through
	assert.NotNil(t, f.rows.photos[good1.ID])
	assert.NotNil(t, f.rows.photos[good2.ID])

	// Status carries the failure
	status, err := f.reconciler.Status(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, status.Error)
	assert.Equal(t, 1, status.PendingCount)
}

func TestReconciler_RetryAfterPartialUploadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	img := testImageBytes(t)

	photo := f.enqueuePhoto(t, "hs-1", nil, img)

	// First pass inserts the row, then dies updating the hotspot
	f.rows.failRefreshOnce["hs-1"] = true
	result, err := f.reconciler.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PhotosFailed)

	// Retry completes; the duplicate insert dedupes on the client ref and
	// the hotspot count lands on the real photo count
	result, err = f.reconciler.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PhotosSynced)

	assert.Len(t, f.rows.photos, 1)
	assert.NotNil(t, f.rows.photos[photo.ID])
	assert.Equal(t, 1, f.rows.counts["hs-1"])

	count, err := f.queue.CountPending(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

// flakyQueue fails the first RemovePhoto to model a crash between the remote
// insert and retiring the local queue entry
type flakyQueue struct {
	repository.Queue
	failRemoveOnce bool
}

func (q *flakyQueue) RemovePhoto(ctx context.Context, id string) error {
	if q.failRemoveOnce {
		q.failRemoveOnce = false
		return fmt.Errorf("disk error")
	}
	return q.Queue.RemovePhoto(ctx, id)
}

func TestReconciler_RetryAfterFailedDequeueKeepsCountExact(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	img := testImageBytes(t)

	photo := f.enqueuePhoto(t, "hs-1", nil, img)

	logger := observability.NewLogger("test", observability.LevelError)
	rec := NewReconciler(
		&flakyQueue{Queue: f.queue, failRemoveOnce: true},
		f.cache, f.rows, f.blobs,
		NewImageService(), f.monitor, nil, nil, nil, logger,
		7*24*time.Hour,
	)

	// First pass lands the remote row but cannot retire the queue entry
	result, err := rec.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PhotosFailed)

	// Retry dedupes the insert; one photo, one counted
	result, err = rec.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PhotosSynced)

	assert.Len(t, f.rows.photos, 1)
	assert.NotNil(t, f.rows.photos[photo.ID])
	assert.Equal(t, 1, f.rows.counts["hs-1"])

	count, err := f.queue.CountPending(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReconciler_SkipsPassWhileOffline(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	f.monitor.SetOnline(false)

	f.enqueuePhoto(t, "hs-1", nil, testImageBytes(t))

	result, err := f.reconciler.SyncNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Total())

	// Nothing moved
	count, err := f.queue.CountPending(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReconciler_OfflineMidPassFailsItemsGracefully(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	img := testImageBytes(t)

	f.enqueuePhoto(t, "hs-1", nil, img)
	f.enqueuePhoto(t, "hs-1", nil, img)

	f.blobs.block = make(chan struct{})
	f.blobs.started = make(chan struct{})
	f.blobs.monitor = f.monitor

	done := make(chan *models.SyncResult, 1)
	go func() {
		result, err := f.reconciler.SyncNow(ctx)
		require.NoError(t, err)
		done <- result
	}()

	select {
	case <-f.blobs.started:
	case <-time.After(5 * time.Second):
		t.Fatal("pass never started")
	}

	// Connection drops while the first upload is in flight
	f.monitor.SetOnline(false)
	close(f.blobs.block)

	var result *models.SyncResult
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pass never finished")
	}

	// Both items failed without aborting the pass
	assert.Zero(t, result.PhotosSynced)
	assert.Equal(t, 2, result.PhotosFailed)

	remaining, err := f.queue.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	for _, p := range remaining {
		assert.Equal(t, models.StatusError, p.Status)
		assert.NotEmpty(t, p.ErrorMessage)
	}

	// No new pass runs while still offline
	again, err := f.reconciler.SyncNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Total())

	count, err := f.queue.CountPending(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReconciler_PendingTourGetsServerID(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	img := testImageBytes(t)

	tour, err := models.NewPendingTour("Office", "HQ", "", models.TourType360, "tenant-1")
	require.NoError(t, err)
	require.NoError(t, f.queue.EnqueueTour(ctx, tour))

	// Cached provisional document under the local id
	doc, err := models.NewTourDocument(tour.ID, tour.Title,
		map[string]any{"id": tour.ID, "title": tour.Title}, nil, nil, nil)
	require.NoError(t, err)
	doc.HasLocalChanges = true
	require.NoError(t, f.cache.SaveTour(ctx, doc))

	// A photo queued against the local tour id
	photo, err := models.NewPendingPhoto("hs-1", tour.ID, "tenant-1", "a.png", img, nil)
	require.NoError(t, err)
	require.NoError(t, f.queue.EnqueuePhoto(ctx, photo))

	result, err := f.reconciler.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ToursSynced)
	assert.Equal(t, 1, result.PhotosSynced)

	serverID := f.rows.tourRefs[tour.ID]
	require.NotEmpty(t, serverID)

	// Pending tour retired
	tours, err := f.queue.ListPendingTours(ctx)
	require.NoError(t, err)
	assert.Empty(t, tours)

	// Cache rekeyed under the server id
	moved, err := f.cache.LoadTour(ctx, serverID)
	require.NoError(t, err)
	require.NotNil(t, moved)
	assert.False(t, moved.HasLocalChanges)

	// Photo row references the server tour via retargeting before upload
	row := f.rows.photos[photo.ID]
	require.NotNil(t, row)
}

func TestReconciler_SyncsModifiedDocuments(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	doc, err := models.NewTourDocument("srv-5", "Office",
		map[string]any{"id": "srv-5", "title": "Office", "_syncStatus": "pending", "hasLocalChanges": true},
		[]map[string]any{{"id": "fp-1", "tour_id": "srv-5", "cachedAt": "x"}},
		[]map[string]any{{"id": "hs-1", "tour_id": "srv-5"}},
		nil)
	require.NoError(t, err)
	doc.HasLocalChanges = true
	require.NoError(t, f.cache.SaveTour(ctx, doc))

	result, err := f.reconciler.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ToursSynced)

	// The existing row is updated in place, never duplicated under a fresh id
	require.Len(t, f.rows.tours, 1)
	row := f.rows.tours["srv-5"]
	require.NotNil(t, row)

	// Bookkeeping never reaches the remote store
	assert.NotContains(t, row, "_syncStatus")
	assert.NotContains(t, row, "hasLocalChanges")

	// Cache is clean afterwards
	docs, err := f.cache.ListModified(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestReconciler_CoalescesConcurrentTriggers(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	img := testImageBytes(t)

	f.enqueuePhoto(t, "hs-1", nil, img)

	f.blobs.block = make(chan struct{})
	f.blobs.started = make(chan struct{})

	done := make(chan *models.SyncResult, 1)
	go func() {
		result, err := f.reconciler.SyncNow(ctx)
		require.NoError(t, err)
		done <- result
	}()

	// Wait until the pass is mid-upload, then pile on triggers
	select {
	case <-f.blobs.started:
	case <-time.After(5 * time.Second):
		t.Fatal("pass never started")
	}

	f.reconciler.TriggerSync("online")
	f.reconciler.TriggerSync("online")
	coalesced, err := f.reconciler.SyncNow(ctx)
	require.NoError(t, err)
	assert.Nil(t, coalesced, "concurrent manual sync should coalesce")

	close(f.blobs.block)

	select {
	case result := <-done:
		// The original pass plus at most one coalesced follow-up
		assert.Equal(t, 1, result.PhotosSynced)
	case <-time.After(5 * time.Second):
		t.Fatal("pass never finished")
	}
}
