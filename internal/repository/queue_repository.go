package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/toursync/agent/internal/models"
)

// QueueRepository is the durable local queue of pending photos and tours.
// It persists across process restarts and reports storage errors to the
// caller; retry policy lives in the reconciler, not here.
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a new QueueRepository
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// EnqueuePhoto stores a captured photo with status pending
func (r *QueueRepository) EnqueuePhoto(ctx context.Context, photo *models.PendingPhoto) error {
	query := `
		INSERT INTO pending_photos
			(id, hotspot_id, tour_id, tenant_id, filename, blob, capture_date, status, error_message, attempts, enqueued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		photo.ID,
		photo.HotspotID,
		photo.TourID,
		photo.TenantID,
		photo.Filename,
		photo.Blob,
		photo.CaptureDate,
		photo.Status,
		nullString(photo.ErrorMessage),
		photo.Attempts,
		photo.EnqueuedAt,
		photo.UpdatedAt,
	)
	return err
}

// ListPending returns queued photos in insertion order, optionally filtered
// by hotspot. Blobs are not loaded; fetch them per item with GetPhotoBlob so
// a pass holds at most one image in memory.
func (r *QueueRepository) ListPending(ctx context.Context, hotspotID string) ([]*models.PendingPhoto, error) {
	query := `
		SELECT id, hotspot_id, tour_id, tenant_id, filename, capture_date, status, error_message, attempts, enqueued_at, updated_at
		FROM pending_photos
	`
	var args []interface{}
	if hotspotID != "" {
		query += " WHERE hotspot_id = ?"
		args = append(args, hotspotID)
	}
	query += " ORDER BY rowid"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []*models.PendingPhoto
	for rows.Next() {
		photo, err := scanPendingPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, photo)
	}

	if photos == nil {
		photos = []*models.PendingPhoto{}
	}

	return photos, rows.Err()
}

// GetPhotoBlob loads the raw image bytes for a single queued photo
func (r *QueueRepository) GetPhotoBlob(ctx context.Context, id string) ([]byte, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx, "SELECT blob FROM pending_photos WHERE id = ?", id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, models.ErrPhotoNotFound
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// CountPending returns the queue cardinality without touching blobs
func (r *QueueRepository) CountPending(ctx context.Context, hotspotID string) (int, error) {
	query := "SELECT COUNT(*) FROM pending_photos"
	var args []interface{}
	if hotspotID != "" {
		query += " WHERE hotspot_id = ?"
		args = append(args, hotspotID)
	}

	var count int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// UpdatePhotoStatus transitions a photo's status. Re-setting the same status
// is semantically a no-op, though updated_at still moves. A transition to
// syncing counts an attempt; a transition away from error clears the message.
func (r *QueueRepository) UpdatePhotoStatus(ctx context.Context, id string, status models.SyncState, errorMessage string) error {
	if !status.Valid() {
		return models.ErrInvalidStatus
	}

	attemptBump := 0
	if status == models.StatusSyncing {
		attemptBump = 1
	}

	query := `
		UPDATE pending_photos
		SET status = ?, error_message = ?, attempts = attempts + ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, status, nullString(errorMessage), attemptBump, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrPhotoNotFound
	}
	return nil
}

// RemovePhoto deletes a queued photo. Callers are expected to remove only
// synced items; that precondition is a contract, not enforced here.
func (r *QueueRepository) RemovePhoto(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM pending_photos WHERE id = ?", id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrPhotoNotFound
	}
	return nil
}

// EnqueueTour stores an offline-created tour with status pending
func (r *QueueRepository) EnqueueTour(ctx context.Context, tour *models.PendingTour) error {
	query := `
		INSERT INTO pending_tours
			(id, title, description, cover_image_ref, tour_type, tenant_id, status, error_message, remote_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		tour.ID,
		tour.Title,
		tour.Description,
		nullString(tour.CoverImageRef),
		tour.TourType,
		tour.TenantID,
		tour.Status,
		nullString(tour.ErrorMessage),
		nullString(tour.RemoteID),
		tour.CreatedAt,
		tour.UpdatedAt,
	)
	return err
}

// ListPendingTours returns queued tours in insertion order
func (r *QueueRepository) ListPendingTours(ctx context.Context) ([]*models.PendingTour, error) {
	query := `
		SELECT id, title, description, cover_image_ref, tour_type, tenant_id, status, error_message, remote_id, created_at, updated_at
		FROM pending_tours
		ORDER BY rowid
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tours []*models.PendingTour
	for rows.Next() {
		var tour models.PendingTour
		var description, coverRef, errMsg, remoteID sql.NullString
		if err := rows.Scan(
			&tour.ID,
			&tour.Title,
			&description,
			&coverRef,
			&tour.TourType,
			&tour.TenantID,
			&tour.Status,
			&errMsg,
			&remoteID,
			&tour.CreatedAt,
			&tour.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tour.Description = description.String
		tour.CoverImageRef = coverRef.String
		tour.ErrorMessage = errMsg.String
		tour.RemoteID = remoteID.String
		tours = append(tours, &tour)
	}

	if tours == nil {
		tours = []*models.PendingTour{}
	}

	return tours, rows.Err()
}

// CountPendingTours returns the number of queued tours
func (r *QueueRepository) CountPendingTours(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_tours").Scan(&count)
	return count, err
}

// UpdateTourStatus transitions a queued tour's status
func (r *QueueRepository) UpdateTourStatus(ctx context.Context, id string, status models.SyncState, errorMessage string) error {
	if !status.Valid() {
		return models.ErrInvalidStatus
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE pending_tours SET status = ?, error_message = ?, updated_at = ? WHERE id = ?",
		status, nullString(errorMessage), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrTourNotFound
	}
	return nil
}

// ResolveTour records the server-assigned id and retires the tour from the
// pending set in one transaction, together with retargeting queued photos.
func (r *QueueRepository) ResolveTour(ctx context.Context, localID, remoteID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx,
		"UPDATE pending_tours SET status = ?, remote_id = ?, error_message = NULL, updated_at = ? WHERE id = ?",
		models.StatusSynced, remoteID, now, localID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrTourNotFound
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE pending_photos SET tour_id = ?, updated_at = ? WHERE tour_id = ?",
		remoteID, now, localID,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_tours WHERE id = ?", localID); err != nil {
		return err
	}

	return tx.Commit()
}

// PruneStaleTours removes pending tours older than maxAge that never synced.
// Returns the number of tours removed.
func (r *QueueRepository) PruneStaleTours(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM pending_tours WHERE created_at < ? AND status != ?",
		cutoff, models.StatusSyncing,
	)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	return int(affected), err
}

// BlobBytes reports the total size of queued image data
func (r *QueueRepository) BlobBytes(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, "SELECT SUM(LENGTH(blob)) FROM pending_photos").Scan(&total)
	return total.Int64, err
}

func scanPendingPhoto(rows *sql.Rows) (*models.PendingPhoto, error) {
	var photo models.PendingPhoto
	var captureDate sql.NullTime
	var errMsg sql.NullString

	if err := rows.Scan(
		&photo.ID,
		&photo.HotspotID,
		&photo.TourID,
		&photo.TenantID,
		&photo.Filename,
		&captureDate,
		&photo.Status,
		&errMsg,
		&photo.Attempts,
		&photo.EnqueuedAt,
		&photo.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if captureDate.Valid {
		t := captureDate.Time
		photo.CaptureDate = &t
	}
	photo.ErrorMessage = errMsg.String

	return &photo, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
