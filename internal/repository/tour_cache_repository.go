package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/toursync/agent/internal/models"
)

// TourCacheRepository is the local cache of full tour documents. It is
// last-write-wins at this level; precedence between remote reads and dirty
// local documents is the database service's call.
type TourCacheRepository struct {
	db            *sql.DB
	maxTours      int
	maxCacheBytes int64
}

// NewTourCacheRepository creates a new TourCacheRepository. Limits of zero
// disable eviction.
func NewTourCacheRepository(db *sql.DB, maxTours int, maxCacheBytes int64) *TourCacheRepository {
	return &TourCacheRepository{db: db, maxTours: maxTours, maxCacheBytes: maxCacheBytes}
}

// SaveTour upserts a full document and stamps cachedAt. When the cache is
// over its limits the oldest clean documents are evicted first; dirty
// documents are never evicted.
func (r *TourCacheRepository) SaveTour(ctx context.Context, doc *models.TourDocument) error {
	doc.CachedAt = time.Now().UTC()

	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	if err := r.evictForSpace(ctx, int64(len(payload))); err != nil {
		return err
	}

	query := `
		INSERT INTO cached_tours (id, name, document, has_local_changes, last_synced_at, cached_at, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			document = excluded.document,
			has_local_changes = excluded.has_local_changes,
			last_synced_at = excluded.last_synced_at,
			cached_at = excluded.cached_at,
			size_bytes = excluded.size_bytes
	`

	_, err = r.db.ExecContext(ctx, query,
		doc.ID,
		doc.Name,
		string(payload),
		doc.HasLocalChanges,
		doc.LastSyncedAt,
		doc.CachedAt,
		len(payload),
	)
	return err
}

// LoadTour returns the cached document or nil. It never touches the network.
func (r *TourCacheRepository) LoadTour(ctx context.Context, id string) (*models.TourDocument, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, "SELECT document FROM cached_tours WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc models.TourDocument
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListTours enumerates cached documents without deserializing them
func (r *TourCacheRepository) ListTours(ctx context.Context) ([]*models.TourSummary, error) {
	query := `
		SELECT id, name, size_bytes, has_local_changes, last_synced_at, cached_at
		FROM cached_tours
		ORDER BY cached_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tours []*models.TourSummary
	for rows.Next() {
		var t models.TourSummary
		var lastSynced sql.NullTime
		if err := rows.Scan(&t.ID, &t.Name, &t.SizeBytes, &t.HasLocalChanges, &lastSynced, &t.CachedAt); err != nil {
			return nil, err
		}
		if lastSynced.Valid {
			ts := lastSynced.Time
			t.LastSyncedAt = &ts
		}
		tours = append(tours, &t)
	}

	if tours == nil {
		tours = []*models.TourSummary{}
	}

	return tours, rows.Err()
}

// ListModified returns documents with staged local edits, oldest first
func (r *TourCacheRepository) ListModified(ctx context.Context) ([]*models.TourDocument, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT document FROM cached_tours WHERE has_local_changes = 1 ORDER BY cached_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.TourDocument
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var doc models.TourDocument
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}

	if docs == nil {
		docs = []*models.TourDocument{}
	}

	return docs, rows.Err()
}

// MarkTourSynced clears the dirty flag and records lastSyncedAt. If remoteID
// is non-empty the document was created offline and just received its server
// id: the primary key and every tour reference inside the document are
// rewritten, and the new key is returned so callers can retarget dependents.
func (r *TourCacheRepository) MarkTourSynced(ctx context.Context, localID, remoteID string) (string, error) {
	doc, err := r.LoadTour(ctx, localID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", models.ErrTourNotFound
	}

	now := time.Now().UTC()
	doc.HasLocalChanges = false
	doc.LastSyncedAt = &now

	newID := localID
	if remoteID != "" && remoteID != localID {
		doc.RetargetTourID(localID, remoteID)
		newID = remoteID
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if newID != localID {
		if _, err := tx.ExecContext(ctx, "DELETE FROM cached_tours WHERE id = ?", localID); err != nil {
			return "", err
		}
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO cached_tours (id, name, document, has_local_changes, last_synced_at, cached_at, size_bytes)
		VALUES (?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			document = excluded.document,
			has_local_changes = 0,
			last_synced_at = excluded.last_synced_at,
			cached_at = excluded.cached_at,
			size_bytes = excluded.size_bytes
	`
	if _, err := tx.ExecContext(ctx, query, newID, doc.Name, string(payload), now, doc.CachedAt, len(payload)); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	return newID, nil
}

// DeleteTour removes a cached document
func (r *TourCacheRepository) DeleteTour(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM cached_tours WHERE id = ?", id)
	return err
}

// Stats reports cache usage for the status API
func (r *TourCacheRepository) Stats(ctx context.Context) (count int, bytes int64, err error) {
	var total sql.NullInt64
	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM cached_tours").Scan(&count, &total)
	return count, total.Int64, err
}

// evictForSpace drops the oldest clean documents until the incoming payload
// fits within the configured limits
func (r *TourCacheRepository) evictForSpace(ctx context.Context, incoming int64) error {
	if r.maxTours <= 0 && r.maxCacheBytes <= 0 {
		return nil
	}

	for {
		count, bytes, err := r.Stats(ctx)
		if err != nil {
			return err
		}

		overCount := r.maxTours > 0 && count >= r.maxTours
		overBytes := r.maxCacheBytes > 0 && bytes+incoming > r.maxCacheBytes
		if !overCount && !overBytes {
			return nil
		}

		result, err := r.db.ExecContext(ctx, `
			DELETE FROM cached_tours WHERE id = (
				SELECT id FROM cached_tours
				WHERE has_local_changes = 0
				ORDER BY cached_at ASC
				LIMIT 1
			)
		`)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// Everything left is dirty; refuse to drop staged edits
			if overBytes {
				return models.ErrStorageFull
			}
			return nil
		}
	}
}
