package remote

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/toursync/agent/internal/models"
)

// PostgresStore implements RowStore against the platform's hosted Postgres
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore prepares a connection pool for the hosted database. The
// uplink may be down at startup; connections are established lazily so the
// agent can boot offline.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// Ping checks reachability of the hosted database
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("remote database unreachable: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// UpsertTour writes a tour row. Rows without a server id insert keyed on
// client_ref so retries resolve to the same row instead of duplicating it;
// rows that already carry an id upsert by that id.
func (s *PostgresStore) UpsertTour(ctx context.Context, row map[string]any, clientRef string) (string, error) {
	id := models.StringField(row, "id")

	if id == "" {
		// Offline-created tour: the server assigns the durable id
		query := `
			INSERT INTO virtual_tours (id, tenant_id, title, description, cover_image_url, tour_type, is_published, client_ref, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, FALSE), $8, NOW())
			ON CONFLICT (client_ref) DO UPDATE SET updated_at = NOW()
			RETURNING id
		`
		var serverID string
		err := s.db.QueryRowContext(ctx, query,
			uuid.New().String(),
			models.StringField(row, "tenant_id"),
			models.StringField(row, "title"),
			models.StringField(row, "description"),
			nullableString(row, "cover_image_url"),
			models.StringField(row, "tour_type"),
			boolField(row, "is_published"),
			clientRef,
		).Scan(&serverID)
		if err != nil {
			return "", fmt.Errorf("insert tour: %w", err)
		}
		return serverID, nil
	}

	query := `
		INSERT INTO virtual_tours (id, tenant_id, title, description, cover_image_url, tour_type, is_published, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, FALSE), NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			cover_image_url = EXCLUDED.cover_image_url,
			tour_type = EXCLUDED.tour_type,
			is_published = EXCLUDED.is_published,
			updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query,
		id,
		models.StringField(row, "tenant_id"),
		models.StringField(row, "title"),
		models.StringField(row, "description"),
		nullableString(row, "cover_image_url"),
		models.StringField(row, "tour_type"),
		boolField(row, "is_published"),
	)
	if err != nil {
		return "", fmt.Errorf("upsert tour %s: %w", id, err)
	}
	return id, nil
}

// UpsertFloorPlans writes floor plan rows
func (s *PostgresStore) UpsertFloorPlans(ctx context.Context, rows []map[string]any) error {
	query := `
		INSERT INTO floor_plans (id, tour_id, name, image_url, display_order)
		VALUES ($1, $2, $3, $4, COALESCE($5, 0))
		ON CONFLICT (id) DO UPDATE SET
			tour_id = EXCLUDED.tour_id,
			name = EXCLUDED.name,
			image_url = EXCLUDED.image_url,
			display_order = EXCLUDED.display_order
	`
	for _, row := range rows {
		_, err := s.db.ExecContext(ctx, query,
			models.StringField(row, "id"),
			models.StringField(row, "tour_id"),
			models.StringField(row, "name"),
			models.StringField(row, "image_url"),
			numberField(row, "display_order"),
		)
		if err != nil {
			return fmt.Errorf("upsert floor plan %s: %w", models.StringField(row, "id"), err)
		}
	}
	return nil
}

// UpsertHotspots writes hotspot rows
func (s *PostgresStore) UpsertHotspots(ctx context.Context, rows []map[string]any) error {
	query := `
		INSERT INTO hotspots (id, floor_plan_id, title, description, x_position, y_position, panorama_count, has_panorama)
		VALUES ($1, $2, $3, $4, COALESCE($5, 0), COALESCE($6, 0), COALESCE($7, 0), COALESCE($8, FALSE))
		ON CONFLICT (id) DO UPDATE SET
			floor_plan_id = EXCLUDED.floor_plan_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			x_position = EXCLUDED.x_position,
			y_position = EXCLUDED.y_position
	`
	for _, row := range rows {
		_, err := s.db.ExecContext(ctx, query,
			models.StringField(row, "id"),
			models.StringField(row, "floor_plan_id"),
			models.StringField(row, "title"),
			models.StringField(row, "description"),
			numberField(row, "x_position"),
			numberField(row, "y_position"),
			numberField(row, "panorama_count"),
			boolField(row, "has_panorama"),
		)
		if err != nil {
			return fmt.Errorf("upsert hotspot %s: %w", models.StringField(row, "id"), err)
		}
	}
	return nil
}

// GetTourDocument fetches a tour with its floor plans, hotspots and photos
func (s *PostgresStore) GetTourDocument(ctx context.Context, id string) (*models.TourDocument, error) {
	tours, err := s.queryMaps(ctx, "SELECT * FROM virtual_tours WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(tours) == 0 {
		return nil, nil
	}
	tour := tours[0]

	floorPlans, err := s.queryMaps(ctx,
		"SELECT * FROM floor_plans WHERE tour_id = $1 ORDER BY display_order", id)
	if err != nil {
		return nil, err
	}

	hotspots, err := s.queryMaps(ctx, `
		SELECT h.* FROM hotspots h
		JOIN floor_plans fp ON fp.id = h.floor_plan_id
		WHERE fp.tour_id = $1`, id)
	if err != nil {
		return nil, err
	}

	photos, err := s.queryMaps(ctx, `
		SELECT p.* FROM panorama_photos p
		JOIN hotspots h ON h.id = p.hotspot_id
		JOIN floor_plans fp ON fp.id = h.floor_plan_id
		WHERE fp.tour_id = $1
		ORDER BY p.display_order`, id)
	if err != nil {
		return nil, err
	}

	return models.NewTourDocument(id, models.StringField(tour, "title"), tour, floorPlans, hotspots, photos)
}

// DeleteTour removes a tour row; children cascade server-side
func (s *PostgresStore) DeleteTour(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM virtual_tours WHERE id = $1", id)
	return err
}

// InsertPhoto writes a photo row keyed on the client reference, so a retry
// after a lost acknowledgement cannot create a duplicate
func (s *PostgresStore) InsertPhoto(ctx context.Context, photo *PhotoRow) error {
	query := `
		INSERT INTO panorama_photos
			(id, hotspot_id, photo_url, photo_url_mobile, photo_url_thumbnail, original_filename, capture_date, display_order, client_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (client_ref) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(),
		photo.HotspotID,
		photo.PhotoURL,
		photo.PhotoURLMobile,
		photo.PhotoURLThumbnail,
		photo.OriginalFilename,
		photo.CaptureDate,
		photo.DisplayOrder,
		photo.ClientRef,
	)
	if err != nil {
		return fmt.Errorf("insert photo: %w", err)
	}
	return nil
}

// MaxDisplayOrder returns the highest display order for a hotspot, -1 when
// the hotspot has no photos. Read fresh per item: a stale read collides when
// several photos land in the same pass.
func (s *PostgresStore) MaxDisplayOrder(ctx context.Context, hotspotID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(display_order), -1) FROM panorama_photos WHERE hotspot_id = $1",
		hotspotID,
	).Scan(&max)
	return max, err
}

// RefreshHotspotPhotoCount recomputes the hotspot's denormalized photo
// columns from its photo rows. A retried pass whose insert deduped on
// client_ref converges on the true count instead of double counting.
func (s *PostgresStore) RefreshHotspotPhotoCount(ctx context.Context, hotspotID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE hotspots SET
			panorama_count = (SELECT COUNT(*) FROM panorama_photos WHERE hotspot_id = $1),
			has_panorama = EXISTS (SELECT 1 FROM panorama_photos WHERE hotspot_id = $1)
		WHERE id = $1`,
		hotspotID,
	)
	return err
}

// queryMaps runs a select and returns each row as a column-keyed map, which
// is the shape cached documents carry
func (s *PostgresStore) queryMaps(ctx context.Context, query string, args ...interface{}) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

func nullableString(row map[string]any, key string) *string {
	if v, ok := row[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

func boolField(row map[string]any, key string) *bool {
	if v, ok := row[key].(bool); ok {
		return &v
	}
	return nil
}

func numberField(row map[string]any, key string) *float64 {
	switch v := row[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	}
	return nil
}
