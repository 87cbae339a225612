package models

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SyncState is the lifecycle state of a queued item
type SyncState string

const (
	StatusPending SyncState = "pending"
	StatusSyncing SyncState = "syncing"
	StatusSynced  SyncState = "synced"
	StatusError   SyncState = "error"
)

// Valid reports whether s is a known sync state
func (s SyncState) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusSynced, StatusError:
		return true
	}
	return false
}

// Tour types supported by the platform
const (
	TourType360   = "tour_360"
	TourTypePhoto = "photo_tour"
)

// PendingPhoto is a captured image waiting to be uploaded to the remote
// store. The local id doubles as the upstream idempotency key, so a retry
// after a lost acknowledgement upserts instead of inserting a duplicate row.
type PendingPhoto struct {
	ID           string     `json:"id"`
	HotspotID    string     `json:"hotspotId"`
	TourID       string     `json:"tourId"`
	TenantID     string     `json:"tenantId"`
	Filename     string     `json:"filename"`
	Blob         []byte     `json:"-"`
	CaptureDate  *time.Time `json:"captureDate,omitempty"` // nil means unknown, sorts last
	Status       SyncState  `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Attempts     int        `json:"attempts"`
	EnqueuedAt   time.Time  `json:"enqueuedAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NewPendingPhoto creates a pending photo with validation and sanitization
func NewPendingPhoto(hotspotID, tourID, tenantID, filename string, blob []byte, captureDate *time.Time) (*PendingPhoto, error) {
	if strings.TrimSpace(hotspotID) == "" {
		return nil, ErrEmptyHotspotID
	}
	if strings.TrimSpace(tourID) == "" {
		return nil, ErrEmptyTourID
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrEmptyTenantID
	}
	if strings.TrimSpace(filename) == "" {
		return nil, ErrEmptyFilename
	}
	if len(blob) == 0 {
		return nil, ErrEmptyBlob
	}

	now := time.Now().UTC()
	return &PendingPhoto{
		ID:          uuid.New().String(),
		HotspotID:   hotspotID,
		TourID:      tourID,
		TenantID:    tenantID,
		Filename:    sanitizeFilename(filename),
		Blob:        blob,
		CaptureDate: captureDate,
		Status:      StatusPending,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}, nil
}

// PendingTour is a tour created while offline. Its local id is temporary:
// on successful sync the remote store assigns the durable id and every local
// reference is retargeted in the same step.
type PendingTour struct {
	ID            string    `json:"id"` // local uuid until synced
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	CoverImageRef string    `json:"coverImageRef,omitempty"` // URL or local blob path
	TourType      string    `json:"tourType"`
	TenantID      string    `json:"tenantId"`
	Status        SyncState `json:"status"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	RemoteID      string    `json:"remoteId,omitempty"` // set once, on successful sync
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewPendingTour creates a pending tour with validation
func NewPendingTour(title, description, coverImageRef, tourType, tenantID string) (*PendingTour, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrEmptyTitle
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrEmptyTenantID
	}
	if tourType != TourType360 && tourType != TourTypePhoto {
		return nil, ErrInvalidTourType
	}

	now := time.Now().UTC()
	return &PendingTour{
		ID:            uuid.New().String(),
		Title:         title,
		Description:   description,
		CoverImageRef: coverImageRef,
		TourType:      tourType,
		TenantID:      tenantID,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// SortPhotosForUpload orders photos chronologically by capture date before
// display order is assigned. Photos without a capture date sort after every
// dated photo; ties keep enqueue order.
func SortPhotosForUpload(photos []*PendingPhoto) {
	sort.SliceStable(photos, func(i, j int) bool {
		a, b := photos[i], photos[j]
		switch {
		case a.CaptureDate == nil && b.CaptureDate == nil:
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		case a.CaptureDate == nil:
			return false
		case b.CaptureDate == nil:
			return true
		case a.CaptureDate.Equal(*b.CaptureDate):
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		default:
			return a.CaptureDate.Before(*b.CaptureDate)
		}
	})
}

// sanitizeFilename removes path components and invalid characters
func sanitizeFilename(filename string) string {
	name := filepath.Base(filename)

	replacer := strings.NewReplacer(
		"..", "",
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)

	return replacer.Replace(name)
}
