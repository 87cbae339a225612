package models

import "time"

// SyncStatus is the in-memory view of the queue, rebuilt on each load
type SyncStatus struct {
	IsSyncing    bool       `json:"isSyncing"`
	IsOnline     bool       `json:"isOnline"`
	PendingCount int        `json:"pendingCount"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// SyncResult aggregates the outcome of one reconciliation pass
type SyncResult struct {
	PhotosSynced int `json:"photosSynced"`
	PhotosFailed int `json:"photosFailed"`
	ToursSynced  int `json:"toursSynced"`
	ToursFailed  int `json:"toursFailed"`
}

// Total returns the number of items the pass attempted
func (r SyncResult) Total() int {
	return r.PhotosSynced + r.PhotosFailed + r.ToursSynced + r.ToursFailed
}

// ChangeEvent describes a data mutation for interested listeners
type ChangeEvent struct {
	Entity    string `json:"entity"`    // e.g. "virtual_tours", "panorama_photos"
	Operation string `json:"operation"` // insert | update | delete
	ID        string `json:"id"`
}

// Change operations
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Notification severities for user-facing sync messages
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a short user-facing message about sync progress
type Notification struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// StorageStats summarizes local cache and queue usage for the status API
type StorageStats struct {
	CachedTours    int   `json:"cachedTours"`
	CachedBytes    int64 `json:"cachedBytes"`
	PendingPhotos  int   `json:"pendingPhotos"`
	PendingTours   int   `json:"pendingTours"`
	QueueBlobBytes int64 `json:"queueBlobBytes"`
}
