package models

// SyncError is a typed error for queue and cache operations
type SyncError struct {
	Message string
}

func (e SyncError) Error() string {
	return e.Message
}

var (
	ErrEmptyFilename   = SyncError{"filename cannot be empty"}
	ErrEmptyHotspotID  = SyncError{"hotspot id cannot be empty"}
	ErrEmptyTourID     = SyncError{"tour id cannot be empty"}
	ErrEmptyTenantID   = SyncError{"tenant id cannot be empty"}
	ErrEmptyBlob       = SyncError{"image data cannot be empty"}
	ErrEmptyTitle      = SyncError{"title cannot be empty"}
	ErrInvalidStatus   = SyncError{"invalid sync status"}
	ErrPhotoNotFound   = SyncError{"pending photo not found"}
	ErrTourNotFound    = SyncError{"tour not found"}
	ErrStorageFull     = SyncError{"local storage limit reached"}
	ErrInvalidTourType = SyncError{"tour type must be tour_360 or photo_tour"}
)
