package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toursync/agent/internal/models"
	"github.com/toursync/agent/internal/observability"
	"github.com/toursync/agent/internal/services"
)

// Captures can be large panoramas; cap the request body well above them
const maxCaptureBytes = 100 << 20

// PhotoHandler accepts captured photos into the durable queue
type PhotoHandler struct {
	dbService *services.DatabaseService
	logger    *observability.Logger
}

// NewPhotoHandler creates a new PhotoHandler
func NewPhotoHandler(dbService *services.DatabaseService, logger *observability.Logger) *PhotoHandler {
	return &PhotoHandler{dbService: dbService, logger: logger}
}

// QueuePhoto accepts a multipart capture and enqueues it for sync. The photo
// is durable as soon as this returns; upload happens on the next pass.
func (h *PhotoHandler) QueuePhoto(w http.ResponseWriter, r *http.Request) {
	hotspotID := chi.URLParam(r, "hotspotId")

	r.Body = http.MaxBytesReader(w, r.Body, maxCaptureBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Invalid multipart request", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		http.Error(w, "Missing photo file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	blob, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read photo", http.StatusBadRequest)
		return
	}

	tourID := r.FormValue("tourId")
	tenantID := r.FormValue("tenantId")

	var captureDate *time.Time
	if raw := r.FormValue("captureDate"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			captureDate = &t
		}
	}

	photo, err := h.dbService.QueuePhoto(r.Context(), hotspotID, tourID, tenantID, header.Filename, blob, captureDate)
	if err != nil {
		if syncErr, ok := err.(models.SyncError); ok {
			http.Error(w, syncErr.Error(), http.StatusBadRequest)
			return
		}
		h.logger.WithField("hotspot_id", hotspotID).Errorf("Failed to queue photo: %v", err)
		http.Error(w, "Failed to queue photo", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(photo)
}

// RemovePendingPhoto drops a queued photo before it syncs
func (h *PhotoHandler) RemovePendingPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.dbService.RemovePendingPhoto(r.Context(), id); err != nil {
		if err == models.ErrPhotoNotFound {
			http.Error(w, "Photo not found", http.StatusNotFound)
			return
		}
		h.logger.WithField("photo_id", id).Errorf("Failed to remove pending photo: %v", err)
		http.Error(w, "Failed to remove photo", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
