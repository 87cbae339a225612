package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/toursync/agent/internal/observability"
	"github.com/toursync/agent/internal/services"
)

// SyncHandler exposes the sync engine over the local status API
type SyncHandler struct {
	reconciler *services.Reconciler
	dbService  *services.DatabaseService
	monitor    *services.ConnectivityMonitor
	logger     *observability.Logger
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(
	reconciler *services.Reconciler,
	dbService *services.DatabaseService,
	monitor *services.ConnectivityMonitor,
	logger *observability.Logger,
) *SyncHandler {
	return &SyncHandler{
		reconciler: reconciler,
		dbService:  dbService,
		monitor:    monitor,
		logger:     logger,
	}
}

// GetStatus returns the engine's current state
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.reconciler.Status(r.Context())
	if err != nil {
		h.logger.Errorf("Failed to read sync status: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// SyncNow runs a reconciliation pass and returns its outcome. When a pass is
// already running the request coalesces and 202 is returned instead.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	if !h.monitor.IsOnline() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "Agent is offline."})
		return
	}

	result, err := h.reconciler.SyncNow(r.Context())
	if err != nil {
		h.logger.Errorf("Manual sync failed: %v", err)
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if result == nil {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "sync already in progress"})
		return
	}
	json.NewEncoder(w).Encode(result)
}

// GetPending lists queued photos, optionally filtered by hotspot
func (h *SyncHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	hotspotID := r.URL.Query().Get("hotspotId")

	photos, err := h.dbService.PendingPhotos(r.Context(), hotspotID)
	if err != nil {
		h.logger.Errorf("Failed to list pending photos: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(photos)
}

// SetConnectivity records an online/offline transition reported by the
// platform layer. Coming back online triggers a sync pass.
func (h *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsOnline bool `json:"isOnline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.monitor.SetOnline(req.IsOnline)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"isOnline": req.IsOnline})
}

// GetStorageStats reports local cache and queue usage
func (h *SyncHandler) GetStorageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dbService.Stats(r.Context())
	if err != nil {
		h.logger.Errorf("Failed to read storage stats: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
