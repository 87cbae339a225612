package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toursync/agent/internal/models"
	"github.com/toursync/agent/internal/observability"
	"github.com/toursync/agent/internal/services"
)

// TourHandler exposes tour documents over the local status API
type TourHandler struct {
	dbService *services.DatabaseService
	logger    *observability.Logger
}

// NewTourHandler creates a new TourHandler
func NewTourHandler(dbService *services.DatabaseService, logger *observability.Logger) *TourHandler {
	return &TourHandler{dbService: dbService, logger: logger}
}

// ListTours enumerates locally available tours
func (h *TourHandler) ListTours(w http.ResponseWriter, r *http.Request) {
	tours, err := h.dbService.ListTours(r.Context())
	if err != nil {
		h.logger.Errorf("Failed to list tours: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tours)
}

// GetTour loads one tour document, remotely when possible
func (h *TourHandler) GetTour(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, err := h.dbService.LoadTour(r.Context(), id)
	if err != nil {
		h.logger.WithField("tour_id", id).Errorf("Failed to load tour: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "Tour not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// SaveTourRequest is the body for saving a full tour document. Immediate
// asks for a direct remote write when online; the default stages the change
// for the next reconciliation pass.
type SaveTourRequest struct {
	Name       string           `json:"name"`
	Data       map[string]any   `json:"data"`
	FloorPlans []map[string]any `json:"floorPlans"`
	Hotspots   []map[string]any `json:"hotspots"`
	Immediate  bool             `json:"immediate"`
}

// SaveTour persists a tour document through the online/offline facade
func (h *TourHandler) SaveTour(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SaveTourRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.dbService.SaveTour(r.Context(), id, req.Name, req.Data, req.FloorPlans, req.Hotspots, req.Immediate); err != nil {
		if err == models.ErrStorageFull {
			http.Error(w, "Local storage is full", http.StatusInsufficientStorage)
			return
		}
		if syncErr, ok := err.(models.SyncError); ok {
			http.Error(w, syncErr.Error(), http.StatusBadRequest)
			return
		}
		h.logger.WithField("tour_id", id).Errorf("Failed to save tour: %v", err)
		http.Error(w, "Failed to save tour", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateTourRequest is the body for creating a tour
type CreateTourRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	CoverImageRef string `json:"coverImageRef"`
	TourType      string `json:"tourType"`
	TenantID      string `json:"tenantId"`
}

// CreateTour creates a tour, queued for sync when offline
func (h *TourHandler) CreateTour(w http.ResponseWriter, r *http.Request) {
	var req CreateTourRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tour, err := h.dbService.CreateTour(r.Context(), req.Title, req.Description, req.CoverImageRef, req.TourType, req.TenantID)
	if err != nil {
		if syncErr, ok := err.(models.SyncError); ok {
			http.Error(w, syncErr.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Errorf("Failed to create tour: %v", err)
		http.Error(w, "Failed to create tour", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tour)
}

// DeleteTour removes a tour locally and, when online and ?immediate=true,
// remotely as well
func (h *TourHandler) DeleteTour(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	immediate := r.URL.Query().Get("immediate") == "true"

	if err := h.dbService.DeleteTour(r.Context(), id, immediate); err != nil {
		h.logger.WithField("tour_id", id).Errorf("Failed to delete tour: %v", err)
		http.Error(w, "Failed to delete tour", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
