package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/velvetrope/doorlist/internal/service"
)

// --- Request / Response DTOs ---

type SubmitApplicationRequest struct {
	Handle       string `json:"handle"`
	DeviceSecret string `json:"device_secret"`
}

type ApplicationResponse struct {
	ID           string  `json:"id"`
	EventID      string  `json:"event_id"`
	Handle       string  `json:"handle"`
	Status       string  `json:"status"`
	AssignedCode *string `json:"assigned_code,omitempty"`
}

// --- Handler struct & constructor ---

type ApplicationHandler struct {
	apps *service.ApplicationService
}

func NewApplicationHandler(apps *service.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{apps: apps}
}

// SubmitOrFetch handles POST /events/{eventID}/applications.
// First call from a device creates a pending application; later calls
// return the current status and, once approved, the assigned code.
func (h *ApplicationHandler) SubmitOrFetch(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req SubmitApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}

	app, err := h.apps.SubmitOrFetch(r.Context(), eventID, req.Handle, req.DeviceSecret, r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidHandle):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_handle"})
		case errors.Is(err, service.ErrDeviceMismatch):
			// Do not leak whether or what was found for this handle.
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "device_mismatch"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, ApplicationResponse{
		ID:           app.ID,
		EventID:      app.EventID,
		Handle:       app.Handle,
		Status:       string(app.Status),
		AssignedCode: app.AssignedCode,
	})
}
