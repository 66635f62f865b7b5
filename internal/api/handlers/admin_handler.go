package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/velvetrope/doorlist/internal/model"
	"github.com/velvetrope/doorlist/internal/repository"
	"github.com/velvetrope/doorlist/internal/service"
)

// --- Request / Response DTOs ---

type CreateEventRequest struct {
	Title       string  `json:"title"`
	Date        string  `json:"date"` // RFC3339 string
	Location    string  `json:"location"`
	Description *string `json:"description,omitempty"`
	IsActive    bool    `json:"is_active"`
}

type GenerateCodesRequest struct {
	Quantity int `json:"quantity"`
}

type GenerateCodesResponse struct {
	Created int `json:"created"`
}

type ApproveResponse struct {
	Code string `json:"code"`
}

type EventDetailResponse struct {
	Event model.Event      `json:"event"`
	Pool  *model.PoolStats `json:"pool"`
}

// --- Handler struct & constructor ---

type AdminHandler struct {
	db       repository.Conn
	events   *repository.EventRepository
	apps     *service.ApplicationService
	approval *service.ApprovalService
	codes    *service.CodeService
}

func NewAdminHandler(db repository.Conn, events *repository.EventRepository, apps *service.ApplicationService, approval *service.ApprovalService, codes *service.CodeService) *AdminHandler {
	return &AdminHandler{
		db:       db,
		events:   events,
		apps:     apps,
		approval: approval,
		codes:    codes,
	}
}

// --- Handlers ---

// CreateEvent handles POST /admin/events
func (h *AdminHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if req.Title == "" || req.Location == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title and location required"})
		return
	}

	date, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date; use RFC3339"})
		return
	}

	event := &model.Event{
		Title:       req.Title,
		Date:        date,
		Location:    req.Location,
		Description: req.Description,
		IsActive:    req.IsActive,
	}
	if err := h.events.Create(r.Context(), h.db, event); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed_create_event"})
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events (public, active events only)
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListActive(r.Context(), h.db)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed_list_events"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /admin/events/{id}
func (h *AdminHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.events.GetByID(r.Context(), h.db, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "event_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	pool, err := h.codes.Stats(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, EventDetailResponse{Event: *event, Pool: pool})
}

// DeleteEvent handles DELETE /admin/events/{id}; applications and
// codes cascade with the event.
func (h *AdminHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.events.Delete(r.Context(), h.db, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "event_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed_delete_event"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "event_deleted"})
}

// GenerateCodes handles POST /admin/events/{id}/codes
func (h *AdminHandler) GenerateCodes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req GenerateCodesRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
			return
		}
	}

	created, err := h.codes.Generate(r.Context(), id, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "event_not_found"})
		case errors.Is(err, service.ErrGenerationExhausted):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "generation_exhausted"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed_generate_codes"})
		}
		return
	}

	writeJSON(w, http.StatusCreated, GenerateCodesResponse{Created: created})
}

// ListApplications handles GET /admin/events/{id}/applications
func (h *AdminHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	apps, err := h.apps.ListByEvent(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed_list_applications"})
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

// Approve handles POST /admin/applications/{id}/approve
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	code, err := h.approval.Approve(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "application_not_found"})
		case errors.Is(err, service.ErrAlreadyTerminal):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "already_decided"})
		case errors.Is(err, service.ErrNoCodesAvailable):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no_codes_available"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, ApproveResponse{Code: code.Value})
}

// Reject handles POST /admin/applications/{id}/reject
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.approval.Reject(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "application_not_found"})
		case errors.Is(err, service.ErrAlreadyTerminal):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "already_decided"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "application_rejected"})
}
