package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/velvetrope/doorlist/internal/scanner"
	"github.com/velvetrope/doorlist/internal/service"
)

// --- Request / Response DTOs ---

type RedeemRequest struct {
	Code    string `json:"code"`
	EventID string `json:"event_id,omitempty"`
}

type ArmRequest struct {
	// EventID pins the door to one event's pool; empty serves all.
	EventID string `json:"event_id,omitempty"`
}

type ScannerStateResponse struct {
	Door    string                     `json:"door"`
	State   scanner.State              `json:"state"`
	Outcome *service.RedemptionOutcome `json:"outcome,omitempty"`
}

// --- Handler struct & constructor ---

// ScannerHandler serves the door devices. Each door name maps to one
// Scanner session holding the device's workflow state; the stateless
// /scanner/redeem endpoint stays for integrations that do their own
// sequencing.
type ScannerHandler struct {
	redemption *service.RedemptionService

	mu    sync.Mutex
	doors map[string]*scanner.Scanner
}

func NewScannerHandler(redemption *service.RedemptionService) *ScannerHandler {
	return &ScannerHandler{
		redemption: redemption,
		doors:      make(map[string]*scanner.Scanner),
	}
}

// door returns the session for a door name, creating it on first use.
// The event pin is fixed for the session's lifetime.
func (h *ScannerHandler) door(name, eventID string) *scanner.Scanner {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, ok := h.doors[name]
	if !ok {
		sc = scanner.New(h.redemption, nil, eventID)
		h.doors[name] = sc
	}
	return sc
}

// Redeem handles POST /scanner/redeem. The response is always 200 with
// the outcome tag; the door UI branches on result, not on HTTP status.
func (h *ScannerHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}

	outcome := h.redemption.Redeem(r.Context(), req.Code, req.EventID)
	writeJSON(w, http.StatusOK, outcome)
}

// Arm handles POST /scanner/{door}/arm: readies an idle door for a scan.
func (h *ScannerHandler) Arm(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "door")

	var req ArmRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
			return
		}
	}

	sc := h.door(name, req.EventID)
	sc.Arm()
	h.writeState(w, name, sc)
}

// Scan handles POST /scanner/{door}/scan: runs one scanned value
// through scanning -> processing -> terminal. A door that is not
// armed, or is showing a result awaiting reset, refuses the scan.
func (h *ScannerHandler) Scan(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "door")

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}

	sc := h.door(name, "")
	if _, err := sc.Scan(r.Context(), req.Code); err != nil {
		if errors.Is(err, scanner.ErrNotScanning) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "not_scanning"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	h.writeState(w, name, sc)
}

// Reset handles POST /scanner/{door}/reset: the staff action clearing
// a terminal display back to scanning.
func (h *ScannerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "door")
	sc := h.door(name, "")
	sc.Reset()
	h.writeState(w, name, sc)
}

// State handles GET /scanner/{door}/state.
func (h *ScannerHandler) State(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "door")
	h.writeState(w, name, h.door(name, ""))
}

func (h *ScannerHandler) writeState(w http.ResponseWriter, name string, sc *scanner.Scanner) {
	state, outcome := sc.State()
	writeJSON(w, http.StatusOK, ScannerStateResponse{
		Door:    name,
		State:   state,
		Outcome: outcome,
	})
}
