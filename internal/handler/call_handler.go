package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/calling"
)

// CallHandler exposes the calling API: permission lifecycle and call control.
type CallHandler struct {
	calling *calling.Service
}

// NewCallHandler creates a new call handler
func NewCallHandler(callingSvc *calling.Service) *CallHandler {
	return &CallHandler{calling: callingSvc}
}

// SetupRoutes registers the calling API routes
func (h *CallHandler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/leads/{leadId}/call-permission", h.CheckPermission).Methods("GET")
	router.HandleFunc("/leads/{leadId}/call-permission/request", h.RequestPermission).Methods("POST")
	router.HandleFunc("/leads/{leadId}/calls", h.InitiateCall).Methods("POST")
	router.HandleFunc("/leads/{leadId}/calls", h.History).Methods("GET")
	router.HandleFunc("/calls/{callId}/end", h.EndCall).Methods("POST")
}

// CheckPermission reports the current call permission state for a lead
func (h *CallHandler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	leadID := mux.Vars(r)["leadId"]

	view, err := h.calling.CheckPermission(r.Context(), leadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RequestPermission sends a call permission request to the lead
func (h *CallHandler) RequestPermission(w http.ResponseWriter, r *http.Request) {
	leadID := mux.Vars(r)["leadId"]

	view, err := h.calling.RequestPermission(r.Context(), leadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// InitiateCall starts an outbound call to the lead
func (h *CallHandler) InitiateCall(w http.ResponseWriter, r *http.Request) {
	leadID := mux.Vars(r)["leadId"]

	call, err := h.calling.InitiateCall(r.Context(), leadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

// EndCall terminates an in-progress call
func (h *CallHandler) EndCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["callId"]

	call, err := h.calling.EndCall(r.Context(), callID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// History returns the recent calls for a lead
func (h *CallHandler) History(w http.ResponseWriter, r *http.Request) {
	leadID := mux.Vars(r)["leadId"]

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	calls, err := h.calling.History(r.Context(), leadID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}
