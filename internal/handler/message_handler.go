package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/messaging"
)

const defaultHistoryLimit = 50

// MessageHandler exposes the messaging API: window checks, sends, history,
// and the template cache.
type MessageHandler struct {
	messaging *messaging.Service
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(messagingSvc *messaging.Service) *MessageHandler {
	return &MessageHandler{messaging: messagingSvc}
}

// SetupRoutes registers the messaging API routes
func (h *MessageHandler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/leads/{leadId}/conversation-window", h.CheckWindow).Methods("GET")
	router.HandleFunc("/leads/{leadId}/messages", h.History).Methods("GET")
	router.HandleFunc("/messages/template", h.SendTemplate).Methods("POST")
	router.HandleFunc("/messages/text", h.SendText).Methods("POST")
	router.HandleFunc("/templates", h.ListTemplates).Methods("GET")
	router.HandleFunc("/templates/sync", h.SyncTemplates).Methods("POST")
}

// CheckWindow reports the 24-hour conversation window for a lead
func (h *MessageHandler) CheckWindow(w http.ResponseWriter, r *http.Request) {
	leadID := mux.Vars(r)["leadId"]

	window, err := h.messaging.CheckConversationWindow(r.Context(), leadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, window)
}

// SendTemplate sends a template message to a lead
func (h *MessageHandler) SendTemplate(w http.ResponseWriter, r *http.Request) {
	var req messaging.SendTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.messaging.SendTemplate(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// SendText sends a free-form text message to a lead
func (h *MessageHandler) SendText(w http.ResponseWriter, r *http.Request) {
	var req messaging.SendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.messaging.SendText(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// History returns the recent messages for a lead
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	leadID := mux.Vars(r)["leadId"]

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.messaging.History(r.Context(), leadID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// ListTemplates returns the cached templates
func (h *MessageHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	approvedOnly := r.URL.Query().Get("approved") == "true"

	templates, err := h.messaging.ListTemplates(r.Context(), approvedOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

// SyncTemplates refreshes the template cache from the provider
func (h *MessageHandler) SyncTemplates(w http.ResponseWriter, r *http.Request) {
	synced, err := h.messaging.SyncTemplates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"synced":  synced,
	})
}
