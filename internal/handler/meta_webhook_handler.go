package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/calling"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/messaging"
	"github.com/waluebiz/whatsapp-crm-service/pkg/logger"
	"go.uber.org/zap"
)

// MetaWebhookHandler receives webhook events directly from the Meta Graph
// API for deployments wired straight to a WABA instead of the provider
// platform. Signature verification is best-effort here: Meta deliveries are
// processed even when the app secret is not configured, with a warning.
type MetaWebhookHandler struct {
	messaging   *messaging.Service
	calling     *calling.Service
	appSecret   string
	verifyToken string
}

// NewMetaWebhookHandler creates a Meta webhook handler
func NewMetaWebhookHandler(messagingSvc *messaging.Service, callingSvc *calling.Service, appSecret, verifyToken string) *MetaWebhookHandler {
	if appSecret == "" {
		logger.Base().Warn("Meta app secret not configured, webhook signatures will not be verified")
	}
	return &MetaWebhookHandler{
		messaging:   messagingSvc,
		calling:     callingSvc,
		appSecret:   appSecret,
		verifyToken: verifyToken,
	}
}

// Meta's nested webhook shape: entry -> changes -> value, with parallel
// statuses, messages, and contacts arrays inside each value.
type metaWebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string           `json:"field"`
			Value metaWebhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type metaWebhookValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []metaContact `json:"contacts"`
	Messages []metaMessage `json:"messages"`
	Statuses []metaStatus  `json:"statuses"`
}

type metaContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type metaMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type                string `json:"type"`
		CallPermissionReply *struct {
			Response string `json:"response"`
		} `json:"call_permission_reply"`
	} `json:"interactive"`
}

type metaStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Errors    []struct {
		Code    int    `json:"code"`
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"errors"`
}

// SetupRoutes registers the Meta webhook endpoints
func (h *MetaWebhookHandler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/meta", h.handleVerification).Methods("GET")
	router.HandleFunc("/webhooks/meta", h.handleWebhook).Methods("POST")
}

// handleVerification answers Meta's subscription handshake by echoing
// hub.challenge when the verify token matches.
func (h *MetaWebhookHandler) handleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		logger.Base().Info("Meta webhook subscription verified")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	logger.Base().Warn("Meta webhook verification failed",
		zap.String("mode", mode))
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// verifySignature checks X-Hub-Signature-256. Returns true when no secret is
// configured; direct-WABA deployments without an app secret still need their
// events.
func (h *MetaWebhookHandler) verifySignature(payload []byte, signature string) bool {
	if h.appSecret == "" {
		return true
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(payload)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

func (h *MetaWebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Base().Error("Failed to read Meta webhook body", zap.Error(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		// Soft failure: log loudly but keep processing. Dropping Meta
		// deliveries loses conversation-window opens permanently.
		logger.Base().Warn("Meta webhook signature mismatch, processing anyway",
			zap.String("remote_addr", r.RemoteAddr))
	}

	var payload metaWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Base().Error("Failed to parse Meta webhook", zap.Error(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if payload.Object != "whatsapp_business_account" {
		logger.Base().Debug("Ignoring Meta webhook for other object",
			zap.String("object", payload.Object))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			h.processValue(r.Context(), &change.Value)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MetaWebhookHandler) processValue(ctx context.Context, value *metaWebhookValue) {
	// contacts carry the sender profile; cross-reference by wa_id
	names := make(map[string]string, len(value.Contacts))
	for _, contact := range value.Contacts {
		names[contact.WaID] = contact.Profile.Name
	}

	for _, status := range value.Statuses {
		errorMessage := ""
		if len(status.Errors) > 0 {
			errorMessage = status.Errors[0].Message
			if errorMessage == "" {
				errorMessage = status.Errors[0].Title
			}
		}
		ts := parseMetaTimestamp(status.Timestamp)
		if err := h.messaging.ApplyStatusUpdate(ctx, status.ID, status.Status, ts, errorMessage); err != nil {
			logger.Base().Error("Failed to apply Meta status update",
				zap.String("message_id", status.ID),
				zap.Error(err))
		}
	}

	for _, msg := range value.Messages {
		if msg.Interactive != nil && msg.Interactive.CallPermissionReply != nil {
			response := strings.ToUpper(msg.Interactive.CallPermissionReply.Response)
			if err := h.calling.ApplyPermissionReply(ctx, msg.From, response, nil); err != nil {
				logger.Base().Error("Failed to apply Meta permission reply",
					zap.String("from", msg.From),
					zap.Error(err))
			}
			continue
		}

		body := ""
		if msg.Text != nil {
			body = msg.Text.Body
		}
		if err := h.messaging.IngestInbound(ctx, &messaging.InboundMessage{
			MessageID:   msg.ID,
			From:        msg.From,
			SenderName:  names[msg.From],
			MessageType: msg.Type,
			Body:        body,
			Timestamp:   parseMetaTimestamp(msg.Timestamp),
		}); err != nil {
			logger.Base().Error("Failed to ingest Meta inbound message",
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}
}

// parseMetaTimestamp converts Meta's unix-epoch-string timestamps
func parseMetaTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	epoch, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(epoch, 0).UTC()
	return &t
}
