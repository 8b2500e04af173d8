package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/calling"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/messaging"
	"github.com/waluebiz/whatsapp-crm-service/pkg/logger"
	appRedis "github.com/waluebiz/whatsapp-crm-service/pkg/redis"
	"go.uber.org/zap"
)

const webhookDedupeTTL = 24 * time.Hour

// ProviderWebhookHandler receives webhook events forwarded by the provider
// platform. The provider signs every delivery; an unverifiable request is
// rejected outright.
type ProviderWebhookHandler struct {
	messaging     *messaging.Service
	calling       *calling.Service
	redisSvc      appRedis.RedisServiceInterface
	webhookSecret string
}

// NewProviderWebhookHandler creates a provider webhook handler
func NewProviderWebhookHandler(messagingSvc *messaging.Service, callingSvc *calling.Service, redisSvc appRedis.RedisServiceInterface, webhookSecret string) *ProviderWebhookHandler {
	if webhookSecret == "" {
		logger.Base().Warn("Provider webhook secret not configured, all provider webhooks will be rejected")
	}
	return &ProviderWebhookHandler{
		messaging:     messagingSvc,
		calling:       callingSvc,
		redisSvc:      redisSvc,
		webhookSecret: webhookSecret,
	}
}

// providerEvent is the provider's webhook envelope: a type discriminator and
// a type-specific payload.
type providerEvent struct {
	Type      string          `json:"type"`
	EventID   string          `json:"event_id"`
	Timestamp *time.Time      `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type messageStatusPayload struct {
	MessageID string     `json:"message_id"`
	Status    string     `json:"status"`
	Timestamp *time.Time `json:"timestamp"`
	Errors    []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

type inboundMessagePayload struct {
	MessageID   string     `json:"message_id"`
	From        string     `json:"from"`
	SenderName  string     `json:"sender_name"`
	MessageType string     `json:"message_type"`
	Body        string     `json:"body"`
	Timestamp   *time.Time `json:"timestamp"`
}

type permissionReplyPayload struct {
	From      string     `json:"from"`
	Response  string     `json:"response"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type callStatusPayload struct {
	CallSessionID   string `json:"call_session_id"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_seconds"`
}

// SetupRoutes registers the provider webhook endpoint
func (h *ProviderWebhookHandler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/provider", h.handleWebhook).Methods("POST")
}

// verifySignature verifies the X-Walue-Signature header using HMAC-SHA256
// over the raw body. Unlike the direct Meta path there is no soft-fail: the
// provider always signs, so a missing secret or bad signature is a hard
// reject.
func (h *ProviderWebhookHandler) verifySignature(payload []byte, signature string) bool {
	if h.webhookSecret == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(payload)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

// isDuplicate checks the redis dedupe barrier for this delivery. Fail-open:
// when redis is down the database unique index still stops double inserts.
func (h *ProviderWebhookHandler) isDuplicate(ctx context.Context, event *providerEvent) bool {
	if h.redisSvc == nil {
		return false
	}
	id := event.EventID
	if id == "" {
		return false
	}
	key := h.redisSvc.GenerateKey(appRedis.WEBHOOK_DEDUPE, event.Type+":"+id)
	fresh, err := h.redisSvc.SetIfAbsent(ctx, key, webhookDedupeTTL)
	if err != nil {
		logger.Base().Warn("Webhook dedupe check failed, processing anyway", zap.Error(err))
		return false
	}
	return !fresh
}

func (h *ProviderWebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Base().Error("Failed to read provider webhook body", zap.Error(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Walue-Signature")) {
		logger.Base().Warn("Provider webhook signature verification failed",
			zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var event providerEvent
	if err := json.Unmarshal(body, &event); err != nil {
		logger.Base().Error("Failed to parse provider webhook", zap.Error(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.isDuplicate(r.Context(), &event) {
		logger.Base().Debug("Duplicate provider webhook, acknowledging without processing",
			zap.String("type", event.Type),
			zap.String("event_id", event.EventID))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := h.processEvent(r.Context(), &event); err != nil {
		// Processing failures are logged but still acknowledged; the
		// provider's retries would only replay the same failure.
		logger.Base().Error("Failed to process provider webhook",
			zap.String("type", event.Type),
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ProviderWebhookHandler) processEvent(ctx context.Context, event *providerEvent) error {
	switch event.Type {
	case "message_status":
		var payload messageStatusPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return err
		}
		errorMessage := ""
		if len(payload.Errors) > 0 {
			errorMessage = payload.Errors[0].Message
		}
		ts := payload.Timestamp
		if ts == nil {
			ts = event.Timestamp
		}
		return h.messaging.ApplyStatusUpdate(ctx, payload.MessageID, payload.Status, ts, errorMessage)

	case "inbound_message":
		var payload inboundMessagePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return err
		}
		ts := payload.Timestamp
		if ts == nil {
			ts = event.Timestamp
		}
		return h.messaging.IngestInbound(ctx, &messaging.InboundMessage{
			MessageID:   payload.MessageID,
			From:        payload.From,
			SenderName:  payload.SenderName,
			MessageType: payload.MessageType,
			Body:        payload.Body,
			Timestamp:   ts,
		})

	case "call_permission_reply":
		var payload permissionReplyPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return err
		}
		return h.calling.ApplyPermissionReply(ctx, payload.From, payload.Response, payload.ExpiresAt)

	case "call_status":
		var payload callStatusPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return err
		}
		return h.calling.ApplyCallStatus(ctx, payload.CallSessionID, payload.Status, payload.DurationSeconds)

	default:
		logger.Base().Warn("Unknown provider webhook type, dropping",
			zap.String("type", event.Type))
		return nil
	}
}
