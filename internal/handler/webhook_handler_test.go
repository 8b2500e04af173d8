package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	adapters "github.com/waluebiz/whatsapp-crm-service/internal/adapters/http"
	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"github.com/waluebiz/whatsapp-crm-service/internal/repository"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/calling"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/messaging"
)

const testWebhookSecret = "test-webhook-secret"

// stubProvider satisfies adapters.ProviderAPI for handler tests; webhook
// processing never calls outbound provider endpoints.
type stubProvider struct{}

func (stubProvider) SendTemplate(ctx context.Context, to, templateName string, parameters []string) (*adapters.ProviderResponse, error) {
	return &adapters.ProviderResponse{Success: true}, nil
}

func (stubProvider) SendText(ctx context.Context, to, body string) (*adapters.ProviderResponse, error) {
	return &adapters.ProviderResponse{Success: true}, nil
}

func (stubProvider) RequestCallPermission(ctx context.Context, to string) (*adapters.ProviderResponse, error) {
	return &adapters.ProviderResponse{Success: true}, nil
}

func (stubProvider) InitiateCall(ctx context.Context, to string) (*adapters.ProviderResponse, error) {
	return &adapters.ProviderResponse{Success: true, CallSessionID: "session-1"}, nil
}

func (stubProvider) EndCall(ctx context.Context, callSessionID string) (*adapters.ProviderResponse, error) {
	return &adapters.ProviderResponse{Success: true}, nil
}

func (stubProvider) GetMessageStatus(ctx context.Context, messageID string) (*adapters.ProviderResponse, error) {
	return &adapters.ProviderResponse{Success: true}, nil
}

func (stubProvider) ListTemplates(ctx context.Context) ([]adapters.ProviderTemplate, error) {
	return nil, nil
}

func (stubProvider) ReportUsage(ctx context.Context, report *adapters.UsageReport) error {
	return nil
}

type webhookFixture struct {
	router *mux.Router
	repos  *repository.MemoryRepositoryManager
}

func newWebhookFixture(t *testing.T, providerSecret string) *webhookFixture {
	t.Helper()
	repos := repository.NewMemoryRepositoryManager()
	repos.SeedLead(&domain.Lead{
		ID:             "lead-1",
		LeadName:       "Asha Patel",
		WhatsAppNumber: "+919876543210",
	})

	messagingSvc := messaging.NewService(repos, stubProvider{}, nil)
	callingSvc := calling.NewService(repos, stubProvider{}, nil)

	router := mux.NewRouter()
	NewProviderWebhookHandler(messagingSvc, callingSvc, nil, providerSecret).SetupRoutes(router)
	return &webhookFixture{router: router, repos: repos}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (f *webhookFixture) post(t *testing.T, path, signatureHeader, signature string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func seedOutboundSent(t *testing.T, repos *repository.MemoryRepositoryManager, messageID string) *domain.MessageLog {
	t.Helper()
	sent := time.Now().Add(-5 * time.Minute)
	msg := &domain.MessageLog{
		ID:        uuid.NewString(),
		LeadID:    "lead-1",
		MessageID: messageID,
		Direction: domain.DirectionOutbound,
		ToNumber:  "+919876543210",
		Status:    domain.MessageStatusSent,
		SentAt:    &sent,
	}
	require.NoError(t, repos.MessageLogs().Create(context.Background(), msg))
	return msg
}

func seedRequestedPermission(t *testing.T, repos *repository.MemoryRepositoryManager) *domain.CallPermission {
	t.Helper()
	requested := time.Now().Add(-time.Hour)
	permission := &domain.CallPermission{
		ID:                uuid.NewString(),
		LeadID:            "lead-1",
		PhoneNumber:       "+919876543210",
		Status:            domain.PermissionStatusRequested,
		RequestCount24h:   1,
		RequestCount7d:    1,
		LastRequestSentAt: &requested,
	}
	require.NoError(t, repos.CallPermissions().Create(context.Background(), permission))
	return permission
}

func TestProviderWebhookSignature(t *testing.T) {
	body := []byte(`{"type":"inbound_message","event_id":"evt-1","data":{}}`)

	t.Run("valid signature accepted", func(t *testing.T) {
		f := newWebhookFixture(t, testWebhookSecret)
		rec := f.post(t, "/webhooks/provider", "X-Walue-Signature", sign(testWebhookSecret, body), body)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong signature rejected", func(t *testing.T) {
		f := newWebhookFixture(t, testWebhookSecret)
		rec := f.post(t, "/webhooks/provider", "X-Walue-Signature", sign("wrong-secret", body), body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing signature rejected", func(t *testing.T) {
		f := newWebhookFixture(t, testWebhookSecret)
		rec := f.post(t, "/webhooks/provider", "X-Walue-Signature", "", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("no secret configured rejects everything", func(t *testing.T) {
		f := newWebhookFixture(t, "")
		rec := f.post(t, "/webhooks/provider", "X-Walue-Signature", sign("", body), body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed body rejected after signature passes", func(t *testing.T) {
		f := newWebhookFixture(t, testWebhookSecret)
		garbage := []byte(`{"type":`)
		rec := f.post(t, "/webhooks/provider", "X-Walue-Signature", sign(testWebhookSecret, garbage), garbage)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestProviderWebhookMessageStatus(t *testing.T) {
	f := newWebhookFixture(t, testWebhookSecret)
	seedOutboundSent(t, f.repos, "wamid.status.1")

	body := []byte(`{"type":"message_status","event_id":"evt-2","data":{"message_id":"wamid.status.1","status":"delivered"}}`)
	rec := f.post(t, "/webhooks/provider", "X-Walue-Signature", sign(testWebhookSecret, body), body)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.repos.MessageLogs().GetByMessageID(context.Background(), "wamid.status.1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusDelivered, stored.Status)
	assert.NotNil(t, stored.DeliveredAt)
}

func TestProviderWebhookInboundMessage(t *testing.T) {
	f := newWebhookFixture(t, testWebhookSecret)

	body := []byte(`{"type":"inbound_message","event_id":"evt-3","data":{"message_id":"wamid.in.1","from":"+919876543210","sender_name":"Asha","message_type":"text","body":"hello"}}`)
	rec := f.post(t, "/webhooks/provider", "X-Walue-Signature", sign(testWebhookSecret, body), body)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.repos.MessageLogs().GetByMessageID(context.Background(), "wamid.in.1")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionInbound, stored.Direction)
	assert.Equal(t, "lead-1", stored.LeadID)
	assert.Equal(t, "hello", stored.MessageContent)
}

func TestProviderWebhookPermissionReply(t *testing.T) {
	f := newWebhookFixture(t, testWebhookSecret)
	permission := seedRequestedPermission(t, f.repos)

	body := []byte(`{"type":"call_permission_reply","event_id":"evt-4","data":{"from":"+919876543210","response":"ACCEPT"}}`)
	rec := f.post(t, "/webhooks/provider", "X-Walue-Signature", sign(testWebhookSecret, body), body)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.repos.CallPermissions().GetByID(context.Background(), permission.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionStatusGranted, stored.Status)
	assert.NotNil(t, stored.ExpiresAt)
}

func TestProviderWebhookCallStatus(t *testing.T) {
	f := newWebhookFixture(t, testWebhookSecret)
	call := &domain.CallLog{
		ID:            uuid.NewString(),
		LeadID:        "lead-1",
		Direction:     domain.CallDirectionOutbound,
		CallSessionID: "session-42",
		Status:        domain.CallStatusRinging,
		StartedAt:     time.Now().Add(-time.Minute),
	}
	require.NoError(t, f.repos.CallLogs().Create(context.Background(), call))

	body := []byte(`{"type":"call_status","event_id":"evt-5","data":{"call_session_id":"session-42","status":"ended","duration_seconds":42}}`)
	rec := f.post(t, "/webhooks/provider", "X-Walue-Signature", sign(testWebhookSecret, body), body)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.repos.CallLogs().GetByID(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, stored.Status)
	assert.Equal(t, 42, stored.DurationSeconds)
}

func TestProviderWebhookUnknownTypeAcknowledged(t *testing.T) {
	f := newWebhookFixture(t, testWebhookSecret)
	body := []byte(`{"type":"account_review","event_id":"evt-6","data":{}}`)
	rec := f.post(t, "/webhooks/provider", "X-Walue-Signature", sign(testWebhookSecret, body), body)
	assert.Equal(t, http.StatusOK, rec.Code)
}
