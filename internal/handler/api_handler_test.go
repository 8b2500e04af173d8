package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"github.com/waluebiz/whatsapp-crm-service/internal/repository"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/calling"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/messaging"
)

func newAPIFixture(t *testing.T) *webhookFixture {
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
	NewMessageHandler(messagingSvc).SetupRoutes(router)
	NewCallHandler(callingSvc).SetupRoutes(router)
	return &webhookFixture{router: router, repos: repos}
}

func (f *webhookFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *webhookFixture) postJSON(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func seedInboundNow(t *testing.T, repos *repository.MemoryRepositoryManager) {
	t.Helper()
	now := time.Now().Add(-time.Hour)
	require.NoError(t, repos.MessageLogs().Create(context.Background(), &domain.MessageLog{
		ID:          uuid.NewString(),
		LeadID:      "lead-1",
		MessageID:   uuid.NewString(),
		Direction:   domain.DirectionInbound,
		FromNumber:  "+919876543210",
		Status:      domain.MessageStatusDelivered,
		SentAt:      &now,
		DeliveredAt: &now,
	}))
}

func TestCheckWindowEndpoint(t *testing.T) {
	t.Run("closed window", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.get(t, "/leads/lead-1/conversation-window")
		require.Equal(t, http.StatusOK, rec.Code)

		var window messaging.WindowView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &window))
		assert.False(t, window.InWindow)
	})

	t.Run("open window", func(t *testing.T) {
		f := newAPIFixture(t)
		seedInboundNow(t, f.repos)

		rec := f.get(t, "/leads/lead-1/conversation-window")
		require.Equal(t, http.StatusOK, rec.Code)

		var window messaging.WindowView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &window))
		assert.True(t, window.InWindow)
		assert.Greater(t, window.RemainingSeconds, int64(0))
	})

	t.Run("unknown lead", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.get(t, "/leads/ghost/conversation-window")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSendTextEndpoint(t *testing.T) {
	t.Run("outside window forbidden", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.postJSON(t, "/messages/text", messaging.SendTextRequest{LeadID: "lead-1", Body: "hi"})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, false, resp["success"])
	})

	t.Run("inside window created", func(t *testing.T) {
		f := newAPIFixture(t)
		seedInboundNow(t, f.repos)

		rec := f.postJSON(t, "/messages/text", messaging.SendTextRequest{LeadID: "lead-1", Body: "hi"})
		require.Equal(t, http.StatusCreated, rec.Code)

		var msg domain.MessageLog
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
		assert.Equal(t, domain.MessageStatusSent, msg.Status)
	})
}

func TestSendTemplateEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.repos.Templates().Upsert(context.Background(), &domain.WhatsAppTemplate{
		ID:           uuid.NewString(),
		TemplateName: "site_visit_reminder",
		Language:     "en",
		Status:       domain.TemplateStatusApproved,
	}))

	rec := f.postJSON(t, "/messages/template", messaging.SendTemplateRequest{
		LeadID:       "lead-1",
		TemplateName: "site_visit_reminder",
		Parameters:   []string{"Asha", "tomorrow 11am"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("unapproved template rejected", func(t *testing.T) {
		rec := f.postJSON(t, "/messages/template", messaging.SendTemplateRequest{
			LeadID:       "lead-1",
			TemplateName: "unknown_template",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCallPermissionEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/leads/lead-1/call-permission")
	require.Equal(t, http.StatusOK, rec.Code)

	var view calling.PermissionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, domain.PermissionStatusNone, view.Status)
	assert.True(t, view.CanRequest)

	rec = f.postJSON(t, "/leads/lead-1/call-permission/request", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, domain.PermissionStatusRequested, view.Status)

	// a second request inside the same day trips the limit
	rec = f.postJSON(t, "/leads/lead-1/call-permission/request", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCallEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("call without permission forbidden", func(t *testing.T) {
		rec := f.postJSON(t, "/leads/lead-1/calls", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("call with grant then end", func(t *testing.T) {
		now := time.Now()
		exp := now.Add(48 * time.Hour)
		require.NoError(t, f.repos.CallPermissions().Create(context.Background(), &domain.CallPermission{
			ID:          uuid.NewString(),
			LeadID:      "lead-1",
			PhoneNumber: "+919876543210",
			Status:      domain.PermissionStatusGranted,
			GrantedAt:   &now,
			ExpiresAt:   &exp,
		}))

		rec := f.postJSON(t, "/leads/lead-1/calls", nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		var call domain.CallLog
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &call))
		assert.Equal(t, domain.CallStatusRinging, call.Status)

		rec = f.postJSON(t, "/calls/"+call.ID+"/end", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &call))
		assert.Equal(t, domain.CallStatusEnded, call.Status)
	})

	t.Run("history", func(t *testing.T) {
		rec := f.get(t, "/leads/lead-1/calls")
		require.Equal(t, http.StatusOK, rec.Code)

		var calls []*domain.CallLog
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &calls))
		assert.Len(t, calls, 1)
	})
}
