package calling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	adapters "github.com/waluebiz/whatsapp-crm-service/internal/adapters/http"
	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"github.com/waluebiz/whatsapp-crm-service/internal/repository"
)

// fakeProvider implements adapters.ProviderAPI with programmable responses.
type fakeProvider struct {
	permissionResp *adapters.ProviderResponse
	callResp       *adapters.ProviderResponse
	endResp        *adapters.ProviderResponse
	err            error

	permissionCalls int
	initiateCalls   int
	endCalls        int
}

func (f *fakeProvider) SendTemplate(ctx context.Context, to, templateName string, parameters []string) (*adapters.ProviderResponse, error) {
	return &adapters.ProviderResponse{Success: true}, nil
}

func (f *fakeProvider) SendText(ctx context.Context, to, body string) (*adapters.ProviderResponse, error) {
	return &adapters.ProviderResponse{Success: true}, nil
}

func (f *fakeProvider) RequestCallPermission(ctx context.Context, to string) (*adapters.ProviderResponse, error) {
	f.permissionCalls++
	return f.permissionResp, f.err
}

func (f *fakeProvider) InitiateCall(ctx context.Context, to string) (*adapters.ProviderResponse, error) {
	f.initiateCalls++
	return f.callResp, f.err
}

func (f *fakeProvider) EndCall(ctx context.Context, callSessionID string) (*adapters.ProviderResponse, error) {
	f.endCalls++
	return f.endResp, f.err
}

func (f *fakeProvider) GetMessageStatus(ctx context.Context, messageID string) (*adapters.ProviderResponse, error) {
	return &adapters.ProviderResponse{Success: true}, nil
}

func (f *fakeProvider) ListTemplates(ctx context.Context) ([]adapters.ProviderTemplate, error) {
	return nil, nil
}

func (f *fakeProvider) ReportUsage(ctx context.Context, report *adapters.UsageReport) error {
	return nil
}

func newTestService(t *testing.T) (*Service, *repository.MemoryRepositoryManager, *fakeProvider) {
	t.Helper()
	repos := repository.NewMemoryRepositoryManager()
	provider := &fakeProvider{
		permissionResp: &adapters.ProviderResponse{Success: true},
		callResp:       &adapters.ProviderResponse{Success: true, CallSessionID: "session-1"},
		endResp:        &adapters.ProviderResponse{Success: true, Cost: 0.12},
	}
	svc := NewService(repos, provider, nil)

	repos.SeedLead(&domain.Lead{
		ID:             "lead-1",
		LeadName:       "Asha Patel",
		WhatsAppNumber: "+919876543210",
	})
	return svc, repos, provider
}

func seedGrantedPermission(t *testing.T, repos *repository.MemoryRepositoryManager, expiresAt time.Time) *domain.CallPermission {
	t.Helper()
	now := time.Now()
	permission := &domain.CallPermission{
		ID:          uuid.NewString(),
		LeadID:      "lead-1",
		PhoneNumber: "+919876543210",
		Status:      domain.PermissionStatusGranted,
		GrantedAt:   &now,
		ExpiresAt:   &expiresAt,
	}
	require.NoError(t, repos.CallPermissions().Create(context.Background(), permission))
	return permission
}

func TestCheckPermission(t *testing.T) {
	ctx := context.Background()

	t.Run("no record means none", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		view, err := svc.CheckPermission(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PermissionStatusNone, view.Status)
		assert.Equal(t, domain.MsgPermissionRequired, view.Message)
		assert.True(t, view.CanRequest)
		assert.False(t, view.CanCall)
	})

	t.Run("active grant", func(t *testing.T) {
		svc, repos, _ := newTestService(t)
		seedGrantedPermission(t, repos, time.Now().Add(48*time.Hour))

		view, err := svc.CheckPermission(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PermissionStatusGranted, view.Status)
		assert.Equal(t, domain.MsgPermissionGranted, view.Message)
		assert.True(t, view.CanCall)
		assert.Equal(t, domain.MaxCallsAfterPermission, view.CallsRemaining)
	})

	t.Run("stale grant reconciled to expired on read", func(t *testing.T) {
		svc, repos, _ := newTestService(t)
		seeded := seedGrantedPermission(t, repos, time.Now().Add(-time.Hour))

		view, err := svc.CheckPermission(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PermissionStatusExpired, view.Status)
		assert.Equal(t, domain.MsgPermissionExpired, view.Message)
		assert.False(t, view.CanCall)

		// persisted, not just presented
		stored, err := repos.CallPermissions().GetByID(ctx, seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PermissionStatusExpired, stored.Status)

		lead, err := repos.Leads().GetByID(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PermissionStatusExpired, lead.WhatsAppCallPermissionStatus)
	})

	t.Run("unknown lead", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.CheckPermission(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestRequestPermission(t *testing.T) {
	ctx := context.Background()

	t.Run("first request creates record and dispatches", func(t *testing.T) {
		svc, repos, provider := newTestService(t)

		view, err := svc.RequestPermission(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PermissionStatusRequested, view.Status)
		assert.Equal(t, domain.MsgPermissionPending, view.Message)
		assert.Equal(t, 1, provider.permissionCalls)

		stored, err := repos.CallPermissions().GetByLead(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, 1, stored.RequestCount24h)
		assert.Equal(t, 1, stored.RequestCount7d)

		lead, err := repos.Leads().GetByID(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PermissionStatusRequested, lead.WhatsAppCallPermissionStatus)
	})

	t.Run("concurrent requests admit exactly one", func(t *testing.T) {
		svc, repos, provider := newTestService(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.RequestPermission(ctx, "lead-1")
			}(i)
		}
		wg.Wait()

		var succeeded, denied int
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrPermissionDenied):
				denied++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, denied)
		assert.Equal(t, 1, provider.permissionCalls, "exactly one dispatch under the limit")

		stored, err := repos.CallPermissions().GetByLead(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, 1, stored.RequestCount24h)
		assert.Equal(t, 1, stored.RequestCount7d)
	})

	t.Run("second request same day hits daily limit", func(t *testing.T) {
		svc, repos, provider := newTestService(t)

		_, err := svc.RequestPermission(ctx, "lead-1")
		require.NoError(t, err)

		// simulate the customer never replying and the agent retrying
		stored, err := repos.CallPermissions().GetByLead(ctx, "lead-1")
		require.NoError(t, err)
		_, err = repos.CallPermissions().UpdateLocked(ctx, stored.ID, func(p *domain.CallPermission) error {
			p.Status = domain.PermissionStatusExpired
			return nil
		})
		require.NoError(t, err)

		_, err = svc.RequestPermission(ctx, "lead-1")
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.Contains(t, err.Error(), domain.MsgDailyLimit)
		assert.Equal(t, 1, provider.permissionCalls, "no dispatch past the limit")
	})

	t.Run("weekly limit after daily resets", func(t *testing.T) {
		svc, repos, _ := newTestService(t)

		permission := &domain.CallPermission{
			ID:             uuid.NewString(),
			LeadID:         "lead-1",
			PhoneNumber:    "+919876543210",
			Status:         domain.PermissionStatusExpired,
			RequestCount7d: domain.CallPermissionWeeklyLimit,
		}
		require.NoError(t, repos.CallPermissions().Create(ctx, permission))

		_, err := svc.RequestPermission(ctx, "lead-1")
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.Contains(t, err.Error(), domain.MsgWeeklyLimit)
	})

	t.Run("pending request blocks another", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.RequestPermission(ctx, "lead-1")
		require.NoError(t, err)

		_, err = svc.RequestPermission(ctx, "lead-1")
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.Contains(t, err.Error(), domain.MsgPermissionPending)
	})

	t.Run("provider failure leaves counters untouched", func(t *testing.T) {
		svc, repos, provider := newTestService(t)
		provider.permissionResp = &adapters.ProviderResponse{Success: false, Error: "unreachable"}

		_, err := svc.RequestPermission(ctx, "lead-1")
		assert.ErrorIs(t, err, domain.ErrTransportFailure)

		stored, err := repos.CallPermissions().GetByLead(ctx, "lead-1")
		require.NoError(t, err)
		assert.Zero(t, stored.RequestCount24h)
		assert.Equal(t, domain.PermissionStatusNone, stored.Status)
	})
}

func TestApplyPermissionReply(t *testing.T) {
	ctx := context.Background()

	t.Run("accept grants with default expiry", func(t *testing.T) {
		svc, repos, _ := newTestService(t)
		_, err := svc.RequestPermission(ctx, "lead-1")
		require.NoError(t, err)

		require.NoError(t, svc.ApplyPermissionReply(ctx, "+919876543210", "ACCEPT", nil))

		stored, err := repos.CallPermissions().GetByLead(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PermissionStatusGranted, stored.Status)
		require.NotNil(t, stored.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(domain.PermissionValidityDays*24*time.Hour), *stored.ExpiresAt, time.Minute)
		assert.Zero(t, stored.CallsMadeCount)
	})

	t.Run("decline leaves request pending", func(t *testing.T) {
		svc, repos, _ := newTestService(t)
		_, err := svc.RequestPermission(ctx, "lead-1")
		require.NoError(t, err)

		require.NoError(t, svc.ApplyPermissionReply(ctx, "+919876543210", "DECLINE", nil))

		stored, err := repos.CallPermissions().GetByLead(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PermissionStatusRequested, stored.Status)
	})

	t.Run("reply without pending request dropped", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		assert.NoError(t, svc.ApplyPermissionReply(ctx, "+15550001111", "ACCEPT", nil))
	})

	t.Run("matches phone without plus prefix", func(t *testing.T) {
		svc, repos, _ := newTestService(t)
		_, err := svc.RequestPermission(ctx, "lead-1")
		require.NoError(t, err)

		require.NoError(t, svc.ApplyPermissionReply(ctx, "919876543210", "ACCEPT", nil))

		stored, err := repos.CallPermissions().GetByLead(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PermissionStatusGranted, stored.Status)
	})
}

func TestInitiateCall(t *testing.T) {
	ctx := context.Background()

	t.Run("success records call and counts against grant", func(t *testing.T) {
		svc, repos, provider := newTestService(t)
		seeded := seedGrantedPermission(t, repos, time.Now().Add(48*time.Hour))

		call, err := svc.InitiateCall(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, domain.CallStatusRinging, call.Status)
		assert.Equal(t, "session-1", call.CallSessionID)
		assert.Equal(t, 1, provider.initiateCalls)

		stored, err := repos.CallPermissions().GetByID(ctx, seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.CallsMadeCount)

		lead, err := repos.Leads().GetByID(ctx, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, 1, lead.TotalWhatsAppCalls)
	})

	t.Run("no permission", func(t *testing.T) {
		svc, _, provider := newTestService(t)
		_, err := svc.InitiateCall(ctx, "lead-1")
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.Contains(t, err.Error(), domain.ErrMsgNoPermission)
		assert.Zero(t, provider.initiateCalls)
	})

	t.Run("expired permission", func(t *testing.T) {
		svc, repos, provider := newTestService(t)
		seedGrantedPermission(t, repos, time.Now().Add(-time.Hour))

		_, err := svc.InitiateCall(ctx, "lead-1")
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.Zero(t, provider.initiateCalls)
	})

	t.Run("call limit exhausted", func(t *testing.T) {
		svc, repos, _ := newTestService(t)
		seeded := seedGrantedPermission(t, repos, time.Now().Add(48*time.Hour))
		_, err := repos.CallPermissions().UpdateLocked(ctx, seeded.ID, func(p *domain.CallPermission) error {
			p.CallsMadeCount = domain.MaxCallsAfterPermission
			return nil
		})
		require.NoError(t, err)

		call, err := svc.InitiateCall(ctx, "lead-1")
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.Contains(t, err.Error(), domain.MsgCallLimit)
		require.NotNil(t, call)
		assert.Equal(t, domain.CallStatusFailed, call.Status)
	})

	t.Run("grant exhausted after five calls", func(t *testing.T) {
		svc, repos, _ := newTestService(t)
		seedGrantedPermission(t, repos, time.Now().Add(48*time.Hour))

		for i := 0; i < domain.MaxCallsAfterPermission; i++ {
			_, err := svc.InitiateCall(ctx, "lead-1")
			require.NoError(t, err)
		}

		_, err := svc.InitiateCall(ctx, "lead-1")
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.Contains(t, err.Error(), domain.MsgCallLimit)
	})

	t.Run("provider failure marks call failed without counting", func(t *testing.T) {
		svc, repos, provider := newTestService(t)
		seeded := seedGrantedPermission(t, repos, time.Now().Add(48*time.Hour))
		provider.callResp = &adapters.ProviderResponse{Success: false, Error: "line busy"}

		call, err := svc.InitiateCall(ctx, "lead-1")
		assert.ErrorIs(t, err, domain.ErrTransportFailure)
		require.NotNil(t, call)
		assert.Equal(t, domain.CallStatusFailed, call.Status)

		stored, err := repos.CallPermissions().GetByID(ctx, seeded.ID)
		require.NoError(t, err)
		assert.Zero(t, stored.CallsMadeCount)
	})
}

func TestEndCall(t *testing.T) {
	ctx := context.Background()

	t.Run("finalizes duration from timestamps", func(t *testing.T) {
		svc, repos, _ := newTestService(t)
		seedGrantedPermission(t, repos, time.Now().Add(48*time.Hour))

		started := time.Now().Add(-90 * time.Second)
		svc.now = func() time.Time { return started }
		call, err := svc.InitiateCall(ctx, "lead-1")
		require.NoError(t, err)

		svc.now = time.Now
		ended, err := svc.EndCall(ctx, call.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CallStatusEnded, ended.Status)
		require.NotNil(t, ended.EndedAt)
		assert.InDelta(t, 90, ended.DurationSeconds, 2)
		assert.Equal(t, 0.12, ended.Cost)
	})

	t.Run("ending an ended call is a no-op", func(t *testing.T) {
		svc, repos, provider := newTestService(t)
		seedGrantedPermission(t, repos, time.Now().Add(48*time.Hour))

		call, err := svc.InitiateCall(ctx, "lead-1")
		require.NoError(t, err)
		first, err := svc.EndCall(ctx, call.ID)
		require.NoError(t, err)

		second, err := svc.EndCall(ctx, call.ID)
		require.NoError(t, err)
		assert.Equal(t, first.DurationSeconds, second.DurationSeconds)
		assert.Equal(t, 1, provider.endCalls, "provider not called twice")
	})

	t.Run("unknown call id", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.EndCall(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestApplyCallStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("terminal status stamps end and duration", func(t *testing.T) {
		svc, repos, _ := newTestService(t)
		seedGrantedPermission(t, repos, time.Now().Add(48*time.Hour))
		call, err := svc.InitiateCall(ctx, "lead-1")
		require.NoError(t, err)

		require.NoError(t, svc.ApplyCallStatus(ctx, "session-1", "ended", 45))

		stored, err := repos.CallLogs().GetByID(ctx, call.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CallStatusEnded, stored.Status)
		assert.Equal(t, 45, stored.DurationSeconds)
	})

	t.Run("already-ended call untouched", func(t *testing.T) {
		svc, repos, _ := newTestService(t)
		seedGrantedPermission(t, repos, time.Now().Add(48*time.Hour))
		call, err := svc.InitiateCall(ctx, "lead-1")
		require.NoError(t, err)
		_, err = svc.EndCall(ctx, call.ID)
		require.NoError(t, err)

		require.NoError(t, svc.ApplyCallStatus(ctx, "session-1", "no_answer", 0))

		stored, err := repos.CallLogs().GetByID(ctx, call.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CallStatusEnded, stored.Status)
	})

	t.Run("unknown session dropped", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		assert.NoError(t, svc.ApplyCallStatus(ctx, "session-x", "ended", 10))
	})

	t.Run("unknown status dropped", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		assert.NoError(t, svc.ApplyCallStatus(ctx, "session-1", "quantum", 0))
	})
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	svc, repos, _ := newTestService(t)
	repos.SeedLead(&domain.Lead{ID: "lead-2", WhatsAppNumber: "+447700900123"})

	stale := seedGrantedPermission(t, repos, time.Now().Add(-time.Hour))
	fresh := &domain.CallPermission{
		ID:          uuid.NewString(),
		LeadID:      "lead-2",
		PhoneNumber: "+447700900123",
		Status:      domain.PermissionStatusGranted,
	}
	exp := time.Now().Add(48 * time.Hour)
	fresh.ExpiresAt = &exp
	require.NoError(t, repos.CallPermissions().Create(ctx, fresh))

	swept, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	stored, err := repos.CallPermissions().GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionStatusExpired, stored.Status)

	untouched, err := repos.CallPermissions().GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionStatusGranted, untouched.Status)
}

func TestCounterResets(t *testing.T) {
	ctx := context.Background()
	svc, repos, _ := newTestService(t)

	permission := &domain.CallPermission{
		ID:              uuid.NewString(),
		LeadID:          "lead-1",
		PhoneNumber:     "+919876543210",
		Status:          domain.PermissionStatusGranted,
		RequestCount24h: 1,
		RequestCount7d:  2,
		CallsMadeCount:  4,
	}
	require.NoError(t, repos.CallPermissions().Create(ctx, permission))

	n, err := svc.ResetDailyCounters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stored, err := repos.CallPermissions().GetByID(ctx, permission.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.RequestCount24h)
	assert.Zero(t, stored.CallsMadeCount, "daily reset also clears the call counter")
	assert.Equal(t, 2, stored.RequestCount7d, "weekly counter untouched by daily reset")

	n, err = svc.ResetWeeklyCounters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stored, err = repos.CallPermissions().GetByID(ctx, permission.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.RequestCount7d)
}
