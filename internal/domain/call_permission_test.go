package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanRequestLimits(t *testing.T) {
	tests := []struct {
		name       string
		permission CallPermission
		want       bool
		wantReason string
	}{
		{
			name:       "fresh record can request",
			permission: CallPermission{Status: PermissionStatusNone},
			want:       true,
		},
		{
			name:       "expired can re-request",
			permission: CallPermission{Status: PermissionStatusExpired},
			want:       true,
		},
		{
			name:       "pending request blocks",
			permission: CallPermission{Status: PermissionStatusRequested},
			want:       false,
			wantReason: MsgPermissionPending,
		},
		{
			name:       "active grant blocks",
			permission: CallPermission{Status: PermissionStatusGranted},
			want:       false,
			wantReason: MsgPermissionPending,
		},
		{
			name:       "revoked is terminal",
			permission: CallPermission{Status: PermissionStatusRevoked},
			want:       false,
			wantReason: MsgPermissionRevoked,
		},
		{
			name:       "daily limit blocks",
			permission: CallPermission{Status: PermissionStatusNone, RequestCount24h: CallPermissionDailyLimit},
			want:       false,
			wantReason: MsgDailyLimit,
		},
		{
			name:       "weekly limit blocks",
			permission: CallPermission{Status: PermissionStatusExpired, RequestCount7d: CallPermissionWeeklyLimit},
			want:       false,
			wantReason: MsgWeeklyLimit,
		},
		{
			name:       "daily limit checked before weekly",
			permission: CallPermission{Status: PermissionStatusNone, RequestCount24h: 1, RequestCount7d: 2},
			want:       false,
			wantReason: MsgDailyLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := tt.permission.CanRequest()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestCanCall(t *testing.T) {
	now := time.Now()
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Minute)

	tests := []struct {
		name       string
		permission CallPermission
		want       bool
		wantReason string
	}{
		{
			name:       "granted with calls remaining",
			permission: CallPermission{Status: PermissionStatusGranted, ExpiresAt: &future},
			want:       true,
		},
		{
			name:       "not granted",
			permission: CallPermission{Status: PermissionStatusRequested},
			want:       false,
			wantReason: ErrMsgNoPermission,
		},
		{
			name:       "revoked",
			permission: CallPermission{Status: PermissionStatusRevoked},
			want:       false,
			wantReason: ErrMsgNoPermission,
		},
		{
			name:       "grant past expiry",
			permission: CallPermission{Status: PermissionStatusGranted, ExpiresAt: &past},
			want:       false,
			wantReason: MsgPermissionExpired,
		},
		{
			name:       "call limit exhausted",
			permission: CallPermission{Status: PermissionStatusGranted, ExpiresAt: &future, CallsMadeCount: MaxCallsAfterPermission},
			want:       false,
			wantReason: MsgCallLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := tt.permission.CanCall(now)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestRecordRequestIncrementsBothCounters(t *testing.T) {
	now := time.Now()
	p := &CallPermission{Status: PermissionStatusNone}

	p.RecordRequest(now)

	assert.Equal(t, PermissionStatusRequested, p.Status)
	assert.Equal(t, 1, p.RequestCount24h)
	assert.Equal(t, 1, p.RequestCount7d)
	require.NotNil(t, p.LastRequestSentAt)
	assert.Equal(t, now, *p.LastRequestSentAt)
}

func TestRecordGrantDefaultsExpiry(t *testing.T) {
	now := time.Now()
	p := &CallPermission{Status: PermissionStatusRequested, CallsMadeCount: 3}

	p.RecordGrant(now, nil)

	assert.Equal(t, PermissionStatusGranted, p.Status)
	require.NotNil(t, p.ExpiresAt)
	assert.Equal(t, now.Add(PermissionValidityDays*24*time.Hour), *p.ExpiresAt)
	assert.Equal(t, 0, p.CallsMadeCount, "call counter resets on grant")
}

func TestRecordGrantHonorsExplicitExpiry(t *testing.T) {
	now := time.Now()
	custom := now.Add(48 * time.Hour)
	p := &CallPermission{Status: PermissionStatusRequested}

	p.RecordGrant(now, &custom)

	require.NotNil(t, p.ExpiresAt)
	assert.Equal(t, custom, *p.ExpiresAt)
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.True(t, (&CallPermission{Status: PermissionStatusGranted, ExpiresAt: &past}).IsExpired(now))
	assert.False(t, (&CallPermission{Status: PermissionStatusGranted, ExpiresAt: &future}).IsExpired(now))
	assert.False(t, (&CallPermission{Status: PermissionStatusExpired, ExpiresAt: &past}).IsExpired(now))
	assert.False(t, (&CallPermission{Status: PermissionStatusGranted}).IsExpired(now))
}

func TestCallsRemaining(t *testing.T) {
	assert.Equal(t, MaxCallsAfterPermission, (&CallPermission{}).CallsRemaining())
	assert.Equal(t, 2, (&CallPermission{CallsMadeCount: 3}).CallsRemaining())
	assert.Equal(t, 0, (&CallPermission{CallsMadeCount: 9}).CallsRemaining())
}

func TestMapMetaTemplateStatus(t *testing.T) {
	assert.Equal(t, TemplateStatusApproved, MapMetaTemplateStatus("approved"))
	assert.Equal(t, TemplateStatusPending, MapMetaTemplateStatus("in_appeal"))
	assert.Equal(t, TemplateStatusRejected, MapMetaTemplateStatus("deleted"))
	assert.Equal(t, TemplateStatusPending, MapMetaTemplateStatus("something_new"))
}
