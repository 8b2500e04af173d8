package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceStatusForwardOnly(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		current  MessageStatus
		incoming MessageStatus
		want     bool
		wantStat MessageStatus
	}{
		{"queued to sent", MessageStatusQueued, MessageStatusSent, true, MessageStatusSent},
		{"sent to delivered", MessageStatusSent, MessageStatusDelivered, true, MessageStatusDelivered},
		{"delivered to read", MessageStatusDelivered, MessageStatusRead, true, MessageStatusRead},
		{"sent to read skips delivered", MessageStatusSent, MessageStatusRead, true, MessageStatusRead},
		{"read to delivered regression", MessageStatusRead, MessageStatusDelivered, false, MessageStatusRead},
		{"delivered to sent regression", MessageStatusDelivered, MessageStatusSent, false, MessageStatusDelivered},
		{"same status is no-op", MessageStatusDelivered, MessageStatusDelivered, false, MessageStatusDelivered},
		{"failed overrides sent", MessageStatusSent, MessageStatusFailed, true, MessageStatusFailed},
		{"failed overrides delivered", MessageStatusDelivered, MessageStatusFailed, true, MessageStatusFailed},
		{"failed does not override read", MessageStatusRead, MessageStatusFailed, false, MessageStatusRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &MessageLog{Status: tt.current}
			got := msg.AdvanceStatus(tt.incoming, &now)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantStat, msg.Status)
		})
	}
}

func TestAdvanceStatusFailedIsTerminal(t *testing.T) {
	now := time.Now()
	msg := &MessageLog{Status: MessageStatusFailed}

	for _, status := range []MessageStatus{MessageStatusQueued, MessageStatusSent, MessageStatusDelivered, MessageStatusRead, MessageStatusFailed} {
		assert.False(t, msg.AdvanceStatus(status, &now), "failed must not advance to %s", status)
		assert.Equal(t, MessageStatusFailed, msg.Status)
	}
}

func TestAdvanceStatusStampsTimestamps(t *testing.T) {
	now := time.Now()
	msg := &MessageLog{Status: MessageStatusSent}

	require.True(t, msg.AdvanceStatus(MessageStatusDelivered, &now))
	require.NotNil(t, msg.DeliveredAt)
	assert.Equal(t, now, *msg.DeliveredAt)

	later := now.Add(time.Minute)
	require.True(t, msg.AdvanceStatus(MessageStatusRead, &later))
	require.NotNil(t, msg.ReadAt)
	assert.Equal(t, later, *msg.ReadAt)
	// delivered stamp untouched by the read event
	assert.Equal(t, now, *msg.DeliveredAt)
}

func TestAdvanceStatusReadImpliesDelivered(t *testing.T) {
	now := time.Now()
	msg := &MessageLog{Status: MessageStatusSent}

	require.True(t, msg.AdvanceStatus(MessageStatusRead, &now))
	require.NotNil(t, msg.DeliveredAt)
	assert.Equal(t, now, *msg.DeliveredAt)
	require.NotNil(t, msg.ReadAt)
}

func TestAdvanceStatusUnknownStatus(t *testing.T) {
	now := time.Now()
	msg := &MessageLog{Status: MessageStatusSent}
	assert.False(t, msg.AdvanceStatus(MessageStatus("bounced"), &now))
	assert.Equal(t, MessageStatusSent, msg.Status)
}

func TestParseMessageStatus(t *testing.T) {
	got, ok := ParseMessageStatus("delivered")
	assert.True(t, ok)
	assert.Equal(t, MessageStatusDelivered, got)

	_, ok = ParseMessageStatus("warehoused")
	assert.False(t, ok)
}
