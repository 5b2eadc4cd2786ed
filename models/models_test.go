package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicket_JSONOmitsUnsetLifecycleFields(t *testing.T) {
	ticket := Ticket{
		ID:        "t-1",
		Email:     "alice@example.com",
		EventName: "Gala",
		Status:    TicketStatusGenerated,
		CreatedAt: time.Now().UTC(),
		Version:   1,
	}

	raw, err := json.Marshal(ticket)
	require.NoError(t, err)

	// Lifecycle fields that have not happened yet must not appear at all;
	// clients treat presence as meaning the transition occurred.
	assert.NotContains(t, string(raw), "sent_at")
	assert.NotContains(t, string(raw), "verified_at")
	assert.NotContains(t, string(raw), "verified_by")
}

func TestVerificationOutcome_ConflictRoundTrip(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	outcome := VerificationOutcome{
		TicketID:   "t-1",
		EventName:  "Gala",
		VerifiedBy: "winner@x.com",
		VerifiedAt: &at,
		Error:      "already verified",
		ErrorCode:  "ALREADY_USED",
	}

	raw, err := json.Marshal(outcome)
	require.NoError(t, err)

	var decoded VerificationOutcome
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.False(t, decoded.Success)
	assert.Equal(t, "winner@x.com", decoded.VerifiedBy)
	require.NotNil(t, decoded.VerifiedAt)
	assert.True(t, at.Equal(*decoded.VerifiedAt))
}

func TestWirePayload_Decoding(t *testing.T) {
	raw := `{"email":"alice@example.com","data":"opaque","ticket_id":"t-1"}`

	var wire WirePayload
	require.NoError(t, json.Unmarshal([]byte(raw), &wire))
	assert.Equal(t, "alice@example.com", wire.Email)
	assert.Equal(t, "opaque", wire.Data)
	assert.Equal(t, "t-1", wire.TicketID)
}

func TestTicketVerified_ValueSerializesAsDecimalString(t *testing.T) {
	msg := TicketVerified{
		TicketID: "t-1",
		Value:    decimal.RequireFromString("25.50"),
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"value":"25.5"`)
}

func TestInboundMessage_DataStaysRaw(t *testing.T) {
	raw := `{"event":"join_event","data":{"event_name":"Gala","staff_email":"s1@x.com","device_name":"Gate A"}}`

	var msg InboundMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, MessageJoinEvent, msg.Event)

	var join JoinEventRequest
	require.NoError(t, json.Unmarshal(msg.Data, &join))
	assert.Equal(t, "Gala", join.EventName)
	assert.Equal(t, "Gate A", join.DeviceName)
}

func TestStatusAndActionConstants(t *testing.T) {
	assert.Equal(t, "generated", TicketStatusGenerated)
	assert.Equal(t, "sent", TicketStatusSent)
	assert.Equal(t, "used", TicketStatusUsed)
	assert.Equal(t, "expired", TicketStatusExpired)

	assert.Equal(t, "verified", LogActionVerified)
	assert.Equal(t, "attempted", LogActionAttempted)
	assert.Equal(t, "failed", LogActionFailed)
}
