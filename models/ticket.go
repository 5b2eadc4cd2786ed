package models

import (
	"time"
)

// Ticket lifecycle states. Transitions are monotonic: generated -> sent ->
// used. Verification is legal from both generated and sent; used is terminal.
// Expired exists for housekeeping jobs and is never produced here.
const (
	TicketStatusGenerated = "generated"
	TicketStatusSent      = "sent"
	TicketStatusUsed      = "used"
	TicketStatusExpired   = "expired"
)

// Verification log actions.
const (
	LogActionVerified  = "verified"
	LogActionAttempted = "attempted"
	LogActionFailed    = "failed"
)

type Ticket struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EventName        string     `json:"event_name"`
	EncryptedData    string     `json:"encrypted_data"`
	QRCodeData       string     `json:"qr_code_data"`
	VerificationCode string     `json:"verification_code"`
	Status           string     `json:"status"` // generated, sent, used, expired
	CreatedAt        time.Time  `json:"created_at"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	VerifiedBy       string     `json:"verified_by,omitempty"`
	DeviceID         string     `json:"device_id,omitempty"`
	Version          int        `json:"version"`
}

// VerificationLog is an append-only audit record. One entry is written for
// every verification attempt, not only successes.
type VerificationLog struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	StaffEmail string    `json:"staff_email"`
	DeviceID   string    `json:"device_id"`
	Action     string    `json:"action"` // verified, attempted, failed
	Timestamp  time.Time `json:"timestamp"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// StaffDevice is the durable device-registration record used for historical
// auditing. It is distinct from the hub's live, in-memory Device.
type StaffDevice struct {
	ID         string     `json:"id"`
	DeviceName string     `json:"device_name"`
	StaffEmail string     `json:"staff_email"`
	LastActive *time.Time `json:"last_active,omitempty"`
	IsActive   bool       `json:"is_active"`
}

// VerificationActivity is a log entry joined with its ticket for the
// recent-activity feed.
type VerificationActivity struct {
	VerificationLog
	Email     string `json:"email"`
	EventName string `json:"event_name"`
}

// TicketStats aggregates ticket state for one event (or all events when the
// event name is empty).
type TicketStats struct {
	StatusCounts   map[string]int         `json:"status_counts"`
	TotalTickets   int                    `json:"total_tickets"`
	RecentActivity []VerificationActivity `json:"recent_activity"`
}

// WirePayload is what a scanning client submits. TicketID is an unencrypted
// lookup hint only; the decrypted, identity-matched email is the sole
// trustworthy field.
type WirePayload struct {
	Email    string `json:"email"`
	Data     string `json:"data"`
	TicketID string `json:"ticket_id"`
}
