package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// VerificationOutcome is the single result object produced for every
// verification attempt, success or failure.
type VerificationOutcome struct {
	Success    bool            `json:"success"`
	TicketID   string          `json:"ticket_id,omitempty"`
	Email      string          `json:"email,omitempty"`
	EventName  string          `json:"event_name,omitempty"`
	Value      decimal.Decimal `json:"value,omitempty"`
	VerifiedBy string          `json:"verified_by,omitempty"`
	VerifiedAt *time.Time      `json:"verified_at,omitempty"`
	DeviceID   string          `json:"device_id,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
}

// BatchResult reports the per-recipient outcome of a batch issuance.
type BatchResult struct {
	Total     int      `json:"total"`
	Generated int      `json:"generated"`
	Failed    int      `json:"failed"`
	Tickets   []Ticket `json:"tickets"`
	Errors    []string `json:"errors"`
}
