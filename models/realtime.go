package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Server-to-device event names.
const (
	EventConnected           = "connected"
	EventJoinedEvent         = "joined_event"
	EventLeftEvent           = "left_event"
	EventDeviceConnected     = "device_connected"
	EventDeviceDisconnected  = "device_disconnected"
	EventDeviceLeft          = "device_left"
	EventVerificationStarted = "ticket_verification_started"
	EventTicketVerified      = "ticket_verified"
	EventVerificationFailed  = "ticket_verification_failed"
	EventStatsUpdate         = "stats_update"
	EventSystemAlert         = "system_alert"
	EventForceDisconnect     = "force_disconnect"
	EventError               = "error"
)

// Device-to-server message names.
const (
	MessageJoinEvent    = "join_event"
	MessageLeaveEvent   = "leave_event"
	MessageVerifyTicket = "verify_ticket"
	MessageRequestStats = "request_stats"
)

// RealtimeMessage is the envelope for every server-to-device event.
type RealtimeMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// InboundMessage is the envelope for device-to-server messages; Data is
// decoded per message name.
type InboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Device is a live scanning client registered with the hub. It is a presence
// concept tied to one network connection, never persisted.
type Device struct {
	DeviceID   string    `json:"device_id"`
	StaffEmail string    `json:"staff_email"`
	DeviceName string    `json:"device_name"`
	EventName  string    `json:"event_name"`
	JoinedAt   time.Time `json:"joined_at"`
}

type JoinEventRequest struct {
	EventName  string `json:"event_name"`
	StaffEmail string `json:"staff_email"`
	DeviceName string `json:"device_name"`
}

type JoinedEvent struct {
	EventName     string   `json:"event_name"`
	DeviceID      string   `json:"device_id"`
	ActiveDevices []Device `json:"active_devices"`
	DeviceCount   int      `json:"device_count"`
}

// DeviceEvent announces presence changes (connected, disconnected, left).
type DeviceEvent struct {
	DeviceID   string    `json:"device_id"`
	StaffEmail string    `json:"staff_email"`
	DeviceName string    `json:"device_name"`
	EventName  string    `json:"event_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// VerificationStarted is the advisory pre-commit broadcast. It carries no
// authority; only the post-commit events below resolve an attempt.
type VerificationStarted struct {
	TicketID   string    `json:"ticket_id"`
	StaffEmail string    `json:"staff_email"`
	DeviceName string    `json:"device_name"`
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// TicketVerified is the authoritative success broadcast, sent only after the
// store transaction has committed.
type TicketVerified struct {
	TicketID   string          `json:"ticket_id"`
	Email      string          `json:"email"`
	EventName  string          `json:"event_name"`
	Value      decimal.Decimal `json:"value"`
	VerifiedBy string          `json:"verified_by"`
	VerifiedAt time.Time       `json:"verified_at"`
	DeviceID   string          `json:"device_id"`
	Timestamp  time.Time       `json:"timestamp"`
}

// VerificationFailed is the authoritative failure broadcast. For the
// already-used conflict it discloses the original verifier.
type VerificationFailed struct {
	TicketID   string     `json:"ticket_id"`
	Error      string     `json:"error"`
	ErrorCode  string     `json:"error_code"`
	StaffEmail string     `json:"staff_email"`
	DeviceID   string     `json:"device_id"`
	VerifiedBy string     `json:"verified_by,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

type StatsUpdate struct {
	EventName     string       `json:"event_name"`
	ActiveDevices int          `json:"active_devices"`
	Tickets       *TicketStats `json:"tickets,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

type SystemAlert struct {
	EventName string    `json:"event_name"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HubStats is an overall presence snapshot across all rooms.
type HubStats struct {
	TotalConnectedDevices int            `json:"total_connected_devices"`
	ActiveEvents          int            `json:"active_events"`
	EventDeviceCounts     map[string]int `json:"event_device_counts"`
	Timestamp             time.Time      `json:"timestamp"`
}
