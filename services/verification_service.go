package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"ticket-verify/encryption"
	"ticket-verify/internal/status"
	"ticket-verify/models"
	"ticket-verify/monitoring"
)

// Broadcaster fans authoritative outcomes out to the devices watching an
// event. Implemented by realtime.Hub.
type Broadcaster interface {
	BroadcastVerified(eventName string, data models.TicketVerified)
	BroadcastFailed(eventName string, data models.VerificationFailed)
}

// Notifier pushes outcomes to external subscribers. Implemented by
// notify.Notifier.
type Notifier interface {
	Enqueue(outcome models.VerificationOutcome)
}

// VerifyRequest is one scan: the wire payload plus the verifying staff
// context.
type VerifyRequest struct {
	Email      string `json:"email"`
	Data       string `json:"data"`
	TicketID   string `json:"ticket_id"`
	StaffEmail string `json:"staff_email"`
	DeviceID   string `json:"device_id"`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
}

// CodeVerifyRequest is the manual fallback path: a short numeric code read
// out by the guest instead of a scanned payload.
type CodeVerifyRequest struct {
	EventName  string `json:"event_name"`
	Code       string `json:"code"`
	StaffEmail string `json:"staff_email"`
	DeviceID   string `json:"device_id"`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
}

// VerificationService runs the verification pipeline: decode, freshness
// check, atomic state transition, then fan-out. Every attempt produces
// exactly one VerificationOutcome and one audit log entry; broadcasts and
// notifications happen strictly after the store transaction resolves.
type VerificationService struct {
	store    Store
	enc      *encryption.Service
	hub      Broadcaster
	notifier Notifier
	redis    *redis.Client

	maxAge   time.Duration
	cacheTTL time.Duration
}

func NewVerificationService(store Store, enc *encryption.Service, hub Broadcaster, notifier Notifier, redisClient *redis.Client, maxAge, cacheTTL time.Duration) *VerificationService {
	return &VerificationService{
		store:    store,
		enc:      enc,
		hub:      hub,
		notifier: notifier,
		redis:    redisClient,
		maxAge:   maxAge,
		cacheTTL: cacheTTL,
	}
}

// Verify processes one scanned payload. The TicketID in the request is an
// untrusted hint used only for audit logging when decryption fails; the id
// acted upon always comes from inside the decrypted payload.
func (s *VerificationService) Verify(ctx context.Context, req VerifyRequest) models.VerificationOutcome {
	start := time.Now()

	fields, err := s.enc.Decrypt(req.Data, req.Email)
	if err == nil && !fields.Valid {
		// Payloads are only ever issued with valid=true.
		err = status.ErrDecryptionFailed
	}
	if err != nil {
		// The event room is unknown without a decrypted payload, so there is
		// nothing to broadcast to.
		s.log(ctx, req.TicketID, req, models.LogActionFailed)
		return s.fail(start, "", req, req.TicketID, err)
	}

	if !s.enc.ValidateTimestamp(fields, s.maxAge) {
		s.log(ctx, fields.TicketID, req, models.LogActionFailed)
		s.broadcastFailure(fields.EventName, fields.TicketID, req, status.ErrExpired, nil)
		return s.fail(start, fields.EventName, req, fields.TicketID, status.ErrExpired)
	}

	// A cached recent success lets hot duplicate scans resolve without
	// touching the row lock. The cache is advisory; only successes are
	// cached, and a cached success is by definition an already-used conflict
	// for every later scan.
	if cached, ok := s.recentOutcome(ctx, fields.EventName, fields.TicketID); ok && cached.Success {
		conflict := &status.AlreadyUsedError{VerifiedBy: cached.VerifiedBy}
		if cached.VerifiedAt != nil {
			conflict.VerifiedAt = *cached.VerifiedAt
		}
		s.log(ctx, fields.TicketID, req, models.LogActionAttempted)
		s.broadcastFailure(fields.EventName, fields.TicketID, req, conflict, conflict)
		return s.fail(start, fields.EventName, req, fields.TicketID, conflict)
	}

	ticket, err := s.store.VerifyAndMarkUsed(ctx, fields.TicketID, req.StaffEmail, req.DeviceID, req.IPAddress)
	if err != nil {
		return s.resolveFailure(ctx, start, fields.EventName, fields.TicketID, req, err)
	}

	return s.succeed(ctx, start, ticket, fields.Value, req)
}

// VerifyByCode resolves a 6-digit verification code within one event and
// routes it through the same atomic transition as scanned payloads. The
// code path skips the cryptographic layer entirely, which is why codes are
// scoped per event and rate limited.
func (s *VerificationService) VerifyByCode(ctx context.Context, req CodeVerifyRequest) models.VerificationOutcome {
	start := time.Now()
	code := strings.TrimSpace(req.Code)

	verifyReq := VerifyRequest{
		StaffEmail: req.StaffEmail,
		DeviceID:   req.DeviceID,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	}

	ticket, err := s.store.FindByCode(ctx, req.EventName, code)
	if err != nil {
		// Audit the attempt under the code itself; there is no ticket id.
		s.log(ctx, "code:"+code, verifyReq, models.LogActionAttempted)
		s.broadcastFailure(req.EventName, "", verifyReq, err, nil)
		return s.fail(start, req.EventName, verifyReq, "", err)
	}

	used, err := s.store.VerifyAndMarkUsed(ctx, ticket.ID, req.StaffEmail, req.DeviceID, req.IPAddress)
	if err != nil {
		return s.resolveFailure(ctx, start, req.EventName, ticket.ID, verifyReq, err)
	}

	// Codes carry no value claim; report the stored ticket as-is.
	return s.succeed(ctx, start, used, decimal.Zero, verifyReq)
}

// Stats exposes store aggregates for dashboards and the hub's request_stats.
func (s *VerificationService) Stats(ctx context.Context, eventName string) (models.TicketStats, error) {
	return s.store.Stats(ctx, eventName)
}

func (s *VerificationService) succeed(ctx context.Context, start time.Time, ticket *models.Ticket, value decimal.Decimal, req VerifyRequest) models.VerificationOutcome {
	outcome := models.VerificationOutcome{
		Success:    true,
		TicketID:   ticket.ID,
		Email:      ticket.Email,
		EventName:  ticket.EventName,
		Value:      value,
		VerifiedBy: ticket.VerifiedBy,
		VerifiedAt: ticket.VerifiedAt,
		DeviceID:   ticket.DeviceID,
	}

	s.cacheOutcome(ctx, outcome)

	verifiedAt := time.Now().UTC()
	if ticket.VerifiedAt != nil {
		verifiedAt = *ticket.VerifiedAt
	}
	s.hub.BroadcastVerified(ticket.EventName, models.TicketVerified{
		TicketID:   ticket.ID,
		Email:      ticket.Email,
		EventName:  ticket.EventName,
		Value:      value,
		VerifiedBy: ticket.VerifiedBy,
		VerifiedAt: verifiedAt,
		DeviceID:   ticket.DeviceID,
		Timestamp:  time.Now().UTC(),
	})
	s.notifier.Enqueue(outcome)

	monitoring.TrackVerification(ticket.EventName, "VERIFIED", time.Since(start))
	log.Printf("Ticket %s verified by %s at event %s", ticket.ID, ticket.VerifiedBy, ticket.EventName)
	return outcome
}

// resolveFailure handles errors surfaced by the atomic transition itself.
func (s *VerificationService) resolveFailure(ctx context.Context, start time.Time, eventName, ticketID string, req VerifyRequest, err error) models.VerificationOutcome {
	var conflict *status.AlreadyUsedError
	switch {
	case errors.As(err, &conflict):
		s.log(ctx, ticketID, req, models.LogActionAttempted)
		s.broadcastFailure(eventName, ticketID, req, err, conflict)
	case errors.Is(err, status.ErrTicketNotFound):
		s.log(ctx, ticketID, req, models.LogActionAttempted)
		s.broadcastFailure(eventName, ticketID, req, err, nil)
	default:
		s.log(ctx, ticketID, req, models.LogActionFailed)
		s.broadcastFailure(eventName, ticketID, req, err, nil)
	}
	return s.fail(start, eventName, req, ticketID, err)
}

// fail builds the failure outcome and records metrics; it never broadcasts.
func (s *VerificationService) fail(start time.Time, eventName string, req VerifyRequest, ticketID string, err error) models.VerificationOutcome {
	code := status.CodeFor(err)
	outcome := models.VerificationOutcome{
		TicketID:  ticketID,
		EventName: eventName,
		DeviceID:  req.DeviceID,
		Error:     err.Error(),
		ErrorCode: code,
	}
	var conflict *status.AlreadyUsedError
	if errors.As(err, &conflict) {
		outcome.VerifiedBy = conflict.VerifiedBy
		at := conflict.VerifiedAt
		outcome.VerifiedAt = &at
	}

	s.notifier.Enqueue(outcome)
	monitoring.TrackVerification(eventName, code, time.Since(start))
	return outcome
}

func (s *VerificationService) broadcastFailure(eventName, ticketID string, req VerifyRequest, err error, conflict *status.AlreadyUsedError) {
	if eventName == "" {
		return
	}
	failed := models.VerificationFailed{
		TicketID:   ticketID,
		Error:      err.Error(),
		ErrorCode:  status.CodeFor(err),
		StaffEmail: req.StaffEmail,
		DeviceID:   req.DeviceID,
		Timestamp:  time.Now().UTC(),
	}
	if conflict != nil {
		failed.VerifiedBy = conflict.VerifiedBy
		at := conflict.VerifiedAt
		failed.VerifiedAt = &at
	}
	s.hub.BroadcastFailed(eventName, failed)
}

func (s *VerificationService) log(ctx context.Context, ticketID string, req VerifyRequest, action string) {
	err := s.store.AppendLog(ctx, models.VerificationLog{
		TicketID:   ticketID,
		StaffEmail: req.StaffEmail,
		DeviceID:   req.DeviceID,
		Action:     action,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	})
	if err != nil {
		log.Printf("Failed to append verification log for %s: %v", ticketID, err)
	}
}

func (s *VerificationService) cacheOutcome(ctx context.Context, outcome models.VerificationOutcome) {
	if s.redis == nil || s.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return
	}
	key := outcomeCacheKey(outcome.EventName, outcome.TicketID)
	if err := s.redis.SetEx(ctx, key, raw, s.cacheTTL).Err(); err != nil {
		log.Printf("Failed to cache outcome for %s: %v", outcome.TicketID, err)
	}
}

func (s *VerificationService) recentOutcome(ctx context.Context, eventName, ticketID string) (models.VerificationOutcome, bool) {
	var outcome models.VerificationOutcome
	if s.redis == nil {
		return outcome, false
	}
	raw, err := s.redis.Get(ctx, outcomeCacheKey(eventName, ticketID)).Result()
	if err != nil {
		return outcome, false
	}
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		return outcome, false
	}
	return outcome, true
}

func outcomeCacheKey(eventName, ticketID string) string {
	return fmt.Sprintf("verification:%s:%s", eventName, ticketID)
}
