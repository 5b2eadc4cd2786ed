package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticket-verify/encryption"
	"ticket-verify/internal/status"
	"ticket-verify/models"
	"ticket-verify/monitoring"
	"ticket-verify/utils"
)

// Store is the persistence surface the services need. Implemented by
// store.TicketStore; faked in tests.
type Store interface {
	Save(ctx context.Context, t *models.Ticket) error
	FindByID(ctx context.Context, id string) (*models.Ticket, error)
	FindByRecipient(ctx context.Context, email, eventName string) (*models.Ticket, error)
	FindByCode(ctx context.Context, eventName, code string) (*models.Ticket, error)
	MarkSent(ctx context.Context, id string) error
	VerifyAndMarkUsed(ctx context.Context, id, staffEmail, deviceID, ipAddress string) (*models.Ticket, error)
	AppendLog(ctx context.Context, entry models.VerificationLog) error
	ListTickets(ctx context.Context, eventName string) ([]models.Ticket, error)
	Stats(ctx context.Context, eventName string) (models.TicketStats, error)
	RegisterDevice(ctx context.Context, deviceName, staffEmail string) (string, error)
	ActiveDevices(ctx context.Context) ([]models.StaffDevice, error)
}

const verificationCodeLength = 6

// TicketService issues recipient-bound ticket payloads and manages the
// pre-verification lifecycle.
type TicketService struct {
	store Store
	enc   *encryption.Service
}

func NewTicketService(store Store, enc *encryption.Service) *TicketService {
	return &TicketService{store: store, enc: enc}
}

// BatchRecipient is one entry of a batch issuance request.
type BatchRecipient struct {
	Email string          `json:"email"`
	Value decimal.Decimal `json:"value"`
}

// IssueTicket creates (or re-issues) the ticket for one recipient within one
// event. Re-issuing keeps the original row id and supersedes the previously
// encoded payload, so a recipient can never hold two admittable payloads.
func (s *TicketService) IssueTicket(ctx context.Context, email, eventName string, value decimal.Decimal) (*models.Ticket, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	eventName = strings.TrimSpace(eventName)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("issue ticket: invalid email %q", email)
	}
	if eventName == "" {
		return nil, errors.New("issue ticket: event name is required")
	}

	// The encoded payload must carry the authoritative row id, which for a
	// re-issue is the id of the existing row.
	id := uuid.NewString()
	existing, err := s.store.FindByRecipient(ctx, email, eventName)
	switch {
	case err == nil:
		id = existing.ID
	case errors.Is(err, status.ErrTicketNotFound):
	default:
		return nil, err
	}

	code, err := utils.GenerateOTP(verificationCodeLength)
	if err != nil {
		return nil, fmt.Errorf("issue ticket: generate code: %w", err)
	}

	now := time.Now().UTC()
	encrypted, err := s.enc.Encrypt(encryption.TicketFields{
		TicketID:  id,
		EventName: eventName,
		CreatedAt: now,
		Valid:     true,
		Value:     value,
	}, email)
	if err != nil {
		return nil, fmt.Errorf("issue ticket: encrypt payload: %w", err)
	}

	qrData, err := json.Marshal(models.WirePayload{
		Email:    email,
		Data:     encrypted,
		TicketID: id,
	})
	if err != nil {
		return nil, fmt.Errorf("issue ticket: marshal wire payload: %w", err)
	}

	ticket := &models.Ticket{
		ID:               id,
		Email:            email,
		EventName:        eventName,
		EncryptedData:    encrypted,
		QRCodeData:       string(qrData),
		VerificationCode: code,
		Status:           models.TicketStatusGenerated,
		CreatedAt:        now,
	}
	if err := s.store.Save(ctx, ticket); err != nil {
		return nil, err
	}

	monitoring.TrackTicketIssued(eventName, ticket.Status)
	log.Printf("Issued ticket %s for %s (%s), version %d", ticket.ID, email, eventName, ticket.Version)
	return ticket, nil
}

// IssueBatch issues tickets for many recipients of one event, continuing
// past individual failures.
func (s *TicketService) IssueBatch(ctx context.Context, eventName string, recipients []BatchRecipient, defaultValue decimal.Decimal) models.BatchResult {
	result := models.BatchResult{Total: len(recipients)}

	for _, r := range recipients {
		value := r.Value
		if value.IsZero() {
			value = defaultValue
		}
		ticket, err := s.IssueTicket(ctx, r.Email, eventName, value)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", r.Email, err))
			continue
		}
		result.Generated++
		result.Tickets = append(result.Tickets, *ticket)
	}
	return result
}

// LookupStatus returns the current lifecycle state of a ticket.
func (s *TicketService) LookupStatus(ctx context.Context, id string) (*models.Ticket, error) {
	return s.store.FindByID(ctx, id)
}

// MarkSent records that the payload was delivered to its recipient.
func (s *TicketService) MarkSent(ctx context.Context, id string) error {
	return s.store.MarkSent(ctx, id)
}

// ListTickets lists tickets, optionally scoped to one event.
func (s *TicketService) ListTickets(ctx context.Context, eventName string) ([]models.Ticket, error) {
	return s.store.ListTickets(ctx, eventName)
}
