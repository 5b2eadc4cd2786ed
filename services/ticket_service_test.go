package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-verify/encryption"
	"ticket-verify/models"
)

func newTicketService(t *testing.T) (*TicketService, *fakeStore, *encryption.Service) {
	t.Helper()
	enc, err := encryption.New(testSecret)
	require.NoError(t, err)
	st := newFakeStore()
	return NewTicketService(st, enc), st, enc
}

func TestIssueTicket(t *testing.T) {
	svc, _, enc := newTicketService(t)

	ticket, err := svc.IssueTicket(context.Background(), " Alice@Example.COM ", "Gala", decimal.RequireFromString("25.50"))
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", ticket.Email)
	assert.Equal(t, models.TicketStatusGenerated, ticket.Status)
	assert.Len(t, ticket.VerificationCode, 6)
	assert.Equal(t, 1, ticket.Version)

	// The QR data is the complete wire payload a scanner submits.
	var wire models.WirePayload
	require.NoError(t, json.Unmarshal([]byte(ticket.QRCodeData), &wire))
	assert.Equal(t, ticket.ID, wire.TicketID)
	assert.Equal(t, "alice@example.com", wire.Email)

	fields, err := enc.Decrypt(wire.Data, wire.Email)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, fields.TicketID)
	assert.Equal(t, "Gala", fields.EventName)
	assert.True(t, fields.Valid)
	assert.True(t, decimal.RequireFromString("25.50").Equal(fields.Value))
}

func TestIssueTicket_ReissueKeepsID(t *testing.T) {
	svc, _, enc := newTicketService(t)
	ctx := context.Background()

	first, err := svc.IssueTicket(ctx, "alice@example.com", "Gala", decimal.NewFromInt(10))
	require.NoError(t, err)

	second, err := svc.IssueTicket(ctx, "alice@example.com", "Gala", decimal.NewFromInt(10))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Version)
	assert.NotEqual(t, first.EncryptedData, second.EncryptedData)

	// The new payload carries the original row id, so it verifies against
	// the surviving row.
	fields, err := enc.Decrypt(second.EncryptedData, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, fields.TicketID)
}

func TestIssueTicket_Validation(t *testing.T) {
	svc, _, _ := newTicketService(t)
	ctx := context.Background()

	_, err := svc.IssueTicket(ctx, "", "Gala", decimal.Zero)
	assert.Error(t, err)

	_, err = svc.IssueTicket(ctx, "no-at-sign", "Gala", decimal.Zero)
	assert.Error(t, err)

	_, err = svc.IssueTicket(ctx, "alice@example.com", "", decimal.Zero)
	assert.Error(t, err)
}

func TestIssueBatch(t *testing.T) {
	svc, _, _ := newTicketService(t)

	result := svc.IssueBatch(context.Background(), "Gala", []BatchRecipient{
		{Email: "alice@example.com", Value: decimal.NewFromInt(25)},
		{Email: "bob@example.com"}, // falls back to the default value
		{Email: "broken"},
	}, decimal.NewFromInt(10))

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Generated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "broken")
	require.Len(t, result.Tickets, 2)
}

func TestMarkSentAndLookup(t *testing.T) {
	svc, _, _ := newTicketService(t)
	ctx := context.Background()

	ticket, err := svc.IssueTicket(ctx, "alice@example.com", "Gala", decimal.NewFromInt(10))
	require.NoError(t, err)

	require.NoError(t, svc.MarkSent(ctx, ticket.ID))

	stored, err := svc.LookupStatus(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusSent, stored.Status)
	require.NotNil(t, stored.SentAt)
}
