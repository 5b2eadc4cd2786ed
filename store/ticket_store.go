package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ticket-verify/internal/status"
	"ticket-verify/models"
)

const ticketColumns = `id, email, event_name, encrypted_data, qr_code_data, verification_code,
	status, created_at, sent_at, verified_at, verified_by, device_id, version`

// TicketStore is the single source of truth for ticket lifecycle state. The
// row lock inside VerifyAndMarkUsed is the sole serialization point for
// concurrent verification of the same ticket.
type TicketStore struct {
	pool *pgxpool.Pool
}

func NewTicketStore(pool *pgxpool.Pool) *TicketStore {
	return &TicketStore{pool: pool}
}

// Save inserts a ticket in generated state. A conflict on the recipient
// uniqueness constraint upserts instead: payload fields are refreshed, the
// version is bumped and the previously issued payload is superseded.
func (s *TicketStore) Save(ctx context.Context, t *models.Ticket) error {
	const query = `
INSERT INTO tickets (id, email, event_name, encrypted_data, qr_code_data, verification_code,
	status, created_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
ON CONFLICT (email, event_name) DO UPDATE SET
	encrypted_data = EXCLUDED.encrypted_data,
	qr_code_data = EXCLUDED.qr_code_data,
	verification_code = EXCLUDED.verification_code,
	status = EXCLUDED.status,
	created_at = EXCLUDED.created_at,
	sent_at = NULL,
	version = tickets.version + 1
RETURNING id, version`

	err := s.pool.QueryRow(ctx, query,
		t.ID, t.Email, t.EventName, t.EncryptedData, t.QRCodeData, t.VerificationCode,
		t.Status, t.CreatedAt,
	).Scan(&t.ID, &t.Version)
	if err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

// FindByID loads a ticket by its id.
func (s *TicketStore) FindByID(ctx context.Context, id string) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`
	t, err := scanTicket(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("find ticket %s: %w", id, err)
	}
	return t, nil
}

// FindByRecipient loads the ticket for one recipient within one event, if
// any. At most one can exist because of the uniqueness constraint.
func (s *TicketStore) FindByRecipient(ctx context.Context, email, eventName string) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE email = $1 AND event_name = $2`
	t, err := scanTicket(s.pool.QueryRow(ctx, query, email, eventName))
	if err != nil {
		if isNoRows(err) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("find ticket for %s/%s: %w", email, eventName, err)
	}
	return t, nil
}

// FindByCode resolves a short verification code within one event.
func (s *TicketStore) FindByCode(ctx context.Context, eventName, code string) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE event_name = $1 AND verification_code = $2`
	t, err := scanTicket(s.pool.QueryRow(ctx, query, eventName, code))
	if err != nil {
		if isNoRows(err) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("find ticket by code: %w", err)
	}
	return t, nil
}

// MarkSent transitions generated -> sent. Repeating it on an already sent or
// used ticket is a no-op success; sending status is informational only.
func (s *TicketStore) MarkSent(ctx context.Context, id string) error {
	const query = `
UPDATE tickets SET status = $2, sent_at = NOW(), version = version + 1
WHERE id = $1 AND status = $3`

	tag, err := s.pool.Exec(ctx, query, id, models.TicketStatusSent, models.TicketStatusGenerated)
	if err != nil {
		if isInvalidUUID(err) {
			return status.ErrTicketNotFound
		}
		return fmt.Errorf("mark sent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish the idempotent no-op from a missing ticket.
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// VerifyAndMarkUsed atomically transitions a ticket to used. The row is
// locked with SELECT ... FOR UPDATE for the duration of the transaction, so
// concurrent callers for the same id block and then observe the definitive
// outcome. Exactly one caller can ever win; the rest get AlreadyUsedError
// carrying the winner's identity. The verified log entry is appended inside
// the same transaction.
func (s *TicketStore) VerifyAndMarkUsed(ctx context.Context, id, staffEmail, deviceID, ipAddress string) (*models.Ticket, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin verify tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1 FOR UPDATE`
	t, err := scanTicket(tx.QueryRow(ctx, lockQuery, id))
	if err != nil {
		if isNoRows(err) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("lock ticket %s: %w", id, err)
	}

	if t.Status == models.TicketStatusUsed {
		conflict := &status.AlreadyUsedError{VerifiedBy: t.VerifiedBy}
		if t.VerifiedAt != nil {
			conflict.VerifiedAt = *t.VerifiedAt
		}
		return nil, conflict
	}

	now := time.Now().UTC()
	const update = `
UPDATE tickets SET status = $2, verified_at = $3, verified_by = $4, device_id = $5,
	version = version + 1
WHERE id = $1`
	if _, err := tx.Exec(ctx, update, t.ID, models.TicketStatusUsed, now, staffEmail, deviceID); err != nil {
		return nil, fmt.Errorf("mark used %s: %w", id, err)
	}

	const insertLog = `
INSERT INTO verification_logs (id, ticket_id, staff_email, device_id, action, timestamp, ip_address)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, insertLog, uuid.NewString(), t.ID, staffEmail, deviceID,
		models.LogActionVerified, now, nullable(ipAddress)); err != nil {
		return nil, fmt.Errorf("append verified log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit verify tx: %w", err)
	}

	t.Status = models.TicketStatusUsed
	t.VerifiedAt = &now
	t.VerifiedBy = staffEmail
	t.DeviceID = deviceID
	t.Version++
	return t, nil
}

// AppendLog records a non-winning verification attempt (attempted, failed).
// Winning attempts are logged inside the VerifyAndMarkUsed transaction.
func (s *TicketStore) AppendLog(ctx context.Context, entry models.VerificationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	const query = `
INSERT INTO verification_logs (id, ticket_id, staff_email, device_id, action, timestamp, ip_address, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query, entry.ID, entry.TicketID, entry.StaffEmail, entry.DeviceID,
		entry.Action, entry.Timestamp, nullable(entry.IPAddress), nullable(entry.UserAgent))
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListTickets returns tickets ordered by creation, optionally filtered by
// event.
func (s *TicketStore) ListTickets(ctx context.Context, eventName string) ([]models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets ORDER BY created_at`
	args := []any{}
	if eventName != "" {
		query = `SELECT ` + ticketColumns + ` FROM tickets WHERE event_name = $1 ORDER BY created_at`
		args = append(args, eventName)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// Stats aggregates status counts and recent verification activity,
// optionally scoped to one event.
func (s *TicketStore) Stats(ctx context.Context, eventName string) (models.TicketStats, error) {
	stats := models.TicketStats{StatusCounts: map[string]int{}}

	countQuery := `SELECT status, COUNT(*) FROM tickets GROUP BY status`
	args := []any{}
	if eventName != "" {
		countQuery = `SELECT status, COUNT(*) FROM tickets WHERE event_name = $1 GROUP BY status`
		args = append(args, eventName)
	}

	rows, err := s.pool.Query(ctx, countQuery, args...)
	if err != nil {
		return stats, fmt.Errorf("count tickets: %w", err)
	}
	for rows.Next() {
		var st string
		var count int
		if err := rows.Scan(&st, &count); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		stats.StatusCounts[st] = count
		stats.TotalTickets += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	activityQuery := `
SELECT vl.id, vl.ticket_id, vl.staff_email, vl.device_id, vl.action, vl.timestamp,
	COALESCE(vl.ip_address, ''), COALESCE(vl.user_agent, ''), t.email, t.event_name
FROM verification_logs vl
JOIN tickets t ON vl.ticket_id = t.id::text`
	if eventName != "" {
		activityQuery += ` WHERE t.event_name = $1`
	}
	activityQuery += ` ORDER BY vl.timestamp DESC LIMIT 10`

	rows, err = s.pool.Query(ctx, activityQuery, args...)
	if err != nil {
		return stats, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.VerificationActivity
		if err := rows.Scan(&a.ID, &a.TicketID, &a.StaffEmail, &a.DeviceID, &a.Action,
			&a.Timestamp, &a.IPAddress, &a.UserAgent, &a.Email, &a.EventName); err != nil {
			return stats, fmt.Errorf("scan activity: %w", err)
		}
		stats.RecentActivity = append(stats.RecentActivity, a)
	}
	return stats, rows.Err()
}

// RegisterDevice upserts a durable device-registration record and returns
// its id. Re-registering refreshes last_active.
func (s *TicketStore) RegisterDevice(ctx context.Context, deviceName, staffEmail string) (string, error) {
	const query = `
INSERT INTO staff_devices (id, device_name, staff_email, last_active, is_active)
VALUES ($1, $2, $3, NOW(), TRUE)
ON CONFLICT (device_name, staff_email) DO UPDATE SET last_active = NOW(), is_active = TRUE
RETURNING id`

	var id string
	if err := s.pool.QueryRow(ctx, query, uuid.NewString(), deviceName, staffEmail).Scan(&id); err != nil {
		return "", fmt.Errorf("register device: %w", err)
	}
	return id, nil
}

// ActiveDevices lists durable device registrations, most recently active
// first.
func (s *TicketStore) ActiveDevices(ctx context.Context) ([]models.StaffDevice, error) {
	const query = `
SELECT id, device_name, staff_email, last_active, is_active
FROM staff_devices WHERE is_active = TRUE ORDER BY last_active DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("active devices: %w", err)
	}
	defer rows.Close()

	var devices []models.StaffDevice
	for rows.Next() {
		var d models.StaffDevice
		if err := rows.Scan(&d.ID, &d.DeviceName, &d.StaffEmail, &d.LastActive, &d.IsActive); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	var verifiedBy, deviceID *string
	err := row.Scan(&t.ID, &t.Email, &t.EventName, &t.EncryptedData, &t.QRCodeData,
		&t.VerificationCode, &t.Status, &t.CreatedAt, &t.SentAt, &t.VerifiedAt,
		&verifiedBy, &deviceID, &t.Version)
	if err != nil {
		return nil, err
	}
	if verifiedBy != nil {
		t.VerifiedBy = *verifiedBy
	}
	if deviceID != nil {
		t.DeviceID = *deviceID
	}
	return &t, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err)
}

// isInvalidUUID detects a non-UUID id reaching a UUID column; treated as a
// missing ticket rather than a transport failure.
func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
