package status

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDecryptionFailed = errors.New("payload: invalid or corrupted payload data")
	ErrExpired          = errors.New("payload: freshness window exceeded")
	ErrTicketNotFound   = errors.New("ticket: ticket not found")
)

// Stable machine-readable codes returned to scanning clients.
const (
	CodeDecryptionFailed = "DECRYPTION_FAILED"
	CodeExpired          = "EXPIRED"
	CodeNotFound         = "NOT_FOUND"
	CodeAlreadyUsed      = "ALREADY_USED"
	CodeDatabaseError    = "DATABASE_ERROR"
)

// AlreadyUsedError reports a conflict with a prior successful verification.
// It carries the original verifier so staff can be told who admitted the
// ticket and when.
type AlreadyUsedError struct {
	VerifiedBy string
	VerifiedAt time.Time
}

func (e *AlreadyUsedError) Error() string {
	return fmt.Sprintf("ticket: already verified by %s at %s", e.VerifiedBy, e.VerifiedAt.Format(time.RFC3339))
}

// CodeFor maps an error from the verification pipeline to its wire code.
func CodeFor(err error) string {
	var used *AlreadyUsedError
	switch {
	case errors.Is(err, ErrDecryptionFailed):
		return CodeDecryptionFailed
	case errors.Is(err, ErrExpired):
		return CodeExpired
	case errors.Is(err, ErrTicketNotFound):
		return CodeNotFound
	case errors.As(err, &used):
		return CodeAlreadyUsed
	default:
		return CodeDatabaseError
	}
}
