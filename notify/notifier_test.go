package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ticket-verify/models"
)

func TestNotifier_EnqueueAndClose(t *testing.T) {
	// With no publisher configured outcomes are logged and discarded; the
	// worker must still drain and shut down cleanly.
	n := New(nil, "verification-outcomes", 4)

	for i := 0; i < 10; i++ {
		n.Enqueue(models.VerificationOutcome{Success: true, TicketID: "t-1", EventName: "Gala"})
	}

	done := make(chan struct{})
	go func() {
		n.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not drain the queue")
	}

	// Enqueue after Close must be a silent no-op, not a panic.
	assert.NotPanics(t, func() {
		n.Enqueue(models.VerificationOutcome{TicketID: "t-2"})
	})
	assert.NotPanics(t, n.Close)
}
