package notify

import (
	"context"
	"log"
	"sync"
	"time"

	pubnub "github.com/pubnub/go"

	"ticket-verify/models"
	"ticket-verify/monitoring"
	"ticket-verify/utils"
)

// Notifier pushes verification outcomes to external subscribers (door
// dashboards, back office) over PubNub. It runs strictly after the store
// transaction commits, so everything it publishes is already durable.
// Publishing is queued and best-effort: the verification path never waits on
// the network, and a dead PubNub only costs notifications.
type Notifier struct {
	pn      *pubnub.PubNub
	channel string
	breaker *utils.CircuitBreaker

	mu     sync.Mutex
	closed bool
	queue  chan models.VerificationOutcome
	done   chan struct{}
}

func New(pn *pubnub.PubNub, channel string, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	n := &Notifier{
		pn:      pn,
		channel: channel,
		breaker: utils.NewCircuitBreaker("outcome-notifier"),
		queue:   make(chan models.VerificationOutcome, queueSize),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

// Enqueue hands one outcome to the publish worker without blocking. Outcomes
// are dropped when the queue is full or the notifier is closed.
func (n *Notifier) Enqueue(outcome models.VerificationOutcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- outcome:
	default:
		monitoring.TrackNotificationFailure()
		log.Printf("Notification queue full, dropping outcome for ticket %s", outcome.TicketID)
	}
}

// Close drains the queue and stops the worker.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) run() {
	defer close(n.done)
	for outcome := range n.queue {
		n.publish(outcome)
	}
}

func (n *Notifier) publish(outcome models.VerificationOutcome) {
	if n.pn == nil {
		log.Printf("Notification (no publisher configured): ticket=%s success=%t code=%s",
			outcome.TicketID, outcome.Success, outcome.ErrorCode)
		return
	}

	notificationID, err := utils.GenerateCode(8)
	if err != nil {
		notificationID = outcome.TicketID
	}

	msg := map[string]any{
		"notification_id": notificationID,
		"type":            "verification_outcome",
		"success":         outcome.Success,
		"ticket_id":       outcome.TicketID,
		"event_name":      outcome.EventName,
		"verified_by":     outcome.VerifiedBy,
		"device_id":       outcome.DeviceID,
		"error_code":      outcome.ErrorCode,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = n.breaker.Execute(ctx, func() error {
		_, _, err := n.pn.Publish().
			Channel(n.channel).
			Message(msg).
			Execute()
		return err
	})
	if err != nil {
		monitoring.TrackNotificationFailure()
		log.Printf("Failed to publish outcome notification for ticket %s: %v", outcome.TicketID, err)
	}
}
