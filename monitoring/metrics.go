package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ticket-verify/models"
)

var (
	verificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_attempts_total",
			Help: "Verification attempts by event and outcome code",
		},
		[]string{"event_name", "outcome"},
	)

	verificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verification_duration_seconds",
			Help:    "End-to-end duration of verification requests",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"event_name"},
	)

	ticketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Tickets issued per event",
		},
		[]string{"event_name", "status"},
	)

	connectedDevices = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connected_devices_total",
			Help: "Live scanning devices per event room",
		},
		[]string{"event_name"},
	)

	broadcastDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_drops_total",
			Help: "Realtime events dropped because a device outbound queue was full",
		},
		[]string{"event_name"},
	)

	notificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Outcome notifications that could not be published",
		},
	)
)

// TrackVerification records one verification attempt with its outcome code
// ("VERIFIED" on success) and total duration.
func TrackVerification(eventName, outcome string, duration time.Duration) {
	verificationAttempts.WithLabelValues(eventName, outcome).Inc()
	verificationDuration.WithLabelValues(eventName).Observe(duration.Seconds())
}

// TrackTicketIssued records one issued ticket.
func TrackTicketIssued(eventName, ticketStatus string) {
	ticketsIssued.WithLabelValues(eventName, ticketStatus).Inc()
}

// TrackBroadcastDrop records a realtime event dropped for a slow device.
func TrackBroadcastDrop(eventName string) {
	broadcastDrops.WithLabelValues(eventName).Inc()
}

// TrackNotificationFailure records a failed outcome notification publish.
func TrackNotificationFailure() {
	notificationFailures.Inc()
}

// HubSnapshot is the presence view the monitor polls.
type HubSnapshot interface {
	SystemStats() models.HubStats
}

// Monitor periodically mirrors hub presence into gauges.
type Monitor struct {
	hub      HubSnapshot
	interval time.Duration
	stop     chan struct{}
}

func NewMonitor(hub HubSnapshot) *Monitor {
	monitor := &Monitor{
		hub:      hub,
		interval: 30 * time.Second,
		stop:     make(chan struct{}),
	}
	go monitor.collect()
	return monitor
}

func (m *Monitor) collect() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := m.hub.SystemStats()
			connectedDevices.Reset()
			for eventName, count := range stats.EventDeviceCounts {
				connectedDevices.WithLabelValues(eventName).Set(float64(count))
			}
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) Close() {
	close(m.stop)
}
