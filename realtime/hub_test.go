package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-verify/models"
)

func newTestClient(h *Hub) *Client {
	c := &Client{
		hub:      h,
		deviceID: uuid.NewString(),
		send:     make(chan models.RealtimeMessage, sendQueueSize),
	}
	h.add(c)
	return c
}

func joinTest(h *Hub, c *Client, eventName, staffEmail, deviceName string) models.JoinedEvent {
	return h.Join(c, models.JoinEventRequest{
		EventName:  eventName,
		StaffEmail: staffEmail,
		DeviceName: deviceName,
	})
}

// drain reads everything currently queued for a client.
func drain(c *Client) []models.RealtimeMessage {
	var msgs []models.RealtimeMessage
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return msgs
			}
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func eventNames(msgs []models.RealtimeMessage) []string {
	names := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		names = append(names, msg.Event)
	}
	return names
}

func TestHub_JoinRosterAndPresence(t *testing.T) {
	h := NewHub()
	c1 := newTestClient(h)
	c2 := newTestClient(h)

	joined1 := joinTest(h, c1, "Gala", "s1@x.com", "Gate A")
	assert.Empty(t, joined1.ActiveDevices)
	assert.Equal(t, 1, joined1.DeviceCount)
	assert.Equal(t, c1.deviceID, joined1.DeviceID)

	joined2 := joinTest(h, c2, "Gala", "s2@x.com", "Gate B")
	require.Len(t, joined2.ActiveDevices, 1)
	assert.Equal(t, c1.deviceID, joined2.ActiveDevices[0].DeviceID)
	assert.Equal(t, "Gate A", joined2.ActiveDevices[0].DeviceName)
	assert.Equal(t, 2, joined2.DeviceCount)

	// The earlier device learns about the newcomer; the newcomer is not told
	// about itself.
	msgs := drain(c1)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.EventDeviceConnected, msgs[0].Event)
	announced := msgs[0].Data.(models.DeviceEvent)
	assert.Equal(t, c2.deviceID, announced.DeviceID)
	assert.Empty(t, drain(c2))

	assert.Equal(t, 2, h.RoomSize("Gala"))
	assert.Zero(t, h.RoomSize("NoSuchEvent"))
}

func TestHub_LeaveAndRoomTeardown(t *testing.T) {
	h := NewHub()
	c1 := newTestClient(h)
	c2 := newTestClient(h)
	joinTest(h, c1, "Gala", "s1@x.com", "Gate A")
	joinTest(h, c2, "Gala", "s2@x.com", "Gate B")
	drain(c1)

	h.Leave(c2)
	msgs := drain(c1)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.EventDeviceLeft, msgs[0].Event)
	assert.Equal(t, 1, h.RoomSize("Gala"))

	// The connection itself survives an explicit leave.
	h.mu.RLock()
	_, stillConnected := h.devices[c2.deviceID]
	h.mu.RUnlock()
	assert.True(t, stillConnected)

	// Leaving again is a no-op.
	h.Leave(c2)
	assert.Empty(t, drain(c1))

	h.Leave(c1)
	assert.Zero(t, h.RoomSize("Gala"))
	stats := h.SystemStats()
	assert.Zero(t, stats.ActiveEvents)
	assert.Equal(t, 2, stats.TotalConnectedDevices)
}

func TestHub_SwitchRooms(t *testing.T) {
	h := NewHub()
	c1 := newTestClient(h)
	c2 := newTestClient(h)
	joinTest(h, c1, "Gala", "s1@x.com", "Gate A")
	joinTest(h, c2, "Gala", "s2@x.com", "Gate B")
	drain(c1)

	// Joining a second event implicitly leaves the first.
	joinTest(h, c2, "Expo", "s2@x.com", "Gate B")
	msgs := drain(c1)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.EventDeviceLeft, msgs[0].Event)
	assert.Equal(t, 1, h.RoomSize("Gala"))
	assert.Equal(t, 1, h.RoomSize("Expo"))
}

func TestHub_Disconnect(t *testing.T) {
	h := NewHub()
	c1 := newTestClient(h)
	c2 := newTestClient(h)
	joinTest(h, c1, "Gala", "s1@x.com", "Gate A")
	joinTest(h, c2, "Gala", "s2@x.com", "Gate B")
	drain(c1)

	h.Disconnect(c2)
	msgs := drain(c1)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.EventDeviceDisconnected, msgs[0].Event)
	assert.Equal(t, 1, h.RoomSize("Gala"))

	_, open := <-c2.send
	assert.False(t, open, "send queue must be closed on disconnect")

	// Disconnecting twice must not panic on a double close.
	h.Disconnect(c2)
	assert.Equal(t, 1, h.SystemStats().TotalConnectedDevices)
}

func TestHub_BroadcastOutcomes(t *testing.T) {
	h := NewHub()
	c1 := newTestClient(h)
	c2 := newTestClient(h)
	c3 := newTestClient(h)
	joinTest(h, c1, "Gala", "s1@x.com", "Gate A")
	joinTest(h, c2, "Gala", "s2@x.com", "Gate B")
	joinTest(h, c3, "Expo", "s3@x.com", "Gate C")
	drain(c1)
	drain(c2)
	drain(c3)

	now := time.Now().UTC()
	h.BroadcastVerified("Gala", models.TicketVerified{
		TicketID:   "t-1",
		EventName:  "Gala",
		VerifiedBy: "s1@x.com",
		VerifiedAt: now,
		Timestamp:  now,
	})

	// Authoritative outcomes go to every room member, including the verifier.
	for _, c := range []*Client{c1, c2} {
		msgs := drain(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, models.EventTicketVerified, msgs[0].Event)
	}
	assert.Empty(t, drain(c3), "other rooms must not see the outcome")

	h.BroadcastFailed("Gala", models.VerificationFailed{
		TicketID:  "t-1",
		Error:     "ticket already verified",
		ErrorCode: "ALREADY_USED",
		Timestamp: now,
	})
	assert.Equal(t, []string{models.EventVerificationFailed}, eventNames(drain(c1)))

	h.BroadcastAlert("Gala", models.SystemAlert{EventName: "Gala", Message: "doors closing"})
	assert.Equal(t, []string{models.EventSystemAlert}, eventNames(drain(c2)))
}

func TestHub_SlowDeviceDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	c := newTestClient(h)
	joinTest(h, c, "Gala", "s1@x.com", "Gate A")

	for i := 0; i < sendQueueSize; i++ {
		c.send <- models.RealtimeMessage{Event: "filler"}
	}

	done := make(chan struct{})
	go func() {
		h.BroadcastVerified("Gala", models.TicketVerified{TicketID: "t-1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full device queue")
	}
	assert.Len(t, drain(c), sendQueueSize, "overflow event must be dropped")
}

func TestHub_Evict(t *testing.T) {
	h := NewHub()
	c := newTestClient(h)
	joinTest(h, c, "Gala", "s1@x.com", "Gate A")

	assert.False(t, h.Evict(uuid.NewString(), "unknown"))

	require.True(t, h.Evict(c.deviceID, "suspicious activity"))
	msgs := drain(c)
	require.NotEmpty(t, msgs)
	assert.Equal(t, models.EventForceDisconnect, msgs[len(msgs)-1].Event)
	assert.Zero(t, h.RoomSize("Gala"))
	assert.Zero(t, h.SystemStats().TotalConnectedDevices)
}

func TestHub_StatsUpdate(t *testing.T) {
	h := NewHub()
	h.SetStatsProvider(func(ctx context.Context, eventName string) (models.TicketStats, error) {
		return models.TicketStats{
			TotalTickets: 42,
			StatusCounts: map[string]int{models.TicketStatusUsed: 7},
		}, nil
	})
	c := newTestClient(h)
	joinTest(h, c, "Gala", "s1@x.com", "Gate A")

	update := h.statsUpdate(context.Background(), "Gala")
	assert.Equal(t, "Gala", update.EventName)
	assert.Equal(t, 1, update.ActiveDevices)
	require.NotNil(t, update.Tickets)
	assert.Equal(t, 42, update.Tickets.TotalTickets)
}

func TestHub_DeviceRegistrarInvokedOnJoin(t *testing.T) {
	h := NewHub()
	registered := make(chan string, 1)
	h.SetDeviceRegistrar(func(ctx context.Context, deviceName, staffEmail string) (string, error) {
		registered <- deviceName + "/" + staffEmail
		return uuid.NewString(), nil
	})

	c := newTestClient(h)
	joinTest(h, c, "Gala", "s1@x.com", "Gate A")

	select {
	case got := <-registered:
		assert.Equal(t, "Gate A/s1@x.com", got)
	case <-time.After(time.Second):
		t.Fatal("device registrar was not invoked")
	}
}
