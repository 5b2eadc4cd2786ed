package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"ticket-verify/models"
)

// StatsFunc forwards aggregate store statistics on demand; the hub itself is
// stateless beyond presence.
type StatsFunc func(ctx context.Context, eventName string) (models.TicketStats, error)

// RegisterFunc records a durable device registration when a device joins a
// room. Registration is best-effort and never blocks presence.
type RegisterFunc func(ctx context.Context, deviceName, staffEmail string) (string, error)

// Hub tracks which scanning devices are watching which event and fans
// verification outcomes out to them. Membership mutation and broadcast
// enumeration share one RWMutex so they can never interleave inconsistently.
// Delivery to a device goes through its buffered outbound queue; a slow or
// stuck device gets events dropped rather than stalling the room.
type Hub struct {
	mu      sync.RWMutex
	devices map[string]*Client            // deviceID -> client
	rooms   map[string]map[string]*Client // eventName -> deviceID -> client

	statsFn    StatsFunc
	registerFn RegisterFunc
}

func NewHub() *Hub {
	return &Hub{
		devices: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

// SetStatsProvider wires the store-backed stats lookup used by
// request_stats.
func (h *Hub) SetStatsProvider(fn StatsFunc) {
	h.statsFn = fn
}

// SetDeviceRegistrar wires durable device registration on room join.
func (h *Hub) SetDeviceRegistrar(fn RegisterFunc) {
	h.registerFn = fn
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.devices[c.deviceID] = c
	h.mu.Unlock()
}

// Join registers the device in the room keyed by eventName, announces it to
// the other room members and returns the current roster to the joiner.
func (h *Hub) Join(c *Client, req models.JoinEventRequest) models.JoinedEvent {
	now := time.Now().UTC()

	h.mu.Lock()
	if c.eventName != "" {
		h.removeFromRoomLocked(c, models.EventDeviceLeft)
	}

	c.staffEmail = req.StaffEmail
	c.deviceName = req.DeviceName
	c.eventName = req.EventName
	c.joinedAt = now

	room := h.rooms[req.EventName]
	if room == nil {
		room = make(map[string]*Client)
		h.rooms[req.EventName] = room
	}
	room[c.deviceID] = c

	roster := make([]models.Device, 0, len(room)-1)
	for id, member := range room {
		if id == c.deviceID {
			continue
		}
		roster = append(roster, member.deviceLocked())
	}
	count := len(room)
	h.mu.Unlock()

	h.broadcast(req.EventName, models.RealtimeMessage{
		Event: models.EventDeviceConnected,
		Data: models.DeviceEvent{
			DeviceID:   c.deviceID,
			StaffEmail: req.StaffEmail,
			DeviceName: req.DeviceName,
			EventName:  req.EventName,
			Timestamp:  now,
		},
	}, c.deviceID)

	if h.registerFn != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := h.registerFn(ctx, req.DeviceName, req.StaffEmail); err != nil {
				log.Printf("Device registration failed for %s: %v", req.DeviceName, err)
			}
		}()
	}

	log.Printf("Device %s (%s) joined event %s", req.DeviceName, req.StaffEmail, req.EventName)

	return models.JoinedEvent{
		EventName:     req.EventName,
		DeviceID:      c.deviceID,
		ActiveDevices: roster,
		DeviceCount:   count,
	}
}

// Leave removes the device from its room on an explicit leave_event; the
// connection itself stays up.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	h.removeFromRoomLocked(c, models.EventDeviceLeft)
	h.mu.Unlock()
}

// Disconnect tears the device down entirely: room removal, presence
// broadcast and closing its outbound queue. Safe to call more than once.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	h.removeFromRoomLocked(c, models.EventDeviceDisconnected)
	delete(h.devices, c.deviceID)
	h.mu.Unlock()
	c.closeSend()
}

// removeFromRoomLocked detaches c from its current room and enqueues the
// presence broadcast to the remaining members. Caller holds h.mu.
func (h *Hub) removeFromRoomLocked(c *Client, event string) {
	eventName := c.eventName
	if eventName == "" {
		return
	}

	room := h.rooms[eventName]
	delete(room, c.deviceID)
	if len(room) == 0 {
		delete(h.rooms, eventName)
	}

	data := models.DeviceEvent{
		DeviceID:   c.deviceID,
		StaffEmail: c.staffEmail,
		DeviceName: c.deviceName,
		EventName:  eventName,
		Timestamp:  time.Now().UTC(),
	}
	for _, member := range room {
		member.trySend(models.RealtimeMessage{Event: event, Data: data}, eventName)
	}

	c.eventName = ""
}

// BroadcastVerificationStarted is the advisory pre-commit announcement so
// other devices can show in-progress UI. It carries no authority.
func (h *Hub) BroadcastVerificationStarted(eventName string, data models.VerificationStarted) {
	h.broadcast(eventName, models.RealtimeMessage{Event: models.EventVerificationStarted, Data: data}, "")
}

// BroadcastVerified is the authoritative success event, invoked only after
// the store transaction has committed. Every device in the room receives it,
// including the one that submitted the request.
func (h *Hub) BroadcastVerified(eventName string, data models.TicketVerified) {
	h.broadcast(eventName, models.RealtimeMessage{Event: models.EventTicketVerified, Data: data}, "")
}

// BroadcastFailed is the authoritative failure event, including the
// already-used conflict carrying the original verifier.
func (h *Hub) BroadcastFailed(eventName string, data models.VerificationFailed) {
	h.broadcast(eventName, models.RealtimeMessage{Event: models.EventVerificationFailed, Data: data}, "")
}

// BroadcastAlert pushes an administrative alert to every device in a room.
func (h *Hub) BroadcastAlert(eventName string, data models.SystemAlert) {
	h.broadcast(eventName, models.RealtimeMessage{Event: models.EventSystemAlert, Data: data}, "")
}

// broadcast delivers one message to every room member except excludeID.
// It holds the read lock for the whole enumeration so a concurrent join or
// leave can never split one logical broadcast in two.
func (h *Hub) broadcast(eventName string, msg models.RealtimeMessage, excludeID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, member := range h.rooms[eventName] {
		if id == excludeID {
			continue
		}
		member.trySend(msg, eventName)
	}
}

// ActiveDevices returns the live roster of one room.
func (h *Hub) ActiveDevices(eventName string) []models.Device {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[eventName]
	devices := make([]models.Device, 0, len(room))
	for _, member := range room {
		devices = append(devices, member.deviceLocked())
	}
	return devices
}

// RoomSize returns the number of devices watching one event.
func (h *Hub) RoomSize(eventName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[eventName])
}

// SystemStats snapshots presence across all rooms.
func (h *Hub) SystemStats() models.HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]int, len(h.rooms))
	for eventName, room := range h.rooms {
		counts[eventName] = len(room)
	}
	return models.HubStats{
		TotalConnectedDevices: len(h.devices),
		ActiveEvents:          len(h.rooms),
		EventDeviceCounts:     counts,
		Timestamp:             time.Now().UTC(),
	}
}

// Evict administratively disconnects a device, telling it why first.
func (h *Hub) Evict(deviceID, reason string) bool {
	h.mu.RLock()
	c := h.devices[deviceID]
	var eventName string
	if c != nil {
		eventName = c.eventName
	}
	h.mu.RUnlock()
	if c == nil {
		return false
	}

	c.trySend(models.RealtimeMessage{
		Event: models.EventForceDisconnect,
		Data:  map[string]any{"reason": reason, "timestamp": time.Now().UTC()},
	}, eventName)

	h.Disconnect(c)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	log.Printf("Administratively disconnected device %s: %s", deviceID, reason)
	return true
}

// statsUpdate builds the stats_update payload for one device's room.
func (h *Hub) statsUpdate(ctx context.Context, eventName string) models.StatsUpdate {
	update := models.StatsUpdate{
		EventName:     eventName,
		ActiveDevices: h.RoomSize(eventName),
		Timestamp:     time.Now().UTC(),
	}
	if h.statsFn != nil {
		stats, err := h.statsFn(ctx, eventName)
		if err != nil {
			log.Printf("Stats lookup failed for event %s: %v", eventName, err)
		} else {
			update.Tickets = &stats
		}
	}
	return update
}
