package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ticket-verify/models"
	"ticket-verify/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected scanning device. Room membership fields are
// guarded by the hub mutex; the send queue has its own small lock so the
// hub can close it exactly once no matter which goroutine loses the race.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	deviceID string

	sendMu sync.Mutex
	closed bool
	send   chan models.RealtimeMessage

	// guarded by hub.mu
	staffEmail string
	deviceName string
	eventName  string
	joinedAt   time.Time
}

// ServeWS upgrades an HTTP request to a device connection and starts its
// read and write pumps.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Client{
		hub:      hub,
		conn:     conn,
		deviceID: uuid.NewString(),
		send:     make(chan models.RealtimeMessage, sendQueueSize),
	}
	hub.add(c)

	go c.writePump()
	go c.readPump()

	c.trySend(models.RealtimeMessage{
		Event: models.EventConnected,
		Data: map[string]any{
			"device_id": c.deviceID,
			"timestamp": time.Now().UTC(),
		},
	}, "")
	return nil
}

// trySend enqueues a message without ever blocking. A full queue means the
// device is too slow to keep up and the event is dropped.
func (c *Client) trySend(msg models.RealtimeMessage, eventName string) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		monitoring.TrackBroadcastDrop(eventName)
		log.Printf("Dropping %s event for slow device %s", msg.Event, c.deviceID)
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// deviceLocked snapshots the presence view of this client. Caller holds
// hub.mu.
func (c *Client) deviceLocked() models.Device {
	return models.Device{
		DeviceID:   c.deviceID,
		StaffEmail: c.staffEmail,
		DeviceName: c.deviceName,
		EventName:  c.eventName,
		JoinedAt:   c.joinedAt,
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg models.InboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Device %s read error: %v", c.deviceID, err)
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg models.InboundMessage) {
	switch msg.Event {
	case models.MessageJoinEvent:
		c.handleJoin(msg.Data)
	case models.MessageLeaveEvent:
		c.hub.Leave(c)
		c.trySend(models.RealtimeMessage{
			Event: models.EventLeftEvent,
			Data:  map[string]any{"device_id": c.deviceID},
		}, "")
	case models.MessageVerifyTicket:
		c.handleVerifyStarted(msg.Data)
	case models.MessageRequestStats:
		c.handleRequestStats()
	default:
		c.sendError("unknown event: " + msg.Event)
	}
}

func (c *Client) handleJoin(data json.RawMessage) {
	var req models.JoinEventRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("invalid join_event payload")
		return
	}
	if req.EventName == "" || req.StaffEmail == "" || req.DeviceName == "" {
		c.sendError("join_event requires event_name, staff_email and device_name")
		return
	}

	joined := c.hub.Join(c, req)
	c.trySend(models.RealtimeMessage{Event: models.EventJoinedEvent, Data: joined}, req.EventName)
}

// handleVerifyStarted relays the advisory in-progress announcement to the
// room. The authoritative outcome always comes from the verification
// pipeline after the database transaction commits, never from here.
func (c *Client) handleVerifyStarted(data json.RawMessage) {
	var req struct {
		TicketID string `json:"ticket_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.TicketID == "" {
		c.sendError("verify_ticket requires ticket_id")
		return
	}

	c.hub.mu.RLock()
	eventName := c.eventName
	staffEmail := c.staffEmail
	deviceName := c.deviceName
	c.hub.mu.RUnlock()
	if eventName == "" {
		c.sendError("join an event before verifying tickets")
		return
	}

	c.hub.BroadcastVerificationStarted(eventName, models.VerificationStarted{
		TicketID:   req.TicketID,
		StaffEmail: staffEmail,
		DeviceName: deviceName,
		DeviceID:   c.deviceID,
		Timestamp:  time.Now().UTC(),
	})
}

func (c *Client) handleRequestStats() {
	c.hub.mu.RLock()
	eventName := c.eventName
	c.hub.mu.RUnlock()
	if eventName == "" {
		c.sendError("join an event before requesting stats")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	update := c.hub.statsUpdate(ctx, eventName)
	c.trySend(models.RealtimeMessage{Event: models.EventStatsUpdate, Data: update}, eventName)
}

func (c *Client) sendError(message string) {
	c.trySend(models.RealtimeMessage{
		Event: models.EventError,
		Data:  map[string]any{"message": message},
	}, "")
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
