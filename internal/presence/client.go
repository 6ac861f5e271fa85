package presence

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"

	"tadgo-backend/internal/database"
	"tadgo-backend/internal/models"
	"tadgo-backend/internal/services"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 2048

	// Minimum interval between durable task-row mirror writes. The live
	// channel gets every fix; the task record is the bounded-rate fallback.
	taskMirrorInterval = 5 * time.Second
)

// Publish session lifecycle. Mutated only by start/stop messages and
// connection close; all mutations happen on the ReadPump goroutine.
type sessionState int

const (
	sessionIdle sessionState = iota
	sessionActive
	sessionStopped
)

// Client is one WebSocket connection: either a driver publish session or a
// viewer subscription to a single topic.
type Client struct {
	UserID   string
	UserRole string

	conn *websocket.Conn
	hub  *Hub
	db   *sqlx.DB
	geo  *services.GeoIndex // nil when Redis is not configured

	send       chan []byte
	sendMu     sync.Mutex // guards sendClosed against concurrent deliver/closeSlow
	sendClosed bool
	closeOnce  sync.Once

	publisher bool
	viewTopic string // viewer connections only

	state          sessionState
	taskID         *string
	lastTaskMirror time.Time
}

// IncomingMessage is a message from the device/browser.
type IncomingMessage struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// NewDriverClient creates a publisher connection for a driver device.
func NewDriverClient(userID string, conn *websocket.Conn, hub *Hub, db *sqlx.DB, geo *services.GeoIndex) *Client {
	return &Client{
		UserID:    userID,
		UserRole:  models.RoleDriver,
		conn:      conn,
		hub:       hub,
		db:        db,
		geo:       geo,
		send:      make(chan []byte, 256),
		publisher: true,
		state:     sessionIdle,
	}
}

// NewViewerClient creates a subscriber connection bound to one topic. The
// caller is responsible for having run the authorization gate first.
func NewViewerClient(userID, userRole string, conn *websocket.Conn, hub *Hub, topic string) *Client {
	return &Client{
		UserID:    userID,
		UserRole:  userRole,
		conn:      conn,
		hub:       hub,
		send:      make(chan []byte, 256),
		viewTopic: topic,
	}
}

// deliver implements subscriber: non-blocking enqueue of a frame.
func (c *Client) deliver(f *Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		log.Printf("❌ Failed to marshal presence frame: %v", err)
		return true // marshal failure is not the subscriber's fault
	}
	return c.enqueue(data)
}

// closeSlow implements subscriber: shuts the send channel exactly once,
// which ends WritePump and with it the connection.
func (c *Client) closeSlow() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.sendClosed = true
		close(c.send)
		c.sendMu.Unlock()
	})
}

// enqueue is a non-blocking send that tolerates the channel having been
// closed by the hub.
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ReadPump pumps messages from the WebSocket connection.
func (c *Client) ReadPump() {
	defer func() {
		if c.publisher {
			c.endSession(false)
		} else if c.viewTopic != "" {
			c.hub.Unsubscribe(c.viewTopic, c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Invalid message format: %v", err)
			continue
		}

		switch msg.Type {
		case "ping":
			c.sendJSON(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Format(time.RFC3339),
			})

		case "start_tracking":
			if c.publisher {
				c.handleStartTracking(msg.Data)
			}

		case "location_update":
			if c.publisher {
				c.handleLocationUpdate(msg.Data)
			}

		case "stop_tracking":
			if c.publisher {
				c.handleStopTracking()
			}
		}
	}
}

// WritePump pumps queued frames to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleStartTracking opens the publish session, optionally bound to a task.
// Idempotent: starting an already-active session just rebinds the task.
func (c *Client) handleStartTracking(data map[string]interface{}) {
	var taskID *string
	if tid, ok := data["task_id"].(string); ok && tid != "" {
		// The session may only bind a task this driver holds.
		task, err := database.GetTask(c.db, tid)
		if err != nil {
			c.sendError("task not found")
			return
		}
		if task.DriverID == nil || *task.DriverID != c.UserID {
			c.sendError("task is not assigned to you")
			return
		}
		taskID = &tid
	}

	// Rebinding drops the old task's slot right away instead of leaving it
	// to linger until the staleness sweep.
	if c.state == sessionActive && c.taskID != nil {
		if taskID == nil || *taskID != *c.taskID {
			c.hub.Vacate(TaskTopic(*c.taskID), c.UserID)
		}
	}

	c.state = sessionActive
	c.taskID = taskID
	c.lastTaskMirror = time.Time{}

	bound := "none"
	if taskID != nil {
		bound = *taskID
	}
	log.Printf("📡 Driver %s started tracking (task=%s)", c.UserID, bound)
	c.sendJSON(map[string]interface{}{"type": "tracking_started", "task_id": taskID})
}

// handleLocationUpdate processes one GPS fix: publish to the presence
// channel first (primary), then the best-effort mirrors. Mirror failures are
// logged and never abort the publish.
func (c *Client) handleLocationUpdate(data map[string]interface{}) {
	if c.state != sessionActive {
		c.sendError("tracking not started")
		return
	}

	latitude, ok := data["latitude"].(float64)
	if !ok {
		log.Printf("❌ Invalid latitude in location update from %s", c.UserID)
		return
	}
	longitude, ok := data["longitude"].(float64)
	if !ok {
		log.Printf("❌ Invalid longitude in location update from %s", c.UserID)
		return
	}

	var heading, speed, accuracy *float64
	if h, ok := data["heading"].(float64); ok {
		heading = &h
	}
	if s, ok := data["speed"].(float64); ok {
		speed = &s
	}
	if a, ok := data["accuracy"].(float64); ok {
		accuracy = &a
	}

	timestamp, ok := data["timestamp"].(float64)
	if !ok {
		timestamp = float64(time.Now().Unix())
	}

	pos := models.DriverPosition{
		DriverID:  c.UserID,
		Latitude:  latitude,
		Longitude: longitude,
		Heading:   heading,
		Speed:     speed,
		Accuracy:  accuracy,
		TaskID:    c.taskID,
		Role:      models.PresenceRoleDriver,
		Timestamp: int64(timestamp),
	}

	// Primary signal: the live channel.
	c.hub.Publish(TopicFleet, c.UserID, pos)
	if c.taskID != nil {
		c.hub.Publish(TaskTopic(*c.taskID), c.UserID, pos)
	}

	// Durable per-driver mirror (every fix).
	if err := database.UpsertDriverLocation(c.db, pos); err != nil {
		log.Printf("❌ Error mirroring location for driver %s: %v", c.UserID, err)
	}

	// Task-row mirror, rate-bounded.
	if c.taskID != nil && time.Since(c.lastTaskMirror) >= taskMirrorInterval {
		if err := database.MirrorDriverPosition(c.db, *c.taskID, c.UserID, latitude, longitude, pos.Timestamp); err != nil {
			log.Printf("❌ Error mirroring position onto task %s: %v", *c.taskID, err)
		} else {
			c.lastTaskMirror = time.Now()
		}
	}

	// Geo index for nearest-driver queries.
	if c.geo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.geo.Update(ctx, c.UserID, latitude, longitude); err != nil {
			log.Printf("❌ Error updating geo index for driver %s: %v", c.UserID, err)
		}
		cancel()
	}
}

// handleStopTracking releases the channel slots on explicit stop. The
// session returns to idle so the same connection can start again.
func (c *Client) handleStopTracking() {
	if c.state == sessionActive {
		c.vacateSlots()
	}
	c.state = sessionIdle
	c.taskID = nil
	c.sendJSON(map[string]interface{}{"type": "tracking_stopped"})
	log.Printf("🛑 Driver %s stopped tracking", c.UserID)
}

// endSession runs when a publisher connection closes for any reason.
func (c *Client) endSession(graceful bool) {
	if c.state == sessionActive {
		c.vacateSlots()
		if !graceful {
			log.Printf("🔴 Driver %s publish session ended by disconnect", c.UserID)
		}
	}
	c.state = sessionStopped
}

// vacateSlots removes this driver's slots everywhere and flips the durable
// mirror to non-live.
func (c *Client) vacateSlots() {
	c.hub.Vacate(TopicFleet, c.UserID)
	if c.taskID != nil {
		c.hub.Vacate(TaskTopic(*c.taskID), c.UserID)
	}
	database.MarkDriverDisconnected(c.db, c.UserID)
	if c.geo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.geo.Remove(ctx, c.UserID); err != nil {
			log.Printf("❌ Error removing driver %s from geo index: %v", c.UserID, err)
		}
		cancel()
	}
}

func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(message string) {
	c.sendJSON(map[string]interface{}{"type": "error", "error": message})
}
