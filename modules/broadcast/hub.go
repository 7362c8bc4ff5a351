package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// all origins allowed; tighten per deployment
		return true
	},
}

// Client - one live subscriber of an event's room
type Client struct {
	conn    *websocket.Conn
	eventID string
	userID  string
	role    string
	send    chan []byte
}

// room - all live subscribers of one event
type room struct {
	eventID      string
	clients      map[string]*Client
	mutex        sync.RWMutex
	lastActivity time.Time
}

// Hub - websocket fan-out keyed by event ID; implements Broadcaster
type Hub struct {
	rooms map[string]*room
	mutex sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// getOrCreateRoom - room for one event, created on first join
func (h *Hub) getOrCreateRoom(eventID string) *room {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	rm, exists := h.rooms[eventID]
	if !exists {
		rm = &room{
			eventID:      eventID,
			clients:      make(map[string]*Client),
			lastActivity: time.Now(),
		}
		h.rooms[eventID] = rm
		log.Printf("✅ Created room for event %s", eventID)
	}
	rm.lastActivity = time.Now()
	return rm
}

// join - register a subscriber
func (h *Hub) join(client *Client) {
	rm := h.getOrCreateRoom(client.eventID)
	rm.mutex.Lock()
	rm.clients[client.userID] = client
	rm.lastActivity = time.Now()
	count := len(rm.clients)
	rm.mutex.Unlock()

	log.Printf("👤 Client %s (%s) joined event %s (clients: %d)", client.userID, client.role, client.eventID, count)
}

// leave - drop a subscriber and close its send channel
func (h *Hub) leave(client *Client) {
	h.mutex.RLock()
	rm, exists := h.rooms[client.eventID]
	h.mutex.RUnlock()
	if !exists {
		return
	}

	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	if existing, ok := rm.clients[client.userID]; ok && existing == client {
		close(client.send)
		delete(rm.clients, client.userID)
		rm.lastActivity = time.Now()
		log.Printf("👋 Client %s left event %s (remaining: %d)", client.userID, client.eventID, len(rm.clients))
	}
}

// publish - fan one event out to the room, filtered per client role. Slow
// clients are dropped rather than blocking the pipeline.
func (h *Hub) publish(eventID string, build func(role string) *Event) {
	h.mutex.RLock()
	rm, exists := h.rooms[eventID]
	h.mutex.RUnlock()
	if !exists {
		// nobody watching; fire-and-forget means this is fine
		return
	}

	encoded := map[string][]byte{}

	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	for userID, client := range rm.clients {
		ev := build(client.role)
		if ev == nil {
			continue
		}

		data, ok := encoded[client.role]
		if !ok {
			var err error
			data, err = json.Marshal(ev)
			if err != nil {
				log.Printf("❌ Failed to marshal %s event: %v", ev.Type, err)
				return
			}
			encoded[client.role] = data
		}

		select {
		case client.send <- data:
		default:
			close(client.send)
			delete(rm.clients, userID)
			log.Printf("🔌 Dropped slow client %s from event %s", userID, eventID)
		}
	}
}

// PublishProgress - moderator audience only; viewers don't see intermediate
// lifecycle detail
func (h *Hub) PublishProgress(mediaID, eventID, stage string, percentage int, uploadedBy string) {
	h.publish(eventID, func(role string) *Event {
		if role != RoleModerator {
			return nil
		}
		return &Event{
			Type:               TypeProgress,
			MediaID:            mediaID,
			EventID:            eventID,
			Stage:              stage,
			ProgressPercentage: percentage,
			UploadedBy:         uploadedBy,
		}
	})
}

// PublishCompleted - the appearance transition, visible to everyone
func (h *Hub) PublishCompleted(mediaID, eventID, finalURL string, variants map[string]string) {
	h.publish(eventID, func(role string) *Event {
		return &Event{
			Type:               TypeCompleted,
			MediaID:            mediaID,
			EventID:            eventID,
			ProgressPercentage: 100,
			FinalURL:           finalURL,
			Variants:           variants,
		}
	})
}

// PublishFailed - moderators get the stored message, viewers a generic signal
func (h *Hub) PublishFailed(mediaID, eventID, errorMessage string) {
	h.publish(eventID, func(role string) *Event {
		ev := &Event{Type: TypeFailed, MediaID: mediaID, EventID: eventID}
		if role == RoleModerator {
			ev.Error = errorMessage
		}
		return ev
	})
}

// PublishRemoved - the removal transition, visible to everyone
func (h *Hub) PublishRemoved(mediaID, eventID string) {
	h.publish(eventID, func(role string) *Event {
		return &Event{Type: TypeRemoved, MediaID: mediaID, EventID: eventID}
	})
}

// ServeWS - GET /ws?event={eventId}&user={userId}&role={moderator|viewer}
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ WebSocket upgrade failed: %v", err)
		return
	}

	eventID := r.URL.Query().Get("event")
	userID := r.URL.Query().Get("user")
	role := r.URL.Query().Get("role")
	if eventID == "" || userID == "" {
		log.Printf("❌ Missing event or user parameter")
		conn.Close()
		return
	}
	if role != RoleModerator {
		role = RoleViewer
	}

	client := &Client{
		conn:    conn,
		eventID: eventID,
		userID:  userID,
		role:    role,
		send:    make(chan []byte, 256),
	}
	h.join(client)

	go client.writePump()
	go client.readPump(h)
}

// readPump - subscribers only listen; discard anything they send until the
// connection drops
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.leave(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ WebSocket error: %v", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("❌ WebSocket write error: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// StartCleanupRoutine - drop empty rooms every few minutes
func (h *Hub) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.cleanupEmptyRooms()
			}
		}
	}()
}

func (h *Hub) cleanupEmptyRooms() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	cleaned := 0
	for eventID, rm := range h.rooms {
		rm.mutex.RLock()
		isEmpty := len(rm.clients) == 0
		rm.mutex.RUnlock()

		if isEmpty {
			delete(h.rooms, eventID)
			cleaned++
		}
	}
	if cleaned > 0 {
		log.Printf("🧹 Cleaned up %d empty rooms (active: %d)", cleaned, len(h.rooms))
	}
}

// Counts - room/client totals for the metrics endpoint
func (h *Hub) Counts() (rooms, clients int) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	rooms = len(h.rooms)
	for _, rm := range h.rooms {
		rm.mutex.RLock()
		clients += len(rm.clients)
		rm.mutex.RUnlock()
	}
	return rooms, clients
}
