// WebSocket fan-out of real-time collaboration events to local designer
// clients.
package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/schemaflow/backend/internal/logging"
	"github.com/schemaflow/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon serves the local designer only.
		return r.Host == "localhost" || strings.HasPrefix(r.Host, "localhost:") ||
			r.Host == "127.0.0.1" || strings.HasPrefix(r.Host, "127.0.0.1:")
	},
}

// WSClient represents one connected designer session.
type WSClient struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	hub           *WSHub
	mu            sync.Mutex
	subscriptions map[string]bool // empty means all events
}

// WSHub maintains active client connections and broadcasts envelopes.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan wsMessage
	register   chan *WSClient
	unregister chan *WSClient
	logger     *logging.Logger
	mu         sync.RWMutex
}

type wsMessage struct {
	eventType string
	payload   []byte
}

// WSEnvelope wraps every outbound WebSocket message.
type WSEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

const (
	// Lease events
	wsEventLeaseAcquired = "lease.acquired"
	wsEventLeaseExtended = "lease.extended"
	wsEventLeaseReleased = "lease.released"

	// Schema registry events
	wsEventResourceCreated  = "resource.created"
	wsEventResourceModified = "resource.modified"
	wsEventResourceDeleted  = "resource.deleted"

	// Session notifications
	wsEventNotification = "notification.created"
)

// NewWSHub creates the hub and starts its run loop.
func NewWSHub(logger *logging.Logger) *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan wsMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		logger:     logger,
	}
	go hub.run()
	return hub
}

func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client connected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client disconnected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.subscribed(message.eventType) {
					continue
				}
				select {
				case client.send <- message.payload:
				default:
					// Send buffer full, drop the connection.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an enveloped message to every subscribed client.
func (h *WSHub) Broadcast(eventType string, data interface{}) {
	envelope := WSEnvelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", err,
			map[string]interface{}{"event_type": eventType})
		return
	}

	h.broadcast <- wsMessage{eventType: eventType, payload: payload}
}

// BroadcastRealTimeEvent maps a derived collaboration event onto the wire
// protocol.
func (h *WSHub) BroadcastRealTimeEvent(event models.RealTimeEvent) {
	h.Broadcast(wsEventTypeFor(event.Type), event)
}

// BroadcastNotification pushes a session notification to the designer UI.
func (h *WSHub) BroadcastNotification(notification models.Notification) {
	h.Broadcast(wsEventNotification, notification)
}

func wsEventTypeFor(t models.RealTimeEventType) string {
	switch t {
	case models.EventLeaseAcquired:
		return wsEventLeaseAcquired
	case models.EventLeaseExtended:
		return wsEventLeaseExtended
	case models.EventLeaseReleased:
		return wsEventLeaseReleased
	case models.EventResourceCreated:
		return wsEventResourceCreated
	case models.EventResourceModified:
		return wsEventResourceModified
	case models.EventResourceDeleted:
		return wsEventResourceDeleted
	default:
		return string(t)
	}
}

// subscribed reports whether the client wants the event type. A client
// with no explicit subscriptions receives everything.
func (c *WSClient) subscribed(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[eventType]
}

// readPump pumps control messages from the connection.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error",
					map[string]interface{}{"client_id": c.id, "error": err.Error()})
			}
			break
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Debug("Ignoring malformed WebSocket message",
				map[string]interface{}{"client_id": c.id})
			continue
		}

		action, ok := msg["action"].(string)
		if !ok {
			continue
		}

		switch action {
		case "subscribe":
			if events, ok := msg["events"].([]interface{}); ok {
				c.mu.Lock()
				for _, e := range events {
					if name, ok := e.(string); ok {
						c.subscriptions[name] = true
					}
				}
				c.mu.Unlock()
				c.sendAck("subscribe_ack", events)
			}

		case "unsubscribe":
			if events, ok := msg["events"].([]interface{}); ok {
				c.mu.Lock()
				for _, e := range events {
					if name, ok := e.(string); ok {
						delete(c.subscriptions, name)
					}
				}
				c.mu.Unlock()
			}

		case "ping":
			c.sendPong()
		}
	}
}

// writePump pumps outbound messages and keepalive pings.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) sendAck(action string, events []interface{}) {
	payload, _ := json.Marshal(map[string]interface{}{
		"action":     action,
		"subscribed": events,
		"timestamp":  time.Now().Unix(),
	})
	select {
	case c.send <- payload:
	default:
	}
}

func (c *WSClient) sendPong() {
	payload, _ := json.Marshal(map[string]interface{}{
		"action":    "pong",
		"timestamp": time.Now().Unix(),
	})
	select {
	case c.send <- payload:
	default:
	}
}

// HandleWebSocket upgrades the connection and starts the client pumps.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("WebSocket upgrade failed",
				map[string]interface{}{"error": err.Error()})
			return
		}

		client := &WSClient{
			id:            time.Now().Format("20060102150405.000") + "-" + r.RemoteAddr,
			conn:          conn,
			send:          make(chan []byte, 256),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
