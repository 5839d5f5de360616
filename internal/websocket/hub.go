package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"singalong/internal/queue"
	"singalong/internal/scoring"
	"singalong/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // phones load the UI from the node's LAN address
	},
}

var ErrNotAuthorized = errors.New("not authorized")

// MessageType represents WebSocket message types
type MessageType string

const (
	// Client -> Server
	MsgHandshake   MessageType = "handshake"
	MsgQueueAdd    MessageType = "queue_add"
	MsgQueueRemove MessageType = "queue_remove"
	MsgSkip        MessageType = "skip"
	MsgControl     MessageType = "control"
	MsgMarkSinging MessageType = "mark_singing"
	MsgActivity    MessageType = "activity"

	// Server -> Client
	MsgWelcome     MessageType = "welcome"
	MsgStateUpdate MessageType = "state_update"
	MsgScore       MessageType = "score"
	MsgNotice      MessageType = "notice"
	MsgLiveness    MessageType = "liveness"
	MsgError       MessageType = "error"
	MsgClientList  MessageType = "client_list"
	MsgKicked      MessageType = "kicked"
)

// Role is what kind of view a connection belongs to
type Role string

const (
	RoleSinger Role = "singer"
	RoleAdmin  Role = "admin"
	RoleTV     Role = "tv"
)

// Message represents a WebSocket message
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandshakePayload is sent by a client on connection. Admin views pass
// the bearer token from /api/admin/login.
type HandshakePayload struct {
	Role  Role   `json:"role"`
	Name  string `json:"name,omitempty"`
	Token string `json:"token,omitempty"`
}

// Identity is who a connection turned out to be after the handshake
type Identity struct {
	Role      Role   `json:"role"`
	Name      string `json:"name"`
	SessionID string `json:"sessionId,omitempty"`
}

// IsAdmin reports whether the connection may run admin actions
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// WelcomePayload is sent to a client after handshake
type WelcomePayload struct {
	Identity  Identity         `json:"identity"`
	RoomState models.RoomState `json:"room_state"`
}

// QueueAddPayload is a singer's song request
type QueueAddPayload struct {
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	VideoID string `json:"videoId"`
}

// LivenessPayload reports the phone connectivity edge
type LivenessPayload struct {
	Connected bool `json:"connected"`
}

// ClientInfo contains client connection info for admin display
type ClientInfo struct {
	Role      Role   `json:"role"`
	Name      string `json:"name"`
	Device    string `json:"device"`
	IPAddress string `json:"ip_address"`
}

// Client represents a connected WebSocket client
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	identity  *Identity
	ipAddress string
	userAgent string
}

// HubHandlers contains all handler callbacks. A returned error is sent
// back to the client as an error message.
type HubHandlers struct {
	OnHandshake        func(client *Client, payload HandshakePayload) (*Identity, *models.RoomState, error)
	OnQueueAdd         func(client *Client, payload QueueAddPayload) error
	OnQueueRemove      func(client *Client, id int) error
	OnSkip             func(client *Client) error
	OnControl          func(client *Client, cmd models.ControlCommand) error
	OnMarkSinging      func(client *Client)
	OnActivity         func(client *Client)
	OnJoin             func(client *Client)
	OnClientDisconnect func(client *Client)
}

// Hub is the single fan-out path for state pushed to connected views
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	handlers HubHandlers
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// SetHandlers sets the message handler callbacks. Call before Run.
func (h *Hub) SetHandlers(handlers HubHandlers) {
	h.handlers = handlers
}

// Run starts the hub's main loop and closes every connection when ctx ends
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] Client connected: %d total clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			_, wasConnected := h.clients[client]
			if wasConnected {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			// Call disconnect callback AFTER releasing lock to avoid deadlock
			if wasConnected && h.handlers.OnClientDisconnect != nil {
				h.handlers.OnClientDisconnect(client)
			}
			log.Printf("[WS] Client disconnected: %d total clients", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func encode(msgType MessageType, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msgType MessageType, payload any) error {
	msg, err := encode(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("[WS] Broadcast buffer full, dropping %s", msgType)
	}
	return nil
}

// BroadcastState sends the current room state to all clients
func (h *Hub) BroadcastState(state models.RoomState) error {
	return h.Broadcast(MsgStateUpdate, state)
}

// BroadcastScore announces a finished performance
func (h *Hub) BroadcastScore(result scoring.Result) error {
	return h.Broadcast(MsgScore, result)
}

// BroadcastNotice forwards an engine notice such as an unavailable video
func (h *Hub) BroadcastNotice(n queue.Notice) error {
	return h.Broadcast(MsgNotice, n)
}

// BroadcastLiveness forwards a phone connectivity edge
func (h *Hub) BroadcastLiveness(connected bool) error {
	return h.Broadcast(MsgLiveness, LivenessPayload{Connected: connected})
}

// SendTo sends a message to a specific client. Full or closed clients drop it.
func (h *Hub) SendTo(client *Client, msgType MessageType, payload any) error {
	msg, err := encode(msgType, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return nil
	}
	select {
	case client.send <- msg:
	default:
	}
	return nil
}

// BroadcastToAdmins sends a message only to admin clients
func (h *Hub) BroadcastToAdmins(msgType MessageType, payload any) error {
	msg, err := encode(msgType, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.identity.IsAdmin() {
			select {
			case client.send <- msg:
			default:
			}
		}
	}
	return nil
}

// ServeWS handles WebSocket upgrade requests
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ipAddress := GetClientIP(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed for %s: %v", ipAddress, err)
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		ipAddress: ipAddress,
		userAgent: r.Header.Get("User-Agent"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// GetClientIP extracts the real client IP from a request
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// readPump pumps messages from the WebSocket to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[WS] Unexpected close for %s: %v", c.ipAddress, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[WS] Invalid message format from %s: %v", c.ipAddress, err)
			continue
		}
		c.handleMessage(msg)
	}
}

// writePump pumps messages from the hub to the WebSocket
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("[WS] Write failed for %s: %v", c.ipAddress, err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *Client) reply(err error) {
	if err != nil {
		c.hub.SendTo(c, MsgError, map[string]string{"error": err.Error()})
	}
}

// handleMessage processes incoming messages. Everything but the handshake
// requires one first.
func (c *Client) handleMessage(msg Message) {
	h := c.hub.handlers

	if msg.Type == MsgHandshake {
		var payload HandshakePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.reply(errors.New("invalid handshake"))
			return
		}
		if h.OnHandshake == nil {
			return
		}
		identity, state, err := h.OnHandshake(c, payload)
		if err != nil {
			c.reply(err)
			return
		}
		c.hub.mu.Lock()
		c.identity = identity
		c.hub.mu.Unlock()
		c.hub.SendTo(c, MsgWelcome, WelcomePayload{Identity: *identity, RoomState: *state})
		if h.OnJoin != nil {
			h.OnJoin(c)
		}
		return
	}

	if c.Identity() == nil {
		c.reply(errors.New("handshake required"))
		return
	}

	switch msg.Type {
	case MsgQueueAdd:
		var payload QueueAddPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		if h.OnQueueAdd != nil {
			c.reply(h.OnQueueAdd(c, payload))
		}

	case MsgQueueRemove:
		if !c.Identity().IsAdmin() {
			c.reply(ErrNotAuthorized)
			return
		}
		var id int
		if err := json.Unmarshal(msg.Payload, &id); err != nil {
			return
		}
		if h.OnQueueRemove != nil {
			c.reply(h.OnQueueRemove(c, id))
		}

	case MsgSkip:
		if !c.Identity().IsAdmin() {
			c.reply(ErrNotAuthorized)
			return
		}
		if h.OnSkip != nil {
			c.reply(h.OnSkip(c))
		}

	case MsgControl:
		var cmd models.ControlCommand
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			return
		}
		if h.OnControl != nil {
			c.reply(h.OnControl(c, cmd))
		}

	case MsgMarkSinging:
		if h.OnMarkSinging != nil {
			h.OnMarkSinging(c)
		}

	case MsgActivity:
		if h.OnActivity != nil {
			h.OnActivity(c)
		}

	default:
		log.Printf("[WS] Unknown message type %q from %s", msg.Type, c.ipAddress)
	}
}

// Identity returns who the client is, nil before the handshake
func (c *Client) Identity() *Identity {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.identity
}

// GetIPAddress returns the client's IP address
func (c *Client) GetIPAddress() string {
	return c.ipAddress
}

// GetUserAgent returns the client's User-Agent string
func (c *Client) GetUserAgent() string {
	return c.userAgent
}

// GetConnectedClients returns info about all identified clients
func (h *Hub) GetConnectedClients(label func(userAgent string) string) []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]ClientInfo, 0, len(h.clients))
	for client := range h.clients {
		if client.identity == nil {
			continue
		}
		info := ClientInfo{
			Role:      client.identity.Role,
			Name:      client.identity.Name,
			IPAddress: client.ipAddress,
		}
		if label != nil {
			info.Device = label(client.userAgent)
		}
		clients = append(clients, info)
	}
	return clients
}

// KickSession sends kicked to every client bound to sessionID and closes it
func (h *Hub) KickSession(sessionID, reason string) int {
	h.mu.RLock()
	var targets []*Client
	for client := range h.clients {
		if client.identity != nil && client.identity.SessionID == sessionID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.KickClient(client, reason)
	}
	return len(targets)
}

// KickClient tells a client it was kicked and drops the connection once
// the message is flushed
func (h *Hub) KickClient(client *Client, reason string) {
	if client == nil {
		return
	}
	h.SendTo(client, MsgKicked, map[string]string{"reason": reason})

	h.mu.Lock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}
