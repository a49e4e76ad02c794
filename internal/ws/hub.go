package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// defaultSendBuffer is the per-client outbound queue length.
const defaultSendBuffer = 256

// Client represents a WebSocket client connection.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	mu      sync.Mutex
	closed  bool
}

// NewClient creates a new WebSocket client with the given connection ID.
func NewClient(conn *websocket.Conn, id string, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// Send queues a message to be sent to the client.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, close the client
		c.closeLocked()
	}
}

// Close closes the client's outbound queue. The write pump then closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ID returns the ephemeral connection ID.
func (c *Client) ID() string {
	return c.id
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Allow reports whether a throttled frame may be processed now.
// Clients without a limiter are never throttled.
func (c *Client) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// Room is the broadcast scope of every connection joined to one board.
type Room struct {
	boardID string
	clients map[*Client]bool
	mu      sync.RWMutex
}

// NewRoom creates an empty room for boardID.
func NewRoom(boardID string) *Room {
	return &Room{
		boardID: boardID,
		clients: make(map[*Client]bool),
	}
}

// BoardID returns the board this room belongs to.
func (r *Room) BoardID() string {
	return r.boardID
}

// Add subscribes a client to the room.
func (r *Room) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client] = true
}

// Remove unsubscribes a client. The connection stays open.
// It returns the number of clients left.
func (r *Room) Remove(client *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, client)
	return len(r.clients)
}

// Has reports whether client is subscribed.
func (r *Room) Has(client *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[client]
}

// Broadcast sends data to every client in the room except the excluded one.
// A nil except sends to everyone.
func (r *Room) Broadcast(data []byte, except *Client) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for client := range r.clients {
		if client == except {
			continue
		}
		client.Send(data)
		sent++
	}
	return sent
}

// ClientCount returns the number of subscribed clients.
func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Rooms manages the room of every board with live connections.
type Rooms struct {
	rooms map[string]*Room
	mu    sync.RWMutex
}

// NewRooms creates an empty room set.
func NewRooms() *Rooms {
	return &Rooms{
		rooms: make(map[string]*Room),
	}
}

// Join subscribes client to the room of boardID, creating it if needed.
func (m *Rooms) Join(boardID string, client *Client) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[boardID]
	if !ok {
		room = NewRoom(boardID)
		m.rooms[boardID] = room
	}
	room.Add(client)
	return room
}

// Leave unsubscribes client from the room of boardID and drops the room once empty.
func (m *Rooms) Leave(boardID string, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[boardID]
	if !ok {
		return
	}
	if room.Remove(client) == 0 {
		delete(m.rooms, boardID)
	}
}

// Get returns the room for boardID, or nil if nobody is in it.
func (m *Rooms) Get(boardID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[boardID]
}

// Count returns the number of live rooms.
func (m *Rooms) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Close drops every room without closing the clients.
func (m *Rooms) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = make(map[string]*Room)
}
