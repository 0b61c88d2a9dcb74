// Package realtime carries committed board changes to connected clients.
// The hub tracks live connections and board rooms, the gateway owns the
// websocket lifecycle, and the broadcaster filters every event per
// recipient against current database state.
package realtime

import "sync"

// Client is one live connection. Messages are delivered through a
// buffered outbox; a full outbox drops the message instead of stalling
// the broadcast that produced it.
type Client struct {
	userID string

	mu     sync.Mutex
	closed bool
	outbox chan []byte
}

func (c *Client) UserID() string {
	return c.userID
}

// Send enqueues a message without blocking. Returns false when the
// client's outbox is full or the client has disconnected. Broadcasts may
// hold a Room snapshot across an Unregister, so the closed check and the
// channel send happen under one lock.
func (c *Client) Send(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbox <- message:
		return true
	default:
		return false
	}
}

// Outbox exposes the delivery channel for the connection's write loop.
// The channel closes when the client is unregistered.
func (c *Client) Outbox() <-chan []byte {
	return c.outbox
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.outbox)
}

// Hub is the registry of live connections and their board rooms. It is
// written only by the gateway (connect/disconnect/join/leave) and read by
// broadcasts; Room hands out a snapshot so iteration survives concurrent
// churn.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	joined  map[*Client]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		joined:  make(map[*Client]map[string]struct{}),
	}
}

func (h *Hub) Register(userID string) *Client {
	client := &Client{
		userID: userID,
		outbox: make(chan []byte, 32),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.joined[client] = make(map[string]struct{})
	h.mu.Unlock()
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		for boardID := range h.joined[client] {
			h.removeFromRoom(client, boardID)
		}
		delete(h.joined, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()
	client.close()
}

func (h *Hub) Join(client *Client, boardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	room, ok := h.rooms[boardID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[boardID] = room
	}
	room[client] = struct{}{}
	h.joined[client][boardID] = struct{}{}
}

func (h *Hub) Leave(client *Client, boardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	h.removeFromRoom(client, boardID)
	delete(h.joined[client], boardID)
}

func (h *Hub) removeFromRoom(client *Client, boardID string) {
	if room, ok := h.rooms[boardID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, boardID)
		}
	}
}

// Room returns a snapshot of the connections currently joined to a
// board's channel.
func (h *Hub) Room(boardID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[boardID]
	clients := make([]*Client, 0, len(room))
	for client := range room {
		clients = append(clients, client)
	}
	return clients
}

// CloseAll unregisters every connection; used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.joined = make(map[*Client]map[string]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}
