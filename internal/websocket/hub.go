package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"ohtalk/server/internal/chat"
)

type set map[*Client]struct{}

// Hub maintains the active clients and their room subscriptions
type Hub struct {
	// Registered clients mapped by user ID, one connection per user
	clients map[string]*Client

	// Room ID to subscribed clients
	topics map[string]set

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	log *slog.Logger
	mu  sync.RWMutex
}

// Stats is a snapshot of hub occupancy
type Stats struct {
	Connections   int `json:"connections"`
	Rooms         int `json:"rooms"`
	Subscriptions int `json:"subscriptions"`
}

// NewHub creates a new WebSocket hub
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		topics:     make(map[string]set),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Register adds the client; after Run has stopped the client is closed instead.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		h.mu.Lock()
		c.closeSend()
		h.mu.Unlock()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A user reconnecting replaces the previous connection
	if existing, ok := h.clients[client.UserID]; ok && existing != client {
		h.detach(existing)
	}
	h.clients[client.UserID] = client
	h.log.Info("Client connected", "userId", client.UserID, "connections", len(h.clients))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[client.UserID]; ok && current == client {
		delete(h.clients, client.UserID)
		h.log.Info("Client disconnected", "userId", client.UserID, "connections", len(h.clients))
	}
	h.detach(client)
}

// detach drops every subscription of client and closes its send queue. Callers hold mu.
func (h *Hub) detach(client *Client) {
	for roomID := range client.rooms {
		h.removeSubscriber(roomID, client)
	}
	client.rooms = map[string]struct{}{}
	client.closeSend()
}

func (h *Hub) removeSubscriber(roomID string, client *Client) {
	if subs, ok := h.topics[roomID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, roomID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		h.detach(client)
		delete(h.clients, id)
	}
}

// Subscribe adds client to the room topic
func (h *Hub) Subscribe(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.closed {
		return
	}
	if _, ok := h.topics[roomID]; !ok {
		h.topics[roomID] = make(set)
	}
	h.topics[roomID][client] = struct{}{}
	client.rooms[roomID] = struct{}{}
}

// Unsubscribe removes client from the room topic
func (h *Hub) Unsubscribe(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeSubscriber(roomID, client)
	delete(client.rooms, roomID)
}

// Subscribed reports whether client listens on the room topic
func (h *Hub) Subscribed(client *Client, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := client.rooms[roomID]
	return ok
}

// Publish delivers the event to local subscribers. It is the single-instance publisher.
func (h *Hub) Publish(_ context.Context, event chat.Event) error {
	h.Deliver(event)
	return nil
}

// Deliver fans the event out to every local subscriber of its room. Clients whose queue is
// full are disconnected.
func (h *Hub) Deliver(event chat.Event) {
	data, err := json.Marshal(Frame{Type: FrameMessage, Destination: event.Destination(), Payload: event})
	if err != nil {
		h.log.Error("Failed to marshal event", "type", event.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.topics[event.RoomID] {
		select {
		case client.Send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.log.Warn("Dropping slow client", "userId", client.UserID, "chatRoomId", event.RoomID)
		h.unregisterClient(client)
	}

	if event.Type == chat.EventMemberLeft {
		if membership, ok := event.Membership(); ok {
			h.revoke(event.RoomID, membership)
		}
	}
}

// revoke drops the room subscriptions of users who are no longer members. A deleted room loses
// its whole topic.
func (h *Hub) revoke(roomID string, membership chat.MembershipPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.topics[roomID] {
		if membership.RoomDeleted || slices.Contains(membership.UserIDs, client.UserID) {
			h.removeSubscriber(roomID, client)
			delete(client.rooms, roomID)
			h.log.Debug("Subscription revoked", "userId", client.UserID, "chatRoomId", roomID)
		}
	}
}

// IsUserOnline checks if a user is currently connected
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.clients[userID]
	return ok
}

// Stats returns the current occupancy
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := 0
	for _, s := range h.topics {
		subs += len(s)
	}
	return Stats{Connections: len(h.clients), Rooms: len(h.topics), Subscriptions: subs}
}
