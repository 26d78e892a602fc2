package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ohtalk/server/internal/chat"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type received struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
}

func next(t *testing.T, c *Client) received {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send queue closed")
		var frame received
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return received{}
	}
}

func requireEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected frame %s", data)
	default:
	}
}

func TestHub_DeliverOnlyToRoomSubscribers(t *testing.T) {
	hub := NewHub(quietLogger())
	alice := NewClient("alice", "Alice", nil, hub, nil)
	bob := NewClient("bob", "Bob", nil, hub, nil)
	hub.Subscribe(alice, "room-1")
	hub.Subscribe(bob, "room-2")

	hub.Deliver(chat.Event{Type: chat.EventMessageCreated, RoomID: "room-1", Payload: map[string]string{"content": "hi"}})

	frame := next(t, alice)
	require.Equal(t, FrameMessage, frame.Type)
	require.Equal(t, "/topic/chatroom/room-1", frame.Destination)
	var event struct {
		Type   string `json:"type"`
		RoomID string `json:"chatRoomId"`
	}
	require.NoError(t, json.Unmarshal(frame.Payload, &event))
	require.Equal(t, "MESSAGE_CREATED", event.Type)
	requireEmpty(t, bob)

	require.NoError(t, hub.Publish(context.Background(), chat.Event{Type: chat.EventTyping, RoomID: "room-2"}))
	require.Equal(t, "/topic/chatroom/room-2/typing", next(t, bob).Destination)
}

func TestHub_UnsubscribeAndStats(t *testing.T) {
	hub := NewHub(quietLogger())
	alice := NewClient("alice", "Alice", nil, hub, nil)
	bob := NewClient("bob", "Bob", nil, hub, nil)
	hub.Subscribe(alice, "room-1")
	hub.Subscribe(bob, "room-1")
	hub.Subscribe(bob, "room-2")
	require.Equal(t, Stats{Connections: 0, Rooms: 2, Subscriptions: 3}, hub.Stats())

	hub.Unsubscribe(bob, "room-1")
	require.False(t, hub.Subscribed(bob, "room-1"))
	require.True(t, hub.Subscribed(bob, "room-2"))

	hub.Deliver(chat.Event{Type: chat.EventMessageCreated, RoomID: "room-1"})
	next(t, alice)
	requireEmpty(t, bob)
}

func TestHub_ReconnectReplacesPreviousConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(quietLogger())
	go hub.Run(ctx)

	first := NewClient("alice", "Alice", nil, hub, nil)
	hub.Register(first)
	hub.Subscribe(first, "room-1")
	require.Eventually(t, func() bool { return hub.IsUserOnline("alice") }, time.Second, 5*time.Millisecond)

	second := NewClient("alice", "Alice", nil, hub, nil)
	hub.Register(second)
	require.Eventually(t, func() bool {
		_, open := <-first.Send
		return !open
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, hub.Stats().Subscriptions)

	// The stale connection unregistering must not evict the new one
	hub.Unregister(first)
	require.Eventually(t, func() bool { return hub.Stats().Connections == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, hub.IsUserOnline("alice"))

	hub.Unregister(second)
	require.Eventually(t, func() bool { return !hub.IsUserOnline("alice") }, time.Second, 5*time.Millisecond)
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(quietLogger())
	slow := NewClient("slow", "Slow", nil, hub, nil)
	hub.Subscribe(slow, "room-1")
	for i := 0; i < sendBuffer; i++ {
		slow.Send <- []byte("{}")
	}

	hub.Deliver(chat.Event{Type: chat.EventMessageCreated, RoomID: "room-1"})
	require.False(t, hub.Subscribed(slow, "room-1"))
	require.Equal(t, 0, hub.Stats().Rooms)
}

type scriptedConn struct {
	mu      sync.Mutex
	frames  [][]byte
	written [][]byte
	closed  bool
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return 0, nil, errors.New("connection closed")
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return 1, frame, nil
}

func (c *scriptedConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *scriptedConn) SetReadDeadline(time.Time) error  { return nil }
func (c *scriptedConn) SetWriteDeadline(time.Time) error { return nil }
func (c *scriptedConn) SetPongHandler(func(string) error) {}
func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestClient_ReadPumpUnregistersOnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(quietLogger())
	go hub.Run(ctx)

	conn := &scriptedConn{frames: [][]byte{[]byte(`not json`)}}
	router := NewRouter(hub, nil, nil, hub, quietLogger())
	client := NewClient("alice", "Alice", conn, hub, router)
	hub.Register(client)

	client.ReadPump(ctx)

	frame := next(t, client)
	require.Equal(t, FrameError, frame.Type)
	require.Eventually(t, func() bool { return !hub.IsUserOnline("alice") }, time.Second, 5*time.Millisecond)
	conn.mu.Lock()
	require.True(t, conn.closed)
	conn.mu.Unlock()
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(quietLogger())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	client := NewClient("alice", "Alice", nil, hub, nil)
	hub.Register(client)
	hub.Unregister(client)
	_, open := <-client.Send
	require.False(t, open)
}

func TestHub_MemberLeftRevokesSubscription(t *testing.T) {
	hub := NewHub(quietLogger())
	alice := NewClient("alice", "Alice", nil, hub, nil)
	bob := NewClient("bob", "Bob", nil, hub, nil)
	hub.Subscribe(alice, "room-1")
	hub.Subscribe(bob, "room-1")
	hub.Subscribe(bob, "room-2")

	// Relayed events carry a decoded JSON object rather than the typed payload
	hub.Deliver(chat.Event{Type: chat.EventMemberLeft, RoomID: "room-1",
		Payload: map[string]any{"userIds": []any{"bob"}}})

	require.Equal(t, "/topic/chatroom/room-1", next(t, bob).Destination)
	next(t, alice)
	require.False(t, hub.Subscribed(bob, "room-1"))
	require.True(t, hub.Subscribed(bob, "room-2"))
	require.True(t, hub.Subscribed(alice, "room-1"))

	hub.Deliver(chat.Event{Type: chat.EventMessageCreated, RoomID: "room-1"})
	next(t, alice)
	requireEmpty(t, bob)

	hub.Deliver(chat.Event{Type: chat.EventMemberLeft, RoomID: "room-1",
		Payload: chat.MembershipPayload{UserIDs: []string{"carol"}, RoomDeleted: true}})
	next(t, alice)
	require.False(t, hub.Subscribed(alice, "room-1"))
	require.Equal(t, Stats{Connections: 0, Rooms: 1, Subscriptions: 1}, hub.Stats())
}
