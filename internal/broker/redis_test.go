package broker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"ohtalk/server/internal/chat"
)

type collector struct {
	mu     sync.Mutex
	events []chat.Event
}

func (c *collector) Deliver(event chat.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collector) snapshot() []chat.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Event(nil), c.events...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandle_DecodesAndDelivers(t *testing.T) {
	local := &collector{}
	relay := NewRelay(nil, "chatroom", local, quietLogger())

	relay.handle(&redis.Message{Channel: "chatroom:r1", Payload: `{"type":"MESSAGE_CREATED","payload":{"content":"hi"}}`})
	relay.handle(&redis.Message{Channel: "chatroom:r1", Payload: `garbage`})

	events := local.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, chat.EventMessageCreated, events[0].Type)
	require.Equal(t, "r1", events[0].RoomID)
	require.Equal(t, "chatroom:r1", relay.Channel("r1"))
}

// Requires a reachable Redis, e.g. TEST_REDIS_URL=redis://localhost:6379/0
func TestRelay_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := &collector{}
	relay, err := NewRedisRelay(ctx, url, "test-chatroom", local, quietLogger())
	require.NoError(t, err)
	defer relay.Close()

	go relay.Run(ctx)

	require.Eventually(t, func() bool {
		_ = relay.Publish(ctx, chat.Event{Type: chat.EventTyping, RoomID: "r1"})
		return len(local.snapshot()) > 0
	}, 5*time.Second, 100*time.Millisecond)
	require.Equal(t, "r1", local.snapshot()[0].RoomID)
}
