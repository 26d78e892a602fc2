// Package broker relays room events between instances over Redis pub/sub.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"ohtalk/server/internal/chat"
)

// Deliverer receives events relayed from any instance
type Deliverer interface {
	Deliver(event chat.Event)
}

// RedisRelay publishes room events to Redis and feeds every received event to the local hub.
type RedisRelay struct {
	client *redis.Client
	prefix string
	local  Deliverer
	log    *slog.Logger
}

// Ensure interface compliance at compile time
var _ chat.Publisher = (*RedisRelay)(nil)

// NewRedisRelay connects to url and checks the connection
func NewRedisRelay(ctx context.Context, url, prefix string, local Deliverer, log *slog.Logger) (*RedisRelay, error) {
	if url == "" {
		return nil, errors.New("redis: url is empty")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRelay(c, prefix, local, log), nil
}

// NewRelay wraps an existing client
func NewRelay(client *redis.Client, prefix string, local Deliverer, log *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, prefix: prefix, local: local, log: log}
}

// Channel is the Redis channel carrying a room's events
func (r *RedisRelay) Channel(roomID string) string {
	return r.prefix + ":" + roomID
}

func (r *RedisRelay) Publish(ctx context.Context, event chat.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.Channel(event.RoomID), data).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

// Run pattern-subscribes to every room channel and delivers events locally until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.prefix+":*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe: %w", err)
	}
	r.log.Info("Relay subscribed", "pattern", r.prefix+":*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg)
		}
	}
}

func (r *RedisRelay) handle(msg *redis.Message) {
	var event chat.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		r.log.Warn("Dropping malformed relay payload", "channel", msg.Channel, "error", err)
		return
	}
	if event.RoomID == "" {
		event.RoomID = strings.TrimPrefix(msg.Channel, r.prefix+":")
	}
	r.local.Deliver(event)
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
