// Package chat implements rooms, messages and read tracking on top of the Persistence Gateway.
// Every mutation runs in one store transaction; fan-out happens after commit and never fails
// the operation.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ohtalk/server/internal/apperr"
	"ohtalk/server/internal/store"
)

// Limits bounds request sizes
type Limits struct {
	MaxContentLength int
	DefaultPageLimit int
	MaxPageLimit     int
	PublishTimeout   time.Duration
}

// DefaultLimits mirrors the configuration defaults
var DefaultLimits = Limits{
	MaxContentLength: 5000,
	DefaultPageLimit: 50,
	MaxPageLimit:     100,
	PublishTimeout:   3 * time.Second,
}

// Options wires a Service
type Options struct {
	Store     store.Store
	Publisher Publisher
	Logger    *slog.Logger
	Limits    Limits
	Now       func() time.Time
}

type deps struct {
	store  store.Store
	pub    Publisher
	log    *slog.Logger
	limits Limits
	now    func() time.Time
	mapper Mapper
}

// Service groups the three chat components over shared dependencies
type Service struct {
	Rooms    *RoomDirectory
	Messages *MessageStore
	Reads    *ReadTracker
}

// New builds the chat components
func New(opts Options) *Service {
	d := &deps{
		store:  opts.Store,
		pub:    opts.Publisher,
		log:    opts.Logger,
		limits: opts.Limits,
		now:    opts.Now,
		mapper: Mapper{PreviewLength: 30},
	}
	if d.pub == nil {
		d.pub = NopPublisher{}
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.limits.MaxContentLength <= 0 {
		d.limits.MaxContentLength = DefaultLimits.MaxContentLength
	}
	if d.limits.DefaultPageLimit <= 0 {
		d.limits.DefaultPageLimit = DefaultLimits.DefaultPageLimit
	}
	if d.limits.MaxPageLimit < d.limits.DefaultPageLimit {
		d.limits.MaxPageLimit = max(DefaultLimits.MaxPageLimit, d.limits.DefaultPageLimit)
	}
	if d.limits.PublishTimeout <= 0 {
		d.limits.PublishTimeout = DefaultLimits.PublishTimeout
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}

	reads := &ReadTracker{deps: d}
	return &Service{
		Rooms:    &RoomDirectory{deps: d},
		Messages: &MessageStore{deps: d, reads: reads},
		Reads:    reads,
	}
}

// publish delivers an event after commit; failures are logged and swallowed.
func (d *deps) publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.limits.PublishTimeout)
	defer cancel()
	if err := d.pub.Publish(ctx, event); err != nil {
		d.log.Warn("Failed to publish event",
			"type", event.Type, "chatRoomId", event.RoomID, "error", err)
	}
}

func (d *deps) pageLimit(limit int) int {
	if limit <= 0 {
		return d.limits.DefaultPageLimit
	}
	if limit > d.limits.MaxPageLimit {
		return d.limits.MaxPageLimit
	}
	return limit
}

// lookup converts a store error into notFound or an internal error
func lookup(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound
	default:
		return dbErr(err)
	}
}

func dbErr(err error) error {
	return apperr.Internal("Database error", err)
}

// classify keeps classified errors and wraps anything else as internal
func classify(err error) error {
	var e *apperr.Error
	if err == nil || errors.As(err, &e) {
		return err
	}
	return dbErr(err)
}
