// Package event implements the bot-owned in-process event bus. Each bot
// instance owns its own Bus; handlers run synchronously on Emit so that
// statistics bookkeeping is complete before the caller proceeds. An optional
// mirror republishes every event to a domain.EventBus for out-of-process
// consumers.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Framework event names.
const (
	BotStarted     = "bot_started"
	BotStopped     = "bot_stopped"
	OrderFilled    = "order_filled"
	PositionOpened = "position_opened"
	PositionClosed = "position_closed"
	SignalEmitted  = "signal"
	Error          = "error"
)

// Event carries one occurrence through the bus. Data holds typed payloads
// under conventional keys ("order", "position", "signal", "error").
type Event struct {
	Name string
	Data map[string]any
	At   time.Time
}

// Handler processes one event. A handler error does not stop delivery to the
// remaining handlers; Emit joins all handler errors into its return value.
type Handler func(ctx context.Context, e Event) error

// Bus is a synchronous in-process publish/subscribe bus. It is safe for
// concurrent use, though the framework drives it from a single goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	mirror   MirrorFunc
	logger   *slog.Logger
}

// MirrorFunc receives every emitted event after local handlers ran.
type MirrorFunc func(ctx context.Context, e Event)

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With(slog.String("component", "event_bus")),
	}
}

// On registers a handler for the named event. Multiple handlers per name are
// allowed; call order across handlers is unspecified.
func (b *Bus) On(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Emit delivers the event to every handler registered for name, waiting for
// each before returning. Handler errors are logged and joined into the
// returned error; a failing handler never blocks the others.
func (b *Bus) Emit(ctx context.Context, name string, data map[string]any) error {
	e := Event{Name: name, Data: data, At: time.Now().UTC()}

	b.mu.RLock()
	hs := b.handlers[name]
	mirror := b.mirror
	b.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := h(ctx, e); err != nil {
			b.logger.WarnContext(ctx, "event handler failed",
				slog.String("event", name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("event %s: %w", name, err))
		}
	}

	if mirror != nil {
		mirror(ctx, e)
	}
	return errors.Join(errs...)
}

// Mirror republishes every subsequent event as JSON onto the given
// domain-level bus channel. Publish failures are logged, not propagated;
// the in-process handlers remain the source of truth.
func (b *Bus) Mirror(out Publisher, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirror = func(ctx context.Context, e Event) {
		payload, err := json.Marshal(wireEvent(e))
		if err != nil {
			b.logger.Warn("mirror marshal failed",
				slog.String("event", e.Name),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := out.Publish(ctx, channel, payload); err != nil {
			b.logger.WarnContext(ctx, "mirror publish failed",
				slog.String("event", e.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Publisher is the subset of domain.EventBus the mirror needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// wireEvent flattens an Event into a JSON-friendly map. Payload values that
// do not marshal (e.g. raw errors) are rendered as strings.
func wireEvent(e Event) map[string]any {
	out := map[string]any{
		"event": e.Name,
		"at":    e.At.Format(time.RFC3339Nano),
	}
	for k, v := range e.Data {
		if err, ok := v.(error); ok {
			out[k] = err.Error()
			continue
		}
		out[k] = v
	}
	return out
}
