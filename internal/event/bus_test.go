package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBusDeliversToAllHandlers(t *testing.T) {
	bus := NewBus(testLogger())

	var first, second int
	bus.On(OrderFilled, func(ctx context.Context, e Event) error {
		first++
		return nil
	})
	bus.On(OrderFilled, func(ctx context.Context, e Event) error {
		second++
		return nil
	})
	bus.On(Error, func(ctx context.Context, e Event) error {
		t.Fatalf("handler for other event must not fire")
		return nil
	})

	if err := bus.Emit(context.Background(), OrderFilled, map[string]any{"id": "o1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if first != 1 || second != 1 {
		t.Fatalf("expected both handlers once, got %d and %d", first, second)
	}
}

func TestBusJoinsHandlerErrors(t *testing.T) {
	bus := NewBus(testLogger())
	boom := errors.New("boom")
	var ran bool
	bus.On(Error, func(ctx context.Context, e Event) error { return boom })
	bus.On(Error, func(ctx context.Context, e Event) error { ran = true; return nil })

	err := bus.Emit(context.Background(), Error, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined handler error, got %v", err)
	}
	if !ran {
		t.Fatalf("second handler must still run after the first fails")
	}
}

func TestBusMirrorPublishesJSON(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(testLogger())
	mem := NewMemBus()
	bus.Mirror(mem, "events")

	sub, err := mem.Subscribe(ctx, "events")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Emit(ctx, BotStarted, map[string]any{"bot": "demo"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	payload := <-sub
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("mirror payload is not JSON: %v", err)
	}
	if decoded["event"] != BotStarted || decoded["bot"] != "demo" {
		t.Fatalf("unexpected mirrored payload: %v", decoded)
	}
}

func TestMemBusStreamRead(t *testing.T) {
	ctx := context.Background()
	mem := NewMemBus()
	for _, p := range []string{"a", "b", "c"} {
		if err := mem.StreamAppend(ctx, "s", []byte(p)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := mem.StreamRead(ctx, "s", "0", 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 3 || string(msgs[0].Payload) != "a" {
		t.Fatalf("unexpected stream contents: %v", msgs)
	}

	tail, err := mem.StreamRead(ctx, "s", msgs[1].ID, 10)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if len(tail) != 1 || string(tail[0].Payload) != "c" {
		t.Fatalf("expected only the last entry, got %v", tail)
	}
}
