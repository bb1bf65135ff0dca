package feed

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRandomWalkEmitsTicksAndCandles(t *testing.T) {
	w := NewRandomWalk(RandomWalkOptions{
		Pairs:          []string{"BTC/USDT", "ETH/USDT"},
		Timeframe:      "1m",
		StartPrice:     100,
		TickInterval:   time.Millisecond,
		CandleInterval: 10 * time.Millisecond,
		Seed:           42,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	seenTicks := map[string]int{}
	deadline := time.After(2 * time.Second)
	for len(seenTicks) < 2 {
		select {
		case tick := <-w.Ticks():
			if tick.Price <= 0 {
				t.Fatalf("tick price must stay positive, got %v", tick.Price)
			}
			seenTicks[tick.Symbol]++
		case <-deadline:
			t.Fatalf("ticks for both pairs not seen in time: %v", seenTicks)
		}
	}

	select {
	case c := <-w.Candles():
		if c.Timeframe != "1m" {
			t.Fatalf("timeframe: got %q", c.Timeframe)
		}
		if c.High < c.Low || c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
			t.Fatalf("inconsistent candle: %+v", c)
		}
		if c.Volume <= 0 {
			t.Fatalf("candle volume must be positive, got %v", c.Volume)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no candle produced")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("run: got %v want context.Canceled", err)
	}

	// Channels must be closed after Run returns.
	for range w.Candles() {
	}
	for range w.Ticks() {
	}
}

func TestRandomWalkIsReproducibleWithSeed(t *testing.T) {
	run := func() float64 {
		w := NewRandomWalk(RandomWalkOptions{
			Pairs:        []string{"BTC/USDT"},
			TickInterval: time.Millisecond,
			Seed:         7,
		}, testLogger())
		w.step(time.Now())
		tick := <-w.Ticks()
		return tick.Price
	}

	if a, b := run(), run(); a != b {
		t.Fatalf("same seed must give the same first tick: %v vs %v", a, b)
	}
}
