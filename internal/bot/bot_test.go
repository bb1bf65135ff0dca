package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/openquant/botcore/internal/domain"
	"github.com/openquant/botcore/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// stubHooks counts every hook invocation and lets tests inject failures.
type stubHooks struct {
	mu       sync.Mutex
	settings Settings
	setupErr error
	startErr error

	setupCalls  int
	startCalls  int
	candleCalls int
	filledCalls int
	errorCalls  int
	stopCalls   int

	onCandle func(mc MarketContext) (domain.Signal, error)
}

func (s *stubHooks) Setup() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setupCalls++
	return s.settings, s.setupErr
}

func (s *stubHooks) OnStart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	return s.startErr
}

func (s *stubHooks) OnCandle(ctx context.Context, mc MarketContext) (domain.Signal, error) {
	s.mu.Lock()
	s.candleCalls++
	fn := s.onCandle
	s.mu.Unlock()
	if fn != nil {
		return fn(mc)
	}
	return domain.NewSignal(domain.SignalHold, mc.Candle.Symbol, 0)
}

func (s *stubHooks) OnOrderFilled(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filledCalls++
	return nil
}

func (s *stubHooks) OnError(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCalls++
}

func (s *stubHooks) OnStop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return nil
}

func (s *stubHooks) counts() (setup, start, candle, filled, onErr, stop int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupCalls, s.startCalls, s.candleCalls, s.filledCalls, s.errorCalls, s.stopCalls
}

func validSettings() Settings {
	return Settings{Name: "test-bot", Pairs: []string{"BTC/USDT"}, Timeframe: "1h"}
}

func newTestBot(hooks Hooks, opts Options) *Bot {
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	return New(hooks, opts)
}

func TestInitializeRejectsMissingPairs(t *testing.T) {
	hooks := &stubHooks{settings: Settings{Name: "x", Timeframe: "1h"}}
	b := newTestBot(hooks, Options{})

	err := b.Initialize(context.Background())
	if err == nil {
		t.Fatalf("expected initialization to fail without pairs")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if b.State() != StateUninitialized {
		t.Fatalf("failed init must leave the bot uninitialized, got %s", b.State())
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	hooks := &stubHooks{settings: validSettings()}
	b := newTestBot(hooks, Options{})
	ctx := context.Background()

	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("second initialize: %v", err)
	}

	setup, _, _, _, _, _ := hooks.counts()
	if setup != 1 {
		t.Fatalf("setup must run exactly once, ran %d times", setup)
	}
	if b.State() != StateInitialized {
		t.Fatalf("state: got %s want %s", b.State(), StateInitialized)
	}
	if b.Name() != "test-bot" {
		t.Fatalf("name: got %q", b.Name())
	}
	if got := b.Settings().Version; got != "1.0.0" {
		t.Fatalf("default version: got %q", got)
	}
}

func TestRunLifecycle(t *testing.T) {
	hooks := &stubHooks{settings: validSettings()}
	b := newTestBot(hooks, Options{})

	var started, stopped int
	b.Bus().On(event.BotStarted, func(ctx context.Context, e event.Event) error {
		started++
		return nil
	})
	b.Bus().On(event.BotStopped, func(ctx context.Context, e event.Event) error {
		stopped++
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	waitFor(t, b.IsRunning)
	if b.State() != StateRunning {
		t.Fatalf("state while running: got %s", b.State())
	}

	b.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not exit after stop")
	}

	_, start, _, _, _, stop := hooks.counts()
	if start != 1 || stop != 1 {
		t.Fatalf("expected one start and one stop, got %d and %d", start, stop)
	}
	if started != 1 || stopped != 1 {
		t.Fatalf("expected one bot_started and one bot_stopped, got %d and %d", started, stopped)
	}
	if b.State() != StateStopped {
		t.Fatalf("final state: got %s want %s", b.State(), StateStopped)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	hooks := &stubHooks{settings: validSettings()}
	b := newTestBot(hooks, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, b.IsRunning)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not exit after context cancel")
	}

	_, _, _, _, _, stop := hooks.counts()
	if stop != 1 {
		t.Fatalf("cleanup must run exactly once, ran %d times", stop)
	}
}

func TestRunFailsWhenOnStartFails(t *testing.T) {
	boom := errors.New("exchange unreachable")
	hooks := &stubHooks{settings: validSettings(), startErr: boom}
	b := newTestBot(hooks, Options{})

	err := b.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected on_start failure to surface, got %v", err)
	}
	_, _, _, _, onErr, stop := hooks.counts()
	if onErr != 1 {
		t.Fatalf("on_error must see the start failure, saw %d calls", onErr)
	}
	if stop != 1 {
		t.Fatalf("cleanup must still run after a failed start, ran %d times", stop)
	}
}

func TestIterationErrorKeepsLoopAlive(t *testing.T) {
	candles := make(chan domain.Candle, 4)
	hooks := &stubHooks{settings: validSettings()}
	hooks.onCandle = func(mc MarketContext) (domain.Signal, error) {
		if mc.Candle.Close < 0 {
			return domain.Signal{}, errors.New("bad candle")
		}
		return domain.NewSignal(domain.SignalHold, mc.Candle.Symbol, 0)
	}
	b := newTestBot(hooks, Options{Candles: candles})

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()
	waitFor(t, b.IsRunning)

	candles <- domain.Candle{Symbol: "BTC/USDT", Close: -1}
	candles <- domain.Candle{Symbol: "BTC/USDT", Close: 100}

	waitFor(t, func() bool {
		_, _, candle, _, _, _ := hooks.counts()
		return candle >= 2
	})

	_, _, _, _, onErr, _ := hooks.counts()
	if onErr == 0 {
		t.Fatalf("iteration error must reach on_error")
	}

	b.Stop()
	<-done
}

func TestActionableSignalReachesExecutorChannel(t *testing.T) {
	candles := make(chan domain.Candle, 1)
	signals := make(chan domain.Signal, 1)
	hooks := &stubHooks{settings: validSettings()}
	hooks.onCandle = func(mc MarketContext) (domain.Signal, error) {
		return domain.NewSignal(domain.SignalBuy, mc.Candle.Symbol, 0.9)
	}
	b := newTestBot(hooks, Options{Candles: candles, Signals: signals})

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()
	waitFor(t, b.IsRunning)

	candles <- domain.Candle{Symbol: "BTC/USDT", Close: 100}

	select {
	case sig := <-signals:
		if sig.Type != domain.SignalBuy || sig.Symbol != "BTC/USDT" {
			t.Fatalf("unexpected signal: %+v", sig)
		}
		if sig.Source != "test-bot" {
			t.Fatalf("signal source must default to the bot name, got %q", sig.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("actionable signal never reached the channel")
	}

	if got := b.RecentSignals(10); len(got) != 1 {
		t.Fatalf("recent signals: got %d want 1", len(got))
	}

	b.Stop()
	<-done
}

func TestStatsTrackFillsAndClosedPositions(t *testing.T) {
	hooks := &stubHooks{settings: validSettings()}
	b := newTestBot(hooks, Options{})
	ctx := context.Background()
	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	order := domain.Order{ID: "o1", Symbol: "BTC/USDT", Side: domain.OrderSideBuy, Price: 100, Quantity: 1, Status: domain.OrderStatusFilled}
	if err := b.Bus().Emit(ctx, event.OrderFilled, map[string]any{"order": order}); err != nil {
		t.Fatalf("emit order_filled: %v", err)
	}

	open := domain.Position{ID: "p1", Symbol: "BTC/USDT", Direction: domain.OrderSideBuy, EntryPrice: 100, Quantity: 1, Status: domain.PositionStatusOpen}
	if err := b.Bus().Emit(ctx, event.PositionOpened, map[string]any{"position": open}); err != nil {
		t.Fatalf("emit position_opened: %v", err)
	}
	if !b.HasPosition("BTC/USDT") {
		t.Fatalf("opened position must be tracked")
	}

	win := open
	win.Status = domain.PositionStatusClosed
	win.PnL = 50
	if err := b.Bus().Emit(ctx, event.PositionClosed, map[string]any{"position": win}); err != nil {
		t.Fatalf("emit position_closed: %v", err)
	}

	loss := domain.Position{ID: "p2", Symbol: "ETH/USDT", Direction: domain.OrderSideSell, EntryPrice: 100, Quantity: 4, Status: domain.PositionStatusClosed, PnL: -20}
	if err := b.Bus().Emit(ctx, event.PositionClosed, map[string]any{"position": loss}); err != nil {
		t.Fatalf("emit position_closed: %v", err)
	}

	stats := b.Stats()
	if stats.TotalTrades != 1 {
		t.Fatalf("total trades: got %d want 1", stats.TotalTrades)
	}
	if stats.WinningTrades != 1 || stats.LosingTrades != 1 {
		t.Fatalf("win/loss: got %d/%d want 1/1", stats.WinningTrades, stats.LosingTrades)
	}
	if stats.TotalPnL != 30 {
		t.Fatalf("total pnl: got %v want 30", stats.TotalPnL)
	}
	if stats.WinRate != 50 {
		t.Fatalf("win rate: got %v want 50", stats.WinRate)
	}
	if stats.ActivePositions != 0 {
		t.Fatalf("closed position must leave the active set, got %d", stats.ActivePositions)
	}

	_, _, _, filled, _, _ := hooks.counts()
	if filled != 1 {
		t.Fatalf("on_order_filled: got %d calls want 1", filled)
	}
}

func TestErrorEventReachesOnError(t *testing.T) {
	hooks := &stubHooks{settings: validSettings()}
	b := newTestBot(hooks, Options{})
	ctx := context.Background()

	if err := b.Bus().Emit(ctx, event.Error, map[string]any{"error": errors.New("feed gap")}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	_, _, _, _, onErr, _ := hooks.counts()
	if onErr != 1 {
		t.Fatalf("on_error: got %d calls want 1", onErr)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
