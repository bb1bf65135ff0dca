// Package bot implements the trading-bot lifecycle controller: a state
// machine (uninitialized → initialized → running → stopped) around a
// cooperative poll loop that drains market data, dispatches strategy hooks,
// and keeps derived trade statistics via the bot-owned event bus.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openquant/botcore/internal/domain"
	"github.com/openquant/botcore/internal/event"
)

// State names the lifecycle stages.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateRunning       State = "running"
	StateStopped       State = "stopped"
)

const (
	// DefaultPollInterval is the loop delay when neither Options nor
	// Settings override it.
	DefaultPollInterval = 100 * time.Millisecond

	// historyLimit caps the per-symbol candle history handed to hooks.
	historyLimit = 500

	// recentSignalLimit caps the ring of signals kept for the status API.
	recentSignalLimit = 500
)

// ConfigError wraps a setup or validation failure raised from Initialize.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("bot: initialization failed: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Options configures a Bot. Bus and Logger are required in practice; market
// data channels and the signal output are optional; without them the loop
// idles, which is valid for hook-only bots.
type Options struct {
	Bus          *event.Bus
	Logger       *slog.Logger
	Candles      <-chan domain.Candle
	Ticks        <-chan domain.Tick
	Signals      chan<- domain.Signal
	PollInterval time.Duration
}

// Bot drives one strategy instance through its lifecycle. All hook dispatch
// and statistics bookkeeping happens on the Run goroutine; Stop and the
// read-only accessors are safe to call from anywhere.
type Bot struct {
	hooks  Hooks
	bus    *event.Bus
	logger *slog.Logger

	candles <-chan domain.Candle
	ticks   <-chan domain.Tick
	signals chan<- domain.Signal

	pollInterval time.Duration

	running atomic.Bool
	cleanup sync.Once

	mu            sync.Mutex
	state         State
	settings      Settings
	startTime     time.Time
	positions     map[string]domain.Position
	orders        map[string]domain.Order
	totalTrades   int64
	winningTrades int64
	losingTrades  int64
	totalPnL      float64
	history       map[string][]domain.Candle
	recentSignals []domain.Signal
}

// New creates a Bot around the given hooks and registers the internal event
// subscriptions (order_filled, position_opened, position_closed, error) on
// the bus. The bot is in the uninitialized state until Initialize runs.
func New(hooks Hooks, opts Options) *Bot {
	bus := opts.Bus
	if bus == nil {
		bus = event.NewBus(opts.Logger)
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	b := &Bot{
		hooks:        hooks,
		bus:          bus,
		logger:       opts.Logger.With(slog.String("component", "bot")),
		candles:      opts.Candles,
		ticks:        opts.Ticks,
		signals:      opts.Signals,
		pollInterval: interval,
		state:        StateUninitialized,
		positions:    make(map[string]domain.Position),
		orders:       make(map[string]domain.Order),
		history:      make(map[string][]domain.Candle),
	}

	bus.On(event.OrderFilled, b.handleOrderFilled)
	bus.On(event.PositionOpened, b.handlePositionOpened)
	bus.On(event.PositionClosed, b.handlePositionClosed)
	bus.On(event.Error, b.handleError)

	return b
}

// Bus returns the bot-owned event bus so collaborators (executor, journal,
// notifier) can attach.
func (b *Bot) Bus() *event.Bus { return b.bus }

// Initialize runs the Setup hook and validates the resulting settings. It is
// idempotent: after the first success, further calls return immediately
// without invoking the hook again. Failure leaves the bot uninitialized and
// returns a *ConfigError wrapping the cause.
func (b *Bot) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateUninitialized {
		return nil
	}

	settings, err := b.hooks.Setup()
	if err != nil {
		b.logger.ErrorContext(ctx, "setup hook failed", slog.String("error", err.Error()))
		return &ConfigError{Err: err}
	}
	if err := validateSettings(settings); err != nil {
		b.logger.ErrorContext(ctx, "settings validation failed", slog.String("error", err.Error()))
		return &ConfigError{Err: err}
	}

	if settings.Version == "" {
		settings.Version = "1.0.0"
	}
	if settings.PollInterval > 0 {
		b.pollInterval = settings.PollInterval
	}
	b.settings = settings
	b.state = StateInitialized
	b.logger = b.logger.With(slog.String("bot", settings.Name))

	b.logger.InfoContext(ctx, "bot initialized",
		slog.String("version", settings.Version),
		slog.Any("pairs", settings.Pairs),
		slog.String("timeframe", settings.Timeframe),
	)
	return nil
}

func validateSettings(s Settings) error {
	if s.Name == "" {
		return fmt.Errorf("bot name is required")
	}
	if len(s.Pairs) == 0 {
		return fmt.Errorf("at least one trading pair is required")
	}
	if s.Timeframe == "" {
		return fmt.Errorf("timeframe is required")
	}
	return nil
}

// Run initializes the bot if needed, invokes OnStart, emits bot_started, and
// enters the poll loop. Each iteration drains available market data and
// dispatches hooks; iteration errors are logged, published as error events,
// and the loop continues. The loop exits when Stop is called or the context
// is cancelled, after finishing the in-flight iteration. Cleanup (OnStop and
// the bot_stopped emission) always runs exactly once on exit.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Initialize(ctx); err != nil {
		return err
	}

	b.running.Store(true)
	b.mu.Lock()
	b.state = StateRunning
	b.startTime = time.Now().UTC()
	name := b.settings.Name
	b.mu.Unlock()

	// Cleanup must run even when ctx is already cancelled.
	defer b.runCleanup(context.WithoutCancel(ctx))

	b.logger.InfoContext(ctx, "bot starting")

	if err := b.hooks.OnStart(ctx); err != nil {
		b.logger.ErrorContext(ctx, "on_start hook failed", slog.String("error", err.Error()))
		b.emitError(ctx, err)
		return fmt.Errorf("bot: on_start: %w", err)
	}

	if err := b.bus.Emit(ctx, event.BotStarted, map[string]any{
		"bot":       name,
		"pairs":     b.settings.Pairs,
		"timeframe": b.settings.Timeframe,
	}); err != nil {
		b.logger.WarnContext(ctx, "bot_started handlers failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for b.running.Load() {
		if err := b.iterate(ctx); err != nil {
			b.logger.ErrorContext(ctx, "error in trading loop", slog.String("error", err.Error()))
			b.emitError(ctx, err)
		}

		select {
		case <-ctx.Done():
			b.Stop()
		case <-ticker.C:
		}
	}
	return nil
}

// Stop requests the loop to exit. The in-flight iteration completes first;
// there is no forced cancellation.
func (b *Bot) Stop() {
	if b.running.CompareAndSwap(true, false) {
		b.logger.Info("stop requested")
	}
}

// IsRunning reports whether the loop is active.
func (b *Bot) IsRunning() bool { return b.running.Load() }

// State returns the current lifecycle state.
func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// iterate runs one loop iteration, converting panics into iteration errors
// so a misbehaving hook cannot take the loop down.
func (b *Bot) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bot: iteration panic: %v", r)
		}
	}()
	return b.processMarketData(ctx)
}

// processMarketData drains whatever the feed has buffered and dispatches it
// to the strategy hooks. With no feed attached the iteration is a no-op.
func (b *Bot) processMarketData(ctx context.Context) error {
	if err := b.drainCandles(ctx); err != nil {
		return err
	}
	return b.drainTicks(ctx)
}

func (b *Bot) drainCandles(ctx context.Context) error {
	for b.candles != nil {
		select {
		case c, ok := <-b.candles:
			if !ok {
				b.candles = nil
				return nil
			}
			if err := b.handleCandle(ctx, c); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (b *Bot) drainTicks(ctx context.Context) error {
	th, tickable := b.hooks.(TickHooks)
	for b.ticks != nil {
		select {
		case t, ok := <-b.ticks:
			if !ok {
				b.ticks = nil
				return nil
			}
			if !tickable {
				continue
			}
			if err := b.handleTick(ctx, th, t); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (b *Bot) handleCandle(ctx context.Context, c domain.Candle) error {
	hist := b.appendHistory(c)
	mc := MarketContext{Candle: c, History: hist}

	sig, err := b.hooks.OnCandle(ctx, mc)
	if err != nil {
		return fmt.Errorf("bot: on_candle %s: %w", c.Symbol, err)
	}
	return b.dispatchSignal(ctx, sig)
}

func (b *Bot) handleTick(ctx context.Context, th TickHooks, t domain.Tick) error {
	b.mu.Lock()
	hist := append([]domain.Candle(nil), b.history[t.Symbol]...)
	b.mu.Unlock()

	tick := t
	sig, err := th.OnTick(ctx, MarketContext{Tick: &tick, History: hist})
	if err != nil {
		return fmt.Errorf("bot: on_tick %s: %w", t.Symbol, err)
	}
	if sig == nil {
		return nil
	}
	return b.dispatchSignal(ctx, *sig)
}

func (b *Bot) appendHistory(c domain.Candle) []domain.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()

	hist := append(b.history[c.Symbol], c)
	if overflow := len(hist) - historyLimit; overflow > 0 {
		hist = append([]domain.Candle(nil), hist[overflow:]...)
	}
	b.history[c.Symbol] = hist
	return append([]domain.Candle(nil), hist...)
}

// dispatchSignal validates a hook-produced signal, records it, emits the
// signal event, and forwards actionable signals to the executor channel.
func (b *Bot) dispatchSignal(ctx context.Context, sig domain.Signal) error {
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("bot: invalid signal from strategy: %w", err)
	}
	if sig.Source == "" || sig.Source == "unknown" {
		sig.Source = b.Name()
	}

	b.mu.Lock()
	b.recentSignals = append(b.recentSignals, sig)
	if overflow := len(b.recentSignals) - recentSignalLimit; overflow > 0 {
		b.recentSignals = append([]domain.Signal(nil), b.recentSignals[overflow:]...)
	}
	b.mu.Unlock()

	if err := b.bus.Emit(ctx, event.SignalEmitted, map[string]any{"signal": sig}); err != nil {
		b.logger.WarnContext(ctx, "signal handlers failed", slog.String("error", err.Error()))
	}

	if !sig.IsActionable() || b.signals == nil {
		return nil
	}
	select {
	case b.signals <- sig:
	default:
		b.logger.WarnContext(ctx, "signal channel full, dropping signal",
			slog.String("symbol", sig.Symbol),
			slog.String("type", string(sig.Type)),
		)
	}
	return nil
}

func (b *Bot) emitError(ctx context.Context, err error) {
	if emitErr := b.bus.Emit(ctx, event.Error, map[string]any{"error": err}); emitErr != nil {
		b.logger.WarnContext(ctx, "error handlers failed", slog.String("error", emitErr.Error()))
	}
}

// runCleanup invokes OnStop and emits bot_stopped. Guarded by sync.Once so
// the running → stopped edge fires exactly once.
func (b *Bot) runCleanup(ctx context.Context) {
	b.cleanup.Do(func() {
		b.running.Store(false)

		if err := b.hooks.OnStop(ctx); err != nil {
			b.logger.ErrorContext(ctx, "on_stop hook failed", slog.String("error", err.Error()))
		}
		if err := b.bus.Emit(ctx, event.BotStopped, map[string]any{"bot": b.Name()}); err != nil {
			b.logger.WarnContext(ctx, "bot_stopped handlers failed", slog.String("error", err.Error()))
		}

		b.mu.Lock()
		b.state = StateStopped
		b.mu.Unlock()

		b.logger.InfoContext(ctx, "bot stopped")
	})
}

// ---------------------------------------------------------------------------
// Internal event routing: derived statistics and hook forwarding.
// ---------------------------------------------------------------------------

func (b *Bot) handleOrderFilled(ctx context.Context, e event.Event) error {
	order, ok := e.Data["order"].(domain.Order)
	if !ok {
		return nil
	}
	if err := b.hooks.OnOrderFilled(ctx, order); err != nil {
		return fmt.Errorf("on_order_filled hook: %w", err)
	}

	b.mu.Lock()
	b.totalTrades++
	b.orders[order.ID] = order
	b.mu.Unlock()
	return nil
}

func (b *Bot) handlePositionOpened(ctx context.Context, e event.Event) error {
	pos, ok := e.Data["position"].(domain.Position)
	if !ok {
		return nil
	}

	b.mu.Lock()
	b.positions[pos.Symbol] = pos
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "position opened",
		slog.String("symbol", pos.Symbol),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("quantity", pos.Quantity),
	)
	return nil
}

func (b *Bot) handlePositionClosed(ctx context.Context, e event.Event) error {
	pos, ok := e.Data["position"].(domain.Position)
	if !ok {
		return nil
	}

	b.mu.Lock()
	if pos.PnL > 0 {
		b.winningTrades++
	} else {
		b.losingTrades++
	}
	b.totalPnL += pos.PnL
	delete(b.positions, pos.Symbol)
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "position closed",
		slog.String("symbol", pos.Symbol),
		slog.Float64("pnl", pos.PnL),
	)
	return nil
}

func (b *Bot) handleError(ctx context.Context, e event.Event) error {
	err, ok := e.Data["error"].(error)
	if !ok {
		return nil
	}
	b.hooks.OnError(ctx, err)
	return nil
}

// ---------------------------------------------------------------------------
// Read-only accessors.
// ---------------------------------------------------------------------------

// Name returns the configured bot name (empty before Initialize).
func (b *Bot) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings.Name
}

// Settings returns a copy of the validated settings.
func (b *Bot) Settings() Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings
}

// HasPosition reports whether an open position exists for symbol; with an
// empty symbol it reports whether any position is open.
func (b *Bot) HasPosition(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if symbol == "" {
		return len(b.positions) > 0
	}
	_, ok := b.positions[symbol]
	return ok
}

// Position returns the open position for symbol.
func (b *Bot) Position(symbol string) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	return pos, ok
}

// Positions returns a copy of all open positions.
func (b *Bot) Positions() []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	return out
}

// RecentSignals returns up to limit most recent signals, newest first.
func (b *Bot) RecentSignals(limit int) []domain.Signal {
	if limit <= 0 {
		limit = 20
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Signal, 0, limit)
	for i := len(b.recentSignals) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.recentSignals[i])
	}
	return out
}

// Uptime returns how long the bot has been running; zero before Run.
func (b *Bot) Uptime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startTime.IsZero() {
		return 0
	}
	return time.Since(b.startTime)
}

// WinRate returns the percentage of closed positions with positive PnL.
func (b *Bot) WinRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := b.winningTrades + b.losingTrades
	if total == 0 {
		return 0
	}
	return float64(b.winningTrades) / float64(total) * 100
}

// Stats is a point-in-time summary of the bot for the status API.
type Stats struct {
	Name            string   `json:"name"`
	Version         string   `json:"version"`
	State           State    `json:"state"`
	UptimeSeconds   float64  `json:"uptime_seconds"`
	TotalTrades     int64    `json:"total_trades"`
	WinningTrades   int64    `json:"winning_trades"`
	LosingTrades    int64    `json:"losing_trades"`
	WinRate         float64  `json:"win_rate"`
	TotalPnL        float64  `json:"total_pnl"`
	ActivePositions int      `json:"active_positions"`
	ActiveOrders    int      `json:"active_orders"`
	Pairs           []string `json:"pairs"`
	Timeframe       string   `json:"timeframe"`
}

// Stats returns the current statistics snapshot.
func (b *Bot) Stats() Stats {
	uptime := b.Uptime()
	winRate := b.WinRate()

	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:            b.settings.Name,
		Version:         b.settings.Version,
		State:           b.state,
		UptimeSeconds:   uptime.Seconds(),
		TotalTrades:     b.totalTrades,
		WinningTrades:   b.winningTrades,
		LosingTrades:    b.losingTrades,
		WinRate:         winRate,
		TotalPnL:        b.totalPnL,
		ActivePositions: len(b.positions),
		ActiveOrders:    len(b.orders),
		Pairs:           b.settings.Pairs,
		Timeframe:       b.settings.Timeframe,
	}
}
