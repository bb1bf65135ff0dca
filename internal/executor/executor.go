// Package executor turns actionable signals into simulated fills. Orders are
// filled instantly against the signal price with configurable slippage, the
// portfolio is updated, and the resulting order and position events are
// published on the bot's event bus.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openquant/botcore/internal/domain"
	"github.com/openquant/botcore/internal/event"
	"github.com/openquant/botcore/internal/portfolio"
)

// Options tunes the paper execution model.
type Options struct {
	// DefaultQuantity is the order size used when a signal carries none.
	DefaultQuantity float64
	// SlippageBps worsens the fill price by this many basis points.
	SlippageBps float64
	// DedupTTL is the window within which identical signals are suppressed.
	DedupTTL time.Duration
	// CleanupInterval is how often the dedup map is garbage-collected.
	CleanupInterval time.Duration
}

func (o *Options) withDefaults() {
	if o.DefaultQuantity <= 0 {
		o.DefaultQuantity = 1
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = 2 * time.Minute
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 30 * time.Second
	}
}

// Executor reads signals from a channel, applies deduplication, and fills
// them against the portfolio. At most one open position per symbol: an entry
// signal for a symbol with an open position is skipped, an exit signal with
// no position is skipped.
type Executor struct {
	signals   <-chan domain.Signal
	portfolio *portfolio.Portfolio
	bus       *event.Bus
	dedup     *Dedup
	opts      Options
	logger    *slog.Logger
}

// New creates an Executor that fills signals from signalCh into pf and
// publishes order and position events on bus.
func New(signalCh <-chan domain.Signal, pf *portfolio.Portfolio, bus *event.Bus, opts Options, logger *slog.Logger) *Executor {
	opts.withDefaults()
	return &Executor{
		signals:   signalCh,
		portfolio: pf,
		bus:       bus,
		dedup:     NewDedup(opts.DedupTTL),
		opts:      opts,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Run processes signals until the context is cancelled, then drains whatever
// is still buffered so in-flight signals are not silently dropped.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.opts.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case sig, ok := <-e.signals:
			if !ok {
				return nil
			}
			e.process(ctx, sig)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// process handles one signal through dedup and fill simulation.
func (e *Executor) process(ctx context.Context, sig domain.Signal) {
	log := e.logger.With(
		slog.String("symbol", sig.Symbol),
		slog.String("type", string(sig.Type)),
		slog.String("source", sig.Source),
	)

	if !sig.IsActionable() {
		log.DebugContext(ctx, "signal not actionable, skipping")
		return
	}

	if e.dedup.IsDuplicate(dedupKey(sig)) {
		log.DebugContext(ctx, "signal deduplicated, skipping")
		return
	}

	price, ok := e.fillPrice(sig)
	if !ok {
		log.WarnContext(ctx, "signal carries no price, skipping")
		return
	}

	var err error
	if sig.IsExitSignal() {
		err = e.closePosition(ctx, sig, price, log)
	} else {
		err = e.openPosition(ctx, sig, price, log)
	}
	if err != nil {
		log.WarnContext(ctx, "execution skipped", slog.String("error", err.Error()))
	}
}

func dedupKey(sig domain.Signal) string {
	return sig.Symbol + ":" + string(sig.Type)
}

// fillPrice derives the execution price from the signal, worsened by the
// configured slippage. Buys fill higher, sells and exits of long positions
// fill lower.
func (e *Executor) fillPrice(sig domain.Signal) (float64, bool) {
	if sig.Price == nil || *sig.Price <= 0 {
		return 0, false
	}
	price := *sig.Price
	if e.opts.SlippageBps > 0 {
		adj := price * e.opts.SlippageBps / 10000
		if sig.Type == domain.SignalBuy {
			price += adj
		} else {
			price -= adj
		}
	}
	return price, true
}

func (e *Executor) openPosition(ctx context.Context, sig domain.Signal, price float64, log *slog.Logger) error {
	side := domain.OrderSideBuy
	if sig.Type == domain.SignalSell {
		side = domain.OrderSideSell
	}

	qty := e.opts.DefaultQuantity
	if sig.Quantity != nil && *sig.Quantity > 0 {
		qty = *sig.Quantity
	}

	pos, err := e.portfolio.Open(sig.Symbol, side, qty, price, sig.Source, time.Now())
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("executor: position already open for %s: %w", sig.Symbol, err)
		}
		return fmt.Errorf("executor: open %s: %w", sig.Symbol, err)
	}

	order := e.fill(sig.Symbol, side, price, qty, sig.Source)
	log.InfoContext(ctx, "paper order filled",
		slog.String("order_id", order.ID),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("quantity", qty),
	)

	e.emit(ctx, event.OrderFilled, map[string]any{"order": order}, log)
	e.emit(ctx, event.PositionOpened, map[string]any{"position": pos}, log)
	return nil
}

func (e *Executor) closePosition(ctx context.Context, sig domain.Signal, price float64, log *slog.Logger) error {
	open, ok := e.portfolio.Get(sig.Symbol)
	if !ok {
		return fmt.Errorf("executor: close %s: %w", sig.Symbol, domain.ErrNoPosition)
	}

	pos, err := e.portfolio.Close(sig.Symbol, price, time.Now())
	if err != nil {
		return fmt.Errorf("executor: close %s: %w", sig.Symbol, err)
	}

	// The exit order takes the opposite side of the position.
	exitSide := domain.OrderSideSell
	if open.Direction == domain.OrderSideSell {
		exitSide = domain.OrderSideBuy
	}
	order := e.fill(sig.Symbol, exitSide, price, pos.Quantity, sig.Source)

	log.InfoContext(ctx, "position closed",
		slog.String("order_id", order.ID),
		slog.Float64("exit_price", price),
		slog.Float64("pnl", pos.PnL),
	)

	e.emit(ctx, event.OrderFilled, map[string]any{"order": order}, log)
	e.emit(ctx, event.PositionClosed, map[string]any{"position": pos}, log)
	return nil
}

// fill builds the filled order record for a simulated execution.
func (e *Executor) fill(symbol string, side domain.OrderSide, price, qty float64, strategy string) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Status:    domain.OrderStatusFilled,
		Strategy:  strategy,
		CreatedAt: now,
		FilledAt:  &now,
	}
}

func (e *Executor) emit(ctx context.Context, name string, data map[string]any, log *slog.Logger) {
	if err := e.bus.Emit(ctx, name, data); err != nil {
		log.WarnContext(ctx, "event handlers failed",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}

// drain processes signals still buffered in the channel after cancellation.
func (e *Executor) drain() {
	for {
		select {
		case sig, ok := <-e.signals:
			if !ok {
				return
			}
			e.logger.Warn("draining signal after shutdown",
				slog.String("symbol", sig.Symbol),
				slog.String("type", string(sig.Type)),
			)
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, sig)
			cancel()
		default:
			return
		}
	}
}
