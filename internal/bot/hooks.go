package bot

import (
	"context"
	"time"

	"github.com/openquant/botcore/internal/domain"
)

// Settings is the configuration a strategy returns from Setup. Name, Pairs,
// and Timeframe are required; the rest have defaults.
type Settings struct {
	Name         string
	Version      string
	Pairs        []string
	Timeframe    string
	PollInterval time.Duration // overrides the bot default when > 0
}

// MarketContext is the market view handed to strategy hooks. History holds
// the most recent candles for the symbol, oldest first, including the
// current one.
type MarketContext struct {
	Candle  domain.Candle
	Tick    *domain.Tick
	History []domain.Candle
}

// LastClose returns the close of the most recent candle in the context, or 0
// when no history is available.
func (mc MarketContext) LastClose() float64 {
	if n := len(mc.History); n > 0 {
		return mc.History[n-1].Close
	}
	return mc.Candle.Close
}

// Hooks is the contract a concrete bot implements. The controller drives the
// lifecycle and calls back into these at the documented points.
//
// Setup must be pure configuration: no I/O, no blocking. OnCandle carries
// the trading logic and runs once per received candle. OnError receives
// every error published on the bot's bus, including the controller's own
// per-iteration failures.
type Hooks interface {
	Setup() (Settings, error)
	OnStart(ctx context.Context) error
	OnCandle(ctx context.Context, mc MarketContext) (domain.Signal, error)
	OnOrderFilled(ctx context.Context, order domain.Order) error
	OnError(ctx context.Context, err error)
	OnStop(ctx context.Context) error
}

// TickHooks is the optional extension for strategies that react to
// individual ticks. A nil signal means no action. Bots that do not implement
// it simply never see ticks.
type TickHooks interface {
	OnTick(ctx context.Context, mc MarketContext) (*domain.Signal, error)
}
