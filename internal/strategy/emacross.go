package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/openquant/botcore/internal/bot"
	"github.com/openquant/botcore/internal/domain"
)

// pairEMAs holds the fast and slow averages for one symbol plus the last
// observed relation between them, so a cross can be detected.
type pairEMAs struct {
	fast     emaState
	slow     emaState
	fastOver bool
	primed   bool
}

// EMACross goes long when the fast EMA crosses above the slow EMA and closes
// the position on the cross back down.
type EMACross struct {
	cfg        Config
	fastPeriod int
	slowPeriod int

	emas   map[string]*pairEMAs
	logger *slog.Logger

	mu         sync.Mutex
	inPosition map[string]bool
}

var _ bot.Hooks = (*EMACross)(nil)

// NewEMACross builds the strategy from config. Recognized params:
// "fast_period" (default 9) and "slow_period" (default 21).
func NewEMACross(cfg Config) (bot.Hooks, error) {
	fast, err := paramInt(cfg.Params, "fast_period", 9)
	if err != nil {
		return nil, fmt.Errorf("ema_cross: %w", err)
	}
	slow, err := paramInt(cfg.Params, "slow_period", 21)
	if err != nil {
		return nil, fmt.Errorf("ema_cross: %w", err)
	}
	if fast < 1 || slow < 1 {
		return nil, fmt.Errorf("ema_cross: periods must be positive, got %d/%d", fast, slow)
	}
	if fast >= slow {
		return nil, fmt.Errorf("ema_cross: fast period %d must be below slow period %d", fast, slow)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EMACross{
		cfg:        cfg,
		fastPeriod: fast,
		slowPeriod: slow,
		emas:       make(map[string]*pairEMAs),
		inPosition: make(map[string]bool),
		logger:     logger.With(slog.String("strategy", "ema_cross")),
	}, nil
}

func (s *EMACross) Setup() (bot.Settings, error) {
	name := s.cfg.BotName
	if name == "" {
		name = "ema-cross"
	}
	return bot.Settings{
		Name:         name,
		Version:      "1.0.0",
		Pairs:        s.cfg.Pairs,
		Timeframe:    s.cfg.Timeframe,
		PollInterval: s.cfg.PollInterval,
	}, nil
}

func (s *EMACross) OnStart(ctx context.Context) error {
	s.logger.InfoContext(ctx, "strategy starting",
		slog.Int("fast_period", s.fastPeriod),
		slog.Int("slow_period", s.slowPeriod),
	)
	return nil
}

func (s *EMACross) OnCandle(ctx context.Context, mc bot.MarketContext) (domain.Signal, error) {
	symbol := mc.Candle.Symbol
	close := mc.Candle.Close

	p, ok := s.emas[symbol]
	if !ok {
		p = &pairEMAs{fast: newEMA(s.fastPeriod), slow: newEMA(s.slowPeriod)}
		s.emas[symbol] = p
	}

	p.fast.Update(close)
	p.slow.Update(close)
	if !p.fast.Ready() || !p.slow.Ready() {
		return s.hold(symbol)
	}

	fastOver := p.fast.Value() > p.slow.Value()
	if !p.primed {
		// First ready observation establishes the baseline relation.
		p.fastOver = fastOver
		p.primed = true
		return s.hold(symbol)
	}

	crossedUp := fastOver && !p.fastOver
	crossedDown := !fastOver && p.fastOver
	p.fastOver = fastOver

	switch {
	case crossedUp && !s.holding(symbol):
		sig, err := domain.NewSignal(domain.SignalBuy, symbol, s.crossConfidence(p))
		if err != nil {
			return domain.Signal{}, err
		}
		sig.Price = &close
		sig.Metadata["fast_ema"] = fmt.Sprintf("%.4f", p.fast.Value())
		sig.Metadata["slow_ema"] = fmt.Sprintf("%.4f", p.slow.Value())
		s.logger.InfoContext(ctx, "golden cross",
			slog.String("symbol", symbol),
			slog.Float64("fast", p.fast.Value()),
			slog.Float64("slow", p.slow.Value()),
		)
		return sig, nil

	case crossedDown && s.holding(symbol):
		sig, err := domain.NewSignal(domain.SignalClose, symbol, s.crossConfidence(p))
		if err != nil {
			return domain.Signal{}, err
		}
		sig.Price = &close
		return sig, nil
	}

	return s.hold(symbol)
}

// crossConfidence scales with the gap between the averages, saturating when
// the spread reaches 2% of the slow EMA.
func (s *EMACross) crossConfidence(p *pairEMAs) float64 {
	slow := p.slow.Value()
	if slow == 0 {
		return 0.5
	}
	spread := math.Abs(p.fast.Value()-slow) / slow
	return math.Min(math.Max(spread/0.02, 0.1), 1)
}

func (s *EMACross) hold(symbol string) (domain.Signal, error) {
	return domain.NewSignal(domain.SignalHold, symbol, 0)
}

func (s *EMACross) holding(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inPosition[symbol]
}

func (s *EMACross) OnOrderFilled(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	s.inPosition[order.Symbol] = order.Side == domain.OrderSideBuy
	s.mu.Unlock()
	return nil
}

func (s *EMACross) OnError(ctx context.Context, err error) {
	s.logger.WarnContext(ctx, "bot error", slog.String("error", err.Error()))
}

func (s *EMACross) OnStop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "strategy stopped")
	return nil
}
