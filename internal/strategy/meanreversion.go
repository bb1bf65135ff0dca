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

// MeanReversion is a long-only strategy that buys when the close drops more
// than entryZ standard deviations below its rolling mean and closes the
// position once the price reverts back within exitZ of the mean.
type MeanReversion struct {
	cfg    Config
	window int
	entryZ float64
	exitZ  float64

	stats  map[string]*rollingStats
	logger *slog.Logger

	// inPosition is written from fill events on the executor goroutine and
	// read on the bot loop.
	mu         sync.Mutex
	inPosition map[string]bool
}

var _ bot.Hooks = (*MeanReversion)(nil)

// NewMeanReversion builds the strategy from config. Recognized params:
// "window" (default 20), "entry_z" (default 2), "exit_z" (default 0.5).
func NewMeanReversion(cfg Config) (bot.Hooks, error) {
	window, err := paramInt(cfg.Params, "window", 20)
	if err != nil {
		return nil, fmt.Errorf("mean_reversion: %w", err)
	}
	entryZ, err := paramFloat(cfg.Params, "entry_z", 2)
	if err != nil {
		return nil, fmt.Errorf("mean_reversion: %w", err)
	}
	exitZ, err := paramFloat(cfg.Params, "exit_z", 0.5)
	if err != nil {
		return nil, fmt.Errorf("mean_reversion: %w", err)
	}
	if window < 2 {
		return nil, fmt.Errorf("mean_reversion: window must be at least 2, got %d", window)
	}
	if entryZ <= exitZ {
		return nil, fmt.Errorf("mean_reversion: entry_z %v must exceed exit_z %v", entryZ, exitZ)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MeanReversion{
		cfg:        cfg,
		window:     window,
		entryZ:     entryZ,
		exitZ:      exitZ,
		stats:      make(map[string]*rollingStats),
		inPosition: make(map[string]bool),
		logger:     logger.With(slog.String("strategy", "mean_reversion")),
	}, nil
}

func (s *MeanReversion) Setup() (bot.Settings, error) {
	name := s.cfg.BotName
	if name == "" {
		name = "mean-reversion"
	}
	return bot.Settings{
		Name:         name,
		Version:      "1.0.0",
		Pairs:        s.cfg.Pairs,
		Timeframe:    s.cfg.Timeframe,
		PollInterval: s.cfg.PollInterval,
	}, nil
}

func (s *MeanReversion) OnStart(ctx context.Context) error {
	s.logger.InfoContext(ctx, "strategy starting",
		slog.Int("window", s.window),
		slog.Float64("entry_z", s.entryZ),
		slog.Float64("exit_z", s.exitZ),
	)
	return nil
}

func (s *MeanReversion) OnCandle(ctx context.Context, mc bot.MarketContext) (domain.Signal, error) {
	symbol := mc.Candle.Symbol
	close := mc.Candle.Close

	stats, ok := s.stats[symbol]
	if !ok {
		stats = newRollingStats(s.window)
		s.stats[symbol] = stats
	}

	z := stats.ZScore(close)
	ready := stats.Ready()
	stats.Add(close)

	if !ready {
		return s.hold(symbol)
	}

	if s.holding(symbol) {
		// Revert-to-mean exit.
		if z >= -s.exitZ {
			sig, err := domain.NewSignal(domain.SignalClose, symbol, confidenceFromZ(z))
			if err != nil {
				return domain.Signal{}, err
			}
			sig.Price = &close
			sig.Metadata["z_score"] = fmt.Sprintf("%.4f", z)
			return sig, nil
		}
		return s.hold(symbol)
	}

	if z <= -s.entryZ {
		sig, err := domain.NewSignal(domain.SignalBuy, symbol, confidenceFromZ(z))
		if err != nil {
			return domain.Signal{}, err
		}
		sig.Price = &close
		sig.Metadata["z_score"] = fmt.Sprintf("%.4f", z)
		s.logger.InfoContext(ctx, "entry signal",
			slog.String("symbol", symbol),
			slog.Float64("z_score", z),
			slog.Float64("close", close),
		)
		return sig, nil
	}

	return s.hold(symbol)
}

func (s *MeanReversion) hold(symbol string) (domain.Signal, error) {
	return domain.NewSignal(domain.SignalHold, symbol, 0)
}

func (s *MeanReversion) holding(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inPosition[symbol]
}

// confidenceFromZ maps deviation magnitude into [0, 1], saturating at 4σ.
func confidenceFromZ(z float64) float64 {
	return math.Min(math.Abs(z)/4, 1)
}

func (s *MeanReversion) OnOrderFilled(ctx context.Context, order domain.Order) error {
	// Long-only bookkeeping: a buy fill enters, a sell fill exits.
	s.mu.Lock()
	s.inPosition[order.Symbol] = order.Side == domain.OrderSideBuy
	s.mu.Unlock()
	return nil
}

func (s *MeanReversion) OnError(ctx context.Context, err error) {
	s.logger.WarnContext(ctx, "bot error", slog.String("error", err.Error()))
}

func (s *MeanReversion) OnStop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "strategy stopped")
	return nil
}
