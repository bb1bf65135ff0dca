package feed

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/openquant/botcore/internal/domain"
)

// RandomWalkOptions tunes the synthetic market generator.
type RandomWalkOptions struct {
	// Pairs to generate data for.
	Pairs []string
	// Timeframe label stamped on emitted candles.
	Timeframe string
	// StartPrice is the initial price for every pair.
	StartPrice float64
	// Volatility is the per-tick standard deviation as a fraction of price.
	Volatility float64
	// TickInterval is how often a tick is generated per pair.
	TickInterval time.Duration
	// CandleInterval is how often ticks are rolled into a candle.
	CandleInterval time.Duration
	// Seed makes the walk reproducible when non-zero.
	Seed uint64
}

func (o *RandomWalkOptions) withDefaults() {
	if o.Timeframe == "" {
		o.Timeframe = "1m"
	}
	if o.StartPrice <= 0 {
		o.StartPrice = 100
	}
	if o.Volatility <= 0 {
		o.Volatility = 0.001
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 100 * time.Millisecond
	}
	if o.CandleInterval <= 0 {
		o.CandleInterval = time.Second
	}
}

// candleBuilder accumulates ticks into the current candle for one pair.
type candleBuilder struct {
	open, high, low, last float64
	volume                float64
	openTime              time.Time
	started               bool
}

func (cb *candleBuilder) add(price, qty float64, at time.Time) {
	if !cb.started {
		cb.open, cb.high, cb.low = price, price, price
		cb.openTime = at
		cb.started = true
	}
	cb.high = math.Max(cb.high, price)
	cb.low = math.Min(cb.low, price)
	cb.last = price
	cb.volume += qty
}

// RandomWalk is a synthetic Source driving prices through a geometric random
// walk. It exists so the full pipeline runs without exchange connectivity.
type RandomWalk struct {
	opts    RandomWalkOptions
	rng     *rand.Rand
	prices  map[string]float64
	builder map[string]*candleBuilder
	candles chan domain.Candle
	ticks   chan domain.Tick
	logger  *slog.Logger
}

var _ Source = (*RandomWalk)(nil)

// NewRandomWalk creates a RandomWalk source for the configured pairs.
func NewRandomWalk(opts RandomWalkOptions, logger *slog.Logger) *RandomWalk {
	opts.withDefaults()

	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	w := &RandomWalk{
		opts:    opts,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		prices:  make(map[string]float64, len(opts.Pairs)),
		builder: make(map[string]*candleBuilder, len(opts.Pairs)),
		candles: make(chan domain.Candle, 64),
		ticks:   make(chan domain.Tick, 256),
		logger:  logger.With(slog.String("component", "feed")),
	}
	for _, pair := range opts.Pairs {
		w.prices[pair] = opts.StartPrice
		w.builder[pair] = &candleBuilder{}
	}
	return w
}

func (w *RandomWalk) Candles() <-chan domain.Candle { return w.candles }

func (w *RandomWalk) Ticks() <-chan domain.Tick { return w.ticks }

// Run generates ticks and rolls them into candles until the context is
// cancelled, then closes both channels.
func (w *RandomWalk) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "random walk feed started",
		slog.Any("pairs", w.opts.Pairs),
		slog.String("timeframe", w.opts.Timeframe),
	)
	defer w.logger.Info("random walk feed stopped")
	defer close(w.candles)
	defer close(w.ticks)

	tickTimer := time.NewTicker(w.opts.TickInterval)
	defer tickTimer.Stop()
	candleTimer := time.NewTicker(w.opts.CandleInterval)
	defer candleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tickTimer.C:
			w.step(time.Now().UTC())
		case <-candleTimer.C:
			w.flush(time.Now().UTC())
		}
	}
}

// step advances every pair by one random increment and emits ticks.
func (w *RandomWalk) step(at time.Time) {
	for _, pair := range w.opts.Pairs {
		price := w.prices[pair]
		price *= 1 + w.rng.NormFloat64()*w.opts.Volatility
		if price <= 0 {
			price = w.opts.StartPrice
		}
		w.prices[pair] = price

		qty := w.rng.Float64() * 2
		w.builder[pair].add(price, qty, at)

		select {
		case w.ticks <- domain.Tick{Symbol: pair, Price: price, Quantity: qty, At: at}:
		default:
			// Slow consumer; ticks are best-effort.
		}
	}
}

// flush closes out the current candle for every pair that saw ticks.
func (w *RandomWalk) flush(at time.Time) {
	for _, pair := range w.opts.Pairs {
		cb := w.builder[pair]
		if !cb.started {
			continue
		}
		candle := domain.Candle{
			Symbol:    pair,
			Timeframe: w.opts.Timeframe,
			Open:      cb.open,
			High:      cb.high,
			Low:       cb.low,
			Close:     cb.last,
			Volume:    cb.volume,
			OpenTime:  cb.openTime,
			CloseTime: at,
		}
		*cb = candleBuilder{}

		select {
		case w.candles <- candle:
		default:
			w.logger.Warn("candle channel full, dropping candle", slog.String("symbol", pair))
		}
	}
}
