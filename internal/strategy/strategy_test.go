package strategy

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/openquant/botcore/internal/bot"
	"github.com/openquant/botcore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig(params map[string]string) Config {
	return Config{
		BotName:   "test-bot",
		Pairs:     []string{"BTC/USDT"},
		Timeframe: "1m",
		Params:    params,
		Logger:    testLogger(),
	}
}

func candleCtx(symbol string, close float64) bot.MarketContext {
	now := time.Now().UTC()
	c := domain.Candle{
		Symbol: symbol, Timeframe: "1m",
		Open: close, High: close, Low: close, Close: close,
		OpenTime: now, CloseTime: now,
	}
	return bot.MarketContext{Candle: c, History: []domain.Candle{c}}
}

func feedCandle(t *testing.T, h bot.Hooks, symbol string, close float64) domain.Signal {
	t.Helper()
	sig, err := h.OnCandle(context.Background(), candleCtx(symbol, close))
	if err != nil {
		t.Fatalf("on candle at %v: %v", close, err)
	}
	return sig
}

func markFilled(t *testing.T, h bot.Hooks, symbol string, side domain.OrderSide) {
	t.Helper()
	err := h.OnOrderFilled(context.Background(), domain.Order{
		ID: "o", Symbol: symbol, Side: side, Price: 1, Quantity: 1,
		Status: domain.OrderStatusFilled,
	})
	if err != nil {
		t.Fatalf("order filled: %v", err)
	}
}

func TestRegistryBuildUnknown(t *testing.T) {
	r := Defaults()
	if _, err := r.Build("momentum", testConfig(nil)); err == nil {
		t.Fatalf("unknown strategy must fail")
	}
	got := r.List()
	want := []string{"ema_cross", "mean_reversion"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("list: got %v want %v", got, want)
	}
}

func TestRollingStats(t *testing.T) {
	r := newRollingStats(4)
	for _, v := range []float64{2, 4, 4, 4} {
		r.Add(v)
	}
	if !r.Ready() {
		t.Fatalf("window must be full")
	}
	if got := r.Mean(); got != 3.5 {
		t.Fatalf("mean: got %v want 3.5", got)
	}
	if got := r.StdDev(); math.Abs(got-1) > 1e-9 {
		t.Fatalf("stddev: got %v want 1", got)
	}
	if got := r.ZScore(1.5); math.Abs(got+2) > 1e-9 {
		t.Fatalf("zscore: got %v want -2", got)
	}
}

func TestRollingStatsEvictsOldest(t *testing.T) {
	r := newRollingStats(2)
	r.Add(10)
	r.Add(20)
	r.Add(30) // evicts 10
	if got := r.Mean(); got != 25 {
		t.Fatalf("mean after eviction: got %v want 25", got)
	}
}

func TestEMAWarmup(t *testing.T) {
	e := newEMA(3)
	e.Update(10)
	if e.Ready() {
		t.Fatalf("must not be ready after one sample")
	}
	e.Update(10)
	e.Update(10)
	if !e.Ready() {
		t.Fatalf("must be ready after period samples")
	}
	if e.Value() != 10 {
		t.Fatalf("constant series ema: got %v", e.Value())
	}
}

func TestMeanReversionEntersOnDeepDrop(t *testing.T) {
	h, err := NewMeanReversion(testConfig(map[string]string{
		"window": "5", "entry_z": "2", "exit_z": "0.5",
	}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// Fill the window with prices around 100.
	for _, p := range []float64{100, 101, 99, 100, 101} {
		sig := feedCandle(t, h, "BTC/USDT", p)
		if sig.Type != domain.SignalHold {
			t.Fatalf("warmup must hold, got %s", sig.Type)
		}
	}

	sig := feedCandle(t, h, "BTC/USDT", 90)
	if sig.Type != domain.SignalBuy {
		t.Fatalf("deep drop must buy, got %s", sig.Type)
	}
	if sig.Price == nil || *sig.Price != 90 {
		t.Fatalf("signal must carry the close price, got %v", sig.Price)
	}
	if sig.Confidence <= 0 || sig.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", sig.Confidence)
	}
	if sig.Metadata["z_score"] == "" {
		t.Fatalf("z_score metadata missing")
	}
}

func TestMeanReversionExitsOnReversion(t *testing.T) {
	h, err := NewMeanReversion(testConfig(map[string]string{
		"window": "5", "entry_z": "2", "exit_z": "0.5",
	}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for _, p := range []float64{100, 101, 99, 100, 101} {
		feedCandle(t, h, "BTC/USDT", p)
	}
	if sig := feedCandle(t, h, "BTC/USDT", 90); sig.Type != domain.SignalBuy {
		t.Fatalf("expected entry, got %s", sig.Type)
	}
	markFilled(t, h, "BTC/USDT", domain.OrderSideBuy)

	// Price back at the mean closes the position.
	sig := feedCandle(t, h, "BTC/USDT", 101)
	if sig.Type != domain.SignalClose {
		t.Fatalf("reversion must close, got %s", sig.Type)
	}
}

func TestMeanReversionRejectsBadParams(t *testing.T) {
	if _, err := NewMeanReversion(testConfig(map[string]string{"entry_z": "0.3", "exit_z": "0.5"})); err == nil {
		t.Fatalf("entry_z below exit_z must fail")
	}
	if _, err := NewMeanReversion(testConfig(map[string]string{"window": "x"})); err == nil {
		t.Fatalf("non-numeric window must fail")
	}
}

func TestEMACrossBuysOnGoldenCross(t *testing.T) {
	h, err := NewEMACross(testConfig(map[string]string{
		"fast_period": "2", "slow_period": "4",
	}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// Downtrend to warm up with the fast average below the slow one.
	var sawBuy bool
	for _, p := range []float64{110, 108, 106, 104, 102, 100} {
		if sig := feedCandle(t, h, "BTC/USDT", p); sig.Type == domain.SignalBuy {
			t.Fatalf("downtrend must not buy")
		}
	}
	// Sharp reversal drives the fast average over the slow.
	for _, p := range []float64{105, 112, 120} {
		if sig := feedCandle(t, h, "BTC/USDT", p); sig.Type == domain.SignalBuy {
			sawBuy = true
			break
		}
	}
	if !sawBuy {
		t.Fatalf("reversal must produce a buy signal")
	}
}

func TestEMACrossClosesOnDeathCross(t *testing.T) {
	h, err := NewEMACross(testConfig(map[string]string{
		"fast_period": "2", "slow_period": "4",
	}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for _, p := range []float64{110, 108, 106, 104, 102, 100, 105, 112, 120} {
		feedCandle(t, h, "BTC/USDT", p)
	}
	markFilled(t, h, "BTC/USDT", domain.OrderSideBuy)

	var sawClose bool
	for _, p := range []float64{110, 100, 90, 85} {
		if sig := feedCandle(t, h, "BTC/USDT", p); sig.Type == domain.SignalClose {
			sawClose = true
			break
		}
	}
	if !sawClose {
		t.Fatalf("downturn must close the position")
	}
}

func TestEMACrossRejectsBadPeriods(t *testing.T) {
	if _, err := NewEMACross(testConfig(map[string]string{"fast_period": "21", "slow_period": "9"})); err == nil {
		t.Fatalf("fast above slow must fail")
	}
}
