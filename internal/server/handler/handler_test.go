package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openquant/botcore/internal/bot"
	"github.com/openquant/botcore/internal/domain"
	"github.com/openquant/botcore/internal/event"
	"github.com/openquant/botcore/internal/portfolio"
)

type stubBot struct {
	stats   bot.Stats
	signals []domain.Signal
}

func (s *stubBot) Stats() bot.Stats { return s.stats }

func (s *stubBot) RecentSignals(limit int) []domain.Signal {
	if limit < len(s.signals) {
		return s.signals[:limit]
	}
	return s.signals
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)

	NewHealthHandler(discardLogger()).HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestGetStatus(t *testing.T) {
	b := &stubBot{stats: bot.Stats{Name: "test-bot", TotalTrades: 3}}
	h := NewStatusHandler(b, []string{"ema_cross", "mean_reversion"}, "trade", discardLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	body := decodeBody(t, rec)
	if body["mode"] != "trade" {
		t.Fatalf("mode = %v, want trade", body["mode"])
	}
	stats, ok := body["stats"].(map[string]any)
	if !ok {
		t.Fatalf("stats missing: %v", body)
	}
	if stats["name"] != "test-bot" || stats["total_trades"] != float64(3) {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestListSignals(t *testing.T) {
	sig, err := domain.NewSignal(domain.SignalBuy, "BTC/USDT", 0.8)
	if err != nil {
		t.Fatalf("new signal: %v", err)
	}
	b := &stubBot{signals: []domain.Signal{sig}}
	h := NewStatusHandler(b, nil, "trade", discardLogger())

	rec := httptest.NewRecorder()
	h.ListSignals(rec, httptest.NewRequest(http.MethodGet, "/api/signals?limit=10", nil))

	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", body["count"])
	}

	rec = httptest.NewRecorder()
	h.ListSignals(rec, httptest.NewRequest(http.MethodGet, "/api/signals?limit=nope", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestListPositions(t *testing.T) {
	pf := portfolio.New()
	if _, err := pf.Open("BTC/USDT", domain.OrderSideBuy, 1, 100, "mean_reversion", time.Now().UTC()); err != nil {
		t.Fatalf("open: %v", err)
	}
	h := NewPositionHandler(pf, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", body["count"])
	}

	rec = httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?status=weird", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d, want 400", rec.Code)
	}
}

func TestListClosedPositionsFromPortfolio(t *testing.T) {
	pf := portfolio.New()
	now := time.Now().UTC()
	if _, err := pf.Open("BTC/USDT", domain.OrderSideBuy, 1, 100, "mean_reversion", now); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := pf.Close("BTC/USDT", 110, now.Add(time.Minute)); err != nil {
		t.Fatalf("close: %v", err)
	}
	h := NewPositionHandler(pf, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?status=closed", nil))

	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", body["count"])
	}
}

func TestListEvents(t *testing.T) {
	bus := event.NewMemBus()
	ctx := context.Background()
	for _, payload := range []string{
		`{"event":"bot_started","bot":"test-bot"}`,
		`{"event":"order_filled"}`,
	} {
		if err := bus.StreamAppend(ctx, "events", []byte(payload)); err != nil {
			t.Fatalf("stream append: %v", err)
		}
	}
	h := NewEventsHandler(bus, discardLogger())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	body := decodeBody(t, rec)
	if body["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", body["count"])
	}
	lastID, _ := body["last_id"].(string)
	if lastID == "" || lastID == "0" {
		t.Fatalf("last_id not advanced: %v", body["last_id"])
	}

	rec = httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?after="+lastID, nil))
	if body = decodeBody(t, rec); body["count"] != float64(0) {
		t.Fatalf("expected no events after last_id, got %v", body["count"])
	}
}

func TestGetPositionWithoutStore(t *testing.T) {
	h := NewPositionHandler(portfolio.New(), nil, discardLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/positions/abc", nil)
	req.SetPathValue("id", "abc")
	h.GetPosition(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
