package s3blob

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/openquant/botcore/internal/bot"
	"github.com/openquant/botcore/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

type stubStats struct{ stats bot.Stats }

func (s stubStats) Stats() bot.Stats { return s.stats }

type stubClosed struct{ positions []domain.Position }

func (s stubClosed) ClosedSince(cutoff time.Time) []domain.Position { return s.positions }

func TestArchiveUploadsStatsAndClosedPositions(t *testing.T) {
	w := newMemWriter()
	exit := 120.0
	closedAt := time.Now().UTC()
	a := NewArchiver(w,
		stubStats{stats: bot.Stats{Name: "demo", TotalTrades: 3, TotalPnL: 42}},
		stubClosed{positions: []domain.Position{
			{ID: "p1", Symbol: "BTC/USDT", EntryPrice: 100, ExitPrice: &exit, PnL: 20, Status: domain.PositionStatusClosed, ClosedAt: &closedAt},
			{ID: "p2", Symbol: "ETH/USDT", EntryPrice: 50, PnL: -5, Status: domain.PositionStatusClosed, ClosedAt: &closedAt},
		}},
		slog.New(slog.DiscardHandler),
	)

	now := time.Date(2026, 8, 25, 14, 30, 5, 0, time.UTC)
	if err := a.Archive(context.Background(), now); err != nil {
		t.Fatalf("archive: %v", err)
	}

	statsPath := "archive/stats/demo/2026/08/25/143005.json"
	body, ok := w.objects[statsPath]
	if !ok {
		t.Fatalf("stats object missing, have %v", keys(w.objects))
	}
	var decoded bot.Stats
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("stats payload: %v", err)
	}
	if decoded.TotalTrades != 3 || decoded.TotalPnL != 42 {
		t.Fatalf("unexpected stats payload: %+v", decoded)
	}

	posPath := "archive/positions/demo/2026/08/25/143005.jsonl"
	jsonl, ok := w.objects[posPath]
	if !ok {
		t.Fatalf("positions object missing, have %v", keys(w.objects))
	}
	lines := strings.Split(strings.TrimSpace(string(jsonl)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 jsonl lines, got %d", len(lines))
	}
	if w.types[posPath] != "application/x-ndjson" {
		t.Fatalf("content type: got %q", w.types[posPath])
	}
}

func TestArchiveSkipsPositionsWhenNoneClosed(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, stubStats{stats: bot.Stats{Name: "demo"}}, stubClosed{}, slog.New(slog.DiscardHandler))

	if err := a.Archive(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("archive: %v", err)
	}
	for path := range w.objects {
		if strings.Contains(path, "/positions/") {
			t.Fatalf("no positions object expected, got %s", path)
		}
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
