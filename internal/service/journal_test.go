package service

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

type stubPositionStore struct {
	mu      sync.Mutex
	created []domain.Position
	closed  []string
	failOn  string
}

func (s *stubPositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "create" {
		return errors.New("db down")
	}
	s.created = append(s.created, pos)
	return nil
}

func (s *stubPositionStore) Close(_ context.Context, id string, _, _ float64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, id)
	return nil
}

func (s *stubPositionStore) GetByID(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (s *stubPositionStore) ListOpen(context.Context) ([]domain.Position, error) { return nil, nil }

func (s *stubPositionStore) ListClosed(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type stubAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *stubAuditStore) Log(_ context.Context, eventName string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{Event: eventName, Detail: detail})
	return nil
}

func (s *stubAuditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *stubAuditStore) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Event)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func openPosition() domain.Position {
	return domain.Position{
		ID:         "pos-1",
		Symbol:     "BTC/USDT",
		Direction:  domain.OrderSideBuy,
		EntryPrice: 100,
		Quantity:   0.5,
		Status:     domain.PositionStatusOpen,
		Strategy:   "mean_reversion",
		OpenedAt:   time.Now().UTC(),
	}
}

func TestJournalPersistsOpenAndClose(t *testing.T) {
	positions := &stubPositionStore{}
	audit := &stubAuditStore{}
	bus := event.NewBus(discardLogger())
	NewJournal(positions, audit, discardLogger()).Attach(bus)

	ctx := context.Background()
	pos := openPosition()

	if err := bus.Emit(ctx, event.PositionOpened, map[string]any{"position": pos}); err != nil {
		t.Fatalf("emit open: %v", err)
	}
	if len(positions.created) != 1 || positions.created[0].ID != "pos-1" {
		t.Fatalf("expected one created position, got %+v", positions.created)
	}

	exit := 110.0
	closedAt := time.Now().UTC()
	pos.ExitPrice = &exit
	pos.ClosedAt = &closedAt
	pos.PnL = 5
	pos.Status = domain.PositionStatusClosed

	if err := bus.Emit(ctx, event.PositionClosed, map[string]any{"position": pos}); err != nil {
		t.Fatalf("emit close: %v", err)
	}
	if len(positions.closed) != 1 || positions.closed[0] != "pos-1" {
		t.Fatalf("expected pos-1 closed, got %v", positions.closed)
	}

	got := audit.events()
	if len(got) != 2 || got[0] != event.PositionOpened || got[1] != event.PositionClosed {
		t.Fatalf("unexpected audit trail: %v", got)
	}
}

func TestJournalAuditsOrdersAndLifecycle(t *testing.T) {
	audit := &stubAuditStore{}
	bus := event.NewBus(discardLogger())
	NewJournal(&stubPositionStore{}, audit, discardLogger()).Attach(bus)

	ctx := context.Background()
	bus.Emit(ctx, event.BotStarted, map[string]any{"bot": "test-bot"})
	bus.Emit(ctx, event.OrderFilled, map[string]any{"order": domain.Order{
		ID:     "ord-1",
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Price:  100,
	}})
	bus.Emit(ctx, event.Error, map[string]any{"error": errors.New("boom")})

	got := audit.events()
	want := []string{event.BotStarted, event.OrderFilled, event.Error}
	if len(got) != len(want) {
		t.Fatalf("expected %d audit entries, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	last := audit.entries[2]
	if last.Detail["error"] != "boom" {
		t.Fatalf("error detail not recorded: %+v", last.Detail)
	}
}

func TestJournalClosedPositionMissingExit(t *testing.T) {
	bus := event.NewBus(discardLogger())
	NewJournal(&stubPositionStore{}, nil, discardLogger()).Attach(bus)

	err := bus.Emit(context.Background(), event.PositionClosed, map[string]any{
		"position": openPosition(),
	})
	if err == nil {
		t.Fatal("expected error for closed position without exit details")
	}
}

func TestJournalStoreFailureSurfacesViaEmit(t *testing.T) {
	positions := &stubPositionStore{failOn: "create"}
	bus := event.NewBus(discardLogger())
	NewJournal(positions, nil, discardLogger()).Attach(bus)

	err := bus.Emit(context.Background(), event.PositionOpened, map[string]any{
		"position": openPosition(),
	})
	if err == nil {
		t.Fatal("expected store failure to surface from Emit")
	}
}
