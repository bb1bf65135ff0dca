// Package portfolio tracks open positions and realized profit for a single
// bot instance. The paper executor mutates it on fills; the status API reads
// snapshots.
package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openquant/botcore/internal/domain"
)

// Portfolio holds per-symbol open positions and cumulative realized PnL.
// At most one open position per symbol is allowed.
type Portfolio struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	realized  float64
	closed    []domain.Position
}

// Snapshot is a read-only view of the portfolio state.
type Snapshot struct {
	Open        []domain.Position
	RealizedPnL float64
	ClosedCount int
}

// New creates an empty Portfolio.
func New() *Portfolio {
	return &Portfolio{
		positions: make(map[string]domain.Position),
	}
}

// Open records a new position for symbol. It fails when a position for the
// symbol is already open.
func (p *Portfolio) Open(symbol string, direction domain.OrderSide, quantity, entryPrice float64, strategy string, at time.Time) (domain.Position, error) {
	if quantity <= 0 {
		return domain.Position{}, fmt.Errorf("portfolio: quantity must be positive, got %v", quantity)
	}
	if entryPrice <= 0 {
		return domain.Position{}, fmt.Errorf("portfolio: entry price must be positive, got %v", entryPrice)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.positions[symbol]; exists {
		return domain.Position{}, fmt.Errorf("portfolio: position for %s: %w", symbol, domain.ErrAlreadyExists)
	}

	pos := domain.Position{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Direction:  direction,
		EntryPrice: entryPrice,
		Quantity:   quantity,
		Status:     domain.PositionStatusOpen,
		Strategy:   strategy,
		OpenedAt:   at.UTC(),
	}
	p.positions[symbol] = pos
	return pos, nil
}

// Close exits the open position for symbol at exitPrice and returns the
// closed position with its realized PnL filled in. Long positions gain when
// the price rises, short positions when it falls.
func (p *Portfolio) Close(symbol string, exitPrice float64, at time.Time) (domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, exists := p.positions[symbol]
	if !exists {
		return domain.Position{}, fmt.Errorf("portfolio: close %s: %w", symbol, domain.ErrNoPosition)
	}
	delete(p.positions, symbol)

	pnl := (exitPrice - pos.EntryPrice) * pos.Quantity
	if pos.Direction == domain.OrderSideSell {
		pnl = -pnl
	}

	closedAt := at.UTC()
	pos.ExitPrice = &exitPrice
	pos.PnL = pnl
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &closedAt

	p.realized += pnl
	p.closed = append(p.closed, pos)
	return pos, nil
}

// Mark updates the mark-to-market PnL of the open position for symbol, if
// one exists.
func (p *Portfolio) Mark(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, exists := p.positions[symbol]
	if !exists {
		return
	}
	pnl := (price - pos.EntryPrice) * pos.Quantity
	if pos.Direction == domain.OrderSideSell {
		pnl = -pnl
	}
	pos.PnL = pnl
	p.positions[symbol] = pos
}

// Get returns the open position for symbol.
func (p *Portfolio) Get(symbol string) (domain.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	return pos, ok
}

// Has reports whether an open position exists for symbol.
func (p *Portfolio) Has(symbol string) bool {
	_, ok := p.Get(symbol)
	return ok
}

// Snapshot returns a copy of the current state.
func (p *Portfolio) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	open := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		open = append(open, pos)
	}
	return Snapshot{
		Open:        open,
		RealizedPnL: p.realized,
		ClosedCount: len(p.closed),
	}
}

// ClosedSince returns closed positions whose close time is at or after the
// cutoff. A zero cutoff returns the full history.
func (p *Portfolio) ClosedSince(cutoff time.Time) []domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Position, 0, len(p.closed))
	for _, pos := range p.closed {
		if pos.ClosedAt != nil && !pos.ClosedAt.Before(cutoff) {
			out = append(out, pos)
		}
	}
	return out
}
