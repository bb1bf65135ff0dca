package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position represents an open or historical trading position. PnL is the
// realized profit once the position closes; while open it carries the
// mark-to-market value.
type Position struct {
	ID         string
	Symbol     string
	Direction  OrderSide
	EntryPrice float64
	ExitPrice  *float64
	Quantity   float64
	PnL        float64
	Status     PositionStatus
	Strategy   string
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

// IsOpen reports whether the position has not been closed yet.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}
