// Package service contains background services that react to bot events.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openquant/botcore/internal/domain"
	"github.com/openquant/botcore/internal/event"
)

// Journal persists the bot's trading activity. Position opens and closes go
// to the position store; every lifecycle and trading event is additionally
// recorded in the audit log.
type Journal struct {
	positions domain.PositionStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewJournal creates a Journal writing to the given stores. audit may be nil
// to skip audit logging.
func NewJournal(positions domain.PositionStore, audit domain.AuditStore, logger *slog.Logger) *Journal {
	return &Journal{
		positions: positions,
		audit:     audit,
		logger:    logger.With(slog.String("component", "journal")),
	}
}

// Attach registers the journal's handlers on the bot event bus. Handlers run
// synchronously on the emitter's goroutine, so store writes complete before
// the next event is processed.
func (j *Journal) Attach(bus *event.Bus) {
	bus.On(event.PositionOpened, j.onPositionOpened)
	bus.On(event.PositionClosed, j.onPositionClosed)
	bus.On(event.OrderFilled, j.onOrderFilled)
	bus.On(event.BotStarted, j.onLifecycle)
	bus.On(event.BotStopped, j.onLifecycle)
	bus.On(event.Error, j.onError)
}

func (j *Journal) onPositionOpened(ctx context.Context, e event.Event) error {
	pos, ok := e.Data["position"].(domain.Position)
	if !ok {
		return fmt.Errorf("journal: %s event without position payload", e.Name)
	}

	if err := j.positions.Create(ctx, pos); err != nil {
		return fmt.Errorf("journal: persist open: %w", err)
	}

	j.auditLog(ctx, e.Name, map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"direction":   string(pos.Direction),
		"entry_price": pos.EntryPrice,
		"quantity":    pos.Quantity,
		"strategy":    pos.Strategy,
	})
	return nil
}

func (j *Journal) onPositionClosed(ctx context.Context, e event.Event) error {
	pos, ok := e.Data["position"].(domain.Position)
	if !ok {
		return fmt.Errorf("journal: %s event without position payload", e.Name)
	}
	if pos.ExitPrice == nil || pos.ClosedAt == nil {
		return fmt.Errorf("journal: closed position %s missing exit details", pos.ID)
	}

	if err := j.positions.Close(ctx, pos.ID, *pos.ExitPrice, pos.PnL, *pos.ClosedAt); err != nil {
		return fmt.Errorf("journal: persist close: %w", err)
	}

	j.auditLog(ctx, e.Name, map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"exit_price":  *pos.ExitPrice,
		"pnl":         pos.PnL,
	})
	return nil
}

func (j *Journal) onOrderFilled(ctx context.Context, e event.Event) error {
	order, ok := e.Data["order"].(domain.Order)
	if !ok {
		return fmt.Errorf("journal: %s event without order payload", e.Name)
	}

	j.auditLog(ctx, e.Name, map[string]any{
		"order_id": order.ID,
		"symbol":   order.Symbol,
		"side":     string(order.Side),
		"quantity": order.Quantity,
		"price":    order.Price,
	})
	return nil
}

func (j *Journal) onLifecycle(ctx context.Context, e event.Event) error {
	detail := map[string]any{}
	if name, ok := e.Data["bot"].(string); ok {
		detail["bot"] = name
	}
	j.auditLog(ctx, e.Name, detail)
	return nil
}

func (j *Journal) onError(ctx context.Context, e event.Event) error {
	detail := map[string]any{}
	if err, ok := e.Data["error"].(error); ok {
		detail["error"] = err.Error()
	}
	j.auditLog(ctx, e.Name, detail)
	return nil
}

// auditLog writes an audit row. Audit failures are logged and swallowed so
// they never disturb trading.
func (j *Journal) auditLog(ctx context.Context, eventName string, detail map[string]any) {
	if j.audit == nil {
		return
	}
	if err := j.audit.Log(ctx, eventName, detail); err != nil {
		j.logger.WarnContext(ctx, "audit log write failed",
			slog.String("event", eventName),
			slog.String("error", err.Error()),
		)
	}
}
