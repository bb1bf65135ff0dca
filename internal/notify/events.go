package notify

import (
	"context"
	"fmt"

	"github.com/openquant/botcore/internal/domain"
	"github.com/openquant/botcore/internal/event"
)

// AttachBus subscribes the notifier to the bot's event bus, turning trading
// events into human-readable alerts. The notifier's event filter decides
// which of them actually go out.
func AttachBus(bus *event.Bus, n *Notifier) {
	bus.On(event.BotStarted, func(ctx context.Context, e event.Event) error {
		name, _ := e.Data["bot"].(string)
		return n.Notify(ctx, event.BotStarted, "Bot started",
			fmt.Sprintf("%s is running", name))
	})

	bus.On(event.BotStopped, func(ctx context.Context, e event.Event) error {
		name, _ := e.Data["bot"].(string)
		return n.Notify(ctx, event.BotStopped, "Bot stopped",
			fmt.Sprintf("%s has shut down", name))
	})

	bus.On(event.OrderFilled, func(ctx context.Context, e event.Event) error {
		order, ok := e.Data["order"].(domain.Order)
		if !ok {
			return nil
		}
		return n.Notify(ctx, event.OrderFilled, "Order filled",
			fmt.Sprintf("%s %s %.4f @ %.4f", order.Side, order.Symbol, order.Quantity, order.Price))
	})

	bus.On(event.PositionClosed, func(ctx context.Context, e event.Event) error {
		pos, ok := e.Data["position"].(domain.Position)
		if !ok {
			return nil
		}
		outcome := "profit"
		if pos.PnL <= 0 {
			outcome = "loss"
		}
		return n.Notify(ctx, event.PositionClosed, "Position closed",
			fmt.Sprintf("%s closed with %s %.4f", pos.Symbol, outcome, pos.PnL))
	})

	bus.On(event.Error, func(ctx context.Context, e event.Event) error {
		err, ok := e.Data["error"].(error)
		if !ok {
			return nil
		}
		return n.Notify(ctx, event.Error, "Bot error", err.Error())
	})
}
