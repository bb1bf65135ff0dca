// Package domain holds the framework's value types and the collaborator
// interfaces (event bus, stores, blob storage) implemented elsewhere.
package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order represents one order produced from a trade signal. The lifecycle
// controller treats orders as opaque payloads; only the executor fills them.
type Order struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Price     float64
	Quantity  float64
	Status    OrderStatus
	Strategy  string
	CreatedAt time.Time
	FilledAt  *time.Time
}

// Notional returns the order's price-times-quantity value.
func (o Order) Notional() float64 {
	return o.Price * o.Quantity
}
