package domain

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderCreated    OrderStatus = "created"
	OrderProcessing OrderStatus = "processing"
	// OrderPaid is accepted from the backend and treated like processing.
	OrderPaid      OrderStatus = "paid"
	OrderCompleted OrderStatus = "completed"
	OrderCanceled  OrderStatus = "canceled"
)

// ParseOrderStatus maps stored or wire values onto the closed set.
// "success" is legacy vocabulary for paid.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch s {
	case "created":
		return OrderCreated, nil
	case "processing":
		return OrderProcessing, nil
	case "paid", "success":
		return OrderPaid, nil
	case "completed":
		return OrderCompleted, nil
	case "canceled", "cancelled":
		return OrderCanceled, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// IsPaid reports whether the order has an accepted payment.
func (s OrderStatus) IsPaid() bool {
	return s == OrderProcessing || s == OrderPaid || s == OrderCompleted
}

func (s OrderStatus) String() string { return string(s) }

type OrderLine struct {
	ProductID    uuid.UUID `json:"product_id"`
	ProductName  string    `json:"product_name"`
	ProductPrice int64     `json:"product_price"`
	Quantity     int       `json:"quantity"`
	Subtotal     int64     `json:"subtotal"`
}

type Order struct {
	ID          uuid.UUID   `json:"id"`
	OrderNumber string      `json:"order_number"`
	UserID      uuid.UUID   `json:"user_id"`
	Lines       []OrderLine `json:"items"`
	Total       int64       `json:"total"`
	Status      OrderStatus `json:"status"`
	Notes       string      `json:"notes,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	// Payment is the order's current payment, if any.
	Payment *Payment `json:"payment,omitempty"`
}

// NewOrderLine snapshots a product at order time.
func NewOrderLine(p Product, qty int) (OrderLine, error) {
	if qty <= 0 {
		return OrderLine{}, ErrInvalidQuantity
	}
	sub, err := LineSubtotal(p.Price, qty)
	if err != nil {
		return OrderLine{}, err
	}
	return OrderLine{
		ProductID:    p.ID,
		ProductName:  p.Name,
		ProductPrice: p.Price,
		Quantity:     qty,
		Subtotal:     sub,
	}, nil
}

func (o *Order) pricedLines() []PricedLine {
	out := make([]PricedLine, len(o.Lines))
	for i, l := range o.Lines {
		out[i] = PricedLine{UnitPrice: l.ProductPrice, Quantity: l.Quantity}
	}
	return out
}

// CheckTotal verifies that every subtotal and the total reconcile with the lines.
func (o *Order) CheckTotal() error {
	for _, l := range o.Lines {
		sub, err := LineSubtotal(l.ProductPrice, l.Quantity)
		if err != nil {
			return err
		}
		if sub != l.Subtotal {
			return fmt.Errorf("line %s: subtotal %d, want %d", l.ProductID, l.Subtotal, sub)
		}
	}
	total, err := PriceLines(o.pricedLines())
	if err != nil {
		return err
	}
	if total != o.Total {
		return fmt.Errorf("order %s: total %d, want %d", o.ID, o.Total, total)
	}
	return nil
}

// RestockDeltas returns the stock to give back when the order is canceled.
func (o *Order) RestockDeltas() []StockDelta {
	out := make([]StockDelta, 0, len(o.Lines))
	for _, l := range o.Lines {
		out = append(out, StockDelta{ProductID: l.ProductID, Delta: l.Quantity})
	}
	return out
}

// NewOrderNumber returns ORD-YYYYMMDD-HHMMSS-NNNN.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%04d", now.Format("20060102-150405"), rand.IntN(10000))
}

// OrderStats is the admin dashboard read model.
type OrderStats struct {
	TotalOrders     int64 `json:"total_orders"`
	TotalRevenue    int64 `json:"total_revenue"`
	PendingPayments int64 `json:"pending_payments"`
}
