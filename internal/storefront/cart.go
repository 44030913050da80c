package storefront

import (
	"math"

	"github.com/google/uuid"

	"mini-oms/internal/domain"
)

type CartLine struct {
	Product  domain.Product
	Quantity int
}

// Cart is a single-owner, in-memory list of reservations, keyed by product.
// It is never persisted and is not safe for concurrent use.
type Cart struct {
	lines []CartLine
}

func NewCart() *Cart { return &Cart{} }

func (c *Cart) index(productID uuid.UUID) int {
	for i, l := range c.lines {
		if l.Product.ID == productID {
			return i
		}
	}
	return -1
}

// Add appends product or increases the quantity of its existing line.
func (c *Cart) Add(p domain.Product, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	if i := c.index(p.ID); i >= 0 {
		if c.lines[i].Quantity > math.MaxInt-qty {
			return domain.ErrAmountOverflow.Withf("quantity for product %s overflows", p.ID)
		}
		c.lines[i].Quantity += qty
		c.lines[i].Product = p
		return nil
	}
	c.lines = append(c.lines, CartLine{Product: p, Quantity: qty})
	return nil
}

// SetQuantity replaces a line's quantity; qty <= 0 removes the line. Stock is
// not checked here, the backend re-validates it at checkout.
func (c *Cart) SetQuantity(productID uuid.UUID, qty int) {
	i := c.index(productID)
	if i < 0 {
		return
	}
	if qty <= 0 {
		c.Remove(productID)
		return
	}
	c.lines[i].Quantity = qty
}

func (c *Cart) Remove(productID uuid.UUID) {
	if i := c.index(productID); i >= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	}
}

func (c *Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int { return len(c.lines) }

func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }

func (c *Cart) Clear() { c.lines = nil }

// Total prices the cart the same way the backend prices an order.
func (c *Cart) Total() (int64, error) {
	priced := make([]domain.PricedLine, len(c.lines))
	for i, l := range c.lines {
		priced[i] = domain.PricedLine{UnitPrice: l.Product.Price, Quantity: l.Quantity}
	}
	return domain.PriceLines(priced)
}

func (c *Cart) checkoutLines() []domain.LineRequest {
	out := make([]domain.LineRequest, len(c.lines))
	for i, l := range c.lines {
		out[i] = domain.LineRequest{ProductID: l.Product.ID, Quantity: l.Quantity}
	}
	return out
}
