package domain

import (
	"math"

	"github.com/google/uuid"
)

type LineRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type CheckoutRequest struct {
	Lines          []LineRequest
	Notes          string
	IdempotencyKey string
}

// Consolidate merges lines for the same product, keeping first-seen order.
func (r CheckoutRequest) Consolidate() ([]LineRequest, error) {
	if len(r.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	idx := make(map[uuid.UUID]int, len(r.Lines))
	out := make([]LineRequest, 0, len(r.Lines))
	for _, l := range r.Lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity.Withf("quantity for product %s must be positive", l.ProductID)
		}
		if i, ok := idx[l.ProductID]; ok {
			if out[i].Quantity > math.MaxInt-l.Quantity {
				return nil, ErrAmountOverflow.Withf("quantity for product %s overflows", l.ProductID)
			}
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}

type PaymentRequest struct {
	OrderID        uuid.UUID
	Method         string
	ProofRef       string
	Notes          string
	IdempotencyKey string
}
