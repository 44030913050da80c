package domain

import "math"

// PricedLine is the input shape shared by cart totals and order creation.
type PricedLine struct {
	UnitPrice int64
	Quantity  int
}

// LineSubtotal returns price × quantity in minor units.
func LineSubtotal(price int64, qty int) (int64, error) {
	if price < 0 || qty < 0 {
		return 0, ErrInvalidRequest.Withf("negative price or quantity")
	}
	if qty != 0 && price > math.MaxInt64/int64(qty) {
		return 0, ErrAmountOverflow
	}
	return price * int64(qty), nil
}

// PriceLines sums the subtotals of lines. It never wraps on overflow.
func PriceLines(lines []PricedLine) (int64, error) {
	var total int64
	for _, l := range lines {
		sub, err := LineSubtotal(l.UnitPrice, l.Quantity)
		if err != nil {
			return 0, err
		}
		if total > math.MaxInt64-sub {
			return 0, ErrAmountOverflow
		}
		total += sub
	}
	return total, nil
}
