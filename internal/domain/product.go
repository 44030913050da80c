package domain

import (
	"time"

	"github.com/google/uuid"
)

type Product struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Stock       int       `json:"stock"`
	ImageURL    string    `json:"image_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p *Product) IsInStock(qty int) bool {
	return p.Stock >= qty
}

// Validate checks the catalog invariants.
func (p *Product) Validate() error {
	if p.Name == "" {
		return ErrInvalidRequest.Withf("product name is required")
	}
	if p.Price < 0 {
		return ErrInvalidRequest.Withf("product price must not be negative")
	}
	if p.Stock < 0 {
		return ErrInvalidRequest.Withf("product stock must not be negative")
	}
	return nil
}

// StockDelta is a signed change to a product's stock.
type StockDelta struct {
	ProductID uuid.UUID
	Delta     int
}
