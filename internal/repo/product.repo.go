package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"mini-oms/internal/database"
	"mini-oms/internal/domain"
)

type ProductRepo interface {
	List(ctx context.Context) ([]domain.Product, error)
	FindById(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	// LockForCheckout locks the given products FOR UPDATE, in the order given,
	// and returns the ones that exist and are not deleted.
	LockForCheckout(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error)
	Create(ctx context.Context, tx *sql.Tx, p *domain.Product) error
	Update(ctx context.Context, tx *sql.Tx, p *domain.Product) error
	Delete(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
	// Ledger returns the stock ledger bound to tx.
	Ledger(tx *sql.Tx) *StockLedger
}

type productRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) ProductRepo {
	return &productRepo{db: db}
}

const productColumns = `id, name, description, price, stock, image_url, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE deleted_at IS NULL ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (r *productRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find product %s: %w", id, err)
	}
	return p, nil
}

func (r *productRepo) LockForCheckout(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error) {
	out := make(map[uuid.UUID]domain.Product, len(ids))
	for _, id := range ids {
		p, err := scanProduct(tx.QueryRowContext(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lock product %s: %w", id, err)
		}
		out[id] = *p
	}
	return out, nil
}

func (r *productRepo) Create(ctx context.Context, tx *sql.Tx, p *domain.Product) error {
	_, err := on(r.db, tx).ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.ImageURL, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepo) Update(ctx context.Context, tx *sql.Tx, p *domain.Product) error {
	res, err := on(r.db, tx).ExecContext(ctx,
		`UPDATE products
		    SET name = $2, description = $3, price = $4, stock = $5, image_url = $6, updated_at = $7
		  WHERE id = $1 AND deleted_at IS NULL`,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.ImageURL, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// Delete hides the product from the catalog. Order lines keep their snapshot.
func (r *productRepo) Delete(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := on(r.db, tx).ExecContext(ctx,
		`UPDATE products SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *productRepo) Ledger(tx *sql.Tx) *StockLedger {
	return &StockLedger{tx: tx}
}

// StockLedger applies stock deltas inside one transaction. A delta that would
// drive a product negative fails the whole batch with ErrStockUnavailable.
type StockLedger struct {
	tx *sql.Tx
}

func (l *StockLedger) Apply(ctx context.Context, deltas []domain.StockDelta) error {
	for _, d := range deltas {
		// the stock >= 0 CHECK constraint is the guard
		res, err := l.tx.ExecContext(ctx,
			`UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`,
			d.ProductID, d.Delta,
		)
		if database.IsCheckViolation(err) {
			return domain.ErrStockUnavailable.Withf("insufficient stock for product %s", d.ProductID)
		}
		if err != nil {
			return fmt.Errorf("apply stock delta for %s: %w", d.ProductID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrProductNotFound.Withf("product %s not found", d.ProductID)
		}
	}
	return nil
}
