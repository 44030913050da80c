package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type SeedProduct struct {
	Name        string
	Description string
	Price       int64
	Stock       int
	ImageURL    string
}

// DemoProducts is the starter catalog.
var DemoProducts = []SeedProduct{
	{Name: "Laptop Pro 14", Description: "14-inch laptop, 16GB RAM, 512GB SSD", Price: 15_000_000, Stock: 10, ImageURL: "https://picsum.photos/seed/laptop/400"},
	{Name: "Wireless Mouse", Description: "Ergonomic 2.4GHz mouse", Price: 250_000, Stock: 50, ImageURL: "https://picsum.photos/seed/mouse/400"},
	{Name: "Mechanical Keyboard", Description: "Hot-swappable, brown switches", Price: 1_200_000, Stock: 25, ImageURL: "https://picsum.photos/seed/keyboard/400"},
}

type SeedOptions struct {
	AdminEmail    string
	AdminPassword string
	Products      []SeedProduct
}

// Seed creates the administrator and the demo catalog when the tables are
// empty. Running it twice changes nothing.
func Seed(ctx context.Context, db *sql.DB, opts SeedOptions) error {
	return InTx(ctx, db, func(tx *sql.Tx) error {
		var admins int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE role = 'admin'`).Scan(&admins); err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if admins == 0 && opts.AdminEmail != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(opts.AdminPassword), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash admin password: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO users (id, name, email, password_hash, role) VALUES ($1, $2, $3, $4, 'admin')`,
				uuid.New(), "Administrator", opts.AdminEmail, string(hash),
			)
			if err != nil {
				return fmt.Errorf("insert admin: %w", err)
			}
		}

		var products int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM products`).Scan(&products); err != nil {
			return fmt.Errorf("count products: %w", err)
		}
		if products > 0 {
			return nil
		}
		for _, p := range opts.Products {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO products (id, name, description, price, stock, image_url) VALUES ($1, $2, $3, $4, $5, $6)`,
				uuid.New(), p.Name, p.Description, p.Price, p.Stock, p.ImageURL,
			)
			if err != nil {
				return fmt.Errorf("insert product %q: %w", p.Name, err)
			}
		}
		return nil
	})
}
