package repo

import (
	"context"
	"database/sql"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// on returns tx when set, db otherwise.
func on(db *sql.DB, tx *sql.Tx) querier {
	if tx == nil {
		return db
	}
	return tx
}

type rowScanner interface {
	Scan(dest ...any) error
}
