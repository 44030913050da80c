package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mini-oms/internal/database"
)

// ErrDuplicateKey means another request already claimed the idempotency key.
var ErrDuplicateKey = errors.New("duplicate idempotency key")

// IdempotencyRepo remembers which resource a keyed request produced. Keys are
// scoped per operation and per actor.
type IdempotencyRepo interface {
	Lookup(ctx context.Context, scope string, actorID uuid.UUID, key string) (uuid.UUID, bool, error)
	// Insert claims the key inside tx. It fails with ErrDuplicateKey when the
	// key was committed by another transaction first.
	Insert(ctx context.Context, tx *sql.Tx, scope string, actorID uuid.UUID, key string, resourceID uuid.UUID) error
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type idempotencyRepo struct {
	db *sql.DB
}

func NewIdempotencyRepo(db *sql.DB) IdempotencyRepo {
	return &idempotencyRepo{db: db}
}

func (r *idempotencyRepo) Lookup(ctx context.Context, scope string, actorID uuid.UUID, key string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx,
		`SELECT resource_id FROM idempotency_keys WHERE scope = $1 AND actor_id = $2 AND key = $3`,
		scope, actorID, key,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return id, true, nil
}

func (r *idempotencyRepo) Insert(ctx context.Context, tx *sql.Tx, scope string, actorID uuid.UUID, key string, resourceID uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO idempotency_keys (scope, actor_id, key, resource_id) VALUES ($1, $2, $3, $4)`,
		scope, actorID, key, resourceID,
	)
	if database.IsUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	return nil
}

func (r *idempotencyRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("sweep idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
