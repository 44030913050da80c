package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mini-oms/internal/database"
	"mini-oms/internal/domain"
	"mini-oms/internal/logging"
	"mini-oms/internal/metrics"
	"mini-oms/internal/repo"
)

// IdempotencyCache is the optional fast path in front of the idempotency table.
type IdempotencyCache interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Unlock(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

// Stores bundles the repositories the services write through.
type Stores struct {
	Users    repo.UserRepo
	Products repo.ProductRepo
	Orders   repo.OrderRepo
	Payments repo.PaymentRepo
	Keys     repo.IdempotencyRepo
	Audit    repo.AuditRepo
	Outbox   repo.OutboxRepo
}

func NewStores(db *sql.DB) Stores {
	return Stores{
		Users:    repo.NewUserRepo(db),
		Products: repo.NewProductRepo(db),
		Orders:   repo.NewOrderRepo(db),
		Payments: repo.NewPaymentRepo(db),
		Keys:     repo.NewIdempotencyRepo(db),
		Audit:    repo.NewAuditRepo(db),
		Outbox:   repo.NewOutboxRepo(db),
	}
}

// record writes the audit row and the outbox event for every event, inside tx.
func (s Stores) record(ctx context.Context, tx *sql.Tx, events []domain.Event) error {
	for _, ev := range events {
		if err := s.Audit.Record(ctx, tx, ev); err != nil {
			return err
		}
		if err := s.Outbox.Insert(ctx, tx, ev); err != nil {
			return err
		}
	}
	return nil
}

const lockWait = 5 * time.Second

// keyed runs create at most once per (operation, actor, key) and replays the
// stored resource for repeats. create must claim nothing itself; keyed inserts
// the key row in the same transaction.
type keyed struct {
	db    *sql.DB
	keys  repo.IdempotencyRepo
	cache IdempotencyCache
	log   *slog.Logger
}

func (k *keyed) do(
	ctx context.Context,
	op string,
	actor domain.Actor,
	key string,
	replay func(ctx context.Context, id uuid.UUID) error,
	create func(tx *sql.Tx) (uuid.UUID, error),
) error {
	if key == "" {
		return database.InTx(ctx, k.db, func(tx *sql.Tx) error {
			_, err := create(tx)
			return err
		})
	}
	scope := op + ":" + actor.ID.String()

	if id, ok := k.lookup(ctx, op, scope, actor, key); ok {
		return replay(ctx, id)
	}

	if k.cache != nil {
		deadline := time.Now().Add(lockWait)
		for {
			locked, err := k.cache.TryLock(ctx, scope, key)
			if err != nil {
				k.log.Warn("idempotency lock unavailable", "op", op, "error", err)
				break
			}
			if locked {
				defer func() {
					if err := k.cache.Unlock(context.WithoutCancel(ctx), scope, key); err != nil {
						k.log.Warn("idempotency unlock failed", "op", op, "error", err)
					}
				}()
				break
			}
			if id, ok := k.lookup(ctx, op, scope, actor, key); ok {
				return replay(ctx, id)
			}
			if time.Now().After(deadline) {
				return domain.ErrRequestInProgress
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

	var created uuid.UUID
	err := database.InTx(ctx, k.db, func(tx *sql.Tx) error {
		id, err := create(tx)
		if err != nil {
			return err
		}
		if err := k.keys.Insert(ctx, tx, op, actor.ID, key, id); err != nil {
			return err
		}
		created = id
		return nil
	})
	if errors.Is(err, repo.ErrDuplicateKey) {
		// lost the race to a concurrent request with the same key
		if id, ok := k.lookup(ctx, op, scope, actor, key); ok {
			return replay(ctx, id)
		}
	}
	if err != nil {
		return err
	}
	k.remember(ctx, op, scope, key, created)
	return nil
}

func (k *keyed) lookup(ctx context.Context, op, scope string, actor domain.Actor, key string) (uuid.UUID, bool) {
	if k.cache != nil {
		v, ok, err := k.cache.Recall(ctx, scope, key)
		if err != nil {
			k.log.Warn("idempotency cache recall failed", "op", op, "error", err)
		} else if ok {
			if id, err := uuid.Parse(v); err == nil {
				metrics.Replay(op, "cache")
				return id, true
			}
		}
	}
	id, ok, err := k.keys.Lookup(ctx, op, actor.ID, key)
	if err != nil {
		k.log.Warn("idempotency lookup failed", "op", op, "error", err)
		return uuid.Nil, false
	}
	if ok {
		metrics.Replay(op, "db")
		k.remember(ctx, op, scope, key, id)
	}
	return id, ok
}

func (k *keyed) remember(ctx context.Context, op, scope, key string, id uuid.UUID) {
	if k.cache == nil {
		return
	}
	if err := k.cache.Remember(ctx, scope, key, id.String()); err != nil {
		k.log.Warn("idempotency cache remember failed", "op", op, "error", err)
	}
}

func newKeyed(db *sql.DB, keys repo.IdempotencyRepo, cache IdempotencyCache) *keyed {
	return &keyed{db: db, keys: keys, cache: cache, log: logging.New("idempotency")}
}
