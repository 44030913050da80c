package worker

import (
	"context"
	"log/slog"
	"time"

	"mini-oms/internal/logging"
)

type KeySweeper interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// IdempotencySweeper drops idempotency keys older than ttl. A repeat of a
// swept key creates a new resource.
type IdempotencySweeper struct {
	keys     KeySweeper
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewIdempotencySweeper(keys KeySweeper, ttl, interval time.Duration) *IdempotencySweeper {
	return &IdempotencySweeper{
		keys:     keys,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		log:      logging.New("idempotency-sweeper"),
	}
}

func (w *IdempotencySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.log.Error("idempotency sweep failed", "error", err)
			}
		}
	}
}

func (w *IdempotencySweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := w.keys.DeleteBefore(ctx, w.now().Add(-w.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.log.Info("expired idempotency keys removed", "count", n)
	}
	return n, nil
}
