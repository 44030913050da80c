package worker

import (
	"context"
	"log/slog"
	"time"

	"mini-oms/internal/logging"
	"mini-oms/internal/metrics"
	"mini-oms/internal/repo"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// LogPublisher stands in for a broker when none is configured.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.Log.Info("event", "topic", topic, "key", key, "payload", string(payload))
	return nil
}

// OutboxRelay periodically publishes pending outbox rows and marks them sent.
// Delivery is at least once: a row is marked only after Publish succeeds.
type OutboxRelay struct {
	outbox    repo.OutboxRepo
	publisher Publisher
	interval  time.Duration
	batch     int
	log       *slog.Logger
}

func NewOutboxRelay(outbox repo.OutboxRepo, publisher Publisher, interval time.Duration, batch int) *OutboxRelay {
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
		log:       logging.New("outbox-relay"),
	}
}

func (w *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("outbox relay started", "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Process(ctx); err != nil {
				w.log.Error("outbox relay failed", "error", err)
			}
		}
	}
}

// Process publishes one batch and returns how many rows were sent. It stops
// at the first publish failure so later events of the same order wait.
func (w *OutboxRelay) Process(ctx context.Context) (int, error) {
	pending, err := w.outbox.FetchPending(ctx, w.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rec := range pending {
		err := w.publisher.Publish(ctx, rec.Topic, rec.Key, rec.Payload)
		metrics.Published(rec.Topic, err)
		if err != nil {
			w.log.Warn("publish failed, retrying next tick", "event_id", rec.EventID, "topic", rec.Topic, "error", err)
			return sent, nil
		}
		if err := w.outbox.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		w.log.Debug("outbox events published", "count", sent)
	}
	return sent, nil
}
