package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-oms/internal/domain"
	"mini-oms/internal/repo"
)

type memOutbox struct {
	mu      sync.Mutex
	rows    []repo.OutboxRecord
	sent    []int64
	markErr error
}

func (m *memOutbox) Insert(context.Context, *sql.Tx, domain.Event) error { return nil }

func (m *memOutbox) FetchPending(_ context.Context, limit int) ([]repo.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repo.OutboxRecord
	for _, r := range m.rows {
		if r.SentAt == nil && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memOutbox) MarkSent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	now := time.Now()
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].SentAt = &now
		}
	}
	m.sent = append(m.sent, id)
	return nil
}

type recordingPublisher struct {
	topics []string
	failOn string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, _ string, _ []byte) error {
	if topic == p.failOn {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, topic)
	return nil
}

func pending(topics ...string) *memOutbox {
	m := &memOutbox{}
	for i, t := range topics {
		m.rows = append(m.rows, repo.OutboxRecord{ID: int64(i + 1), Topic: t, Key: "k", Payload: json.RawMessage(`{}`)})
	}
	return m
}

func TestOutboxRelay_PublishesInOrder(t *testing.T) {
	outbox := pending(domain.TopicOrderCreated, domain.TopicPaymentCreated, domain.TopicPaymentVerified)
	pub := &recordingPublisher{}
	relay := NewOutboxRelay(outbox, pub, time.Second, 2)

	n, err := relay.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = relay.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{domain.TopicOrderCreated, domain.TopicPaymentCreated, domain.TopicPaymentVerified}, pub.topics)
	assert.Equal(t, []int64{1, 2, 3}, outbox.sent)

	n, err = relay.Process(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelay_StopsAtPublishFailure(t *testing.T) {
	outbox := pending(domain.TopicOrderCreated, domain.TopicOrderCanceled, domain.TopicPaymentRejected)
	pub := &recordingPublisher{failOn: domain.TopicOrderCanceled}
	relay := NewOutboxRelay(outbox, pub, time.Second, 10)

	n, err := relay.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, outbox.sent)

	pub.failOn = ""
	n, err = relay.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2, 3}, outbox.sent)
}

func TestOutboxRelay_MarkFailure(t *testing.T) {
	outbox := pending(domain.TopicOrderCreated)
	outbox.markErr = errors.New("db down")
	relay := NewOutboxRelay(outbox, &recordingPublisher{}, time.Second, 10)

	_, err := relay.Process(context.Background())
	assert.Error(t, err)
}

func TestOutboxRelay_RunStopsOnCancel(t *testing.T) {
	outbox := pending(domain.TopicOrderCreated)
	relay := NewOutboxRelay(outbox, &recordingPublisher{}, 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		rows, _ := outbox.FetchPending(context.Background(), 10)
		return len(rows) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
