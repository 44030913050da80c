// Package backend provides storefront.Backend implementations: an in-process
// store for demos and tests, and an HTTP client for the API server.
package backend

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"mini-oms/internal/domain"
	"mini-oms/internal/lifecycle"
	"mini-oms/internal/storefront"
)

// Memory is an in-process order backend. Every call holds one lock for its
// whole transition, so each transition is atomic. Idempotency keys are
// remembered for the life of the process.
type Memory struct {
	engine *lifecycle.Engine

	mu       sync.RWMutex
	products map[uuid.UUID]domain.Product
	orders   map[uuid.UUID]*domain.Order
	payments map[uuid.UUID]*domain.Payment
	keys     map[string]uuid.UUID
	events   []domain.Event
}

var _ storefront.Backend = (*Memory)(nil)

func NewMemory(engine *lifecycle.Engine, products ...domain.Product) *Memory {
	if engine == nil {
		engine = lifecycle.New()
	}
	m := &Memory{
		engine:   engine,
		products: make(map[uuid.UUID]domain.Product, len(products)),
		orders:   make(map[uuid.UUID]*domain.Order),
		payments: make(map[uuid.UUID]*domain.Payment),
		keys:     make(map[string]uuid.UUID),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func keyFor(op string, actor domain.Actor, key string) string {
	return op + "|" + actor.ID.String() + "|" + key
}

func actorOf(sess storefront.Session) (domain.Actor, error) {
	if sess == nil {
		return domain.Actor{}, domain.ErrUnauthenticated
	}
	a, ok := sess.CurrentUser()
	if !ok {
		return domain.Actor{}, domain.ErrUnauthenticated
	}
	return a, nil
}

// ledger applies stock deltas to m.products. The caller holds m.mu.
type ledger struct{ m *Memory }

func (l ledger) Apply(_ context.Context, deltas []domain.StockDelta) error {
	next := make(map[uuid.UUID]int, len(deltas))
	for _, d := range deltas {
		p, ok := l.m.products[d.ProductID]
		if !ok {
			return domain.ErrProductNotFound.Withf("product %s not found", d.ProductID)
		}
		stock, seen := next[d.ProductID]
		if !seen {
			stock = p.Stock
		}
		stock += d.Delta
		if stock < 0 {
			return domain.ErrStockUnavailable.Withf("insufficient stock for product %s", p.Name)
		}
		next[d.ProductID] = stock
	}
	for id, stock := range next {
		p := l.m.products[id]
		p.Stock = stock
		l.m.products[id] = p
	}
	return nil
}

// Stock returns the current stock of a product, for inspection.
func (m *Memory) Stock(productID uuid.UUID) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[productID]
	return p.Stock, ok
}

// Events returns every event emitted so far, oldest first.
func (m *Memory) Events() []domain.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

// currentPayment prefers the active payment, then the newest rejected one.
func (m *Memory) currentPayment(orderID uuid.UUID) *domain.Payment {
	var cur *domain.Payment
	for _, p := range m.payments {
		if p.OrderID != orderID {
			continue
		}
		switch {
		case cur == nil:
			cur = p
		case p.IsActive() && !cur.IsActive():
			cur = p
		case p.IsActive() == cur.IsActive() && p.CreatedAt.After(cur.CreatedAt):
			cur = p
		}
	}
	return cur
}

// snapshot returns a detached copy of the order with its current payment.
func (m *Memory) snapshot(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = slices.Clone(o.Lines)
	cp.Payment = nil
	if p := m.currentPayment(o.ID); p != nil {
		pc := *p
		cp.Payment = &pc
	}
	return &cp
}

func (m *Memory) order(id uuid.UUID) (*domain.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound.Withf("order %s not found", id)
	}
	return m.snapshot(o), nil
}

// commit stores the mutated copies produced by a transition.
func (m *Memory) commit(o *domain.Order, fx lifecycle.Effects) {
	if fx.OrderChanged {
		stored := *o
		stored.Payment = nil
		m.orders[o.ID] = &stored
	}
	if fx.PaymentChanged && o.Payment != nil {
		p := *o.Payment
		m.payments[p.ID] = &p
	}
	m.events = append(m.events, fx.Events...)
}

func (m *Memory) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrTransport.Wrap(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out, nil
}

const (
	opCreateOrder   = "create_order"
	opCreatePayment = "create_payment"
)

func (m *Memory) CreateOrder(ctx context.Context, sess storefront.Session, req domain.CheckoutRequest) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrTransport.Wrap(err)
	}
	actor, err := actorOf(sess)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyFor(opCreateOrder, actor, req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		if id, ok := m.keys[key]; ok {
			return m.order(id)
		}
	}

	catalog := make(map[uuid.UUID]domain.Product)
	for _, id := range lifecycle.ProductIDs(req) {
		if p, ok := m.products[id]; ok {
			catalog[id] = p
		}
	}
	o, fx, err := m.engine.PlaceOrder(actor, req, catalog)
	if err != nil {
		return nil, err
	}
	if err := (ledger{m}).Apply(ctx, fx.Stock); err != nil {
		return nil, err
	}
	m.commit(o, fx)
	if req.IdempotencyKey != "" {
		m.keys[key] = o.ID
	}
	return m.snapshot(o), nil
}

func (m *Memory) CancelOrder(ctx context.Context, sess storefront.Session, orderID uuid.UUID) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrTransport.Wrap(err)
	}
	actor, err := actorOf(sess)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.order(orderID)
	if err != nil {
		return nil, err
	}
	fx, err := m.engine.Cancel(actor, o)
	if err != nil {
		return nil, err
	}
	if err := (ledger{m}).Apply(ctx, fx.Stock); err != nil {
		return nil, err
	}
	m.commit(o, fx)
	return m.snapshot(m.orders[orderID]), nil
}

func (m *Memory) CompleteOrder(ctx context.Context, sess storefront.Session, orderID uuid.UUID) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrTransport.Wrap(err)
	}
	actor, err := actorOf(sess)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.order(orderID)
	if err != nil {
		return nil, err
	}
	fx, err := m.engine.Complete(actor, o)
	if err != nil {
		return nil, err
	}
	m.commit(o, fx)
	return m.snapshot(m.orders[orderID]), nil
}

func (m *Memory) CreatePayment(ctx context.Context, sess storefront.Session, req domain.PaymentRequest) (*domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrTransport.Wrap(err)
	}
	actor, err := actorOf(sess)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyFor(opCreatePayment, actor, req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		if id, ok := m.keys[key]; ok {
			p := *m.payments[id]
			return &p, nil
		}
	}

	o, err := m.order(req.OrderID)
	if err != nil {
		return nil, err
	}
	p, fx, err := m.engine.CreatePayment(actor, o, req)
	if err != nil {
		return nil, err
	}
	m.commit(o, fx)
	if req.IdempotencyKey != "" {
		m.keys[key] = p.ID
	}
	out := *p
	return &out, nil
}

type decision func(actor domain.Actor, p *domain.Payment, o *domain.Order) (lifecycle.Effects, error)

func (m *Memory) decide(ctx context.Context, sess storefront.Session, paymentID uuid.UUID, run decision) (*domain.Payment, *domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, domain.ErrTransport.Wrap(err)
	}
	actor, err := actorOf(sess)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.payments[paymentID]
	if !ok {
		return nil, nil, domain.ErrPaymentNotFound.Withf("payment %s not found", paymentID)
	}
	o, err := m.order(stored.OrderID)
	if err != nil {
		return nil, nil, err
	}
	p := *stored
	o.Payment = &p
	fx, err := run(actor, &p, o)
	if err != nil {
		return nil, nil, err
	}
	m.commit(o, fx)
	out := *m.payments[paymentID]
	return &out, m.snapshot(m.orders[o.ID]), nil
}

func (m *Memory) VerifyPayment(ctx context.Context, sess storefront.Session, paymentID uuid.UUID) (*domain.Payment, *domain.Order, error) {
	return m.decide(ctx, sess, paymentID, m.engine.VerifyPayment)
}

func (m *Memory) RejectPayment(ctx context.Context, sess storefront.Session, paymentID uuid.UUID, reason string) (*domain.Payment, *domain.Order, error) {
	return m.decide(ctx, sess, paymentID, func(actor domain.Actor, p *domain.Payment, o *domain.Order) (lifecycle.Effects, error) {
		return m.engine.RejectPayment(actor, p, o, reason)
	})
}

func (m *Memory) GetOrder(ctx context.Context, sess storefront.Session, orderID uuid.UUID) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrTransport.Wrap(err)
	}
	actor, err := actorOf(sess)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	o, err := m.order(orderID)
	if err != nil {
		return nil, err
	}
	if err := m.engine.AuthorizeRead(actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrders returns the caller's orders, or all orders for an administrator,
// newest first.
func (m *Memory) GetOrders(ctx context.Context, sess storefront.Session) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrTransport.Wrap(err)
	}
	actor, err := actorOf(sess)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Order, 0)
	for _, o := range m.orders {
		if actor.IsAdmin() || actor.Owns(o.UserID) {
			out = append(out, *m.snapshot(o))
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (m *Memory) GetOrderStats(ctx context.Context, sess storefront.Session) (domain.OrderStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderStats{}, domain.ErrTransport.Wrap(err)
	}
	actor, err := actorOf(sess)
	if err != nil {
		return domain.OrderStats{}, err
	}
	if !actor.IsAdmin() {
		return domain.OrderStats{}, domain.ErrForbidden
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var s domain.OrderStats
	for _, o := range m.orders {
		s.TotalOrders++
		if o.Status != domain.OrderCanceled {
			s.TotalRevenue += o.Total
		}
	}
	for _, p := range m.payments {
		if p.Status == domain.PaymentPending {
			s.PendingPayments++
		}
	}
	return s, nil
}

func (m *Memory) PaymentForOrder(ctx context.Context, sess storefront.Session, orderID uuid.UUID) (*domain.Payment, error) {
	o, err := m.GetOrder(ctx, sess, orderID)
	if err != nil {
		return nil, err
	}
	if o.Payment == nil {
		return nil, domain.ErrPaymentNotFound.Withf("order %s has no payment", o.OrderNumber)
	}
	return o.Payment, nil
}
