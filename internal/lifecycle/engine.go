// Package lifecycle holds the order/payment state machine. It is pure: callers
// load the aggregate, ask the engine for a transition, then persist the
// mutated entities and apply the returned Effects in one atomic step.
//
// The storefront client runs the same checks to decide what the UI may offer,
// and the backends run them again to enforce the rules.
package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"mini-oms/internal/domain"
)

// StockLedger is the authoritative per-product stock counter. Apply must be
// all-or-nothing and must fail with domain.ErrStockUnavailable rather than
// let any product go negative.
type StockLedger interface {
	Apply(ctx context.Context, deltas []domain.StockDelta) error
}

// Effects are the side effects a transition requires besides the entity writes.
type Effects struct {
	Stock          []domain.StockDelta
	OrderChanged   bool
	PaymentChanged bool
	Events         []domain.Event
}

// Noop reports whether the transition left everything unchanged.
func (e Effects) Noop() bool {
	return !e.OrderChanged && !e.PaymentChanged && len(e.Stock) == 0
}

type Engine struct {
	now func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) event(topic string, actor domain.Actor, o *domain.Order, p *domain.Payment) domain.Event {
	ev := domain.Event{
		ID:         uuid.New(),
		Topic:      topic,
		Key:        o.ID,
		ActorID:    actor.ID,
		OrderID:    o.ID,
		Status:     string(o.Status),
		OccurredAt: e.now().UTC(),
	}
	if p != nil {
		ev.PaymentID = p.ID
		ev.Status = string(p.Status)
	}
	return ev
}

func authenticated(actor domain.Actor) error {
	if actor.IsAnonymous() {
		return domain.ErrUnauthenticated
	}
	return nil
}

func ownerOrAdmin(actor domain.Actor, ownerID uuid.UUID) error {
	if err := authenticated(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() && !actor.Owns(ownerID) {
		return domain.ErrForbidden
	}
	return nil
}

func adminOnly(actor domain.Actor) error {
	if err := authenticated(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}

// AuthorizeRead allows the order's owner and administrators.
func (e *Engine) AuthorizeRead(actor domain.Actor, o *domain.Order) error {
	return ownerOrAdmin(actor, o.UserID)
}

// ProductIDs returns the distinct product ids of req in ascending order, the
// order in which a backend should lock them.
func ProductIDs(req domain.CheckoutRequest) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(req.Lines))
	for _, l := range req.Lines {
		ids = append(ids, l.ProductID)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return slices.Compact(ids)
}

// PlaceOrder prices req against catalog, the current product snapshots, and
// returns a created order plus the stock reservation to apply.
func (e *Engine) PlaceOrder(actor domain.Actor, req domain.CheckoutRequest, catalog map[uuid.UUID]domain.Product) (*domain.Order, Effects, error) {
	if err := authenticated(actor); err != nil {
		return nil, Effects{}, err
	}
	lines, err := req.Consolidate()
	if err != nil {
		return nil, Effects{}, err
	}

	order := &domain.Order{
		ID:     uuid.New(),
		UserID: actor.ID,
		Status: domain.OrderCreated,
		Notes:  req.Notes,
		Lines:  make([]domain.OrderLine, 0, len(lines)),
	}
	var fx Effects
	priced := make([]domain.PricedLine, 0, len(lines))
	for _, l := range lines {
		p, ok := catalog[l.ProductID]
		if !ok {
			return nil, Effects{}, domain.ErrProductNotFound.Withf("product %s not found", l.ProductID)
		}
		if !p.IsInStock(l.Quantity) {
			return nil, Effects{}, domain.ErrStockUnavailable.Withf("insufficient stock for product %s: requested %d, available %d", p.Name, l.Quantity, p.Stock)
		}
		line, err := domain.NewOrderLine(p, l.Quantity)
		if err != nil {
			return nil, Effects{}, err
		}
		order.Lines = append(order.Lines, line)
		priced = append(priced, domain.PricedLine{UnitPrice: p.Price, Quantity: l.Quantity})
		fx.Stock = append(fx.Stock, domain.StockDelta{ProductID: p.ID, Delta: -l.Quantity})
	}
	if order.Total, err = domain.PriceLines(priced); err != nil {
		return nil, Effects{}, err
	}

	now := e.now()
	order.CreatedAt, order.UpdatedAt = now, now
	order.OrderNumber = domain.NewOrderNumber(now)
	fx.OrderChanged = true
	fx.Events = append(fx.Events, e.event(domain.TopicOrderCreated, actor, order, nil))
	return order, fx, nil
}

func (e *Engine) checkCancel(actor domain.Actor, o *domain.Order) error {
	if err := ownerOrAdmin(actor, o.UserID); err != nil {
		return err
	}
	switch o.Status {
	case domain.OrderCreated:
	case domain.OrderCanceled:
		return domain.ErrInvalidTransition.Withf("order %s is already canceled", o.OrderNumber)
	default:
		return domain.ErrInvalidTransition.Withf("cannot cancel order %s in status %s", o.OrderNumber, o.Status)
	}
	if o.Payment != nil && o.Payment.Status == domain.PaymentVerified {
		return domain.ErrInvalidTransition.Withf("order %s has a verified payment", o.OrderNumber)
	}
	return nil
}

// Cancel moves a created order to canceled and restores its stock. A pending
// payment on the order is rejected in the same transition.
func (e *Engine) Cancel(actor domain.Actor, o *domain.Order) (Effects, error) {
	if err := e.checkCancel(actor, o); err != nil {
		return Effects{}, err
	}
	now := e.now()
	o.Status = domain.OrderCanceled
	o.UpdatedAt = now
	fx := Effects{
		Stock:        o.RestockDeltas(),
		OrderChanged: true,
		Events:       []domain.Event{e.event(domain.TopicOrderCanceled, actor, o, nil)},
	}
	if p := o.Payment; p != nil && !p.Status.IsTerminal() {
		p.Status = domain.PaymentRejected
		p.Notes = "order canceled"
		p.UpdatedAt = now
		fx.PaymentChanged = true
		fx.Events = append(fx.Events, e.event(domain.TopicPaymentRejected, actor, o, p))
	}
	return fx, nil
}

func (e *Engine) checkCreatePayment(actor domain.Actor, o *domain.Order) error {
	if err := ownerOrAdmin(actor, o.UserID); err != nil {
		return err
	}
	if o.Status == domain.OrderCanceled {
		return domain.ErrOrderCanceled.Withf("order %s is canceled", o.OrderNumber)
	}
	if o.Payment.IsActive() {
		return domain.ErrPaymentAlreadyExists.Withf("order %s already has payment %s (%s)", o.OrderNumber, o.Payment.PaymentNumber, o.Payment.Status)
	}
	if o.Status != domain.OrderCreated {
		return domain.ErrInvalidTransition.Withf("order %s is %s", o.OrderNumber, o.Status)
	}
	return nil
}

// CreatePayment attaches a pending payment for the full order total to o.
// o.Payment must hold the order's current payment, if any.
func (e *Engine) CreatePayment(actor domain.Actor, o *domain.Order, req domain.PaymentRequest) (*domain.Payment, Effects, error) {
	if err := e.checkCreatePayment(actor, o); err != nil {
		return nil, Effects{}, err
	}
	method, err := domain.ParsePaymentMethod(req.Method)
	if err != nil {
		return nil, Effects{}, err
	}
	proof := req.ProofRef
	if proof == "" {
		proof = domain.NoProof
	}
	now := e.now()
	p := &domain.Payment{
		ID:            uuid.New(),
		PaymentNumber: domain.NewPaymentNumber(now),
		OrderID:       o.ID,
		Method:        method,
		ProofRef:      proof,
		Amount:        o.Total,
		Status:        domain.PaymentPending,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.Payment = p
	return p, Effects{
		PaymentChanged: true,
		Events:         []domain.Event{e.event(domain.TopicPaymentCreated, actor, o, p)},
	}, nil
}

func samePayment(p *domain.Payment, o *domain.Order) error {
	if p.OrderID != o.ID {
		return fmt.Errorf("payment %s belongs to order %s, not %s", p.ID, p.OrderID, o.ID)
	}
	return nil
}

func (e *Engine) checkVerify(actor domain.Actor, p *domain.Payment, o *domain.Order) (noop bool, err error) {
	if err := adminOnly(actor); err != nil {
		return false, err
	}
	if err := samePayment(p, o); err != nil {
		return false, err
	}
	switch p.Status {
	case domain.PaymentVerified:
		return true, nil
	case domain.PaymentRejected:
		return false, domain.ErrInvalidTransition.Withf("payment %s was rejected", p.PaymentNumber)
	}
	if o.Status != domain.OrderCreated {
		return false, domain.ErrInvalidTransition.Withf("order %s is %s", o.OrderNumber, o.Status)
	}
	return false, nil
}

// VerifyPayment marks a pending payment verified and advances its order to
// processing. Verifying an already verified payment changes nothing.
func (e *Engine) VerifyPayment(actor domain.Actor, p *domain.Payment, o *domain.Order) (Effects, error) {
	noop, err := e.checkVerify(actor, p, o)
	if err != nil || noop {
		return Effects{}, err
	}
	now := e.now()
	verifier := actor.ID
	p.Status = domain.PaymentVerified
	p.VerifiedBy = &verifier
	p.VerifiedAt = &now
	p.UpdatedAt = now
	o.Status = domain.OrderProcessing
	o.UpdatedAt = now
	o.Payment = p
	return Effects{
		OrderChanged:   true,
		PaymentChanged: true,
		Events:         []domain.Event{e.event(domain.TopicPaymentVerified, actor, o, p)},
	}, nil
}

func (e *Engine) checkReject(actor domain.Actor, p *domain.Payment, o *domain.Order) (noop bool, err error) {
	if err := adminOnly(actor); err != nil {
		return false, err
	}
	if err := samePayment(p, o); err != nil {
		return false, err
	}
	switch p.Status {
	case domain.PaymentRejected:
		return true, nil
	case domain.PaymentVerified:
		return false, domain.ErrInvalidTransition.Withf("payment %s was verified", p.PaymentNumber)
	}
	return false, nil
}

// RejectPayment marks a pending payment rejected. The order keeps its status
// and may take a new payment.
func (e *Engine) RejectPayment(actor domain.Actor, p *domain.Payment, o *domain.Order, reason string) (Effects, error) {
	noop, err := e.checkReject(actor, p, o)
	if err != nil || noop {
		return Effects{}, err
	}
	now := e.now()
	verifier := actor.ID
	p.Status = domain.PaymentRejected
	p.VerifiedBy = &verifier
	p.VerifiedAt = &now
	p.UpdatedAt = now
	if reason != "" {
		p.Notes = reason
	}
	o.Payment = p
	return Effects{
		PaymentChanged: true,
		Events:         []domain.Event{e.event(domain.TopicPaymentRejected, actor, o, p)},
	}, nil
}

func (e *Engine) checkComplete(actor domain.Actor, o *domain.Order) (noop bool, err error) {
	if err := adminOnly(actor); err != nil {
		return false, err
	}
	switch o.Status {
	case domain.OrderProcessing, domain.OrderPaid:
		return false, nil
	case domain.OrderCompleted:
		return true, nil
	}
	return false, domain.ErrInvalidTransition.Withf("cannot complete order %s in status %s", o.OrderNumber, o.Status)
}

// Complete marks a paid order fulfilled.
func (e *Engine) Complete(actor domain.Actor, o *domain.Order) (Effects, error) {
	noop, err := e.checkComplete(actor, o)
	if err != nil || noop {
		return Effects{}, err
	}
	o.Status = domain.OrderCompleted
	o.UpdatedAt = e.now()
	return Effects{
		OrderChanged: true,
		Events:       []domain.Event{e.event(domain.TopicOrderCompleted, actor, o, nil)},
	}, nil
}

// Actions lists the transitions an actor may start on an order.
type Actions struct {
	Cancel   bool `json:"cancel"`
	Pay      bool `json:"pay"`
	Verify   bool `json:"verify"`
	Reject   bool `json:"reject"`
	Complete bool `json:"complete"`
}

// Allowed evaluates every transition guard without mutating o. Verify and
// Reject are only offered for a pending payment.
func (e *Engine) Allowed(actor domain.Actor, o *domain.Order) Actions {
	var a Actions
	a.Cancel = e.checkCancel(actor, o) == nil
	a.Pay = e.checkCreatePayment(actor, o) == nil
	if p := o.Payment; p != nil && !p.Status.IsTerminal() {
		noop, err := e.checkVerify(actor, p, o)
		a.Verify = err == nil && !noop
		noop, err = e.checkReject(actor, p, o)
		a.Reject = err == nil && !noop
	}
	noop, err := e.checkComplete(actor, o)
	a.Complete = err == nil && !noop
	return a
}
