// Package storefront is the client core: a local cart plus lifecycle-gated
// calls to the order backend.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"mini-oms/internal/domain"
	"mini-oms/internal/lifecycle"
	"mini-oms/internal/logging"
)

// ErrOutcomeUnknown means a mutating request may or may not have been applied.
// The caller should refresh before trying again.
var ErrOutcomeUnknown = errors.New("couldn't complete the request, check its status before retrying")

type Client struct {
	backend Backend
	engine  *lifecycle.Engine
	log     *slog.Logger
	newKey  func() string
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithEngine(e *lifecycle.Engine) Option {
	return func(c *Client) { c.engine = e }
}

// WithKeyGenerator overrides how idempotency keys are generated.
func WithKeyGenerator(f func() string) Option {
	return func(c *Client) { c.newKey = f }
}

func New(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		engine:  lifecycle.New(),
		newKey:  uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = logging.New("storefront")
	}
	return c
}

func actorOf(sess Session) (domain.Actor, error) {
	if sess == nil {
		return domain.Actor{}, domain.ErrUnauthenticated
	}
	a, ok := sess.CurrentUser()
	if !ok {
		return domain.Actor{}, domain.ErrUnauthenticated
	}
	return a, nil
}

// send runs a mutating call. A transport failure is retried once when the
// request carries an idempotency key, because the backend recognizes the
// repeat. Without a key the outcome is reported as unknown.
func (c *Client) send(ctx context.Context, op, key string, call func() error) error {
	err := call()
	if err == nil || domain.KindOf(err) != domain.KindTransport {
		return err
	}
	if key == "" {
		return fmt.Errorf("%s: %w: %w", op, ErrOutcomeUnknown, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrOutcomeUnknown, err)
	}
	c.log.Warn("retrying after transport failure", "op", op, "idempotency_key", key, "error", err)
	if err = call(); err != nil && domain.KindOf(err) == domain.KindTransport {
		return fmt.Errorf("%s: %w: %w", op, ErrOutcomeUnknown, err)
	}
	return err
}

func (c *Client) Products(ctx context.Context) ([]domain.Product, error) {
	return c.backend.ListProducts(ctx)
}

// Checkout turns the cart into an order. An empty cart fails with
// domain.ErrEmptyCart without contacting the backend. The cart is cleared
// once the order exists.
func (c *Client) Checkout(ctx context.Context, sess Session, cart *Cart, notes string) (*domain.Order, error) {
	if cart == nil || cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}
	if _, err := actorOf(sess); err != nil {
		return nil, err
	}
	if _, err := cart.Total(); err != nil {
		return nil, err
	}
	req := domain.CheckoutRequest{
		Lines:          cart.checkoutLines(),
		Notes:          notes,
		IdempotencyKey: c.newKey(),
	}
	if _, err := req.Consolidate(); err != nil {
		return nil, err
	}

	var order *domain.Order
	err := c.send(ctx, "checkout", req.IdempotencyKey, func() error {
		var err error
		order, err = c.backend.CreateOrder(ctx, sess, req)
		return err
	})
	if err != nil {
		c.log.Info("checkout failed", "lines", cart.Len(), "error", err)
		return nil, err
	}
	cart.Clear()
	c.log.Info("order placed", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.Total)
	return order, nil
}

// clone copies the parts of an order a transition may mutate.
func clone(o *domain.Order) *domain.Order {
	cp := *o
	if o.Payment != nil {
		p := *o.Payment
		cp.Payment = &p
	}
	return &cp
}

// Cancel cancels order after checking the transition against the local snapshot.
func (c *Client) Cancel(ctx context.Context, sess Session, order *domain.Order) (*domain.Order, error) {
	actor, err := actorOf(sess)
	if err != nil {
		return nil, err
	}
	if _, err := c.engine.Cancel(actor, clone(order)); err != nil {
		return nil, err
	}
	var out *domain.Order
	err = c.send(ctx, "cancel_order", "", func() error {
		var err error
		out, err = c.backend.CancelOrder(ctx, sess, order.ID)
		return err
	})
	return out, err
}

// Complete marks a paid order fulfilled (administrators only).
func (c *Client) Complete(ctx context.Context, sess Session, order *domain.Order) (*domain.Order, error) {
	actor, err := actorOf(sess)
	if err != nil {
		return nil, err
	}
	if _, err := c.engine.Complete(actor, clone(order)); err != nil {
		return nil, err
	}
	var out *domain.Order
	err = c.send(ctx, "complete_order", "", func() error {
		var err error
		out, err = c.backend.CompleteOrder(ctx, sess, order.ID)
		return err
	})
	return out, err
}

type PaymentInput struct {
	Method   string
	ProofRef string
	Notes    string
}

// SubmitPayment attaches payment proof to order.
func (c *Client) SubmitPayment(ctx context.Context, sess Session, order *domain.Order, in PaymentInput) (*domain.Payment, error) {
	actor, err := actorOf(sess)
	if err != nil {
		return nil, err
	}
	req := domain.PaymentRequest{
		OrderID:  order.ID,
		Method:   in.Method,
		ProofRef: in.ProofRef,
		Notes:    in.Notes,
	}
	if _, _, err := c.engine.CreatePayment(actor, clone(order), req); err != nil {
		return nil, err
	}
	req.IdempotencyKey = c.newKey()

	var p *domain.Payment
	err = c.send(ctx, "create_payment", req.IdempotencyKey, func() error {
		var err error
		p, err = c.backend.CreatePayment(ctx, sess, req)
		return err
	})
	return p, err
}

// VerifyPayment verifies the order's current payment (administrators only).
// Verifying an already verified payment returns the current state.
func (c *Client) VerifyPayment(ctx context.Context, sess Session, order *domain.Order) (*domain.Payment, *domain.Order, error) {
	actor, err := actorOf(sess)
	if err != nil {
		return nil, nil, err
	}
	if order.Payment == nil {
		return nil, nil, domain.ErrPaymentNotFound.Withf("order %s has no payment", order.OrderNumber)
	}
	o := clone(order)
	if _, err := c.engine.VerifyPayment(actor, o.Payment, o); err != nil {
		return nil, nil, err
	}
	var (
		p   *domain.Payment
		out *domain.Order
	)
	err = c.send(ctx, "verify_payment", "", func() error {
		var err error
		p, out, err = c.backend.VerifyPayment(ctx, sess, order.Payment.ID)
		return err
	})
	return p, out, err
}

// RejectPayment rejects the order's pending payment (administrators only).
func (c *Client) RejectPayment(ctx context.Context, sess Session, order *domain.Order, reason string) (*domain.Payment, *domain.Order, error) {
	actor, err := actorOf(sess)
	if err != nil {
		return nil, nil, err
	}
	if order.Payment == nil {
		return nil, nil, domain.ErrPaymentNotFound.Withf("order %s has no payment", order.OrderNumber)
	}
	o := clone(order)
	if _, err := c.engine.RejectPayment(actor, o.Payment, o, reason); err != nil {
		return nil, nil, err
	}
	var (
		p   *domain.Payment
		out *domain.Order
	)
	err = c.send(ctx, "reject_payment", "", func() error {
		var err error
		p, out, err = c.backend.RejectPayment(ctx, sess, order.Payment.ID, reason)
		return err
	})
	return p, out, err
}

func (c *Client) Order(ctx context.Context, sess Session, orderID uuid.UUID) (*domain.Order, error) {
	if _, err := actorOf(sess); err != nil {
		return nil, err
	}
	return c.backend.GetOrder(ctx, sess, orderID)
}

// Orders lists the caller's orders, or every order for an administrator.
func (c *Client) Orders(ctx context.Context, sess Session) ([]domain.Order, error) {
	if _, err := actorOf(sess); err != nil {
		return nil, err
	}
	return c.backend.GetOrders(ctx, sess)
}

func (c *Client) Stats(ctx context.Context, sess Session) (domain.OrderStats, error) {
	actor, err := actorOf(sess)
	if err != nil {
		return domain.OrderStats{}, err
	}
	if !actor.IsAdmin() {
		return domain.OrderStats{}, domain.ErrForbidden
	}
	return c.backend.GetOrderStats(ctx, sess)
}

// PaymentForOrder returns the order's payment, or nil when none exists yet.
func (c *Client) PaymentForOrder(ctx context.Context, sess Session, orderID uuid.UUID) (*domain.Payment, error) {
	if _, err := actorOf(sess); err != nil {
		return nil, err
	}
	p, err := c.backend.PaymentForOrder(ctx, sess, orderID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, nil
	}
	return p, err
}

// Actions reports which transitions the UI may offer for order.
func (c *Client) Actions(sess Session, order *domain.Order) lifecycle.Actions {
	actor, err := actorOf(sess)
	if err != nil {
		return lifecycle.Actions{}
	}
	return c.engine.Allowed(actor, order)
}
