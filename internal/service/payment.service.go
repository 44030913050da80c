package service

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"mini-oms/internal/database"
	"mini-oms/internal/domain"
	"mini-oms/internal/lifecycle"
	"mini-oms/internal/logging"
	"mini-oms/internal/metrics"
)

type PaymentService interface {
	Create(ctx context.Context, actor domain.Actor, req domain.PaymentRequest) (*domain.Payment, error)
	Verify(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*domain.Payment, *domain.Order, error)
	Reject(ctx context.Context, actor domain.Actor, paymentID uuid.UUID, reason string) (*domain.Payment, *domain.Order, error)
	ForOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Payment, error)
}

type paymentService struct {
	db     *sql.DB
	stores Stores
	engine *lifecycle.Engine
	keyed  *keyed
}

func NewPaymentService(db *sql.DB, stores Stores, engine *lifecycle.Engine, cache IdempotencyCache) PaymentService {
	return &paymentService{
		db:     db,
		stores: stores,
		engine: engine,
		keyed:  newKeyed(db, stores.Keys, cache),
	}
}

const opCreatePayment = "create_payment"

// Create attaches a pending payment for the full order total. The order row
// is locked for the duration, and the partial unique index on payments backs
// the one-active-payment rule.
func (s *paymentService) Create(ctx context.Context, actor domain.Actor, req domain.PaymentRequest) (*domain.Payment, error) {
	if actor.IsAnonymous() {
		return nil, domain.ErrUnauthenticated
	}
	var payment *domain.Payment
	err := s.keyed.do(ctx, opCreatePayment, actor, req.IdempotencyKey,
		func(ctx context.Context, id uuid.UUID) error {
			p, err := s.stores.Payments.FindById(ctx, nil, id)
			if err != nil {
				return err
			}
			payment = p
			return nil
		},
		func(tx *sql.Tx) (uuid.UUID, error) {
			o, err := lockOrder(ctx, s.stores, tx, req.OrderID)
			if err != nil {
				return uuid.Nil, err
			}
			p, fx, err := s.engine.CreatePayment(actor, o, req)
			if err != nil {
				return uuid.Nil, err
			}
			if err := s.stores.Payments.CreatePayment(ctx, tx, p); err != nil {
				if database.IsUniqueViolation(err) {
					return uuid.Nil, domain.ErrPaymentAlreadyExists.Wrap(err)
				}
				return uuid.Nil, err
			}
			if err := s.stores.record(ctx, tx, fx.Events); err != nil {
				return uuid.Nil, err
			}
			payment = p
			return p.ID, nil
		},
	)
	metrics.Transition(opCreatePayment, err)
	if err != nil {
		return nil, err
	}
	logging.FromCtx(ctx).Info("payment submitted", "payment_id", payment.ID, "order_id", payment.OrderID, "method", payment.Method)
	return payment, nil
}

type paymentTransition func(actor domain.Actor, p *domain.Payment, o *domain.Order) (lifecycle.Effects, error)

// decide locks the payment's order, then the payment, runs the transition
// and persists whatever it changed.
func (s *paymentService) decide(ctx context.Context, name string, actor domain.Actor, paymentID uuid.UUID, run paymentTransition) (*domain.Payment, *domain.Order, error) {
	if actor.IsAnonymous() {
		return nil, nil, domain.ErrUnauthenticated
	}
	// order id only; the rows are locked below
	current, err := s.stores.Payments.FindById(ctx, nil, paymentID)
	if err != nil {
		return nil, nil, err
	}

	var (
		payment *domain.Payment
		order   *domain.Order
	)
	err = database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.stores.Orders.FindById(ctx, tx, current.OrderID)
		if err != nil {
			return err
		}
		p, err := s.stores.Payments.FindById(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		o.Payment = p
		fx, err := run(actor, p, o)
		if err != nil {
			return err
		}
		payment, order = p, o
		if fx.Noop() {
			return nil
		}
		if fx.PaymentChanged {
			if err := s.stores.Payments.UpdatePaymentStatus(ctx, tx, p); err != nil {
				return err
			}
		}
		if fx.OrderChanged {
			if err := s.stores.Orders.UpdateOrderStatus(ctx, tx, o); err != nil {
				return err
			}
		}
		return s.stores.record(ctx, tx, fx.Events)
	})
	metrics.Transition(name, err)
	if err != nil {
		return nil, nil, err
	}
	logging.FromCtx(ctx).Info("payment "+name, "payment_id", payment.ID, "status", payment.Status, "order_status", order.Status)
	return payment, order, nil
}

func (s *paymentService) Verify(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*domain.Payment, *domain.Order, error) {
	return s.decide(ctx, "verify_payment", actor, paymentID, s.engine.VerifyPayment)
}

func (s *paymentService) Reject(ctx context.Context, actor domain.Actor, paymentID uuid.UUID, reason string) (*domain.Payment, *domain.Order, error) {
	return s.decide(ctx, "reject_payment", actor, paymentID, func(actor domain.Actor, p *domain.Payment, o *domain.Order) (lifecycle.Effects, error) {
		return s.engine.RejectPayment(actor, p, o, reason)
	})
}

// ForOrder returns the order's current payment.
func (s *paymentService) ForOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Payment, error) {
	o, err := s.stores.Orders.FindWithPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.AuthorizeRead(actor, o); err != nil {
		return nil, err
	}
	if o.Payment == nil {
		return nil, domain.ErrPaymentNotFound.Withf("order %s has no payment", o.OrderNumber)
	}
	return o.Payment, nil
}
