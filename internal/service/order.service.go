package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"mini-oms/internal/database"
	"mini-oms/internal/domain"
	"mini-oms/internal/lifecycle"
	"mini-oms/internal/logging"
	"mini-oms/internal/metrics"
)

type OrderService interface {
	Checkout(ctx context.Context, actor domain.Actor, req domain.CheckoutRequest) (*domain.Order, error)
	Cancel(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)
	Complete(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)
	Get(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)
	List(ctx context.Context, actor domain.Actor) ([]domain.Order, error)
	Stats(ctx context.Context, actor domain.Actor) (domain.OrderStats, error)
}

type orderService struct {
	db     *sql.DB
	stores Stores
	engine *lifecycle.Engine
	keyed  *keyed
}

func NewOrderService(db *sql.DB, stores Stores, engine *lifecycle.Engine, cache IdempotencyCache) OrderService {
	return &orderService{
		db:     db,
		stores: stores,
		engine: engine,
		keyed:  newKeyed(db, stores.Keys, cache),
	}
}

const opCheckout = "checkout"

// Checkout locks the requested products, prices the order against them,
// reserves the stock and stores the order in one transaction. A repeated
// idempotency key returns the order the first request created.
func (s *orderService) Checkout(ctx context.Context, actor domain.Actor, req domain.CheckoutRequest) (*domain.Order, error) {
	log := logging.FromCtx(ctx)
	if actor.IsAnonymous() {
		return nil, domain.ErrUnauthenticated
	}
	if _, err := req.Consolidate(); err != nil {
		metrics.Transition(opCheckout, err)
		return nil, err
	}

	var order *domain.Order
	err := s.keyed.do(ctx, opCheckout, actor, req.IdempotencyKey,
		func(ctx context.Context, id uuid.UUID) error {
			o, err := s.load(ctx, id)
			if err != nil {
				return err
			}
			order = o
			log.Info("checkout replayed", "order_id", id, "idempotency_key", req.IdempotencyKey)
			return nil
		},
		func(tx *sql.Tx) (uuid.UUID, error) {
			catalog, err := s.stores.Products.LockForCheckout(ctx, tx, lifecycle.ProductIDs(req))
			if err != nil {
				return uuid.Nil, err
			}
			o, fx, err := s.engine.PlaceOrder(actor, req, catalog)
			if err != nil {
				return uuid.Nil, err
			}
			if err := s.stores.Products.Ledger(tx).Apply(ctx, fx.Stock); err != nil {
				return uuid.Nil, err
			}
			if err := s.stores.Orders.CreateOrder(ctx, tx, o); err != nil {
				return uuid.Nil, err
			}
			if err := s.stores.record(ctx, tx, fx.Events); err != nil {
				return uuid.Nil, err
			}
			order = o
			return o.ID, nil
		},
	)
	metrics.Transition(opCheckout, err)
	if err != nil {
		log.Warn("checkout failed", "user_id", actor.ID, "error", err)
		return nil, err
	}
	log.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.Total)
	return order, nil
}

// load reads an order with its current payment.
func (s *orderService) load(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.stores.Orders.FindWithPayment(ctx, id)
}

func attachPayment(ctx context.Context, stores Stores, tx *sql.Tx, o *domain.Order) error {
	p, err := stores.Payments.FindForOrder(ctx, tx, o.ID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		o.Payment = nil
		return nil
	}
	if err != nil {
		return err
	}
	o.Payment = p
	return nil
}

// lockOrder loads the order FOR UPDATE with its current payment.
func lockOrder(ctx context.Context, stores Stores, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	o, err := stores.Orders.FindById(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := attachPayment(ctx, stores, tx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Cancel restores the order's stock and rejects its pending payment, if any.
func (s *orderService) Cancel(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	var order *domain.Order
	err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := lockOrder(ctx, s.stores, tx, orderID)
		if err != nil {
			return err
		}
		fx, err := s.engine.Cancel(actor, o)
		if err != nil {
			return err
		}
		if err := s.stores.Products.Ledger(tx).Apply(ctx, fx.Stock); err != nil {
			return err
		}
		if err := s.stores.Orders.UpdateOrderStatus(ctx, tx, o); err != nil {
			return err
		}
		if fx.PaymentChanged {
			if err := s.stores.Payments.UpdatePaymentStatus(ctx, tx, o.Payment); err != nil {
				return err
			}
		}
		if err := s.stores.record(ctx, tx, fx.Events); err != nil {
			return err
		}
		order = o
		return nil
	})
	metrics.Transition("cancel", err)
	if err != nil {
		return nil, err
	}
	logging.FromCtx(ctx).Info("order canceled", "order_id", order.ID, "by", actor.ID)
	return order, nil
}

func (s *orderService) Complete(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	var order *domain.Order
	err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := lockOrder(ctx, s.stores, tx, orderID)
		if err != nil {
			return err
		}
		fx, err := s.engine.Complete(actor, o)
		if err != nil {
			return err
		}
		order = o
		if fx.Noop() {
			return nil
		}
		if err := s.stores.Orders.UpdateOrderStatus(ctx, tx, o); err != nil {
			return err
		}
		return s.stores.record(ctx, tx, fx.Events)
	})
	metrics.Transition("complete", err)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderService) Get(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.AuthorizeRead(actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

// List returns the actor's orders, or all orders for an administrator.
func (s *orderService) List(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	if actor.IsAnonymous() {
		return nil, domain.ErrUnauthenticated
	}
	owner := actor.ID
	if actor.IsAdmin() {
		owner = uuid.Nil
	}
	return s.stores.Orders.List(ctx, owner)
}

func (s *orderService) Stats(ctx context.Context, actor domain.Actor) (domain.OrderStats, error) {
	if actor.IsAnonymous() {
		return domain.OrderStats{}, domain.ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return domain.OrderStats{}, domain.ErrForbidden
	}
	return s.stores.Orders.Stats(ctx)
}
