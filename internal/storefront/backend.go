package storefront

import (
	"context"

	"github.com/google/uuid"

	"mini-oms/internal/domain"
)

// Session supplies the identity of the user driving the storefront.
type Session interface {
	// CurrentUser returns the signed-in actor, or false when anonymous.
	CurrentUser() (domain.Actor, bool)
	// Token returns the bearer credential presented to the backend.
	Token() string
}

// StaticSession is a fixed identity, used by tools and tests.
type StaticSession struct {
	Actor       domain.Actor
	AccessToken string
}

func (s StaticSession) CurrentUser() (domain.Actor, bool) {
	return s.Actor, !s.Actor.IsAnonymous()
}

func (s StaticSession) Token() string { return s.AccessToken }

// Anonymous is a session with no signed-in user.
var Anonymous Session = StaticSession{}

// Backend is the remote order service. Every mutating call is one atomic
// transition; failures are *domain.Error values.
type Backend interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateOrder(ctx context.Context, sess Session, req domain.CheckoutRequest) (*domain.Order, error)
	CancelOrder(ctx context.Context, sess Session, orderID uuid.UUID) (*domain.Order, error)
	CompleteOrder(ctx context.Context, sess Session, orderID uuid.UUID) (*domain.Order, error)
	CreatePayment(ctx context.Context, sess Session, req domain.PaymentRequest) (*domain.Payment, error)
	VerifyPayment(ctx context.Context, sess Session, paymentID uuid.UUID) (*domain.Payment, *domain.Order, error)
	RejectPayment(ctx context.Context, sess Session, paymentID uuid.UUID, reason string) (*domain.Payment, *domain.Order, error)
	GetOrder(ctx context.Context, sess Session, orderID uuid.UUID) (*domain.Order, error)
	GetOrders(ctx context.Context, sess Session) ([]domain.Order, error)
	GetOrderStats(ctx context.Context, sess Session) (domain.OrderStats, error)
	PaymentForOrder(ctx context.Context, sess Session, orderID uuid.UUID) (*domain.Payment, error)
}
