package lifecycle

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-oms/internal/domain"
)

var fixedNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func newEngine() *Engine {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func customer() domain.Actor { return domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer} }
func admin() domain.Actor    { return domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin} }

func catalog(products ...domain.Product) map[uuid.UUID]domain.Product {
	m := make(map[uuid.UUID]domain.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}

func placeOrder(t *testing.T, e *Engine, owner domain.Actor, p domain.Product, qty int) *domain.Order {
	t.Helper()
	o, _, err := e.PlaceOrder(owner, domain.CheckoutRequest{
		Lines: []domain.LineRequest{{ProductID: p.ID, Quantity: qty}},
	}, catalog(p))
	require.NoError(t, err)
	return o
}

func TestPlaceOrder(t *testing.T) {
	e := newEngine()
	owner := customer()
	a := domain.Product{ID: uuid.New(), Name: "Product A", Price: 10000, Stock: 5}

	o, fx, err := e.PlaceOrder(owner, domain.CheckoutRequest{
		Lines: []domain.LineRequest{{ProductID: a.ID, Quantity: 1}, {ProductID: a.ID, Quantity: 1}},
		Notes: "leave at the door",
	}, catalog(a))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderCreated, o.Status)
	assert.Equal(t, int64(20000), o.Total)
	assert.Equal(t, owner.ID, o.UserID)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 2, o.Lines[0].Quantity)
	assert.Equal(t, "Product A", o.Lines[0].ProductName)
	assert.Regexp(t, `^ORD-20260314-103000-\d{4}$`, o.OrderNumber)
	assert.NoError(t, o.CheckTotal())

	assert.Equal(t, []domain.StockDelta{{ProductID: a.ID, Delta: -2}}, fx.Stock)
	require.Len(t, fx.Events, 1)
	assert.Equal(t, domain.TopicOrderCreated, fx.Events[0].Topic)
}

func TestPlaceOrderFailures(t *testing.T) {
	e := newEngine()
	b := domain.Product{ID: uuid.New(), Name: "Product B", Price: 5000, Stock: 1}

	tests := []struct {
		name  string
		actor domain.Actor
		req   domain.CheckoutRequest
		want  error
	}{
		{"anonymous", domain.Actor{}, domain.CheckoutRequest{Lines: []domain.LineRequest{{ProductID: b.ID, Quantity: 1}}}, domain.ErrUnauthenticated},
		{"empty", customer(), domain.CheckoutRequest{}, domain.ErrEmptyCart},
		{"zero quantity", customer(), domain.CheckoutRequest{Lines: []domain.LineRequest{{ProductID: b.ID}}}, domain.ErrInvalidQuantity},
		{"over stock", customer(), domain.CheckoutRequest{Lines: []domain.LineRequest{{ProductID: b.ID, Quantity: 2}}}, domain.ErrStockUnavailable},
		{"consolidated over stock", customer(), domain.CheckoutRequest{Lines: []domain.LineRequest{{ProductID: b.ID, Quantity: 1}, {ProductID: b.ID, Quantity: 1}}}, domain.ErrStockUnavailable},
		{"unknown product", customer(), domain.CheckoutRequest{Lines: []domain.LineRequest{{ProductID: uuid.New(), Quantity: 1}}}, domain.ErrProductNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, fx, err := e.PlaceOrder(tt.actor, tt.req, catalog(b))
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, o)
			assert.True(t, fx.Noop())
		})
	}
}

func TestCancel(t *testing.T) {
	e := newEngine()
	owner := customer()
	b := domain.Product{ID: uuid.New(), Name: "Product B", Price: 5000, Stock: 3}

	t.Run("owner cancels before payment", func(t *testing.T) {
		o := placeOrder(t, e, owner, b, 1)
		fx, err := e.Cancel(owner, o)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderCanceled, o.Status)
		assert.Equal(t, []domain.StockDelta{{ProductID: b.ID, Delta: 1}}, fx.Stock)
	})

	t.Run("admin may cancel", func(t *testing.T) {
		o := placeOrder(t, e, owner, b, 1)
		_, err := e.Cancel(admin(), o)
		require.NoError(t, err)
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		o := placeOrder(t, e, owner, b, 1)
		_, err := e.Cancel(customer(), o)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.Equal(t, domain.OrderCreated, o.Status)
	})

	t.Run("pending payment is rejected with the order", func(t *testing.T) {
		o := placeOrder(t, e, owner, b, 1)
		p, _, err := e.CreatePayment(owner, o, domain.PaymentRequest{Method: "e-wallet"})
		require.NoError(t, err)
		fx, err := e.Cancel(owner, o)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentRejected, p.Status)
		assert.True(t, fx.PaymentChanged)
		assert.Len(t, fx.Events, 2)
	})

	t.Run("illegal from every later status", func(t *testing.T) {
		for _, s := range []domain.OrderStatus{domain.OrderCanceled, domain.OrderProcessing, domain.OrderPaid, domain.OrderCompleted} {
			o := placeOrder(t, e, owner, b, 1)
			o.Status = s
			fx, err := e.Cancel(owner, o)
			assert.ErrorIs(t, err, domain.ErrInvalidTransition, s)
			assert.True(t, fx.Noop())
		}
	})
}

func TestCreatePayment(t *testing.T) {
	e := newEngine()
	owner := customer()
	a := domain.Product{ID: uuid.New(), Name: "Product A", Price: 10000, Stock: 5}

	o := placeOrder(t, e, owner, a, 2)
	p, fx, err := e.CreatePayment(owner, o, domain.PaymentRequest{OrderID: o.ID, Method: "bank_transfer"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, p.Status)
	assert.Equal(t, int64(20000), p.Amount)
	assert.Equal(t, domain.NoProof, p.ProofRef)
	assert.Same(t, p, o.Payment)
	assert.True(t, fx.PaymentChanged)

	_, _, err = e.CreatePayment(owner, o, domain.PaymentRequest{Method: "bank_transfer"})
	assert.ErrorIs(t, err, domain.ErrPaymentAlreadyExists)

	_, err = e.RejectPayment(admin(), p, o, "blurry receipt")
	require.NoError(t, err)
	p2, _, err := e.CreatePayment(owner, o, domain.PaymentRequest{Method: "credit_card", ProofRef: "https://proofs.example/2.png"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, p2.Status)

	canceled := placeOrder(t, e, owner, a, 1)
	_, err = e.Cancel(owner, canceled)
	require.NoError(t, err)
	_, _, err = e.CreatePayment(owner, canceled, domain.PaymentRequest{Method: "bank_transfer"})
	assert.ErrorIs(t, err, domain.ErrOrderCanceled)

	other := placeOrder(t, e, owner, a, 1)
	_, _, err = e.CreatePayment(customer(), other, domain.PaymentRequest{Method: "bank_transfer"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, _, err = e.CreatePayment(owner, other, domain.PaymentRequest{Method: "cash"})
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentMethod)
	assert.Nil(t, other.Payment)
}

func TestVerifyPayment(t *testing.T) {
	e := newEngine()
	owner, adm := customer(), admin()
	a := domain.Product{ID: uuid.New(), Name: "Product A", Price: 10000, Stock: 5}

	o := placeOrder(t, e, owner, a, 2)
	p, _, err := e.CreatePayment(owner, o, domain.PaymentRequest{Method: "bank_transfer"})
	require.NoError(t, err)

	_, err = e.VerifyPayment(owner, p, o)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.VerifyPayment(domain.Actor{}, p, o)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	fx, err := e.VerifyPayment(adm, p, o)
	require.NoError(t, err)
	assert.True(t, fx.OrderChanged && fx.PaymentChanged)
	assert.Equal(t, domain.PaymentVerified, p.Status)
	assert.Equal(t, domain.OrderProcessing, o.Status)
	require.NotNil(t, p.VerifiedBy)
	assert.Equal(t, adm.ID, *p.VerifiedBy)

	fx, err = e.VerifyPayment(adm, p, o)
	require.NoError(t, err)
	assert.True(t, fx.Noop())
	assert.Equal(t, domain.OrderProcessing, o.Status)

	_, err = e.Cancel(owner, o)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = e.RejectPayment(adm, p, o, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestVerifyRejectedPaymentFails(t *testing.T) {
	e := newEngine()
	owner, adm := customer(), admin()
	a := domain.Product{ID: uuid.New(), Name: "Product A", Price: 100, Stock: 5}

	o := placeOrder(t, e, owner, a, 1)
	p, _, err := e.CreatePayment(owner, o, domain.PaymentRequest{Method: "bank_transfer"})
	require.NoError(t, err)
	_, err = e.RejectPayment(adm, p, o, "amount mismatch")
	require.NoError(t, err)
	assert.Equal(t, "amount mismatch", p.Notes)
	assert.Equal(t, domain.OrderCreated, o.Status)

	fx, err := e.RejectPayment(adm, p, o, "again")
	require.NoError(t, err)
	assert.True(t, fx.Noop())

	_, err = e.VerifyPayment(adm, p, o)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.OrderCreated, o.Status)
}

func TestComplete(t *testing.T) {
	e := newEngine()
	owner, adm := customer(), admin()
	a := domain.Product{ID: uuid.New(), Name: "Product A", Price: 100, Stock: 5}

	o := placeOrder(t, e, owner, a, 1)
	_, err := e.Complete(adm, o)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	p, _, err := e.CreatePayment(owner, o, domain.PaymentRequest{Method: "bank_transfer"})
	require.NoError(t, err)
	_, err = e.VerifyPayment(adm, p, o)
	require.NoError(t, err)

	_, err = e.Complete(owner, o)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.Complete(adm, o)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, o.Status)
}

func TestAllowed(t *testing.T) {
	e := newEngine()
	owner, adm := customer(), admin()
	a := domain.Product{ID: uuid.New(), Name: "Product A", Price: 100, Stock: 5}

	o := placeOrder(t, e, owner, a, 1)
	assert.Equal(t, Actions{Cancel: true, Pay: true}, e.Allowed(owner, o))
	assert.Equal(t, Actions{}, e.Allowed(customer(), o))

	_, _, err := e.CreatePayment(owner, o, domain.PaymentRequest{Method: "bank_transfer"})
	require.NoError(t, err)
	assert.Equal(t, Actions{Cancel: true}, e.Allowed(owner, o))
	assert.Equal(t, Actions{Cancel: true, Verify: true, Reject: true}, e.Allowed(adm, o))

	_, err = e.VerifyPayment(adm, o.Payment, o)
	require.NoError(t, err)
	assert.Equal(t, Actions{}, e.Allowed(owner, o))
	assert.Equal(t, Actions{Complete: true}, e.Allowed(adm, o))
}

func TestProductIDsSortedAndDistinct(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ids := ProductIDs(domain.CheckoutRequest{Lines: []domain.LineRequest{
		{ProductID: b, Quantity: 1}, {ProductID: a, Quantity: 1}, {ProductID: b, Quantity: 1},
	}})
	require.Len(t, ids, 2)
	assert.Contains(t, ids, a)
	assert.Contains(t, ids, b)
	assert.True(t, ids[0].String() < ids[1].String())
}
