package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-oms/internal/database/databasetest"
	"mini-oms/internal/domain"
	"mini-oms/internal/lifecycle"
	"mini-oms/internal/security"
	"mini-oms/internal/service"
)

type fixture struct {
	stores   service.Stores
	orders   service.OrderService
	payments service.PaymentService
	products service.ProductService
	auth     service.AuthService
	admin    domain.Actor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := databasetest.Postgres(t)
	stores := service.NewStores(db)
	engine := lifecycle.New()
	tokens := security.NewTokens("test-secret", "mini-oms", time.Hour)

	f := &fixture{
		stores:   stores,
		orders:   service.NewOrderService(db, stores, engine, nil),
		payments: service.NewPaymentService(db, stores, engine, nil),
		products: service.NewProductService(stores.Products),
		auth:     service.NewAuthService(stores.Users, tokens),
	}
	f.admin = f.user(t, domain.RoleAdmin)
	return f
}

func (f *fixture) user(t *testing.T, role domain.Role) domain.Actor {
	t.Helper()
	now := time.Now()
	u := &domain.User{
		ID:           uuid.New(),
		Name:         string(role),
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "-",
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.stores.Users.CreateUser(context.Background(), u))
	return u.Actor()
}

func (f *fixture) product(t *testing.T, name string, price int64, stock int) *domain.Product {
	t.Helper()
	p, err := f.products.Create(context.Background(), f.admin, service.ProductInput{Name: name, Price: price, Stock: stock})
	require.NoError(t, err)
	return p
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	p, err := f.products.Get(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func checkout(lines ...domain.LineRequest) domain.CheckoutRequest {
	return domain.CheckoutRequest{Lines: lines}
}

func TestOrderLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	customer := f.user(t, domain.RoleCustomer)
	other := f.user(t, domain.RoleCustomer)

	pa := f.product(t, "A", 15_000, 3)
	pb := f.product(t, "B", 2_500, 10)

	t.Run("checkout reserves stock and snapshots prices", func(t *testing.T) {
		o, err := f.orders.Checkout(ctx, customer, checkout(
			domain.LineRequest{ProductID: pa.ID, Quantity: 2},
			domain.LineRequest{ProductID: pb.ID, Quantity: 1},
		))
		require.NoError(t, err)
		assert.Equal(t, domain.OrderCreated, o.Status)
		assert.Equal(t, int64(32_500), o.Total)
		assert.Regexp(t, `^ORD-\d{8}-\d{6}-\d{4}$`, o.OrderNumber)
		assert.Equal(t, 1, f.stock(t, pa.ID))
		assert.Equal(t, 9, f.stock(t, pb.ID))

		// a later price change does not touch the order
		_, err = f.products.Update(ctx, f.admin, pa.ID, service.ProductInput{Name: "A", Price: 99_000, Stock: 1})
		require.NoError(t, err)
		got, err := f.orders.Get(ctx, customer, o.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(15_000), got.Lines[0].ProductPrice)
		require.NoError(t, got.CheckTotal())

		_, err = f.orders.Get(ctx, other, o.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("insufficient stock changes nothing", func(t *testing.T) {
		_, err := f.orders.Checkout(ctx, customer, checkout(
			domain.LineRequest{ProductID: pb.ID, Quantity: 1},
			domain.LineRequest{ProductID: pa.ID, Quantity: 2},
		))
		assert.ErrorIs(t, err, domain.ErrStockUnavailable)
		assert.Equal(t, 1, f.stock(t, pa.ID))
		assert.Equal(t, 9, f.stock(t, pb.ID))
	})

	t.Run("empty cart", func(t *testing.T) {
		_, err := f.orders.Checkout(ctx, customer, checkout())
		assert.ErrorIs(t, err, domain.ErrEmptyCart)
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := f.orders.Checkout(ctx, customer, checkout(domain.LineRequest{ProductID: uuid.New(), Quantity: 1}))
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
	})

	t.Run("cancel restores stock and rejects the pending payment", func(t *testing.T) {
		o, err := f.orders.Checkout(ctx, customer, checkout(domain.LineRequest{ProductID: pb.ID, Quantity: 4}))
		require.NoError(t, err)
		assert.Equal(t, 5, f.stock(t, pb.ID))

		p, err := f.payments.Create(ctx, customer, domain.PaymentRequest{OrderID: o.ID, Method: "e-wallet"})
		require.NoError(t, err)
		assert.Equal(t, domain.NoProof, p.ProofRef)
		assert.Equal(t, o.Total, p.Amount)

		canceled, err := f.orders.Cancel(ctx, customer, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderCanceled, canceled.Status)
		assert.Equal(t, 9, f.stock(t, pb.ID))

		p, err = f.payments.ForOrder(ctx, customer, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentRejected, p.Status)

		_, err = f.orders.Cancel(ctx, customer, o.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Equal(t, 9, f.stock(t, pb.ID), "second cancel must not restock")

		_, err = f.payments.Create(ctx, customer, domain.PaymentRequest{OrderID: o.ID, Method: "e-wallet"})
		assert.ErrorIs(t, err, domain.ErrOrderCanceled)

		audit, err := f.stores.Audit.ListForEntity(ctx, o.ID)
		require.NoError(t, err)
		var actions []string
		for _, e := range audit {
			actions = append(actions, e.Action)
		}
		assert.Equal(t, []string{"ORDER_CREATED", "ORDER_CANCELED"}, actions)
	})

	t.Run("payment verification and fulfilment", func(t *testing.T) {
		o, err := f.orders.Checkout(ctx, customer, checkout(domain.LineRequest{ProductID: pb.ID, Quantity: 1}))
		require.NoError(t, err)

		_, err = f.payments.Create(ctx, customer, domain.PaymentRequest{OrderID: o.ID, Method: "cash"})
		assert.ErrorIs(t, err, domain.ErrInvalidPaymentMethod)

		first, err := f.payments.Create(ctx, customer, domain.PaymentRequest{OrderID: o.ID, Method: "bank_transfer", ProofRef: "TRX-1"})
		require.NoError(t, err)

		_, err = f.payments.Create(ctx, customer, domain.PaymentRequest{OrderID: o.ID, Method: "bank_transfer"})
		assert.ErrorIs(t, err, domain.ErrPaymentAlreadyExists)

		_, _, err = f.payments.Verify(ctx, customer, first.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)

		rejected, _, err := f.payments.Reject(ctx, f.admin, first.ID, "blurry receipt")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentRejected, rejected.Status)
		assert.Equal(t, "blurry receipt", rejected.Notes)

		second, err := f.payments.Create(ctx, customer, domain.PaymentRequest{OrderID: o.ID, Method: "bank_transfer", ProofRef: "TRX-2"})
		require.NoError(t, err)

		p, order, err := f.payments.Verify(ctx, f.admin, second.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentVerified, p.Status)
		assert.Equal(t, domain.OrderProcessing, order.Status)
		require.NotNil(t, p.VerifiedBy)
		assert.Equal(t, f.admin.ID, *p.VerifiedBy)

		// re-verify is a no-op
		p, order, err = f.payments.Verify(ctx, f.admin, second.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentVerified, p.Status)
		assert.Equal(t, domain.OrderProcessing, order.Status)

		_, _, err = f.payments.Verify(ctx, f.admin, first.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = f.orders.Cancel(ctx, customer, o.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		done, err := f.orders.Complete(ctx, f.admin, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderCompleted, done.Status)

		got, err := f.orders.Get(ctx, customer, o.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Payment)
		assert.Equal(t, second.ID, got.Payment.ID)
	})

	t.Run("listing and stats", func(t *testing.T) {
		mine, err := f.orders.List(ctx, customer)
		require.NoError(t, err)
		assert.Len(t, mine, 3)

		theirs, err := f.orders.List(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, theirs)

		all, err := f.orders.List(ctx, f.admin)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		_, err = f.orders.Stats(ctx, customer)
		assert.ErrorIs(t, err, domain.ErrForbidden)

		s, err := f.orders.Stats(ctx, f.admin)
		require.NoError(t, err)
		assert.Equal(t, int64(3), s.TotalOrders)
		// canceled order excluded
		assert.Equal(t, int64(32_500+2_500), s.TotalRevenue)
		assert.Equal(t, int64(0), s.PendingPayments)
	})
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	customer := f.user(t, domain.RoleCustomer)
	p := f.product(t, "Keyed", 1_000, 10)

	req := checkout(domain.LineRequest{ProductID: p.ID, Quantity: 2})
	req.IdempotencyKey = "key-1"

	first, err := f.orders.Checkout(ctx, customer, req)
	require.NoError(t, err)
	again, err := f.orders.Checkout(ctx, customer, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 8, f.stock(t, p.ID))

	t.Run("concurrent repeats create one order", func(t *testing.T) {
		req := checkout(domain.LineRequest{ProductID: p.ID, Quantity: 1})
		req.IdempotencyKey = "key-2"

		const n = 5
		ids := make([]uuid.UUID, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				o, err := f.orders.Checkout(ctx, customer, req)
				errs[i] = err
				if o != nil {
					ids[i] = o.ID
				}
			}(i)
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
		assert.Equal(t, 7, f.stock(t, p.ID))
	})

	t.Run("keys are per actor", func(t *testing.T) {
		someone := f.user(t, domain.RoleCustomer)
		o, err := f.orders.Checkout(ctx, someone, req)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, o.ID)
		assert.Equal(t, 5, f.stock(t, p.ID))
	})
}

func TestCheckout_LastUnitRace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := f.product(t, "Last one", 500, 1)

	const n = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		soldOut int
	)
	for i := 0; i < n; i++ {
		buyer := f.user(t, domain.RoleCustomer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.Checkout(ctx, buyer, checkout(domain.LineRequest{ProductID: p.ID, Quantity: 1}))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case domain.KindOf(err) == domain.KindConflict:
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, soldOut)
	assert.Equal(t, 0, f.stock(t, p.ID))
}

func TestAuth(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	s, err := f.auth.Register(ctx, "Ann", "Ann@Example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, s.User.Role)
	assert.NotEmpty(t, s.Token)

	actor, err := f.auth.Authenticate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, actor.ID)

	_, err = f.auth.Register(ctx, "Ann again", "ann@example.com", "hunter22")
	assert.ErrorIs(t, err, service.ErrEmailTaken)

	_, err = f.auth.Login(ctx, "ann@example.com", "wrong")
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)

	_, err = f.auth.Login(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)

	s2, err := f.auth.Login(ctx, "ANN@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, s2.User.ID)

	_, err = f.auth.Register(ctx, "Bob", "not-an-email", "hunter22")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCatalog(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	customer := f.user(t, domain.RoleCustomer)

	_, err := f.products.Create(ctx, customer, service.ProductInput{Name: "Lamp", Price: 100, Stock: 1})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.products.Create(ctx, domain.Actor{}, service.ProductInput{Name: "Lamp", Price: 100, Stock: 1})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.products.Create(ctx, f.admin, service.ProductInput{Name: "", Price: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	p := f.product(t, "Lamp", 4_000, 3)

	o, err := f.orders.Checkout(ctx, customer, checkout(domain.LineRequest{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)

	updated, err := f.products.Update(ctx, f.admin, p.ID, service.ProductInput{Name: "Desk Lamp", Price: 5_000, Stock: 10})
	require.NoError(t, err)
	assert.Equal(t, "Desk Lamp", updated.Name)

	got, err := f.orders.Get(ctx, customer, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "Lamp", got.Lines[0].ProductName)
	assert.EqualValues(t, 4_000, got.Lines[0].ProductPrice)

	require.NoError(t, f.products.Delete(ctx, f.admin, p.ID))
	_, err = f.products.Get(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.ErrorIs(t, f.products.Delete(ctx, f.admin, p.ID), domain.ErrProductNotFound)

	_, err = f.orders.Checkout(ctx, customer, checkout(domain.LineRequest{ProductID: p.ID, Quantity: 1}))
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

// consistent reports whether an order and its current payment show the same
// committed transition.
func consistent(o domain.Order) bool {
	verified := o.Payment != nil && o.Payment.Status == domain.PaymentVerified
	return verified == o.Status.IsPaid()
}

func TestReads_NeverSplitAVerify(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	customer := f.user(t, domain.RoleCustomer)
	p := f.product(t, "Widget", 1_000, 100)

	const n = 20
	orderIDs := make([]uuid.UUID, 0, n)
	paymentIDs := make([]uuid.UUID, 0, n)
	for range n {
		o, err := f.orders.Checkout(ctx, customer, checkout(domain.LineRequest{ProductID: p.ID, Quantity: 1}))
		require.NoError(t, err)
		pay, err := f.payments.Create(ctx, customer, domain.PaymentRequest{OrderID: o.ID, Method: "bank_transfer"})
		require.NoError(t, err)
		orderIDs = append(orderIDs, o.ID)
		paymentIDs = append(paymentIDs, pay.ID)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, id := range paymentIDs {
			_, _, err := f.payments.Verify(ctx, f.admin, id)
			assert.NoError(t, err)
		}
	}()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		split []string
	)
	report := func(o domain.Order) {
		if consistent(o) {
			return
		}
		got := string(o.Status) + "/none"
		if o.Payment != nil {
			got = string(o.Status) + "/" + string(o.Payment.Status)
		}
		mu.Lock()
		split = append(split, got)
		mu.Unlock()
	}
	for r := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-done:
					return
				default:
				}
				if r%2 == 0 {
					o, err := f.orders.Get(ctx, customer, orderIDs[i%n])
					if assert.NoError(t, err) {
						report(*o)
					}
					continue
				}
				all, err := f.orders.List(ctx, customer)
				if assert.NoError(t, err) {
					for _, o := range all {
						report(o)
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, split, "order and payment status disagreed")

	all, err := f.orders.List(ctx, customer)
	require.NoError(t, err)
	require.Len(t, all, n)
	for _, o := range all {
		assert.Equal(t, domain.OrderProcessing, o.Status)
		require.NotNil(t, o.Payment)
		assert.Equal(t, domain.PaymentVerified, o.Payment.Status)
	}
}
