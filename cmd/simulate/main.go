package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"mini-oms/internal/database"
	"mini-oms/internal/domain"
	"mini-oms/internal/infrastructure/backend"
	"mini-oms/internal/lifecycle"
	"mini-oms/internal/logging"
	"mini-oms/internal/storefront"
)

type options struct {
	apiURL    string
	email     string
	password  string
	customers int
	orders    int
}

func main() {
	var opts options
	flag.StringVar(&opts.apiURL, "api", "", "API base URL; empty runs against an in-memory backend")
	flag.StringVar(&opts.email, "admin-email", "admin@example.com", "administrator email (with -api)")
	flag.StringVar(&opts.password, "admin-password", "admin123", "administrator password (with -api)")
	flag.IntVar(&opts.customers, "customers", 4, "concurrent customers")
	flag.IntVar(&opts.orders, "orders", 5, "orders per customer")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logging.Init(logging.Options{Component: "simulate", Level: *logLevel})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	engine := lifecycle.New()
	b, admin, customers, err := setup(ctx, opts, engine)
	if err != nil {
		log.Fatal(err)
	}
	client := storefront.New(b, storefront.WithEngine(engine), storefront.WithLogger(logging.New("storefront")))

	products, err := client.Products(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if len(products) == 0 {
		log.Fatal("catalog is empty")
	}

	fmt.Printf("--- SIMULATING %d CUSTOMERS x %d ORDERS ---\n", len(customers), opts.orders)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	tally := map[string]int{}
	for i, sess := range customers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range opts.orders {
				outcome := shop(ctx, client, sess, admin, products)
				mu.Lock()
				tally[outcome]++
				mu.Unlock()
				fmt.Printf("[customer %d order %d] %s\n", i+1, n+1, outcome)
			}
		}()
	}
	wg.Wait()

	fmt.Println("---------------------------------------------------")
	for outcome, n := range tally {
		fmt.Printf("%-24s %d\n", outcome, n)
	}
	stats, err := client.Stats(ctx, admin)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("orders=%d revenue=%d pending_payments=%d\n", stats.TotalOrders, stats.TotalRevenue, stats.PendingPayments)
}

func setup(ctx context.Context, opts options, engine *lifecycle.Engine) (storefront.Backend, storefront.Session, []storefront.Session, error) {
	if opts.apiURL == "" {
		now := time.Now()
		catalog := make([]domain.Product, len(database.DemoProducts))
		for i, p := range database.DemoProducts {
			catalog[i] = domain.Product{
				ID:          uuid.New(),
				Name:        p.Name,
				Description: p.Description,
				Price:       p.Price,
				Stock:       p.Stock,
				ImageURL:    p.ImageURL,
				CreatedAt:   now.Add(time.Duration(i)),
				UpdatedAt:   now,
			}
		}
		admin := storefront.StaticSession{Actor: domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}}
		customers := make([]storefront.Session, opts.customers)
		for i := range customers {
			customers[i] = storefront.StaticSession{Actor: domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}}
		}
		return backend.NewMemory(engine, catalog...), admin, customers, nil
	}

	h := backend.NewHTTP(opts.apiURL, nil)
	admin, err := h.Login(ctx, opts.email, opts.password)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("admin login: %w", err)
	}
	customers := make([]storefront.Session, opts.customers)
	for i := range customers {
		email := fmt.Sprintf("sim-%s@example.com", uuid.NewString()[:8])
		sess, err := h.Register(ctx, fmt.Sprintf("Customer %d", i+1), email, "simulate")
		if err != nil {
			return nil, nil, nil, err
		}
		customers[i] = sess
	}
	return h, admin, customers, nil
}

// shop runs one order through a random path and reports how it ended.
func shop(ctx context.Context, c *storefront.Client, sess, admin storefront.Session, products []domain.Product) string {
	cart := storefront.NewCart()
	for range 1 + rand.IntN(2) {
		p := products[rand.IntN(len(products))]
		if err := cart.Add(p, 1+rand.IntN(3)); err != nil {
			return "cart error: " + err.Error()
		}
	}

	order, err := c.Checkout(ctx, sess, cart, "")
	if err != nil {
		return "checkout failed: " + code(err)
	}

	if rand.IntN(5) == 0 {
		if _, err := c.Cancel(ctx, sess, order); err != nil {
			return "cancel failed: " + code(err)
		}
		return "canceled"
	}

	if _, err := c.SubmitPayment(ctx, sess, order, storefront.PaymentInput{Method: string(domain.MethodBankTransfer), ProofRef: "receipt-" + order.OrderNumber}); err != nil {
		return "payment failed: " + code(err)
	}
	if order, err = c.Order(ctx, sess, order.ID); err != nil {
		return "refresh failed: " + code(err)
	}

	if rand.IntN(4) == 0 {
		if _, _, err := c.RejectPayment(ctx, admin, order, "proof unreadable"); err != nil {
			return "reject failed: " + code(err)
		}
		return "payment rejected"
	}
	if _, order, err = c.VerifyPayment(ctx, admin, order); err != nil {
		return "verify failed: " + code(err)
	}
	if _, err := c.Complete(ctx, admin, order); err != nil {
		return "complete failed: " + code(err)
	}
	return "completed"
}

func code(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Code
	}
	logging.Base().Debug("unclassified error", "error", err)
	return "internal"
}
