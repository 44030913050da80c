package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"mini-oms/internal/domain"
)

type OrderRepo interface {
	// FindById loads the order with its lines. With a tx the row is locked FOR UPDATE.
	FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	// FindWithPayment loads the order, its lines and its current payment. The
	// order row and the payment row come from one statement, so they always
	// reflect the same committed transition.
	FindWithPayment(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	// List returns orders newest first with their current payments, restricted
	// to userID unless it is uuid.Nil.
	List(ctx context.Context, userID uuid.UUID) ([]domain.Order, error)
	Stats(ctx context.Context) (domain.OrderStats, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, order_number, user_id, total, status, notes, created_at, updated_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Total, &status, &o.Notes, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := domain.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}
	o.Status = st
	return &o, nil
}

// currentPayment joins the order's pending or verified payment, falling back
// to its latest rejected one.
const currentPayment = `
	LEFT JOIN LATERAL (
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE payments.order_id = o.id
		ORDER BY (status <> 'rejected') DESC, created_at DESC
		LIMIT 1
	) p ON true`

const orderWithPaymentColumns = `o.id, o.order_number, o.user_id, o.total, o.status, o.notes, o.created_at, o.updated_at,
	p.id, p.payment_number, p.order_id, p.method, p.proof_ref, p.amount, p.status, p.notes,
	p.verified_by, p.verified_at, p.created_at, p.updated_at`

func scanOrderWithPayment(row rowScanner) (*domain.Order, error) {
	var (
		o          domain.Order
		status     string
		pid        uuid.NullUUID
		number     sql.NullString
		orderID    uuid.NullUUID
		method     sql.NullString
		proof      sql.NullString
		amount     sql.NullInt64
		pstatus    sql.NullString
		notes      sql.NullString
		verifiedBy uuid.NullUUID
		verifiedAt sql.NullTime
		created    sql.NullTime
		updated    sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Total, &status, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
		&pid, &number, &orderID, &method, &proof, &amount, &pstatus, &notes,
		&verifiedBy, &verifiedAt, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if o.Status, err = domain.ParseOrderStatus(status); err != nil {
		return nil, err
	}
	if !pid.Valid {
		return &o, nil
	}
	p := &domain.Payment{
		ID:            pid.UUID,
		PaymentNumber: number.String,
		OrderID:       orderID.UUID,
		Method:        domain.PaymentMethod(method.String),
		ProofRef:      proof.String,
		Amount:        amount.Int64,
		Notes:         notes.String,
		CreatedAt:     created.Time,
		UpdatedAt:     updated.Time,
	}
	if p.Status, err = domain.ParsePaymentStatus(pstatus.String); err != nil {
		return nil, err
	}
	if verifiedBy.Valid {
		id := verifiedBy.UUID
		p.VerifiedBy = &id
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		p.VerifiedAt = &t
	}
	o.Payment = p
	return &o, nil
}

func (r *orderRepo) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if tx != nil {
		query += ` FOR UPDATE`
	}
	q := on(r.db, tx)
	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", id, err)
	}

	lines, err := r.lines(ctx, q, `WHERE order_id = $1`, id)
	if err != nil {
		return nil, err
	}
	order.Lines = lines[id]
	return order, nil
}

func (r *orderRepo) FindWithPayment(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrderWithPayment(r.db.QueryRowContext(ctx,
		`SELECT `+orderWithPaymentColumns+` FROM orders o`+currentPayment+` WHERE o.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", id, err)
	}

	// lines never change after insert
	lines, err := r.lines(ctx, r.db, `WHERE order_id = $1`, id)
	if err != nil {
		return nil, err
	}
	order.Lines = lines[id]
	return order, nil
}

// lines loads order items matching where, grouped by order id.
func (r *orderRepo) lines(ctx context.Context, q querier, where string, args ...any) (map[uuid.UUID][]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT order_id, product_id, product_name, product_price, quantity, subtotal
		   FROM order_items `+where+` ORDER BY order_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.OrderLine)
	for rows.Next() {
		var (
			orderID uuid.UUID
			l       domain.OrderLine
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.ProductName, &l.ProductPrice, &l.Quantity, &l.Subtotal); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], l)
	}
	return out, rows.Err()
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		order.ID, order.OrderNumber, order.UserID, order.Total, string(order.Status), order.Notes, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	for i, l := range order.Lines {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, position, product_id, product_name, product_price, quantity, subtotal)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			order.ID, i, l.ProductID, l.ProductName, l.ProductPrice, l.Quantity, l.Subtotal,
		)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}
	return nil
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3",
		string(order.Status), order.UpdatedAt, order.ID,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepo) List(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	var (
		rows  *sql.Rows
		err   error
		lines map[uuid.UUID][]domain.OrderLine
	)
	if userID == uuid.Nil {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+orderWithPaymentColumns+` FROM orders o`+currentPayment+` ORDER BY o.created_at DESC`)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+orderWithPaymentColumns+` FROM orders o`+currentPayment+` WHERE o.user_id = $1 ORDER BY o.created_at DESC`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrderWithPayment(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if userID == uuid.Nil {
		lines, err = r.lines(ctx, r.db, ``)
	} else {
		lines, err = r.lines(ctx, r.db, `WHERE order_id IN (SELECT id FROM orders WHERE user_id = $1)`, userID)
	}
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

// Stats counts every order, sums revenue over orders that were not canceled,
// and counts pending payments.
func (r *orderRepo) Stats(ctx context.Context) (domain.OrderStats, error) {
	var s domain.OrderStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM orders),
			(SELECT COALESCE(sum(total), 0) FROM orders WHERE status <> 'canceled'),
			(SELECT count(*) FROM payments WHERE status = 'pending')
	`).Scan(&s.TotalOrders, &s.TotalRevenue, &s.PendingPayments)
	if err != nil {
		return domain.OrderStats{}, fmt.Errorf("order stats: %w", err)
	}
	return s, nil
}
