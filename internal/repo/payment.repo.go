package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mini-oms/internal/domain"
)

type PaymentRepo interface {
	CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error
	// FindById loads a payment. With a tx the row is locked FOR UPDATE.
	FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error)
	// FindForOrder returns the order's pending or verified payment, falling
	// back to its latest rejected one.
	FindForOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, payment_number, order_id, method, proof_ref, amount, status, notes, verified_by, verified_at, created_at, updated_at`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p          domain.Payment
		method     string
		status     string
		verifiedBy uuid.NullUUID
		verifiedAt sql.NullTime
	)
	err := row.Scan(
		&p.ID,
		&p.PaymentNumber,
		&p.OrderID,
		&method,
		&p.ProofRef,
		&p.Amount,
		&status,
		&p.Notes,
		&verifiedBy,
		&verifiedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Status, err = domain.ParsePaymentStatus(status); err != nil {
		return nil, err
	}
	p.Method = domain.PaymentMethod(method)
	if verifiedBy.Valid {
		id := verifiedBy.UUID
		p.VerifiedBy = &id
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		p.VerifiedAt = &t
	}
	return &p, nil
}

func (r *paymentRepo) CreatePayment(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := tx.ExecContext(
		ctx, query,
		p.ID, p.PaymentNumber, p.OrderID, string(p.Method), p.ProofRef, p.Amount, string(p.Status), p.Notes,
		nullUUID(p.VerifiedBy), nullTime(p.VerifiedAt), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepo) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	if tx != nil {
		query += ` FOR UPDATE`
	}
	p, err := scanPayment(on(r.db, tx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment %s: %w", id, err)
	}
	return p, nil
}

func (r *paymentRepo) FindForOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1
		ORDER BY (status <> 'rejected') DESC, created_at DESC
		LIMIT 1
	`
	p, err := scanPayment(on(r.db, tx).QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment for order %s: %w", orderID, err)
	}
	return p, nil
}

func (r *paymentRepo) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	query := `
		UPDATE payments
		SET status = $2,
		    notes = $3,
		    verified_by = $4,
		    verified_at = $5,
		    updated_at = $6
		WHERE id = $1
	`
	res, err := tx.ExecContext(
		ctx,
		query,
		p.ID,
		string(p.Status),
		p.Notes,
		nullUUID(p.VerifiedBy),
		nullTime(p.VerifiedAt),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
