package domain

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentVerified PaymentStatus = "verified"
	PaymentRejected PaymentStatus = "rejected"
)

// ParsePaymentStatus maps stored or wire values onto the closed set.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch s {
	case "pending":
		return PaymentPending, nil
	case "verified", "success", "paid":
		return PaymentVerified, nil
	case "rejected", "failed":
		return PaymentRejected, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// IsTerminal reports whether no further transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentVerified || s == PaymentRejected
}

func (s PaymentStatus) String() string { return string(s) }

type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodEWallet      PaymentMethod = "e-wallet"
	MethodCreditCard   PaymentMethod = "credit_card"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case MethodBankTransfer, MethodEWallet, MethodCreditCard:
		return m, nil
	}
	return "", ErrInvalidPaymentMethod.Withf("invalid payment method %q", s)
}

// NoProof is stored when the customer submits no proof reference.
const NoProof = "-"

type Payment struct {
	ID            uuid.UUID     `json:"id"`
	PaymentNumber string        `json:"payment_number"`
	OrderID       uuid.UUID     `json:"order_id"`
	Method        PaymentMethod `json:"method"`
	ProofRef      string        `json:"proof_ref"`
	Amount        int64         `json:"amount"`
	Status        PaymentStatus `json:"status"`
	Notes         string        `json:"notes,omitempty"`
	VerifiedBy    *uuid.UUID    `json:"verified_by,omitempty"`
	VerifiedAt    *time.Time    `json:"verified_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// IsActive reports whether the payment blocks a new payment on its order.
func (p *Payment) IsActive() bool {
	return p != nil && p.Status != PaymentRejected
}

// NewPaymentNumber returns PAY-YYYYMMDD-HHMMSS-NNNN.
func NewPaymentNumber(now time.Time) string {
	return fmt.Sprintf("PAY-%s-%04d", now.Format("20060102-150405"), rand.IntN(10000))
}
