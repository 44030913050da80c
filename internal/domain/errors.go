package domain

import (
	"errors"
	"fmt"
)

// ErrorKind groups business errors by how a caller should react to them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	// KindValidation is malformed or empty input. Never sent to the network.
	KindValidation
	// KindConflict is an expected business outcome. Surface it, don't retry it.
	KindConflict
	KindAuthorization
	KindNotFound
	// KindTransport is a network failure where the outcome is unknown.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

// Error is a classified business error. Two Errors match under errors.Is when
// their codes are equal, so a detailed copy still matches its sentinel.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), cause: e.cause}
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, cause: cause}
}

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrEmptyCart            = newError(KindValidation, "empty_cart", "cart is empty")
	ErrInvalidQuantity      = newError(KindValidation, "invalid_quantity", "quantity must be positive")
	ErrInvalidRequest       = newError(KindValidation, "invalid_request", "invalid request")
	ErrInvalidPaymentMethod = newError(KindValidation, "invalid_payment_method", "invalid payment method")
	ErrAmountOverflow       = newError(KindValidation, "amount_overflow", "amount overflows")

	ErrStockUnavailable     = newError(KindConflict, "stock_unavailable", "insufficient stock")
	ErrPaymentAlreadyExists = newError(KindConflict, "payment_already_exists", "payment already exists for this order")
	ErrOrderCanceled        = newError(KindConflict, "order_canceled", "order is canceled")
	ErrInvalidTransition    = newError(KindConflict, "invalid_transition", "invalid status transition")
	ErrRequestInProgress    = newError(KindConflict, "request_in_progress", "a request with this idempotency key is in progress")

	ErrForbidden       = newError(KindAuthorization, "forbidden", "access forbidden")
	ErrUnauthenticated = newError(KindAuthorization, "unauthenticated", "authentication required")

	ErrOrderNotFound   = newError(KindNotFound, "order_not_found", "order not found")
	ErrPaymentNotFound = newError(KindNotFound, "payment_not_found", "payment not found")
	ErrProductNotFound = newError(KindNotFound, "product_not_found", "product not found")
	ErrNotFound        = newError(KindNotFound, "not_found", "resource not found")

	ErrTransport = newError(KindTransport, "transport", "backend unreachable")
)

var codes = map[string]*Error{}

func init() {
	for _, e := range []*Error{
		ErrEmptyCart, ErrInvalidQuantity, ErrInvalidRequest, ErrInvalidPaymentMethod, ErrAmountOverflow,
		ErrStockUnavailable, ErrPaymentAlreadyExists, ErrOrderCanceled, ErrInvalidTransition, ErrRequestInProgress,
		ErrForbidden, ErrUnauthenticated,
		ErrOrderNotFound, ErrPaymentNotFound, ErrProductNotFound, ErrNotFound, ErrTransport,
	} {
		codes[e.Code] = e
	}
}

// ErrorForCode returns the sentinel registered for a wire code.
func ErrorForCode(code string) (*Error, bool) {
	e, ok := codes[code]
	return e, ok
}

// KindOf reports the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
