package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a unique-constraint conflict, used
// by settlement as the storage-enforced duplicate-decrement barrier.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Not-found errors. Each missing entity has its own sentinel so callers can
// distinguish "retry later" (webhook race) from "reject" (bad request).
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrPaymentNotFound  = errors.New("payment not found")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrCategoryNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// Validation errors: bad input or an illegal state transition request. No
// partial state change has happened when one of these is returned.
var (
	ErrEmailTaken          = errors.New("email already registered")
	ErrSKUTaken            = errors.New("sku already exists")
	ErrPaymentExists       = errors.New("payment already exists for order")
	ErrProductReferenced   = errors.New("product is referenced by order items")
	ErrDuplicateSettlement = errors.New("order already settled")
	ErrIllegalTransition   = errors.New("illegal order status transition")
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	ErrOrderNotPayable     = errors.New("only pending orders can be paid")
	ErrInvalidCredentials  = errors.New("invalid email or password")
)

func IsValidation(err error) bool {
	return errors.Is(err, ErrEmailTaken) ||
		errors.Is(err, ErrSKUTaken) ||
		errors.Is(err, ErrPaymentExists) ||
		errors.Is(err, ErrProductReferenced) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrUnsupportedProvider) ||
		errors.Is(err, ErrOrderNotPayable)
}

// IllegalTransitionError names the rejected status pair.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal order status transition %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Payment/business errors: distinct from validation, carry operator context.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrRefundNotAllowed  = errors.New("refund requires a successful payment")
)

// InsufficientStockError aborts a settlement attempt with enough detail to
// diagnose which line item could not be covered.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Required    int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, required %d",
		e.ProductName, e.Available, e.Required)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
