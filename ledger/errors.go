/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (the HTTP layer in particular) match with errors.Is and map
  each category to its own response class.

ERROR CATEGORIES:
  1. Not-found errors   - referenced customer/transaction/coupon absent
  2. Validation errors  - malformed or incomplete submissions
  3. Conflict errors    - double redemption, duplicate submission,
                          coupon code space exhausted
  4. Balance errors     - operations that would drive a balance negative

SEE ALSO:
  - engine.go:  Returns these from the submission pipeline
  - coupon.go:  Returns these from mint/redeem
  - api/handlers.go: Maps them to HTTP statuses
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCustomerNotFound is returned when a referenced customer does not exist.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrTransactionNotFound is returned when a referenced movement does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrCouponNotFound is returned when a referenced coupon does not exist.
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrCouponRedeemed is returned when redeeming a coupon that was
	// already redeemed. Redemption is exactly-once, never a silent no-op.
	ErrCouponRedeemed = errors.New("coupon already redeemed")

	// ErrInsufficientBalance is returned when a redemption (direct or via
	// coupon) would drive the customer's balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrCodeExhausted is returned when coupon code generation ran out of
	// retries without finding a free code.
	ErrCodeExhausted = errors.New("coupon code space exhausted")

	// ErrCodeTaken is returned by stores when inserting a coupon whose
	// code already exists. The mint loop retries on it.
	ErrCodeTaken = errors.New("coupon code already taken")

	// ErrDuplicateSubmission is returned when a submission reuses an
	// idempotency key that was already recorded.
	ErrDuplicateSubmission = errors.New("duplicate submission")

	// ErrValidation is the base error every ValidationError unwraps to.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed or incomplete submission field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientBalanceError reports how short a redemption fell.
type InsufficientBalanceError struct {
	CustomerID int64
	Available  int64
	Requested  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for customer %d: available %d, requested %d",
		e.CustomerID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrCouponNotFound)
}

// IsClientError reports whether the error is due to invalid client input
// rather than a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrCouponRedeemed) ||
		errors.Is(err, ErrDuplicateSubmission)
}
