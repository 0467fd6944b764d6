/*
store.go - Persistence interfaces for customers, movements, and coupons

PURPOSE:
  Defines the interface between the domain logic and the database. The
  three component interfaces mirror the logical tables (customers,
  transactions, coupons); Store composes them, and TxStore adds the
  transactional unit of work the submission pipeline runs inside.

BALANCE CONTRACT:
  AdjustBalance applies `points = points + delta` as a single atomic
  statement. There is deliberately no lower-bound clamp at this level;
  the engine checks balances before debiting so the check and its error
  stay business logic, not storage behavior.

APPEND-ONLY CONTRACT:
  AppendTransaction is the only write that affects history going
  forward. UpdateTransaction and DeleteTransaction exist for admin
  corrections and never touch balances.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - store/memory: in-memory store for tests and dev

SEE ALSO:
  - engine.go: Composes these into the submission pipeline
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// CUSTOMER STORE
// =============================================================================

// CustomerStore persists customers and their points balance.
type CustomerStore interface {
	// CreateCustomer inserts a customer and assigns its ID.
	CreateCustomer(ctx context.Context, c *Customer) error

	// GetCustomer returns the customer or ErrCustomerNotFound.
	GetCustomer(ctx context.Context, id int64) (*Customer, error)

	// UpdateCustomer overwrites the customer's profile fields.
	// Returns ErrCustomerNotFound if absent.
	UpdateCustomer(ctx context.Context, c *Customer) error

	// DeleteCustomer removes the customer. Movements and coupons that
	// reference it are left in place (no cascade).
	DeleteCustomer(ctx context.Context, id int64) error

	// ListCustomers returns all customers ordered by ID.
	ListCustomers(ctx context.Context) ([]Customer, error)

	// LatestCustomer returns the most recently created customer, or
	// ErrCustomerNotFound when the table is empty. The registration flow
	// uses it to link a freshly created customer to its referral code.
	LatestCustomer(ctx context.Context) (*Customer, error)

	// AdjustBalance atomically adds delta (positive or negative) to the
	// customer's points. Returns ErrCustomerNotFound if absent.
	AdjustBalance(ctx context.Context, id int64, delta int64) error

	// Referrer returns the referred-by customer ID, or nil when the
	// customer was not referred. Returns ErrCustomerNotFound if absent.
	Referrer(ctx context.Context, id int64) (*int64, error)
}

// =============================================================================
// TRANSACTION STORE - The movement ledger
// =============================================================================

// TransactionStore persists the points movement ledger.
type TransactionStore interface {
	// AppendTransaction inserts a movement and assigns its ID. Returns
	// ErrDuplicateSubmission when the idempotency key already exists.
	AppendTransaction(ctx context.Context, tx *Transaction) error

	// GetTransaction returns the movement or ErrTransactionNotFound.
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)

	// UpdateTransaction overwrites a movement's fields. This is an admin
	// correction: balances are NOT recomputed.
	UpdateTransaction(ctx context.Context, tx *Transaction) error

	// DeleteTransaction removes a movement. Admin use only; balances are
	// NOT recomputed.
	DeleteTransaction(ctx context.Context, id int64) error

	// ListTransactions returns all movements ordered by ID.
	ListTransactions(ctx context.Context) ([]Transaction, error)

	// TransactionsByCustomer returns a customer's movements ordered by ID.
	TransactionsByCustomer(ctx context.Context, customerID int64) ([]Transaction, error)

	// CountPurchases returns how many purchase movements the customer
	// has. Counted right after a purchase insert, ==1 means that insert
	// was the customer's first purchase.
	CountPurchases(ctx context.Context, customerID int64) (int64, error)
}

// =============================================================================
// COUPON STORE
// =============================================================================

// CouponStore persists coupons and enforces code uniqueness.
type CouponStore interface {
	// InsertCoupon inserts a coupon and assigns its ID. Returns
	// ErrCodeTaken when the code collides with an existing coupon.
	InsertCoupon(ctx context.Context, c *Coupon) error

	// GetCoupon returns the coupon or ErrCouponNotFound.
	GetCoupon(ctx context.Context, id int64) (*Coupon, error)

	// UpdateCoupon overwrites a coupon's fields (admin correction).
	UpdateCoupon(ctx context.Context, c *Coupon) error

	// DeleteCoupon removes a coupon (admin action).
	DeleteCoupon(ctx context.Context, id int64) error

	// ListCoupons returns all coupons ordered by ID.
	ListCoupons(ctx context.Context) ([]Coupon, error)

	// CouponCodeExists reports whether any coupon carries the code.
	CouponCodeExists(ctx context.Context, code string) (bool, error)

	// MarkCouponRedeemed flips redeemed false -> true. Returns
	// ErrCouponRedeemed if the coupon was already redeemed and
	// ErrCouponNotFound if absent. The conditional update makes
	// redemption exactly-once even under concurrent calls.
	MarkCouponRedeemed(ctx context.Context, id int64) error

	// ExpiringCoupons returns unredeemed coupons expiring at or before
	// the deadline, soonest expiration first.
	ExpiringCoupons(ctx context.Context, deadline time.Time) ([]Coupon, error)
}

// =============================================================================
// COMPOSED STORE + TRANSACTIONAL UNIT OF WORK
// =============================================================================

// Store is the full persistence surface of the engine.
type Store interface {
	CustomerStore
	TransactionStore
	CouponStore
}

// TxStore wraps Store with an all-or-nothing unit of work. The
// submission pipeline (record + balance adjust + bonus cascade) runs
// inside WithTx so a bonus failure rolls back the primary record too.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error,
	// every write made through its Store view is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
