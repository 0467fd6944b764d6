/*
Package ledger implements the loyalty points and coupon engine.

PURPOSE:
  This package contains the core business logic of the rewards program:
  customers with a points balance, an append-only movement ledger that
  drives every balance change, bonus rules that spawn secondary movements
  (first-purchase bonus, referral bonus), and the coupon lifecycle
  (mint when the balance crosses the threshold, redeem exactly once).

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer: a store member with a points balance and optional referrer
  - Transaction: an immutable ledger entry recording a points change
  - Coupon: a minted, time-limited voucher with a snapshotted value
  - Policy: the reward constants (bonus sizes, coupon threshold, ...)

DESIGN PRINCIPLES:
  1. Immutability: Transactions are history; edits never replay balances
  2. Precision: Monetary amounts use decimal.Decimal, never float64
  3. Explicit sequencing: the submission pipeline is ordered steps inside
     one unit of work, not an accident of call order

SEE ALSO:
  - engine.go:  Orchestrated submission pipeline
  - bonus.go:   Bonus cascade rules
  - coupon.go:  Coupon minting and redemption
  - store.go:   Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION KIND - What a movement does to the balance
// =============================================================================

// Kind enumerates the points-affecting movement types.
// The Spanish names are the ones customers see on receipts
// (Compra, Canje, Bono por primera compra, Bono por referido).
type Kind string

const (
	KindPurchase           Kind = "purchase"             // Compra: earns points
	KindRedemption         Kind = "redemption"           // Canje: spends points directly
	KindFirstPurchaseBonus Kind = "first_purchase_bonus" // Bono por primera compra
	KindReferralBonus      Kind = "referral_bonus"       // Bono por referido
)

// Valid reports whether k is a known movement kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindRedemption, KindFirstPurchaseBonus, KindReferralBonus:
		return true
	}
	return false
}

// Earns reports whether the kind adds points to the balance.
// Redemption is the only kind that spends.
func (k Kind) Earns() bool { return k != KindRedemption }

// SignedDelta returns the balance delta a movement of this kind applies.
// Purchases and bonuses credit points; redemptions debit them.
func (k Kind) SignedDelta(points int64) int64 {
	if k == KindRedemption {
		return -points
	}
	return points
}

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer is a store member participating in the rewards program.
// Points is the running balance; it is only ever mutated through the
// ledger (movements) or a coupon redemption.
type Customer struct {
	ID         int64
	Name       string
	Phone      string
	Email      string
	Address    string
	Points     int64
	CanRefer   bool
	ReferredBy *int64 // weak reference to another customer, nil if none
	CreatedAt  time.Time
}

// =============================================================================
// TRANSACTION - Immutable movement in the points ledger
// =============================================================================

// Transaction records a single points-affecting event. Once its balance
// effect has been applied it is history: admin edits via the store's
// UpdateTransaction never recompute balances.
type Transaction struct {
	ID         int64
	CustomerID int64
	Kind       Kind
	Amount     *decimal.Decimal // monetary value, only set for purchases
	Ticket     string           // receipt reference, optional
	Points     int64            // unsigned magnitude; sign comes from Kind
	Rate       int64            // points multiplier used for purchases
	Date       time.Time

	// IdempotencyKey is set on externally submitted movements so network
	// retries cannot double-record. Bonus movements carry none.
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// COUPON
// =============================================================================

// Coupon is a minted voucher. Points is a snapshot of the customer's
// balance at mint time and is never re-derived; redeeming the coupon
// deducts exactly this snapshot.
type Coupon struct {
	ID         int64
	CustomerID int64
	Code       string // unique 6-digit numeric code
	Points     int64
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Redeemed   bool
}

// Expired reports whether the coupon has passed its expiration date.
func (c Coupon) Expired(now time.Time) bool { return now.After(c.ExpiresAt) }

// =============================================================================
// POLICY - Reward program constants
// =============================================================================

// Policy holds the program's reward constants. The store ran these as
// hard-coded values; here they are injected so deployments can tune them.
type Policy struct {
	FirstPurchaseBonus   int64 // points awarded on a customer's first purchase
	ReferralBonus        int64 // points awarded to the referrer of that customer
	CouponThreshold      int64 // minimum balance that mints a coupon
	CouponLifetimeMonths int   // calendar months until a minted coupon expires
	CodeMin              int   // inclusive lower bound of the coupon code range
	CodeMax              int   // inclusive upper bound of the coupon code range
	CodeRetries          int   // redraw budget before minting gives up
}

// DefaultPolicy returns the production constants.
func DefaultPolicy() Policy {
	return Policy{
		FirstPurchaseBonus:   20,
		ReferralBonus:        40,
		CouponThreshold:      50,
		CouponLifetimeMonths: 3,
		CodeMin:              100000,
		CodeMax:              999999,
		CodeRetries:          5,
	}
}

// =============================================================================
// POINT COMPUTATION
// =============================================================================

// pointsBase is the fraction of the purchase amount converted to points
// before the rate multiplier is applied.
var pointsBase = decimal.NewFromFloat(0.1)

// PurchasePoints computes the points earned by a purchase:
// round(amount * 0.1) * rate.
func PurchasePoints(amount decimal.Decimal, rate int64) int64 {
	return amount.Mul(pointsBase).Round(0).IntPart() * rate
}
