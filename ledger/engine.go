/*
engine.go - Orchestrated submission pipeline

PURPOSE:
  The Engine is the single entry point for points-affecting operations.
  SubmitTransaction sequences ledger-write -> bonus cascade -> coupon
  mint as discrete, explicit steps:

    1. Validate the submission for its kind.
    2. Inside ONE unit of work: record the primary movement (append +
       balance adjust), and for purchases run the bonus cascade. A
       bonus failure rolls back the primary record too - no partial
       bonus states.
    3. After commit: mint coupons best-effort for every customer that
       was credited (the purchaser, and the referrer when a referral
       bonus fired). Mint failures are logged and reported as "no
       coupon"; they never fail the submission.

FAILURE SEMANTICS:
  step 2 atomic and fatal, step 3 best-effort. The primary record
  always stands once step 2 commits, whatever minting does.

SEE ALSO:
  - ledger.go: The record write path
  - bonus.go:  First-purchase and referral bonuses
  - coupon.go: Minting and redemption
*/
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine orchestrates the points ledger, bonus rules, and coupon
// lifecycle over a transactional store.
type Engine struct {
	Store  TxStore
	Policy Policy
	Log    *slog.Logger

	// Now and Code are seams for deterministic tests.
	Now  func() time.Time
	Code func() string
}

// NewEngine creates an engine with the production policy.
func NewEngine(store TxStore) *Engine {
	e := &Engine{
		Store:  store,
		Policy: DefaultPolicy(),
		Log:    slog.Default(),
		Now:    time.Now,
	}
	e.Code = e.randomCode
	return e
}

// =============================================================================
// SUBMISSION - Tagged per-kind request
// =============================================================================

// Submission is a request to record a movement. Exactly one of the
// per-kind detail structs must be set, matching Kind: the dynamic
// form-shaped input of the original is replaced by a tagged variant
// rejected at the boundary when fields for the wrong kind are present.
type Submission struct {
	CustomerID int64
	Kind       Kind
	Purchase   *PurchaseInput
	Redemption *RedemptionInput
	Date       time.Time // movement date; zero means now

	// IdempotencyKey guards against double-recording on retries.
	IdempotencyKey string
}

// PurchaseInput carries the fields meaningful for a purchase (Compra).
type PurchaseInput struct {
	Amount decimal.Decimal
	Ticket string
	Rate   int64 // points multiplier; 0 means 1
	Points int64 // 0 means derive from Amount and Rate
}

// RedemptionInput carries the fields meaningful for a direct points
// spend (Canje).
type RedemptionInput struct {
	Points int64
}

func (sub *Submission) validate() error {
	if sub.CustomerID <= 0 {
		return &ValidationError{Field: "customer_id", Message: "must be a positive id"}
	}
	switch sub.Kind {
	case KindPurchase:
		if sub.Purchase == nil {
			return &ValidationError{Field: "purchase", Message: "required for kind purchase"}
		}
		if sub.Redemption != nil {
			return &ValidationError{Field: "redemption", Message: "not allowed for kind purchase"}
		}
		if sub.Purchase.Amount.IsNegative() {
			return &ValidationError{Field: "purchase.amount", Message: "must not be negative"}
		}
		if sub.Purchase.Rate < 0 {
			return &ValidationError{Field: "purchase.rate", Message: "must not be negative"}
		}
		if sub.Purchase.Points < 0 {
			return &ValidationError{Field: "purchase.points", Message: "must not be negative"}
		}
	case KindRedemption:
		if sub.Redemption == nil {
			return &ValidationError{Field: "redemption", Message: "required for kind redemption"}
		}
		if sub.Purchase != nil {
			return &ValidationError{Field: "purchase", Message: "not allowed for kind redemption"}
		}
		if sub.Redemption.Points <= 0 {
			return &ValidationError{Field: "redemption.points", Message: "must be positive"}
		}
	case KindFirstPurchaseBonus, KindReferralBonus:
		return &ValidationError{Field: "kind", Message: "bonus movements are derived by the engine, not submitted"}
	default:
		return &ValidationError{Field: "kind", Message: "unknown movement kind"}
	}
	return nil
}

// =============================================================================
// RESULT
// =============================================================================

// SubmitResult reports what a submission produced. ReferrerCoupon is
// populated when the referral bonus pushed the referrer over the coupon
// threshold in the same cascade.
type SubmitResult struct {
	TransactionID  int64
	Coupon         *Coupon // minted for the purchaser, nil if none
	ReferrerCoupon *Coupon // minted for the referrer, nil if none
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitTransaction records a movement and runs the full pipeline.
func (e *Engine) SubmitTransaction(ctx context.Context, sub Submission) (*SubmitResult, error) {
	if err := sub.validate(); err != nil {
		return nil, err
	}

	date := sub.Date
	if date.IsZero() {
		date = e.Now()
	}

	var (
		res        SubmitResult
		referrerID *int64
	)
	err := e.Store.WithTx(ctx, func(s Store) error {
		switch sub.Kind {
		case KindPurchase:
			rate := sub.Purchase.Rate
			if rate == 0 {
				rate = 1
			}
			points := sub.Purchase.Points
			if points == 0 {
				points = PurchasePoints(sub.Purchase.Amount, rate)
			}
			amount := sub.Purchase.Amount
			tx := Transaction{
				CustomerID:     sub.CustomerID,
				Kind:           KindPurchase,
				Amount:         &amount,
				Ticket:         sub.Purchase.Ticket,
				Points:         points,
				Rate:           rate,
				Date:           date,
				IdempotencyKey: sub.IdempotencyKey,
			}
			if err := e.record(ctx, s, &tx); err != nil {
				return err
			}
			res.TransactionID = tx.ID

			ref, err := e.applyBonuses(ctx, s, &tx)
			if err != nil {
				return err
			}
			referrerID = ref

		case KindRedemption:
			cust, err := s.GetCustomer(ctx, sub.CustomerID)
			if err != nil {
				return err
			}
			if cust.Points < sub.Redemption.Points {
				return &InsufficientBalanceError{
					CustomerID: sub.CustomerID,
					Available:  cust.Points,
					Requested:  sub.Redemption.Points,
				}
			}
			tx := Transaction{
				CustomerID:     sub.CustomerID,
				Kind:           KindRedemption,
				Points:         sub.Redemption.Points,
				Date:           date,
				IdempotencyKey: sub.IdempotencyKey,
			}
			if err := e.record(ctx, s, &tx); err != nil {
				return err
			}
			res.TransactionID = tx.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Redemptions never trigger bonus or coupon evaluation.
	if sub.Kind == KindPurchase {
		res.Coupon = e.mintBestEffort(ctx, sub.CustomerID)
		if referrerID != nil {
			res.ReferrerCoupon = e.mintBestEffort(ctx, *referrerID)
		}
	}
	return &res, nil
}
