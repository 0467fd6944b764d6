/*
coupon.go - Coupon minting and redemption

PURPOSE:
  A coupon is minted for a customer whenever a points-earning cascade
  settles with their balance at or above the threshold. Minting
  snapshots the balance as the coupon's value and does NOT deduct it -
  a customer can accumulate several coupons across purchases.

CODE GENERATION:
  Codes are 6-digit numeric strings drawn uniformly from
  [CodeMin, CodeMax]. The draw is retried on collision with a bounded
  budget; exhaustion surfaces ErrCodeExhausted instead of looping
  forever. The store's unique index is the last line of defense when
  two mints race to the same code.

REDEMPTION:
  Exactly-once: flips redeemed false -> true and deducts the coupon's
  snapshotted value (not the current balance) from the owner. A second
  redemption fails with ErrCouponRedeemed, and a redemption that would
  drive the balance negative fails with ErrInsufficientBalance.

SEE ALSO:
  - engine.go: Calls mintBestEffort after the submission commits
  - store.go:  CouponStore contract
*/
package ledger

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"
)

// =============================================================================
// MINTING
// =============================================================================

// MintCouponIfEligible mints a coupon when the customer's current
// balance is at or above the policy threshold. Returns (nil, nil) when
// the balance does not qualify; minting has no side effect in that case.
func (e *Engine) MintCouponIfEligible(ctx context.Context, customerID int64) (*Coupon, error) {
	var minted *Coupon
	err := e.Store.WithTx(ctx, func(s Store) error {
		cust, err := s.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if cust.Points < e.Policy.CouponThreshold {
			return nil
		}

		now := e.Now()
		coupon := &Coupon{
			CustomerID: customerID,
			Points:     cust.Points, // snapshot, fixed at mint time
			CreatedAt:  now,
			ExpiresAt:  now.AddDate(0, e.Policy.CouponLifetimeMonths, 0),
		}
		for attempt := 0; attempt < e.Policy.CodeRetries; attempt++ {
			coupon.Code = e.Code()
			taken, err := s.CouponCodeExists(ctx, coupon.Code)
			if err != nil {
				return err
			}
			if taken {
				continue
			}
			err = s.InsertCoupon(ctx, coupon)
			if errors.Is(err, ErrCodeTaken) {
				continue // lost a race on the unique index, redraw
			}
			if err != nil {
				return err
			}
			minted = coupon
			return nil
		}
		return ErrCodeExhausted
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// mintBestEffort wraps MintCouponIfEligible for the submission
// pipeline: failures are logged and reported as "no coupon produced",
// never propagated into the enclosing submission.
func (e *Engine) mintBestEffort(ctx context.Context, customerID int64) *Coupon {
	coupon, err := e.MintCouponIfEligible(ctx, customerID)
	if err != nil {
		e.Log.Error("coupon mint failed",
			"customer_id", customerID,
			"error", err)
		return nil
	}
	return coupon
}

// randomCode draws a code uniformly from [CodeMin, CodeMax].
func (e *Engine) randomCode() string {
	span := e.Policy.CodeMax - e.Policy.CodeMin + 1
	return strconv.Itoa(e.Policy.CodeMin + rand.Intn(span))
}

// =============================================================================
// REDEMPTION
// =============================================================================

// RedeemCoupon marks the coupon redeemed and deducts its snapshotted
// value from the owning customer's balance, atomically.
func (e *Engine) RedeemCoupon(ctx context.Context, couponID int64) (*Coupon, error) {
	var redeemed *Coupon
	err := e.Store.WithTx(ctx, func(s Store) error {
		coupon, err := s.GetCoupon(ctx, couponID)
		if err != nil {
			return err
		}
		if coupon.Redeemed {
			return ErrCouponRedeemed
		}

		cust, err := s.GetCustomer(ctx, coupon.CustomerID)
		if err != nil {
			return err
		}
		if cust.Points < coupon.Points {
			return &InsufficientBalanceError{
				CustomerID: coupon.CustomerID,
				Available:  cust.Points,
				Requested:  coupon.Points,
			}
		}

		if err := s.MarkCouponRedeemed(ctx, coupon.ID); err != nil {
			return err
		}
		if err := s.AdjustBalance(ctx, coupon.CustomerID, -coupon.Points); err != nil {
			return err
		}
		coupon.Redeemed = true
		redeemed = coupon
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redeemed, nil
}

// =============================================================================
// EXPIRATION QUERIES
// =============================================================================

// ExpiringCoupons returns unredeemed coupons that expire within the
// horizon, soonest first. The dashboard uses a 45-day horizon to drive
// reminder outreach.
func (e *Engine) ExpiringCoupons(ctx context.Context, within time.Duration) ([]Coupon, error) {
	return e.Store.ExpiringCoupons(ctx, e.Now().Add(within))
}
