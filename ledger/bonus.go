/*
bonus.go - Derived bonus movements

PURPOSE:
  Secondary movements triggered by a primary purchase, applied inside
  the same unit of work so a bonus failure rolls the purchase back:

    1. First purchase (post-insert purchase count == 1): record a
       first-purchase bonus for the purchaser.
    2. If that customer was referred, record a referral bonus for the
       referrer.

  Each bonus re-enters the ledger write path in ledger.go and thus
  mutates the respective customer's balance like any other movement.

SEE ALSO:
  - engine.go: Runs this between record and mint
  - types.go:  Policy constants (defaults 20 / 40 points)
*/
package ledger

import "context"

// applyBonuses evaluates the bonus rules after a purchase has been
// recorded on s. Returns the referrer's ID when a referral bonus was
// credited, so the caller knows to evaluate coupons for them too.
func (e *Engine) applyBonuses(ctx context.Context, s Store, purchase *Transaction) (*int64, error) {
	first, err := isFirstPurchase(ctx, s, purchase.CustomerID)
	if err != nil {
		return nil, err
	}
	if !first {
		return nil, nil
	}

	if e.Policy.FirstPurchaseBonus > 0 {
		bonus := Transaction{
			CustomerID: purchase.CustomerID,
			Kind:       KindFirstPurchaseBonus,
			Points:     e.Policy.FirstPurchaseBonus,
			Date:       purchase.Date,
		}
		if err := e.record(ctx, s, &bonus); err != nil {
			return nil, err
		}
	}

	referrerID, err := s.Referrer(ctx, purchase.CustomerID)
	if err != nil {
		return nil, err
	}
	if referrerID == nil || e.Policy.ReferralBonus <= 0 {
		return nil, nil
	}

	// referred_by is a weak reference: if the referrer has since been
	// deleted, the purchase still stands and no referral bonus fires.
	if _, err := s.GetCustomer(ctx, *referrerID); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	referral := Transaction{
		CustomerID: *referrerID,
		Kind:       KindReferralBonus,
		Points:     e.Policy.ReferralBonus,
		Date:       purchase.Date,
	}
	if err := e.record(ctx, s, &referral); err != nil {
		return nil, err
	}
	return referrerID, nil
}
