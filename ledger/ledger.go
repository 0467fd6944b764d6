/*
ledger.go - The movement write path

PURPOSE:
  Every points-affecting event flows through record(): append the
  immutable movement, then apply its signed balance effect. Primary
  purchases, redemptions, and both bonus kinds all take this exact
  path, so a balance can always be explained by the movement history.

ORDERING:
  The balance adjustment for a movement is applied before any
  first-purchase counting happens, and both run inside the same unit
  of work (see engine.go). That makes the COUNT(*)==1 check
  linearizable with the insert that triggered it: two concurrent first
  purchases for the same customer cannot both observe count==1.

SEE ALSO:
  - engine.go: The submission pipeline that drives this
  - bonus.go:  Derived movements that re-enter this path
*/
package ledger

import "context"

// record appends a movement and applies its balance effect. The two
// writes must happen on the same Store view so the enclosing unit of
// work covers both.
func (e *Engine) record(ctx context.Context, s Store, tx *Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = e.Now()
	}
	if err := s.AppendTransaction(ctx, tx); err != nil {
		return err
	}
	return s.AdjustBalance(ctx, tx.CustomerID, tx.Kind.SignedDelta(tx.Points))
}

// isFirstPurchase reports whether the purchase that was just recorded
// on this Store view is the customer's first. Pre-insert the customer
// had zero purchases, so the post-insert count is exactly one.
func isFirstPurchase(ctx context.Context, s Store, customerID int64) (bool, error) {
	n, err := s.CountPurchases(ctx, customerID)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
