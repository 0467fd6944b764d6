package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lealtad/loyalty-engine/ledger"
	"github.com/lealtad/loyalty-engine/store/memory"
)

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A customer with zero points
	// WHEN: A unit of work adjusts the balance, appends a movement, and
	//       then fails
	// THEN: Every write inside it is rolled back

	store := memory.New()
	ctx := context.Background()
	cust := &ledger.Customer{Name: "Ana"}
	require.NoError(t, store.CreateCustomer(ctx, cust))

	boom := fmt.Errorf("boom")
	err := store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.AdjustBalance(ctx, cust.ID, 100); err != nil {
			return err
		}
		tx := &ledger.Transaction{CustomerID: cust.ID, Kind: ledger.KindPurchase, Points: 100}
		if err := s.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Points)

	txs, err := store.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestWithTx_RollbackRestoresIDCounters(t *testing.T) {
	// A rolled-back insert must not burn an ID that a later insert would
	// then skip; the snapshot covers the counters too.

	store := memory.New()
	ctx := context.Background()

	_ = store.WithTx(ctx, func(s ledger.Store) error {
		c := &ledger.Customer{Name: "ghost"}
		if err := s.CreateCustomer(ctx, c); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})

	cust := &ledger.Customer{Name: "Ana"}
	require.NoError(t, store.CreateCustomer(ctx, cust))
	assert.Equal(t, int64(1), cust.ID)
}

func TestGetCustomer_ReturnsCopy(t *testing.T) {
	// Mutating a returned customer must not leak into the store.
	store := memory.New()
	ctx := context.Background()

	ref := int64(7)
	cust := &ledger.Customer{Name: "Ana", ReferredBy: &ref}
	require.NoError(t, store.CreateCustomer(ctx, cust))

	got, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	got.Name = "mutated"
	*got.ReferredBy = 99

	again, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", again.Name)
	assert.Equal(t, int64(7), *again.ReferredBy)
}

func TestAppendTransaction_DuplicateIdempotencyKey(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	cust := &ledger.Customer{Name: "Ana"}
	require.NoError(t, store.CreateCustomer(ctx, cust))

	mk := func() *ledger.Transaction {
		return &ledger.Transaction{CustomerID: cust.ID, Kind: ledger.KindPurchase,
			Points: 10, IdempotencyKey: "dup"}
	}
	require.NoError(t, store.AppendTransaction(ctx, mk()))
	assert.ErrorIs(t, store.AppendTransaction(ctx, mk()), ledger.ErrDuplicateSubmission)

	// Keyless movements never collide
	for i := 0; i < 2; i++ {
		tx := &ledger.Transaction{CustomerID: cust.ID, Kind: ledger.KindFirstPurchaseBonus, Points: 20}
		require.NoError(t, store.AppendTransaction(ctx, tx))
	}
}

func TestInsertCoupon_CodeUniqueness(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	coupon := &ledger.Coupon{CustomerID: 1, Code: "123456", Points: 50}
	require.NoError(t, store.InsertCoupon(ctx, coupon))

	dup := &ledger.Coupon{CustomerID: 2, Code: "123456", Points: 60}
	assert.ErrorIs(t, store.InsertCoupon(ctx, dup), ledger.ErrCodeTaken)

	// Deleting the coupon frees its code
	require.NoError(t, store.DeleteCoupon(ctx, coupon.ID))
	require.NoError(t, store.InsertCoupon(ctx, dup))
}

func TestMarkCouponRedeemed_ExactlyOnce(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	coupon := &ledger.Coupon{CustomerID: 1, Code: "123456", Points: 50}
	require.NoError(t, store.InsertCoupon(ctx, coupon))

	require.NoError(t, store.MarkCouponRedeemed(ctx, coupon.ID))
	assert.ErrorIs(t, store.MarkCouponRedeemed(ctx, coupon.ID), ledger.ErrCouponRedeemed)
	assert.ErrorIs(t, store.MarkCouponRedeemed(ctx, 999), ledger.ErrCouponNotFound)
}

func TestLatestCustomer(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	_, err := store.LatestCustomer(ctx)
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)

	require.NoError(t, store.CreateCustomer(ctx, &ledger.Customer{Name: "Ana"}))
	latest := &ledger.Customer{Name: "Berta"}
	require.NoError(t, store.CreateCustomer(ctx, latest))

	got, err := store.LatestCustomer(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.ID)
}

func TestExpiringCoupons_SortedSoonestFirst(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Now()

	mk := func(code string, days int, redeemed bool) {
		require.NoError(t, store.InsertCoupon(ctx, &ledger.Coupon{
			CustomerID: 1, Code: code, Points: 50,
			ExpiresAt: now.AddDate(0, 0, days), Redeemed: redeemed,
		}))
	}
	mk("100001", 40, false)
	mk("100002", 10, false)
	mk("100003", 60, false)
	mk("100004", 5, true)

	coupons, err := store.ExpiringCoupons(ctx, now.AddDate(0, 0, 45))
	require.NoError(t, err)
	require.Len(t, coupons, 2)
	assert.Equal(t, "100002", coupons[0].Code)
	assert.Equal(t, "100001", coupons[1].Code)
}
