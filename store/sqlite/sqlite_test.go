package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lealtad/loyalty-engine/ledger"
	"github.com/lealtad/loyalty-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createCustomer(t *testing.T, store *sqlite.Store, name string) *ledger.Customer {
	t.Helper()
	cust := &ledger.Customer{Name: name}
	require.NoError(t, store.CreateCustomer(context.Background(), cust))
	return cust
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func TestCustomer_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref := createCustomer(t, store, "Rosa")
	cust := &ledger.Customer{
		Name:       "Ana",
		Phone:      "555-0101",
		Email:      "ana@example.com",
		Address:    "Calle 1",
		CanRefer:   true,
		ReferredBy: &ref.ID,
	}
	require.NoError(t, store.CreateCustomer(ctx, cust))
	require.NotZero(t, cust.ID)

	got, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
	assert.Equal(t, "555-0101", got.Phone)
	assert.Equal(t, "ana@example.com", got.Email)
	assert.True(t, got.CanRefer)
	require.NotNil(t, got.ReferredBy)
	assert.Equal(t, ref.ID, *got.ReferredBy)
	assert.Equal(t, int64(0), got.Points)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCustomer_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetCustomer(ctx, 42)
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)

	assert.ErrorIs(t, store.DeleteCustomer(ctx, 42), ledger.ErrCustomerNotFound)
	assert.ErrorIs(t, store.AdjustBalance(ctx, 42, 10), ledger.ErrCustomerNotFound)
	assert.ErrorIs(t, store.UpdateCustomer(ctx, &ledger.Customer{ID: 42, Name: "x"}), ledger.ErrCustomerNotFound)

	_, err = store.Referrer(ctx, 42)
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)

	_, err = store.LatestCustomer(ctx)
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}

func TestCustomer_Update(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cust := createCustomer(t, store, "Ana")

	cust.Name = "Ana Maria"
	cust.Phone = "555-0202"
	require.NoError(t, store.UpdateCustomer(ctx, cust))

	got, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", got.Name)
	assert.Equal(t, "555-0202", got.Phone)
}

func TestLatestCustomer(t *testing.T) {
	store := newTestStore(t)
	createCustomer(t, store, "Ana")
	latest := createCustomer(t, store, "Berta")

	got, err := store.LatestCustomer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.ID)
	assert.Equal(t, "Berta", got.Name)
}

func TestAdjustBalance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cust := createCustomer(t, store, "Ana")

	require.NoError(t, store.AdjustBalance(ctx, cust.ID, 60))
	require.NoError(t, store.AdjustBalance(ctx, cust.ID, -25))

	got, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(35), got.Points)
}

func TestReferrer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref := createCustomer(t, store, "Rosa")
	plain := createCustomer(t, store, "Ana")
	referred := &ledger.Customer{Name: "Carla", ReferredBy: &ref.ID}
	require.NoError(t, store.CreateCustomer(ctx, referred))

	got, err := store.Referrer(ctx, referred.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ref.ID, *got)

	got, err = store.Referrer(ctx, plain.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestTransaction_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cust := createCustomer(t, store, "Ana")

	amount := decimal.RequireFromString("123.45")
	tx := &ledger.Transaction{
		CustomerID:     cust.ID,
		Kind:           ledger.KindPurchase,
		Amount:         &amount,
		Ticket:         "T-001",
		Points:         12,
		Rate:           1,
		Date:           time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		IdempotencyKey: "key-1",
	}
	require.NoError(t, store.AppendTransaction(ctx, tx))
	require.NotZero(t, tx.ID)

	got, err := store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindPurchase, got.Kind)
	require.NotNil(t, got.Amount)
	assert.True(t, amount.Equal(*got.Amount), "amount survives the round trip exactly")
	assert.Equal(t, "T-001", got.Ticket)
	assert.Equal(t, int64(12), got.Points)
	assert.Equal(t, "key-1", got.IdempotencyKey)
}

func TestTransaction_DuplicateIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cust := createCustomer(t, store, "Ana")

	mk := func() *ledger.Transaction {
		return &ledger.Transaction{
			CustomerID: cust.ID, Kind: ledger.KindPurchase,
			Points: 10, Date: time.Now(), IdempotencyKey: "dup",
		}
	}
	require.NoError(t, store.AppendTransaction(ctx, mk()))
	assert.ErrorIs(t, store.AppendTransaction(ctx, mk()), ledger.ErrDuplicateSubmission)
}

func TestTransaction_EmptyKeysDoNotCollide(t *testing.T) {
	// Bonus movements carry no idempotency key; the partial unique index
	// must not treat two keyless rows as duplicates.
	store := newTestStore(t)
	ctx := context.Background()
	cust := createCustomer(t, store, "Ana")

	for i := 0; i < 2; i++ {
		tx := &ledger.Transaction{
			CustomerID: cust.ID, Kind: ledger.KindFirstPurchaseBonus,
			Points: 20, Date: time.Now(),
		}
		require.NoError(t, store.AppendTransaction(ctx, tx))
	}
}

func TestCountPurchases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cust := createCustomer(t, store, "Ana")

	kinds := []ledger.Kind{
		ledger.KindPurchase,
		ledger.KindFirstPurchaseBonus,
		ledger.KindPurchase,
		ledger.KindRedemption,
	}
	for i, kind := range kinds {
		tx := &ledger.Transaction{
			CustomerID: cust.ID, Kind: kind, Points: 10,
			Date: time.Now(), IdempotencyKey: fmt.Sprintf("k-%d", i),
		}
		require.NoError(t, store.AppendTransaction(ctx, tx))
	}

	n, err := store.CountPurchases(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "only purchase movements count")
}

// =============================================================================
// COUPONS
// =============================================================================

func insertCoupon(t *testing.T, store *sqlite.Store, customerID int64, code string) *ledger.Coupon {
	t.Helper()
	coupon := &ledger.Coupon{
		CustomerID: customerID, Code: code, Points: 50,
		CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().AddDate(0, 3, 0),
	}
	require.NoError(t, store.InsertCoupon(context.Background(), coupon))
	return coupon
}

func TestCoupon_DuplicateCode(t *testing.T) {
	store := newTestStore(t)
	cust := createCustomer(t, store, "Ana")
	insertCoupon(t, store, cust.ID, "123456")

	dup := &ledger.Coupon{
		CustomerID: cust.ID, Code: "123456", Points: 50,
		CreatedAt: time.Now(), ExpiresAt: time.Now(),
	}
	assert.ErrorIs(t, store.InsertCoupon(context.Background(), dup), ledger.ErrCodeTaken)

	taken, err := store.CouponCodeExists(context.Background(), "123456")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = store.CouponCodeExists(context.Background(), "654321")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestMarkCouponRedeemed_ExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cust := createCustomer(t, store, "Ana")
	coupon := insertCoupon(t, store, cust.ID, "123456")

	require.NoError(t, store.MarkCouponRedeemed(ctx, coupon.ID))
	assert.ErrorIs(t, store.MarkCouponRedeemed(ctx, coupon.ID), ledger.ErrCouponRedeemed)
	assert.ErrorIs(t, store.MarkCouponRedeemed(ctx, 999), ledger.ErrCouponNotFound)

	got, err := store.GetCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.True(t, got.Redeemed)
}

func TestExpiringCoupons_OrderedByDeadline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cust := createCustomer(t, store, "Ana")
	now := time.Now().UTC()

	mk := func(code string, expiresAt time.Time, redeemed bool) {
		coupon := &ledger.Coupon{
			CustomerID: cust.ID, Code: code, Points: 50,
			CreatedAt: now, ExpiresAt: expiresAt, Redeemed: redeemed,
		}
		require.NoError(t, store.InsertCoupon(ctx, coupon))
	}
	mk("300001", now.AddDate(0, 0, 30), false)
	mk("300002", now.AddDate(0, 0, 5), false)
	mk("300003", now.AddDate(0, 0, 90), false) // outside the window
	mk("300004", now.AddDate(0, 0, 2), true)   // redeemed

	coupons, err := store.ExpiringCoupons(ctx, now.AddDate(0, 0, 45))
	require.NoError(t, err)
	require.Len(t, coupons, 2)
	assert.Equal(t, "300002", coupons[0].Code)
	assert.Equal(t, "300001", coupons[1].Code)
}

// =============================================================================
// TRANSACTIONAL UNIT OF WORK
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cust := createCustomer(t, store, "Ana")

	boom := fmt.Errorf("boom")
	err := store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.AdjustBalance(ctx, cust.ID, 100); err != nil {
			return err
		}
		tx := &ledger.Transaction{
			CustomerID: cust.ID, Kind: ledger.KindPurchase,
			Points: 100, Date: time.Now(),
		}
		if err := s.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Points, "balance adjustment rolled back")

	txs, err := store.TransactionsByCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Empty(t, txs, "ledger append rolled back")
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cust := createCustomer(t, store, "Ana")

	err := store.WithTx(ctx, func(s ledger.Store) error {
		return s.AdjustBalance(ctx, cust.ID, 42)
	})
	require.NoError(t, err)

	got, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Points)
}

// =============================================================================
// ENGINE OVER SQLITE - end to end cascade
// =============================================================================

func TestEngine_ReferredFirstPurchase_OverSQLite(t *testing.T) {
	// GIVEN: Referrer R and customer C referred by R, backed by SQLite
	// WHEN: C's first purchase earns 60 points
	// THEN: C ends at 80 with an 80-point coupon, R ends at 40

	store := newTestStore(t)
	ctx := context.Background()

	engine := ledger.NewEngine(store)
	next := 500000
	engine.Code = func() string {
		code := fmt.Sprintf("%06d", next)
		next++
		return code
	}

	referrer := createCustomer(t, store, "Rosa")
	cust := &ledger.Customer{Name: "Carla", ReferredBy: &referrer.ID}
	require.NoError(t, store.CreateCustomer(ctx, cust))

	res, err := engine.SubmitTransaction(ctx, ledger.Submission{
		CustomerID: cust.ID,
		Kind:       ledger.KindPurchase,
		Purchase:   &ledger.PurchaseInput{Amount: decimal.NewFromInt(600)},
	})
	require.NoError(t, err)

	gotC, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(80), gotC.Points)

	gotR, err := store.GetCustomer(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), gotR.Points)

	require.NotNil(t, res.Coupon)
	assert.Equal(t, int64(80), res.Coupon.Points)
	assert.Nil(t, res.ReferrerCoupon)

	// Redeem the coupon: balance drops to zero, second redeem rejected
	redeemed, err := engine.RedeemCoupon(ctx, res.Coupon.ID)
	require.NoError(t, err)
	assert.True(t, redeemed.Redeemed)

	gotC, err = store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gotC.Points)

	_, err = engine.RedeemCoupon(ctx, res.Coupon.ID)
	assert.ErrorIs(t, err, ledger.ErrCouponRedeemed)
}
