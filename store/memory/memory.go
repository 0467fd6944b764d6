// Package memory provides an in-memory ledger.TxStore for tests and dev.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lealtad/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store implements ledger.TxStore entirely in memory. A single mutex
// serializes writers, which also makes WithTx trivially atomic via
// snapshot + restore.
type Store struct {
	mu sync.RWMutex

	customers    map[int64]ledger.Customer
	transactions map[int64]ledger.Transaction
	coupons      map[int64]ledger.Coupon
	codes        map[string]int64 // coupon code -> coupon ID
	idempotency  map[string]int64 // idempotency key -> transaction ID

	nextCustomerID    int64
	nextTransactionID int64
	nextCouponID      int64
}

var _ ledger.TxStore = (*Store)(nil)

func New() *Store {
	return &Store{
		customers:    make(map[int64]ledger.Customer),
		transactions: make(map[int64]ledger.Transaction),
		coupons:      make(map[int64]ledger.Coupon),
		codes:        make(map[string]int64),
		idempotency:  make(map[string]int64),
	}
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (m *Store) CreateCustomer(_ context.Context, c *ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCustomerLocked(c)
}

func (m *Store) createCustomerLocked(c *ledger.Customer) error {
	m.nextCustomerID++
	c.ID = m.nextCustomerID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.customers[c.ID] = cloneCustomer(*c)
	return nil
}

func (m *Store) GetCustomer(_ context.Context, id int64) (*ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCustomerLocked(id)
}

func (m *Store) getCustomerLocked(id int64) (*ledger.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, ledger.ErrCustomerNotFound
	}
	out := cloneCustomer(c)
	return &out, nil
}

func (m *Store) UpdateCustomer(_ context.Context, c *ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCustomerLocked(c)
}

func (m *Store) updateCustomerLocked(c *ledger.Customer) error {
	if _, ok := m.customers[c.ID]; !ok {
		return ledger.ErrCustomerNotFound
	}
	m.customers[c.ID] = cloneCustomer(*c)
	return nil
}

func (m *Store) DeleteCustomer(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[id]; !ok {
		return ledger.ErrCustomerNotFound
	}
	delete(m.customers, id)
	return nil
}

func (m *Store) ListCustomers(_ context.Context) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		out = append(out, cloneCustomer(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) LatestCustomer(_ context.Context) (*ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *ledger.Customer
	for _, c := range m.customers {
		if latest == nil || c.ID > latest.ID {
			cc := cloneCustomer(c)
			latest = &cc
		}
	}
	if latest == nil {
		return nil, ledger.ErrCustomerNotFound
	}
	return latest, nil
}

func (m *Store) AdjustBalance(_ context.Context, id int64, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustBalanceLocked(id, delta)
}

func (m *Store) adjustBalanceLocked(id int64, delta int64) error {
	c, ok := m.customers[id]
	if !ok {
		return ledger.ErrCustomerNotFound
	}
	c.Points += delta
	m.customers[id] = c
	return nil
}

func (m *Store) Referrer(_ context.Context, id int64) (*int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.referrerLocked(id)
}

func (m *Store) referrerLocked(id int64) (*int64, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, ledger.ErrCustomerNotFound
	}
	if c.ReferredBy == nil {
		return nil, nil
	}
	ref := *c.ReferredBy
	return &ref, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Store) AppendTransaction(_ context.Context, tx *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendTransactionLocked(tx)
}

func (m *Store) appendTransactionLocked(tx *ledger.Transaction) error {
	if tx.IdempotencyKey != "" {
		if _, exists := m.idempotency[tx.IdempotencyKey]; exists {
			return ledger.ErrDuplicateSubmission
		}
	}
	m.nextTransactionID++
	tx.ID = m.nextTransactionID
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	m.transactions[tx.ID] = cloneTransaction(*tx)
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = tx.ID
	}
	return nil
}

func (m *Store) GetTransaction(_ context.Context, id int64) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	out := cloneTransaction(tx)
	return &out, nil
}

func (m *Store) UpdateTransaction(_ context.Context, tx *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.ID]; !ok {
		return ledger.ErrTransactionNotFound
	}
	m.transactions[tx.ID] = cloneTransaction(*tx)
	return nil
}

func (m *Store) DeleteTransaction(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[id]; !ok {
		return ledger.ErrTransactionNotFound
	}
	delete(m.transactions, id)
	return nil
}

func (m *Store) ListTransactions(_ context.Context) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Transaction, 0, len(m.transactions))
	for _, tx := range m.transactions {
		out = append(out, cloneTransaction(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) TransactionsByCustomer(_ context.Context, customerID int64) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Transaction
	for _, tx := range m.transactions {
		if tx.CustomerID == customerID {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) CountPurchases(_ context.Context, customerID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countPurchasesLocked(customerID), nil
}

func (m *Store) countPurchasesLocked(customerID int64) int64 {
	var n int64
	for _, tx := range m.transactions {
		if tx.CustomerID == customerID && tx.Kind == ledger.KindPurchase {
			n++
		}
	}
	return n
}

// =============================================================================
// COUPONS
// =============================================================================

func (m *Store) InsertCoupon(_ context.Context, c *ledger.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertCouponLocked(c)
}

func (m *Store) insertCouponLocked(c *ledger.Coupon) error {
	if _, taken := m.codes[c.Code]; taken {
		return ledger.ErrCodeTaken
	}
	m.nextCouponID++
	c.ID = m.nextCouponID
	m.coupons[c.ID] = *c
	m.codes[c.Code] = c.ID
	return nil
}

func (m *Store) GetCoupon(_ context.Context, id int64) (*ledger.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCouponLocked(id)
}

func (m *Store) getCouponLocked(id int64) (*ledger.Coupon, error) {
	c, ok := m.coupons[id]
	if !ok {
		return nil, ledger.ErrCouponNotFound
	}
	out := c
	return &out, nil
}

func (m *Store) UpdateCoupon(_ context.Context, c *ledger.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.coupons[c.ID]
	if !ok {
		return ledger.ErrCouponNotFound
	}
	if c.Code != old.Code {
		if _, taken := m.codes[c.Code]; taken {
			return ledger.ErrCodeTaken
		}
		delete(m.codes, old.Code)
		m.codes[c.Code] = c.ID
	}
	m.coupons[c.ID] = *c
	return nil
}

func (m *Store) DeleteCoupon(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[id]
	if !ok {
		return ledger.ErrCouponNotFound
	}
	delete(m.codes, c.Code)
	delete(m.coupons, id)
	return nil
}

func (m *Store) ListCoupons(_ context.Context) ([]ledger.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Coupon, 0, len(m.coupons))
	for _, c := range m.coupons {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) CouponCodeExists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, taken := m.codes[code]
	return taken, nil
}

func (m *Store) MarkCouponRedeemed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markCouponRedeemedLocked(id)
}

func (m *Store) markCouponRedeemedLocked(id int64) error {
	c, ok := m.coupons[id]
	if !ok {
		return ledger.ErrCouponNotFound
	}
	if c.Redeemed {
		return ledger.ErrCouponRedeemed
	}
	c.Redeemed = true
	m.coupons[id] = c
	return nil
}

func (m *Store) ExpiringCoupons(_ context.Context, deadline time.Time) ([]ledger.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Coupon
	for _, c := range m.coupons {
		if !c.Redeemed && !c.ExpiresAt.After(deadline) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// =============================================================================
// TRANSACTIONAL UNIT OF WORK
// =============================================================================

// WithTx executes fn against a view of the store under one lock. On
// error the pre-transaction snapshot is restored, giving all-or-nothing
// semantics.
func (m *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	customers    map[int64]ledger.Customer
	transactions map[int64]ledger.Transaction
	coupons      map[int64]ledger.Coupon
	codes        map[string]int64
	idempotency  map[string]int64

	nextCustomerID    int64
	nextTransactionID int64
	nextCouponID      int64
}

func (m *Store) snapshot() memorySnapshot {
	s := memorySnapshot{
		customers:         make(map[int64]ledger.Customer, len(m.customers)),
		transactions:      make(map[int64]ledger.Transaction, len(m.transactions)),
		coupons:           make(map[int64]ledger.Coupon, len(m.coupons)),
		codes:             make(map[string]int64, len(m.codes)),
		idempotency:       make(map[string]int64, len(m.idempotency)),
		nextCustomerID:    m.nextCustomerID,
		nextTransactionID: m.nextTransactionID,
		nextCouponID:      m.nextCouponID,
	}
	for k, v := range m.customers {
		s.customers[k] = cloneCustomer(v)
	}
	for k, v := range m.transactions {
		s.transactions[k] = cloneTransaction(v)
	}
	for k, v := range m.coupons {
		s.coupons[k] = v
	}
	for k, v := range m.codes {
		s.codes[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Store) restore(s memorySnapshot) {
	m.customers = s.customers
	m.transactions = s.transactions
	m.coupons = s.coupons
	m.codes = s.codes
	m.idempotency = s.idempotency
	m.nextCustomerID = s.nextCustomerID
	m.nextTransactionID = s.nextTransactionID
	m.nextCouponID = s.nextCouponID
}

// txView exposes the parent's unlocked internals to the WithTx callback.
// The parent's mutex is already held for the whole transaction.
type txView struct {
	parent *Store
}

var _ ledger.Store = (*txView)(nil)

func (v *txView) CreateCustomer(_ context.Context, c *ledger.Customer) error {
	return v.parent.createCustomerLocked(c)
}

func (v *txView) GetCustomer(_ context.Context, id int64) (*ledger.Customer, error) {
	return v.parent.getCustomerLocked(id)
}

func (v *txView) UpdateCustomer(_ context.Context, c *ledger.Customer) error {
	return v.parent.updateCustomerLocked(c)
}

func (v *txView) DeleteCustomer(_ context.Context, id int64) error {
	if _, ok := v.parent.customers[id]; !ok {
		return ledger.ErrCustomerNotFound
	}
	delete(v.parent.customers, id)
	return nil
}

func (v *txView) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	out := make([]ledger.Customer, 0, len(v.parent.customers))
	for _, c := range v.parent.customers {
		out = append(out, cloneCustomer(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) LatestCustomer(ctx context.Context) (*ledger.Customer, error) {
	var latest *ledger.Customer
	for _, c := range v.parent.customers {
		if latest == nil || c.ID > latest.ID {
			cc := cloneCustomer(c)
			latest = &cc
		}
	}
	if latest == nil {
		return nil, ledger.ErrCustomerNotFound
	}
	return latest, nil
}

func (v *txView) AdjustBalance(_ context.Context, id int64, delta int64) error {
	return v.parent.adjustBalanceLocked(id, delta)
}

func (v *txView) Referrer(_ context.Context, id int64) (*int64, error) {
	return v.parent.referrerLocked(id)
}

func (v *txView) AppendTransaction(_ context.Context, tx *ledger.Transaction) error {
	return v.parent.appendTransactionLocked(tx)
}

func (v *txView) GetTransaction(_ context.Context, id int64) (*ledger.Transaction, error) {
	tx, ok := v.parent.transactions[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	out := cloneTransaction(tx)
	return &out, nil
}

func (v *txView) UpdateTransaction(_ context.Context, tx *ledger.Transaction) error {
	if _, ok := v.parent.transactions[tx.ID]; !ok {
		return ledger.ErrTransactionNotFound
	}
	v.parent.transactions[tx.ID] = cloneTransaction(*tx)
	return nil
}

func (v *txView) DeleteTransaction(_ context.Context, id int64) error {
	if _, ok := v.parent.transactions[id]; !ok {
		return ledger.ErrTransactionNotFound
	}
	delete(v.parent.transactions, id)
	return nil
}

func (v *txView) ListTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	out := make([]ledger.Transaction, 0, len(v.parent.transactions))
	for _, tx := range v.parent.transactions {
		out = append(out, cloneTransaction(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) TransactionsByCustomer(_ context.Context, customerID int64) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range v.parent.transactions {
		if tx.CustomerID == customerID {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) CountPurchases(_ context.Context, customerID int64) (int64, error) {
	return v.parent.countPurchasesLocked(customerID), nil
}

func (v *txView) InsertCoupon(_ context.Context, c *ledger.Coupon) error {
	return v.parent.insertCouponLocked(c)
}

func (v *txView) GetCoupon(_ context.Context, id int64) (*ledger.Coupon, error) {
	return v.parent.getCouponLocked(id)
}

func (v *txView) UpdateCoupon(_ context.Context, c *ledger.Coupon) error {
	old, ok := v.parent.coupons[c.ID]
	if !ok {
		return ledger.ErrCouponNotFound
	}
	if c.Code != old.Code {
		if _, taken := v.parent.codes[c.Code]; taken {
			return ledger.ErrCodeTaken
		}
		delete(v.parent.codes, old.Code)
		v.parent.codes[c.Code] = c.ID
	}
	v.parent.coupons[c.ID] = *c
	return nil
}

func (v *txView) DeleteCoupon(_ context.Context, id int64) error {
	c, ok := v.parent.coupons[id]
	if !ok {
		return ledger.ErrCouponNotFound
	}
	delete(v.parent.codes, c.Code)
	delete(v.parent.coupons, id)
	return nil
}

func (v *txView) ListCoupons(ctx context.Context) ([]ledger.Coupon, error) {
	out := make([]ledger.Coupon, 0, len(v.parent.coupons))
	for _, c := range v.parent.coupons {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) CouponCodeExists(_ context.Context, code string) (bool, error) {
	_, taken := v.parent.codes[code]
	return taken, nil
}

func (v *txView) MarkCouponRedeemed(_ context.Context, id int64) error {
	return v.parent.markCouponRedeemedLocked(id)
}

func (v *txView) ExpiringCoupons(_ context.Context, deadline time.Time) ([]ledger.Coupon, error) {
	var out []ledger.Coupon
	for _, c := range v.parent.coupons {
		if !c.Redeemed && !c.ExpiresAt.After(deadline) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// =============================================================================
// CLONING - Keep callers from aliasing stored pointers
// =============================================================================

func cloneCustomer(c ledger.Customer) ledger.Customer {
	if c.ReferredBy != nil {
		ref := *c.ReferredBy
		c.ReferredBy = &ref
	}
	return c
}

func cloneTransaction(tx ledger.Transaction) ledger.Transaction {
	if tx.Amount != nil {
		amount := *tx.Amount
		tx.Amount = &amount
	}
	return tx
}
