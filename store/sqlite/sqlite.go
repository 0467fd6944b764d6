/*
Package sqlite provides the SQLite-backed implementation of the
storage interfaces.

PURPOSE:
  Implements ledger.TxStore over SQLite via sqlx. The same SQL shapes
  apply to PostgreSQL with only placeholder and dialect differences.

KEY TABLES:
  customers:    profile fields + the points balance column
  transactions: the movement ledger (compras, canjes, bonos)
  coupons:      minted coupons, UNIQUE index on code

BALANCE UPDATES:
  AdjustBalance is a single `points = points + ?` statement, never a
  read-then-write pair, so concurrent adjustments cannot lose updates.

CONCURRENCY:
  The pool is capped at one open connection. SQLite allows a single
  writer anyway; the cap serializes units of work without an extra
  mutex layer, and WAL keeps readers unblocked in other processes.

WAL MODE:
  Opened with _journal_mode=WAL for better concurrency and crash
  recovery.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")   // or ":memory:"
  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface contracts
  - store/memory:    In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/lealtad/loyalty-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sqlx.DB
	session
}

var _ ledger.TxStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer; see the package comment.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, session: session{ext: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT NOT NULL,
		phone       TEXT NOT NULL DEFAULT '',
		email       TEXT NOT NULL DEFAULT '',
		address     TEXT NOT NULL DEFAULT '',
		points      INTEGER NOT NULL DEFAULT 0,
		can_refer   INTEGER NOT NULL DEFAULT 0,
		referred_by INTEGER,
		created_at  DATETIME NOT NULL
	);

	-- The movement ledger. customer_id is deliberately not a foreign
	-- key: movements outlive their customer (no cascade).
	CREATE TABLE IF NOT EXISTS transactions (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id     INTEGER NOT NULL,
		kind            TEXT NOT NULL,
		amount          TEXT,
		ticket          TEXT NOT NULL DEFAULT '',
		points          INTEGER NOT NULL,
		rate            INTEGER NOT NULL DEFAULT 0,
		date            DATETIME NOT NULL,
		idempotency_key TEXT,
		created_at      DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_customer
		ON transactions(customer_id);

	-- Hot path: the first-purchase count right after a purchase insert.
	CREATE INDEX IF NOT EXISTS idx_transactions_customer_kind
		ON transactions(customer_id, kind);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS coupons (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		code        TEXT NOT NULL UNIQUE,
		points      INTEGER NOT NULL,
		created_at  DATETIME NOT NULL,
		expires_at  DATETIME NOT NULL,
		redeemed    INTEGER NOT NULL DEFAULT 0
	);

	-- Expiring-coupons dashboard query.
	CREATE INDEX IF NOT EXISTS idx_coupons_redeemed_expires
		ON coupons(redeemed, expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn inside a database transaction. Any error from fn
// rolls every write back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&session{ext: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// SESSION - Query surface shared by the root store and transactions
// =============================================================================

// session implements ledger.Store against either the pool or an open
// transaction; Store embeds a pool-backed session and WithTx builds a
// transaction-backed one.
type session struct {
	ext sqlx.ExtContext
}

var _ ledger.Store = (*session)(nil)

// =============================================================================
// ROW TYPES
// =============================================================================

type customerRow struct {
	ID         int64         `db:"id"`
	Name       string        `db:"name"`
	Phone      string        `db:"phone"`
	Email      string        `db:"email"`
	Address    string        `db:"address"`
	Points     int64         `db:"points"`
	CanRefer   bool          `db:"can_refer"`
	ReferredBy sql.NullInt64 `db:"referred_by"`
	CreatedAt  time.Time     `db:"created_at"`
}

func (r customerRow) toDomain() ledger.Customer {
	c := ledger.Customer{
		ID:        r.ID,
		Name:      r.Name,
		Phone:     r.Phone,
		Email:     r.Email,
		Address:   r.Address,
		Points:    r.Points,
		CanRefer:  r.CanRefer,
		CreatedAt: r.CreatedAt,
	}
	if r.ReferredBy.Valid {
		ref := r.ReferredBy.Int64
		c.ReferredBy = &ref
	}
	return c
}

type transactionRow struct {
	ID             int64          `db:"id"`
	CustomerID     int64          `db:"customer_id"`
	Kind           string         `db:"kind"`
	Amount         sql.NullString `db:"amount"`
	Ticket         string         `db:"ticket"`
	Points         int64          `db:"points"`
	Rate           int64          `db:"rate"`
	Date           time.Time      `db:"date"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r transactionRow) toDomain() (ledger.Transaction, error) {
	tx := ledger.Transaction{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		Kind:           ledger.Kind(r.Kind),
		Ticket:         r.Ticket,
		Points:         r.Points,
		Rate:           r.Rate,
		Date:           r.Date,
		IdempotencyKey: r.IdempotencyKey.String,
		CreatedAt:      r.CreatedAt,
	}
	if r.Amount.Valid {
		amount, err := decimal.NewFromString(r.Amount.String)
		if err != nil {
			return ledger.Transaction{}, fmt.Errorf("corrupt amount on transaction %d: %w", r.ID, err)
		}
		tx.Amount = &amount
	}
	return tx, nil
}

type couponRow struct {
	ID         int64     `db:"id"`
	CustomerID int64     `db:"customer_id"`
	Code       string    `db:"code"`
	Points     int64     `db:"points"`
	CreatedAt  time.Time `db:"created_at"`
	ExpiresAt  time.Time `db:"expires_at"`
	Redeemed   bool      `db:"redeemed"`
}

func (r couponRow) toDomain() ledger.Coupon {
	return ledger.Coupon(r)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (q *session) CreateCustomer(ctx context.Context, c *ledger.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := q.ext.ExecContext(ctx, `
		INSERT INTO customers (name, phone, email, address, points, can_refer, referred_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Phone, c.Email, c.Address, c.Points, c.CanRefer, nullableID(c.ReferredBy), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (q *session) GetCustomer(ctx context.Context, id int64) (*ledger.Customer, error) {
	var row customerRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT * FROM customers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	c := row.toDomain()
	return &c, nil
}

func (q *session) UpdateCustomer(ctx context.Context, c *ledger.Customer) error {
	res, err := q.ext.ExecContext(ctx, `
		UPDATE customers
		SET name = ?, phone = ?, email = ?, address = ?, points = ?, can_refer = ?, referred_by = ?
		WHERE id = ?`,
		c.Name, c.Phone, c.Email, c.Address, c.Points, c.CanRefer, nullableID(c.ReferredBy), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	return requireRow(res, ledger.ErrCustomerNotFound)
}

func (q *session) DeleteCustomer(ctx context.Context, id int64) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return requireRow(res, ledger.ErrCustomerNotFound)
}

func (q *session) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	var rows []customerRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT * FROM customers ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	out := make([]ledger.Customer, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (q *session) LatestCustomer(ctx context.Context) (*ledger.Customer, error) {
	var row customerRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT * FROM customers ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest customer: %w", err)
	}
	c := row.toDomain()
	return &c, nil
}

func (q *session) AdjustBalance(ctx context.Context, id int64, delta int64) error {
	// Single-statement update; the read-modify-write stays in the database.
	res, err := q.ext.ExecContext(ctx, `UPDATE customers SET points = points + ? WHERE id = ?`, delta, id)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	return requireRow(res, ledger.ErrCustomerNotFound)
}

func (q *session) Referrer(ctx context.Context, id int64) (*int64, error) {
	var ref sql.NullInt64
	err := sqlx.GetContext(ctx, q.ext, &ref, `SELECT referred_by FROM customers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referrer: %w", err)
	}
	if !ref.Valid {
		return nil, nil
	}
	out := ref.Int64
	return &out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (q *session) AppendTransaction(ctx context.Context, tx *ledger.Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	var amount sql.NullString
	if tx.Amount != nil {
		amount = sql.NullString{String: tx.Amount.String(), Valid: true}
	}
	var idem sql.NullString
	if tx.IdempotencyKey != "" {
		idem = sql.NullString{String: tx.IdempotencyKey, Valid: true}
	}
	res, err := q.ext.ExecContext(ctx, `
		INSERT INTO transactions (customer_id, kind, amount, ticket, points, rate, date, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.CustomerID, string(tx.Kind), amount, tx.Ticket, tx.Points, tx.Rate, tx.Date, idem, tx.CreatedAt)
	if isUniqueViolation(err) {
		return ledger.ErrDuplicateSubmission
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	tx.ID, err = res.LastInsertId()
	return err
}

func (q *session) GetTransaction(ctx context.Context, id int64) (*ledger.Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT * FROM transactions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	tx, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (q *session) UpdateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	var amount sql.NullString
	if tx.Amount != nil {
		amount = sql.NullString{String: tx.Amount.String(), Valid: true}
	}
	res, err := q.ext.ExecContext(ctx, `
		UPDATE transactions
		SET customer_id = ?, kind = ?, amount = ?, ticket = ?, points = ?, rate = ?, date = ?
		WHERE id = ?`,
		tx.CustomerID, string(tx.Kind), amount, tx.Ticket, tx.Points, tx.Rate, tx.Date, tx.ID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return requireRow(res, ledger.ErrTransactionNotFound)
}

func (q *session) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return requireRow(res, ledger.ErrTransactionNotFound)
}

func (q *session) ListTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return q.selectTransactions(ctx, `SELECT * FROM transactions ORDER BY id`)
}

func (q *session) TransactionsByCustomer(ctx context.Context, customerID int64) ([]ledger.Transaction, error) {
	return q.selectTransactions(ctx, `SELECT * FROM transactions WHERE customer_id = ? ORDER BY id`, customerID)
}

func (q *session) selectTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	out := make([]ledger.Transaction, len(rows))
	for i, r := range rows {
		tx, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = tx
	}
	return out, nil
}

func (q *session) CountPurchases(ctx context.Context, customerID int64) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, q.ext, &n,
		`SELECT COUNT(*) FROM transactions WHERE customer_id = ? AND kind = ?`,
		customerID, string(ledger.KindPurchase))
	if err != nil {
		return 0, fmt.Errorf("failed to count purchases: %w", err)
	}
	return n, nil
}

// =============================================================================
// COUPONS
// =============================================================================

func (q *session) InsertCoupon(ctx context.Context, c *ledger.Coupon) error {
	res, err := q.ext.ExecContext(ctx, `
		INSERT INTO coupons (customer_id, code, points, created_at, expires_at, redeemed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.CustomerID, c.Code, c.Points, c.CreatedAt, c.ExpiresAt, c.Redeemed)
	if isUniqueViolation(err) {
		return ledger.ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert coupon: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (q *session) GetCoupon(ctx context.Context, id int64) (*ledger.Coupon, error) {
	var row couponRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT * FROM coupons WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	c := row.toDomain()
	return &c, nil
}

func (q *session) UpdateCoupon(ctx context.Context, c *ledger.Coupon) error {
	res, err := q.ext.ExecContext(ctx, `
		UPDATE coupons
		SET customer_id = ?, code = ?, points = ?, created_at = ?, expires_at = ?, redeemed = ?
		WHERE id = ?`,
		c.CustomerID, c.Code, c.Points, c.CreatedAt, c.ExpiresAt, c.Redeemed, c.ID)
	if isUniqueViolation(err) {
		return ledger.ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("failed to update coupon: %w", err)
	}
	return requireRow(res, ledger.ErrCouponNotFound)
}

func (q *session) DeleteCoupon(ctx context.Context, id int64) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM coupons WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete coupon: %w", err)
	}
	return requireRow(res, ledger.ErrCouponNotFound)
}

func (q *session) ListCoupons(ctx context.Context) ([]ledger.Coupon, error) {
	var rows []couponRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT * FROM coupons ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	out := make([]ledger.Coupon, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (q *session) CouponCodeExists(ctx context.Context, code string) (bool, error) {
	var n int64
	err := sqlx.GetContext(ctx, q.ext, &n, `SELECT COUNT(*) FROM coupons WHERE code = ?`, code)
	if err != nil {
		return false, fmt.Errorf("failed to check coupon code: %w", err)
	}
	return n > 0, nil
}

func (q *session) MarkCouponRedeemed(ctx context.Context, id int64) error {
	// Conditional update: redeeming is exactly-once even when two calls
	// race, because only one of them flips the row.
	res, err := q.ext.ExecContext(ctx, `UPDATE coupons SET redeemed = 1 WHERE id = ? AND redeemed = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to mark coupon redeemed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := q.GetCoupon(ctx, id); err != nil {
		return err
	}
	return ledger.ErrCouponRedeemed
}

func (q *session) ExpiringCoupons(ctx context.Context, deadline time.Time) ([]ledger.Coupon, error) {
	var rows []couponRow
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT * FROM coupons
		WHERE redeemed = 0 AND expires_at <= ?
		ORDER BY expires_at ASC`, deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring coupons: %w", err)
	}
	out := make([]ledger.Coupon, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// requireRow maps a zero-rows-affected result to the domain's not-found
// error for the table in question.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
