/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

DATE FORMAT:
  Dates cross the wire as RFC 3339 strings. Monetary amounts are JSON
  strings so decimal precision survives clients that parse numbers as
  float64.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model these map to
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lealtad/loyalty-engine/ledger"
)

// =============================================================================
// CUSTOMER TYPES
// =============================================================================

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Address    string `json:"address,omitempty"`
	Points     int64  `json:"points"`
	CanRefer   bool   `json:"can_refer"`
	ReferredBy *int64 `json:"referred_by,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// CreateCustomerRequest is the request to register a customer.
type CreateCustomerRequest struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	CanRefer   bool   `json:"can_refer"`
	ReferredBy *int64 `json:"referred_by,omitempty"`
}

// UpdateCustomerRequest is the request to edit a customer's profile.
// Points are not editable here; only movements change balances.
type UpdateCustomerRequest struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	CanRefer   bool   `json:"can_refer"`
	ReferredBy *int64 `json:"referred_by,omitempty"`
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

// TransactionDTO represents a ledger movement in API responses.
type TransactionDTO struct {
	ID         int64  `json:"id"`
	CustomerID int64  `json:"customer_id"`
	Kind       string `json:"kind"`
	Amount     string `json:"amount,omitempty"`
	Ticket     string `json:"ticket,omitempty"`
	Points     int64  `json:"points"`
	Rate       int64  `json:"rate,omitempty"`
	Date       string `json:"date"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// SubmitTransactionRequest is the request to record a movement.
// Exactly one of Purchase or Redemption must be set, matching Kind.
type SubmitTransactionRequest struct {
	CustomerID int64                  `json:"customer_id"`
	Kind       string                 `json:"kind"`
	Purchase   *PurchaseRequestBody   `json:"purchase,omitempty"`
	Redemption *RedemptionRequestBody `json:"redemption,omitempty"`
	Date       string                 `json:"date,omitempty"` // RFC 3339; empty means now
}

// PurchaseRequestBody carries the purchase-specific fields.
type PurchaseRequestBody struct {
	Amount decimal.Decimal `json:"amount"`
	Ticket string          `json:"ticket,omitempty"`
	Rate   int64           `json:"rate,omitempty"`
	Points int64           `json:"points,omitempty"`
}

// RedemptionRequestBody carries the direct-spend fields.
type RedemptionRequestBody struct {
	Points int64 `json:"points"`
}

// SubmitTransactionResponse reports what a submission produced.
type SubmitTransactionResponse struct {
	TransactionID  int64      `json:"transaction_id"`
	Coupon         *CouponDTO `json:"coupon,omitempty"`
	ReferrerCoupon *CouponDTO `json:"referrer_coupon,omitempty"`
}

// UpdateTransactionRequest is an admin correction to a movement.
// Balances are NOT recomputed.
type UpdateTransactionRequest struct {
	Kind   string           `json:"kind"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Ticket string           `json:"ticket,omitempty"`
	Points int64            `json:"points"`
	Rate   int64            `json:"rate,omitempty"`
	Date   string           `json:"date,omitempty"`
}

// =============================================================================
// COUPON TYPES
// =============================================================================

// CouponDTO represents a coupon in API responses.
type CouponDTO struct {
	ID         int64  `json:"id"`
	CustomerID int64  `json:"customer_id"`
	Code       string `json:"code"`
	Points     int64  `json:"points"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at"`
	Redeemed   bool   `json:"redeemed"`
}

// UpdateCouponRequest is an admin correction to a coupon.
type UpdateCouponRequest struct {
	Code      string `json:"code"`
	Points    int64  `json:"points"`
	ExpiresAt string `json:"expires_at"`
	Redeemed  bool   `json:"redeemed"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DOMAIN <-> DTO MAPPING
// =============================================================================

func toCustomerDTO(c *ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:         c.ID,
		Name:       c.Name,
		Phone:      c.Phone,
		Email:      c.Email,
		Address:    c.Address,
		Points:     c.Points,
		CanRefer:   c.CanRefer,
		ReferredBy: c.ReferredBy,
		CreatedAt:  formatTime(c.CreatedAt),
	}
}

func toTransactionDTO(tx *ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:         tx.ID,
		CustomerID: tx.CustomerID,
		Kind:       string(tx.Kind),
		Ticket:     tx.Ticket,
		Points:     tx.Points,
		Rate:       tx.Rate,
		Date:       formatTime(tx.Date),
		CreatedAt:  formatTime(tx.CreatedAt),
	}
	if tx.Amount != nil {
		dto.Amount = tx.Amount.String()
	}
	return dto
}

func toCouponDTO(c *ledger.Coupon) CouponDTO {
	return CouponDTO{
		ID:         c.ID,
		CustomerID: c.CustomerID,
		Code:       c.Code,
		Points:     c.Points,
		CreatedAt:  formatTime(c.CreatedAt),
		ExpiresAt:  formatTime(c.ExpiresAt),
		Redeemed:   c.Redeemed,
	}
}

func toCouponDTOPtr(c *ledger.Coupon) *CouponDTO {
	if c == nil {
		return nil
	}
	dto := toCouponDTO(c)
	return &dto
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
