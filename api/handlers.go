/*
handlers.go - HTTP API handlers for the loyalty rewards engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Customers:
    GET    /api/customers               List all customers
    POST   /api/customers               Register customer
    GET    /api/customers/latest        Most recently registered customer
    GET    /api/customers/{id}          Get customer details
    PUT    /api/customers/{id}          Update customer profile
    DELETE /api/customers/{id}          Delete customer
    GET    /api/customers/{id}/transactions  Movement history
    GET    /api/customers/{id}/coupons  Customer's coupons

  Transactions:
    GET    /api/transactions            List all movements
    POST   /api/transactions            Submit purchase or redemption
    GET    /api/transactions/{id}       Get movement
    PUT    /api/transactions/{id}       Admin correction (no balance replay)
    DELETE /api/transactions/{id}       Admin delete (no balance replay)

  Coupons:
    GET    /api/coupons                 List all coupons
    GET    /api/coupons/expiring        Unredeemed coupons expiring soon
    GET    /api/coupons/{id}            Get coupon
    PUT    /api/coupons/{id}            Admin correction
    DELETE /api/coupons/{id}            Admin delete
    POST   /api/coupons/{id}/redeem     Redeem coupon

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (double redemption, insufficient balance, duplicate)
  - 500: Internal errors

IDEMPOTENCY:
  POST /api/transactions honors an Idempotency-Key header. When the
  client sends none, the server generates a UUID per request, so only
  client-side retries with the header are deduplicated.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lealtad/loyalty-engine/ledger"
	"github.com/lealtad/loyalty-engine/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine

	// ExpiryHorizon is the default window for /api/coupons/expiring
	// when the request does not carry a days parameter.
	ExpiryHorizon time.Duration
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *ledger.Engine) *Handler {
	return &Handler{
		Engine:        engine,
		ExpiryHorizon: 45 * 24 * time.Hour,
	}
}

// =============================================================================
// CUSTOMER ENDPOINTS
// =============================================================================

// ListCustomers returns all customers.
// GET /api/customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Engine.Store.ListCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, 0, len(customers))
	for i := range customers {
		dtos = append(dtos, toCustomerDTO(&customers[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCustomer registers a new customer.
// POST /api/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	cust := &ledger.Customer{
		Name:       req.Name,
		Phone:      req.Phone,
		Email:      req.Email,
		Address:    req.Address,
		CanRefer:   req.CanRefer,
		ReferredBy: req.ReferredBy,
	}
	if err := h.Engine.Store.CreateCustomer(r.Context(), cust); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(cust))
}

// LatestCustomer returns the most recently registered customer.
// GET /api/customers/latest
func (h *Handler) LatestCustomer(w http.ResponseWriter, r *http.Request) {
	cust, err := h.Engine.Store.LatestCustomer(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to get latest customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(cust))
}

// GetCustomer returns one customer.
// GET /api/customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cust, err := h.Engine.Store.GetCustomer(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(cust))
}

// UpdateCustomer overwrites a customer's profile fields. The points
// balance is not editable through this endpoint.
// PUT /api/customers/{id}
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	cust, err := h.Engine.Store.GetCustomer(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get customer", err)
		return
	}
	cust.Name = req.Name
	cust.Phone = req.Phone
	cust.Email = req.Email
	cust.Address = req.Address
	cust.CanRefer = req.CanRefer
	cust.ReferredBy = req.ReferredBy

	if err := h.Engine.Store.UpdateCustomer(r.Context(), cust); err != nil {
		writeDomainError(w, "Failed to update customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(cust))
}

// DeleteCustomer removes a customer. Their movements and coupons remain
// in place; referral links from other customers dangle harmlessly.
// DELETE /api/customers/{id}
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.Store.DeleteCustomer(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete customer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CustomerTransactions returns a customer's movement history.
// GET /api/customers/{id}/transactions
func (h *Handler) CustomerTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.Engine.Store.GetCustomer(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get customer", err)
		return
	}
	txs, err := h.Engine.Store.TransactionsByCustomer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transactions", err)
		return
	}

	dtos := make([]TransactionDTO, 0, len(txs))
	for i := range txs {
		dtos = append(dtos, toTransactionDTO(&txs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CustomerCoupons returns the coupons minted for one customer.
// GET /api/customers/{id}/coupons
func (h *Handler) CustomerCoupons(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.Engine.Store.GetCustomer(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get customer", err)
		return
	}
	coupons, err := h.Engine.Store.ListCoupons(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get coupons", err)
		return
	}

	dtos := make([]CouponDTO, 0)
	for i := range coupons {
		if coupons[i].CustomerID == id {
			dtos = append(dtos, toCouponDTO(&coupons[i]))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// ListTransactions returns the full movement ledger.
// GET /api/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Engine.Store.ListTransactions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, 0, len(txs))
	for i := range txs {
		dtos = append(dtos, toTransactionDTO(&txs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitTransaction records a purchase or redemption and runs the full
// bonus/coupon pipeline.
// POST /api/transactions
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req SubmitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sub := ledger.Submission{
		CustomerID:     req.CustomerID,
		Kind:           ledger.Kind(req.Kind),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if sub.IdempotencyKey == "" {
		sub.IdempotencyKey = uuid.NewString()
	}
	if req.Date != "" {
		date, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use RFC 3339)", err)
			return
		}
		sub.Date = date
	}
	if req.Purchase != nil {
		sub.Purchase = &ledger.PurchaseInput{
			Amount: req.Purchase.Amount,
			Ticket: req.Purchase.Ticket,
			Rate:   req.Purchase.Rate,
			Points: req.Purchase.Points,
		}
	}
	if req.Redemption != nil {
		sub.Redemption = &ledger.RedemptionInput{Points: req.Redemption.Points}
	}

	res, err := h.Engine.SubmitTransaction(r.Context(), sub)
	if err != nil {
		metrics.RecordSubmission(req.Kind, "failure", time.Since(start).Seconds())
		writeDomainError(w, "Failed to submit transaction", err)
		return
	}
	metrics.RecordSubmission(req.Kind, "success", time.Since(start).Seconds())
	if res.Coupon != nil {
		metrics.CouponsMinted.Inc()
	}
	if res.ReferrerCoupon != nil {
		metrics.CouponsMinted.Inc()
	}

	writeJSON(w, http.StatusCreated, SubmitTransactionResponse{
		TransactionID:  res.TransactionID,
		Coupon:         toCouponDTOPtr(res.Coupon),
		ReferrerCoupon: toCouponDTOPtr(res.ReferrerCoupon),
	})
}

// GetTransaction returns one movement.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.Engine.Store.GetTransaction(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// UpdateTransaction applies an admin correction to a movement. The
// customer's balance is NOT recomputed.
// PUT /api/transactions/{id}
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	kind := ledger.Kind(req.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown movement kind", nil)
		return
	}

	tx, err := h.Engine.Store.GetTransaction(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get transaction", err)
		return
	}
	tx.Kind = kind
	tx.Amount = req.Amount
	tx.Ticket = req.Ticket
	tx.Points = req.Points
	tx.Rate = req.Rate
	if req.Date != "" {
		date, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use RFC 3339)", err)
			return
		}
		tx.Date = date
	}

	if err := h.Engine.Store.UpdateTransaction(r.Context(), tx); err != nil {
		writeDomainError(w, "Failed to update transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// DeleteTransaction removes a movement. Admin use only; the customer's
// balance is NOT recomputed.
// DELETE /api/transactions/{id}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.Store.DeleteTransaction(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// COUPON ENDPOINTS
// =============================================================================

// ListCoupons returns all coupons.
// GET /api/coupons
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.Engine.Store.ListCoupons(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list coupons", err)
		return
	}

	dtos := make([]CouponDTO, 0, len(coupons))
	for i := range coupons {
		dtos = append(dtos, toCouponDTO(&coupons[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ExpiringCoupons returns unredeemed coupons expiring within the
// horizon, soonest first. ?days=N overrides the configured default.
// GET /api/coupons/expiring
func (h *Handler) ExpiringCoupons(w http.ResponseWriter, r *http.Request) {
	within := h.ExpiryHorizon
	if days := r.URL.Query().Get("days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid days parameter", err)
			return
		}
		within = time.Duration(n) * 24 * time.Hour
	}

	coupons, err := h.Engine.ExpiringCoupons(r.Context(), within)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get expiring coupons", err)
		return
	}

	dtos := make([]CouponDTO, 0, len(coupons))
	for i := range coupons {
		dtos = append(dtos, toCouponDTO(&coupons[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCoupon returns one coupon.
// GET /api/coupons/{id}
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	coupon, err := h.Engine.Store.GetCoupon(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get coupon", err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponDTO(coupon))
}

// UpdateCoupon applies an admin correction to a coupon.
// PUT /api/coupons/{id}
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	coupon, err := h.Engine.Store.GetCoupon(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get coupon", err)
		return
	}
	coupon.Code = req.Code
	coupon.Points = req.Points
	coupon.Redeemed = req.Redeemed
	if req.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expires_at format (use RFC 3339)", err)
			return
		}
		coupon.ExpiresAt = expires
	}

	if err := h.Engine.Store.UpdateCoupon(r.Context(), coupon); err != nil {
		writeDomainError(w, "Failed to update coupon", err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponDTO(coupon))
}

// DeleteCoupon removes a coupon.
// DELETE /api/coupons/{id}
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.Store.DeleteCoupon(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete coupon", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RedeemCoupon redeems a coupon, deducting its snapshotted value from
// the owner's balance. Exactly-once: a second call returns 409.
// POST /api/coupons/{id}/redeem
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	coupon, err := h.Engine.RedeemCoupon(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to redeem coupon", err)
		return
	}
	metrics.CouponsRedeemed.Inc()
	writeJSON(w, http.StatusOK, toCouponDTO(coupon))
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsClientError(err):
		// Insufficient balance, double redemption, duplicate submission.
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
