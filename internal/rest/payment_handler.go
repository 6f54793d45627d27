package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"tokopay-be/internal/logger"
	"tokopay-be/internal/payment"
	"tokopay-be/internal/payment/gateway"
	"tokopay-be/internal/utils"

	"go.uber.org/zap"
)

type PaymentHandler struct {
	service payment.Service
}

func NewPaymentHandler(service payment.Service) *PaymentHandler {
	return &PaymentHandler{service: service}
}

type createPaymentRequest struct {
	OrderID  string            `json:"orderId"`
	Method   string            `json:"method"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type createPaymentResponse struct {
	Payment      *payment.Payment `json:"payment"`
	RedirectURL  string           `json:"redirectUrl,omitempty"`
	PaymentCode  string           `json:"paymentCode,omitempty"`
	Instructions []string         `json:"instructions"`
}

type confirmPaymentRequest struct {
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type refundResponse struct {
	Refund  *payment.Refund  `json:"refund"`
	Payment *payment.Payment `json:"payment"`
}

type listPaymentsResponse struct {
	Payments []*payment.Payment `json:"payments"`
	Total    int64              `json:"total"`
	Page     int32              `json:"page"`
	Limit    int32              `json:"limit"`
}

// Create handles POST /payments.
func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID, _ := utils.GetUserIDFromContext(r.Context())

	res, err := h.service.CreatePayment(r.Context(), payment.CreatePaymentInput{
		OrderID:  req.OrderID,
		UserID:   userID,
		Method:   payment.Method(req.Method),
		Amount:   req.Amount,
		Currency: req.Currency,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, createPaymentResponse{
		Payment:      res.Payment,
		RedirectURL:  res.RedirectURL,
		PaymentCode:  res.PaymentCode,
		Instructions: res.Instructions,
	})
}

// Confirm handles POST /payments/{id}/confirm. The body is optional;
// when present, its amount/currency are cross-checked against the
// stored payment. A provider decline is a successful request whose
// payment ends up FAILED.
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := h.service.ConfirmPayment(r.Context(), r.PathValue("id"), payment.ConfirmPaymentInput{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Currency:      req.Currency,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, p)
}

// Cancel handles POST /payments/{id}/cancel.
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.CancelPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, p)
}

// Refund handles POST /payments/{id}/refund.
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rf, p, err := h.service.ProcessRefund(r.Context(), payment.RefundInput{
		PaymentID: r.PathValue("id"),
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, refundResponse{Refund: rf, Payment: p})
}

// Get handles GET /payments/{id}.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"payment":       detail.Payment,
		"refunds":       detail.Refunds,
		"webhookEvents": detail.Webhooks,
	})
}

// List handles GET /payments with status/method/userId/orderId/page/
// limit query filters. userId only takes effect for admin callers.
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f payment.ListFilter

	if v := q.Get("status"); v != "" {
		st := payment.Status(v)
		f.Status = &st
	}
	if v := q.Get("method"); v != "" {
		m := payment.Method(v)
		f.Method = &m
	}
	if v := q.Get("orderId"); v != "" {
		f.OrderID = &v
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 1 {
			utils.WriteJSONError(w, "invalid page", http.StatusBadRequest)
			return
		}
		f.Page = int32(n)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 1 {
			utils.WriteJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = int32(n)
	}

	// Non-admin callers only see their own payments; admins may filter
	// by any user.
	if utils.GetUserRoleFromContext(r.Context()) == "admin" {
		if v := q.Get("userId"); v != "" {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				utils.WriteJSONError(w, "invalid userId", http.StatusBadRequest)
				return
			}
			userID := uint(n)
			f.UserID = &userID
		}
	} else if userID, ok := utils.GetUserIDFromContext(r.Context()); ok {
		f.UserID = &userID
	}

	payments, total, err := h.service.ListPayments(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	page := f.Page
	if page == 0 {
		page = 1
	}
	limit := f.Limit
	if limit == 0 {
		limit = 20
	}

	if payments == nil {
		payments = []*payment.Payment{}
	}

	utils.WriteJSON(w, http.StatusOK, listPaymentsResponse{
		Payments: payments,
		Total:    total,
		Page:     page,
		Limit:    limit,
	})
}

// writeServiceError maps orchestrator errors onto HTTP statuses.
// Transient provider failures become 502 so callers know to retry the
// same request.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound):
		utils.WriteJSONError(w, "payment not found", http.StatusNotFound)

	case errors.Is(err, payment.ErrPaymentExpired):
		utils.WriteJSONError(w, "payment expired", http.StatusBadRequest)

	case payment.IsValidation(err), payment.IsStateConflict(err):
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)

	case gateway.IsTransient(err):
		utils.WriteJSONError(w, "payment provider unavailable, retry later", http.StatusBadGateway)

	default:
		var ge *gateway.Error
		if errors.As(err, &ge) {
			utils.WriteJSONError(w, "payment provider rejected the request", http.StatusBadGateway)
			return
		}

		logger.FromCtx(r.Context()).Error("unhandled service error", zap.Error(err))
		utils.WriteJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}
