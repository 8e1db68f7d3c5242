package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
	invoiceService "github.com/kevin07696/billing-service/internal/services/invoice"
	refundService "github.com/kevin07696/billing-service/internal/services/refund"
	subscriptionService "github.com/kevin07696/billing-service/internal/services/subscription"
	"github.com/shopspring/decimal"
)

// Handler exposes the billing operations over JSON. It is a thin shell:
// all rules live in the services, the handler only decodes, dispatches and
// maps domain errors to status codes.
type Handler struct {
	subscriptions *subscriptionService.Service
	invoices      *invoiceService.Service
	refunds       *refundService.Service
	logger        ports.Logger
}

// NewHandler creates the API handler
func NewHandler(
	subscriptions *subscriptionService.Service,
	invoices *invoiceService.Service,
	refunds *refundService.Service,
	logger ports.Logger,
) *Handler {
	return &Handler{
		subscriptions: subscriptions,
		invoices:      invoices,
		refunds:       refunds,
		logger:        logger,
	}
}

// Routes mounts the billing API
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/subscriptions", h.createSubscription)
	r.Get("/subscriptions/{subscriptionID}", h.getSubscription)
	r.Delete("/subscriptions/{subscriptionID}", h.cancelSubscription)
	r.Post("/payment-methods", h.registerPaymentMethod)
	r.Post("/payments/external", h.recordExternalPayment)
	r.Post("/invoices/{invoiceID}/refund", h.refundInvoice)
	r.Post("/payments/{paymentID}/cancel", h.cancelPayment)
	return r
}

type createSubscriptionRequest struct {
	UserID          string  `json:"user_id"`
	PlanID          string  `json:"plan_id"`
	PaymentMethodID *string `json:"payment_method_id"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.PlanID == "" {
		writeError(w, http.StatusBadRequest, "user_id and plan_id are required")
		return
	}

	sub, _, err := h.subscriptions.CreateSubscription(r.Context(), req.UserID, req.PlanID, req.PaymentMethodID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}

	sub, err := h.subscriptions.GetSubscription(r.Context(), userID, chi.URLParam(r, "subscriptionID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}

	err := h.subscriptions.CancelSubscription(r.Context(), userID, chi.URLParam(r, "subscriptionID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerPaymentMethodRequest struct {
	UserID       string                 `json:"user_id"`
	CardType     string                 `json:"card_type"`
	CardLast4    string                 `json:"card_last4"`
	IssueRequest map[string]interface{} `json:"issue_request"`
	SetDefault   bool                   `json:"set_default"`
}

func (h *Handler) registerPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req registerPaymentMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	pm, err := h.subscriptions.RegisterPaymentMethod(r.Context(), subscriptionService.RegisterPaymentMethodRequest{
		UserID:       req.UserID,
		CardType:     req.CardType,
		CardLast4:    req.CardLast4,
		IssueRequest: req.IssueRequest,
		SetDefault:   req.SetDefault,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pm)
}

type externalPaymentRequest struct {
	UserID           string          `json:"user_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Amount           decimal.Decimal `json:"amount"`
}

// recordExternalPayment books a charge that already settled on the gateway
// side, such as the payment bundled with billing-key issuance.
func (h *Handler) recordExternalPayment(w http.ResponseWriter, r *http.Request) {
	var req externalPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.GatewayPaymentID == "" {
		writeError(w, http.StatusBadRequest, "user_id and gateway_payment_id are required")
		return
	}

	invoice, err := h.invoices.RecordExternalPayment(r.Context(), req.UserID, req.GatewayPaymentID, req.Amount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if invoice == nil {
		// nothing live to attach the charge to
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *Handler) refundInvoice(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	refund, err := h.refunds.RefundInvoice(r.Context(), chi.URLParam(r, "invoiceID"), req.Amount, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	refund, err := h.refunds.CancelPayment(r.Context(), chi.URLParam(r, "paymentID"), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// writeDomainError maps domain error kinds to HTTP status codes
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, err.Error())
	case domain.IsOwnershipError(err):
		writeError(w, http.StatusForbidden, err.Error())
	case domain.IsInvalidStateError(err):
		writeError(w, http.StatusConflict, err.Error())
	case domain.IsGatewayError(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("unhandled service error", ports.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
