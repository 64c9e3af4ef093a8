package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/foundermatch/backend/internal/config"
	"github.com/foundermatch/backend/internal/gateway"
	"github.com/foundermatch/backend/internal/middleware"
	"github.com/foundermatch/backend/internal/models"
	"github.com/foundermatch/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
)

// CheckoutOrchestrator is what the checkout endpoints need from the service
// layer. Tests substitute an in-memory fake.
type CheckoutOrchestrator interface {
	StartCheckout(ctx context.Context, accountID string, requestedCredits int64, currency string) (*models.CheckoutOrder, error)
	CompleteCheckout(ctx context.Context, orderID, paymentID, signature string) (*services.CheckoutResult, error)
	GetOrder(ctx context.Context, orderID string) (*models.CheckoutOrder, error)
	PaymentLink(orderID string) string
}

type CheckoutHandler struct {
	service   CheckoutOrchestrator
	validator *services.ValidationHelper
}

func NewCheckoutHandler(service CheckoutOrchestrator) *CheckoutHandler {
	return &CheckoutHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// StartCheckout begins a credit purchase
// @Summary Start checkout
// @Description Create a payment gateway order for the requested credit amount
// @Tags checkout
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{credits=int64,currency=string} true "Checkout request"
// @Success 200 {object} object{orderId=string,amountMinorUnits=int64,currency=string,paymentLink=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /checkout/start [post]
func (h *CheckoutHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Credits  int64  `json:"credits" validate:"required,gt=0,lte=1000000"`
		Currency string `json:"currency" validate:"required,oneof=INR USD"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	order, err := h.service.StartCheckout(r.Context(), accountID, req.Credits, req.Currency)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAmount),
			errors.Is(err, config.ErrUnsupportedCurrency),
			errors.Is(err, config.ErrInvalidCreditCount):
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		case errors.Is(err, gateway.ErrGatewayUnavailable):
			services.SendErrorResponse(w, "Payment gateway unavailable, please retry", http.StatusServiceUnavailable, nil)
		default:
			log.Printf("[CHECKOUT] Start failed for account %s: %v", accountID, err)
			services.SendErrorResponse(w, "Failed to start checkout", http.StatusInternalServerError, nil)
		}
		return
	}

	link := h.service.PaymentLink(order.OrderID)

	response := map[string]any{
		"success":          true,
		"orderId":          order.OrderID,
		"credits":          order.RequestedCredits,
		"amountMinorUnits": order.AmountMinorUnits,
		"currency":         order.Currency,
		"paymentLink":      link,
	}
	if png, err := qrcode.Encode(link, qrcode.Medium, 256); err == nil {
		response["qrImage"] = base64.StdEncoding.EncodeToString(png)
	} else {
		log.Printf("[CHECKOUT] QR generation failed for order %s: %v", order.OrderID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// CompleteCheckout finalizes a paid order
// @Summary Complete checkout
// @Description Verify the gateway payment and credit the account exactly once
// @Tags checkout
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{orderId=string,paymentId=string,signature=string} true "Completion request"
// @Success 200 {object} object{status=string,newBalance=int64}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /checkout/complete [post]
func (h *CheckoutHandler) CompleteCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID   string `json:"orderId" validate:"required"`
		PaymentID string `json:"paymentId" validate:"required"`
		Signature string `json:"signature" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.CompleteCheckout(r.Context(), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			services.SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		case errors.Is(err, services.ErrReconciliationRequired):
			log.Printf("[CHECKOUT] Reconciliation required: %v", err)
			services.SendErrorResponse(w, "Payment verified but crediting is delayed; support has been notified", http.StatusInternalServerError, nil)
		default:
			log.Printf("[CHECKOUT] Complete failed for order %s: %v", req.OrderID, err)
			services.SendErrorResponse(w, "Temporarily unavailable, please retry", http.StatusServiceUnavailable, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    result.Status == models.OrderCredited,
		"status":     result.Status,
		"newBalance": result.NewBalance,
	})
}

// GetOrder returns a checkout order
// @Summary Get checkout order
// @Description Retrieve one of the caller's checkout orders by gateway order id
// @Tags checkout
// @Produce json
// @Security BearerAuth
// @Param orderId path string true "Gateway order ID"
// @Success 200 {object} models.CheckoutOrder
// @Failure 404 {object} services.ErrorResponse
// @Router /checkout/orders/{orderId} [get]
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	orderID := chi.URLParam(r, "orderId")
	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			services.SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		} else {
			services.SendErrorResponse(w, "Failed to fetch order", http.StatusInternalServerError, nil)
		}
		return
	}

	// Orders are visible to their owner only.
	if order.AccountID != accountID {
		services.SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}
