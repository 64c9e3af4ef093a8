package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/foundermatch/backend/internal/middleware"
	"github.com/foundermatch/backend/internal/models"
	"github.com/foundermatch/backend/internal/services"
)

// LedgerReader exposes the read-only views of the credit ledger.
type LedgerReader interface {
	GetBalance(ctx context.Context, accountID string) (int64, error)
	History(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error)
}

type CreditsHandler struct {
	ledger    LedgerReader
	validator *services.ValidationHelper
}

func NewCreditsHandler(ledger LedgerReader) *CreditsHandler {
	return &CreditsHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// GetBalance returns the caller's credit balance
// @Summary Get credit balance
// @Description Current prepaid credit balance for the calling account
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{credits=int64}
// @Failure 401 {object} services.ErrorResponse
// @Router /credits/balance [get]
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	credits, err := h.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		log.Printf("[CREDITS] Balance fetch failed for account %s: %v", accountID, err)
		services.SendErrorResponse(w, "Temporarily unavailable, please retry", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"credits": credits})
}

// GetHistory returns recent ledger entries
// @Summary Get ledger history
// @Description Recent balance-changing events for the calling account, newest first
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of entries to return (default: 20, max: 100)"
// @Success 200 {object} object{entries=[]models.LedgerEntry,count=int}
// @Failure 400 {object} services.ErrorResponse
// @Router /credits/history [get]
func (h *CreditsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Limit int `validate:"omitempty,min=1,max=100"`
	}
	req.Limit = 20

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = l
		}
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entries, err := h.ledger.History(r.Context(), accountID, req.Limit)
	if err != nil {
		log.Printf("[CREDITS] History fetch failed for account %s: %v", accountID, err)
		services.SendErrorResponse(w, "Temporarily unavailable, please retry", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
