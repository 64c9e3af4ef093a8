package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/foundermatch/backend/internal/middleware"
	"github.com/foundermatch/backend/internal/models"
	"github.com/foundermatch/backend/internal/services"
)

// ResourceGate is the unlock contract the endpoints consume.
type ResourceGate interface {
	CheckUnlocked(ctx context.Context, accountID string, kind models.ResourceKind, resourceID string) (bool, error)
	Unlock(ctx context.Context, accountID string, kind models.ResourceKind, resourceID string, price int64) (services.UnlockResult, error)
	ListUnlocks(ctx context.Context, accountID string, kind models.ResourceKind) ([]models.UnlockRecord, error)
}

type UnlockHandler struct {
	gate      ResourceGate
	validator *services.ValidationHelper
}

func NewUnlockHandler(gate ResourceGate) *UnlockHandler {
	return &UnlockHandler{
		gate:      gate,
		validator: services.NewValidationHelper(),
	}
}

// CheckUnlocked reports unlock state for one resource
// @Summary Check unlock state
// @Description Report whether a resource is already unlocked for the caller
// @Tags unlocks
// @Produce json
// @Security BearerAuth
// @Param kind query string true "Resource kind" Enums(INVESTOR_PROFILE, INTRODUCTION, PIPELINE_CHAT)
// @Param resourceId query string true "Resource ID"
// @Success 200 {object} object{unlocked=bool}
// @Failure 400 {object} services.ErrorResponse
// @Router /unlocks/check [get]
func (h *UnlockHandler) CheckUnlocked(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	kind := models.ResourceKind(r.URL.Query().Get("kind"))
	resourceID := r.URL.Query().Get("resourceId")
	if !kind.Valid() || resourceID == "" {
		services.SendErrorResponse(w, "kind and resourceId are required", http.StatusBadRequest, nil)
		return
	}

	unlocked, err := h.gate.CheckUnlocked(r.Context(), accountID, kind, resourceID)
	if err != nil {
		log.Printf("[UNLOCK] Check failed for account %s: %v", accountID, err)
		services.SendErrorResponse(w, "Temporarily unavailable, please retry", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"unlocked": unlocked})
}

// Unlock spends credits to permanently unlock a resource
// @Summary Unlock a resource
// @Description Spend credits to permanently unlock a gated resource; idempotent
// @Tags unlocks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{kind=string,resourceId=string,price=int64} true "Unlock request"
// @Success 200 {object} object{status=string,newBalance=int64}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /unlocks [post]
func (h *UnlockHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Kind       string `json:"kind" validate:"required,oneof=INVESTOR_PROFILE INTRODUCTION PIPELINE_CHAT"`
		ResourceID string `json:"resourceId" validate:"required"`
		Price      int64  `json:"price" validate:"required,gt=0"`
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

	result, err := h.gate.Unlock(r.Context(), accountID, models.ResourceKind(req.Kind), req.ResourceID, req.Price)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAmount), errors.Is(err, services.ErrInvalidResourceKind):
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		default:
			log.Printf("[UNLOCK] Unlock failed for account %s: %v", accountID, err)
			services.SendErrorResponse(w, "Temporarily unavailable, please retry", http.StatusServiceUnavailable, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":     result.Status,
		"newBalance": result.NewBalance,
	})
}

// ListUnlocks returns the caller's unlocks for one resource kind
// @Summary List unlocks
// @Description List every resource of one kind the caller has unlocked
// @Tags unlocks
// @Produce json
// @Security BearerAuth
// @Param kind query string true "Resource kind" Enums(INVESTOR_PROFILE, INTRODUCTION, PIPELINE_CHAT)
// @Success 200 {object} object{unlocks=[]models.UnlockRecord,count=int}
// @Failure 400 {object} services.ErrorResponse
// @Router /unlocks [get]
func (h *UnlockHandler) ListUnlocks(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	kind := models.ResourceKind(r.URL.Query().Get("kind"))
	if !kind.Valid() {
		services.SendErrorResponse(w, "kind is required", http.StatusBadRequest, nil)
		return
	}

	records, err := h.gate.ListUnlocks(r.Context(), accountID, kind)
	if err != nil {
		log.Printf("[UNLOCK] List failed for account %s: %v", accountID, err)
		services.SendErrorResponse(w, "Temporarily unavailable, please retry", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"unlocks": records,
		"count":   len(records),
	})
}
