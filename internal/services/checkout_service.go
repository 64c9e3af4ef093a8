package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/foundermatch/backend/internal/audit"
	"github.com/foundermatch/backend/internal/config"
	"github.com/foundermatch/backend/internal/models"
	"github.com/go-redis/redis/v8"
)

var (
	// ErrOrderNotFound means no checkout order exists for the given id.
	ErrOrderNotFound = errors.New("checkout order not found")
	// ErrReconciliationRequired means the payment was verified but crediting
	// failed for a reason other than duplicate detection. The order stays
	// VERIFIED and must be reconciled manually; blind retry risks
	// double-crediting if the original write actually landed.
	ErrReconciliationRequired = errors.New("payment verified but not credited, reconciliation required")
)

// PaymentGateway is the adapter contract the orchestrator depends on.
// Tests substitute a fake; production wires internal/gateway.Client.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, accountID string, amountMinorUnits int64, currency string) (string, error)
	VerifyPayment(orderID, paymentID, signature string) bool
	PaymentLink(orderID string) string
}

// CheckoutResult is the closed outcome of CompleteCheckout. NewBalance is
// meaningful when Status is CREDITED.
type CheckoutResult struct {
	Status     models.OrderStatus `json:"status"`
	NewBalance int64              `json:"new_balance"`
}

type topupEvent struct {
	AccountID  string    `json:"account_id"`
	OrderID    string    `json:"order_id"`
	Credits    int64     `json:"credits"`
	NewBalance int64     `json:"new_balance"`
	CreditedAt time.Time `json:"credited_at"`
}

// CheckoutService drives the purchase flow: order creation with the gateway,
// then verification and exactly-once crediting when the client completes
// payment. Gateway calls never happen inside a ledger transaction.
type CheckoutService struct {
	db      *sql.DB
	redis   *redis.Client
	ledger  *CreditLedgerService
	gateway PaymentGateway
	pricing *config.PricingTable
	audit   *audit.Logger
}

func NewCheckoutService(db *sql.DB, redisClient *redis.Client, ledger *CreditLedgerService, gw PaymentGateway, pricing *config.PricingTable) *CheckoutService {
	return &CheckoutService{
		db:      db,
		redis:   redisClient,
		ledger:  ledger,
		gateway: gw,
		pricing: pricing,
		audit:   audit.NewLogger(),
	}
}

// StartCheckout prices the requested credits, creates a gateway order and
// stores it as PENDING. Abandoned orders stay PENDING forever and are never
// credited.
func (s *CheckoutService) StartCheckout(ctx context.Context, accountID string, requestedCredits int64, currency string) (*models.CheckoutOrder, error) {
	if requestedCredits <= 0 {
		return nil, ErrInvalidAmount
	}

	amount, err := s.pricing.Amount(requestedCredits, currency)
	if err != nil {
		return nil, err
	}

	orderID, err := s.gateway.CreateOrder(ctx, accountID, amount, currency)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	order := &models.CheckoutOrder{
		OrderID:          orderID,
		AccountID:        accountID,
		Currency:         currency,
		RequestedCredits: requestedCredits,
		AmountMinorUnits: amount,
		Status:           models.OrderPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO checkout_orders (order_id, account_id, currency, requested_credits, amount_minor_units, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		order.OrderID, order.AccountID, order.Currency, order.RequestedCredits,
		order.AmountMinorUnits, order.Status, order.CreatedAt, order.UpdatedAt); err != nil {
		return nil, fmt.Errorf("storing checkout order: %w", err)
	}

	log.Printf("[CHECKOUT] Started order %s: account %s, %d credits, %d %s",
		orderID, accountID, requestedCredits, amount, currency)
	return order, nil
}

// CompleteCheckout verifies the payment and credits the account exactly once.
// CREDITED and FAILED are terminal: replays against a settled order return
// the recorded outcome without touching the gateway or the ledger.
func (s *CheckoutService) CompleteCheckout(ctx context.Context, orderID, paymentID, signature string) (*CheckoutResult, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == models.OrderCredited || order.Status == models.OrderFailed {
		log.Printf("[CHECKOUT] Replay for %s order %s ignored", order.Status, orderID)
		return s.recordedOutcome(ctx, order)
	}

	if !s.gateway.VerifyPayment(orderID, paymentID, signature) {
		log.Printf("[CHECKOUT] Signature verification failed for order %s", orderID)
		ok, err := s.transition(ctx, orderID, order.Status, models.OrderFailed, paymentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			// A concurrent request settled the order first; its outcome stands.
			return s.adoptOutcome(ctx, orderID)
		}
		return &CheckoutResult{Status: models.OrderFailed}, nil
	}

	if order.Status == models.OrderPending {
		ok, err := s.transition(ctx, orderID, models.OrderPending, models.OrderVerified, paymentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.adoptOutcome(ctx, orderID)
		}
	}

	newBalance, err := s.ledger.Credit(ctx, order.AccountID, order.RequestedCredits, orderID)
	if errors.Is(err, ErrDuplicateTopup) {
		// A concurrent retry already credited; adopt its outcome.
		if _, err := s.transition(ctx, orderID, models.OrderVerified, models.OrderCredited, paymentID); err != nil {
			return nil, err
		}
		balance, err := s.ledger.GetBalance(ctx, order.AccountID)
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{Status: models.OrderCredited, NewBalance: balance}, nil
	}
	if err != nil {
		// Payment captured but credits not reflected. Leave the order
		// VERIFIED and surface the divergence instead of retrying.
		log.Printf("[CHECKOUT] Credit failed for verified order %s: %v", orderID, err)
		s.audit.LogReconciliation(orderID, order.AccountID, err)
		return nil, fmt.Errorf("%w: order %s: %v", ErrReconciliationRequired, orderID, err)
	}

	// A crash here leaves the order VERIFIED with the topup entry committed;
	// the next replay resolves it through the ErrDuplicateTopup path. A false
	// swap means another replay of this same credited order got there first.
	if _, err := s.transition(ctx, orderID, models.OrderVerified, models.OrderCredited, paymentID); err != nil {
		return nil, err
	}

	s.audit.LogTopup(orderID, order.AccountID, order.RequestedCredits, newBalance)
	s.publishTopupEvent(ctx, order.AccountID, orderID, order.RequestedCredits, newBalance)
	log.Printf("[CHECKOUT] Credited order %s: account %s, %d credits, balance %d",
		orderID, order.AccountID, order.RequestedCredits, newBalance)
	return &CheckoutResult{Status: models.OrderCredited, NewBalance: newBalance}, nil
}

// GetOrder loads a checkout order by gateway order id.
func (s *CheckoutService) GetOrder(ctx context.Context, orderID string) (*models.CheckoutOrder, error) {
	var order models.CheckoutOrder
	var paymentID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT order_id, account_id, currency, requested_credits, amount_minor_units, status, payment_id, created_at, updated_at
		FROM checkout_orders
		WHERE order_id = $1`, orderID).Scan(
		&order.OrderID, &order.AccountID, &order.Currency, &order.RequestedCredits,
		&order.AmountMinorUnits, &order.Status, &paymentID, &order.CreatedAt, &order.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching checkout order: %w", err)
	}
	order.PaymentID = paymentID.String
	return &order, nil
}

// PaymentLink exposes the gateway checkout URL for an order.
func (s *CheckoutService) PaymentLink(orderID string) string {
	return s.gateway.PaymentLink(orderID)
}

// recordedOutcome reports a settled order without re-running verification.
func (s *CheckoutService) recordedOutcome(ctx context.Context, order *models.CheckoutOrder) (*CheckoutResult, error) {
	result := &CheckoutResult{Status: order.Status}
	if order.Status == models.OrderCredited {
		balance, err := s.ledger.GetBalance(ctx, order.AccountID)
		if err != nil {
			return nil, err
		}
		result.NewBalance = balance
	}
	return result, nil
}

// adoptOutcome re-reads an order after losing a status race and returns
// whatever the winning request recorded.
func (s *CheckoutService) adoptOutcome(ctx context.Context, orderID string) (*CheckoutResult, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.recordedOutcome(ctx, order)
}

// transition is a compare-and-set status update. A false return means the
// order was not in the expected state, so another request has already moved
// it; terminal states can never be overwritten.
func (s *CheckoutService) transition(ctx context.Context, orderID string, from, to models.OrderStatus, paymentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE checkout_orders
		SET status = $1, payment_id = NULLIF($2, ''), updated_at = $3
		WHERE order_id = $4 AND status = $5`,
		to, paymentID, time.Now(), orderID, from)
	if err != nil {
		return false, fmt.Errorf("updating order %s to %s: %w", orderID, to, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *CheckoutService) publishTopupEvent(ctx context.Context, accountID, orderID string, credits, newBalance int64) {
	if s.redis == nil {
		return
	}
	event := topupEvent{
		AccountID:  accountID,
		OrderID:    orderID,
		Credits:    credits,
		NewBalance: newBalance,
		CreditedAt: time.Now(),
	}
	data, _ := json.Marshal(event)
	if err := s.redis.RPush(ctx, "credit_events", data).Err(); err != nil {
		log.Printf("[CHECKOUT] Failed to publish topup event: %v", err)
	}
}
