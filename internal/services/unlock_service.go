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
	"github.com/foundermatch/backend/internal/models"
	"github.com/go-redis/redis/v8"
)

// ErrInvalidResourceKind rejects resource kinds outside the closed enum.
var ErrInvalidResourceKind = errors.New("invalid resource kind")

// UnlockStatus is the closed set of unlock outcomes. None of these are
// errors; callers handle them exhaustively.
type UnlockStatus string

const (
	StatusUnlocked            UnlockStatus = "UNLOCKED"
	StatusAlreadyUnlocked     UnlockStatus = "ALREADY_UNLOCKED"
	StatusInsufficientCredits UnlockStatus = "INSUFFICIENT_CREDITS"
)

// UnlockResult reports an unlock attempt. NewBalance is meaningful for
// UNLOCKED and INSUFFICIENT_CREDITS.
type UnlockResult struct {
	Status     UnlockStatus `json:"status"`
	NewBalance int64        `json:"new_balance"`
}

type unlockEvent struct {
	AccountID    string    `json:"account_id"`
	ResourceKind string    `json:"resource_kind"`
	ResourceID   string    `json:"resource_id"`
	Price        int64     `json:"price"`
	NewBalance   int64     `json:"new_balance"`
	UnlockedAt   time.Time `json:"unlocked_at"`
}

// UnlockService records permanent, credit-gated unlocks. The charge and the
// unlock record commit in one transaction; two concurrent unlocks of the same
// resource can never both charge.
type UnlockService struct {
	db     *sql.DB
	redis  *redis.Client
	ledger *CreditLedgerService
	audit  *audit.Logger
}

func NewUnlockService(db *sql.DB, redisClient *redis.Client, ledger *CreditLedgerService) *UnlockService {
	return &UnlockService{
		db:     db,
		redis:  redisClient,
		ledger: ledger,
		audit:  audit.NewLogger(),
	}
}

// CheckUnlocked reports whether the resource is unlocked for the account.
// Grants are permanent, so positive results are cached in Redis without TTL.
func (s *UnlockService) CheckUnlocked(ctx context.Context, accountID string, kind models.ResourceKind, resourceID string) (bool, error) {
	if !kind.Valid() {
		return false, ErrInvalidResourceKind
	}

	cacheKey := unlockCacheKey(accountID, kind, resourceID)
	if s.redis != nil {
		if val, err := s.redis.Get(ctx, cacheKey).Result(); err == nil && val == "1" {
			return true, nil
		}
	}

	unlocked, err := s.existsUnlock(ctx, accountID, kind, resourceID)
	if err != nil {
		return false, err
	}

	if unlocked && s.redis != nil {
		if err := s.redis.Set(ctx, cacheKey, "1", 0).Err(); err != nil {
			log.Printf("[UNLOCK] Failed to cache unlock state: %v", err)
		}
	}
	return unlocked, nil
}

// Unlock attempts to permanently unlock a resource for price credits.
// Idempotent: repeated calls (including concurrent ones) charge at most once.
func (s *UnlockService) Unlock(ctx context.Context, accountID string, kind models.ResourceKind, resourceID string, price int64) (UnlockResult, error) {
	if price <= 0 {
		return UnlockResult{}, ErrInvalidAmount
	}
	if !kind.Valid() {
		return UnlockResult{}, ErrInvalidResourceKind
	}

	// Fast path: a user double-clicking "unlock" should not contend on the
	// balance row at all.
	unlocked, err := s.existsUnlock(ctx, accountID, kind, resourceID)
	if err != nil {
		return UnlockResult{}, err
	}
	if unlocked {
		balance, err := s.ledger.GetBalance(ctx, accountID)
		if err != nil {
			return UnlockResult{}, err
		}
		return UnlockResult{Status: StatusAlreadyUnlocked, NewBalance: balance}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UnlockResult{}, err
	}
	defer tx.Rollback()

	// The balance lock serializes unlocks for this account. Once it is held,
	// re-check the unlock row: a concurrent winner has already committed.
	balance, err := s.ledger.lockBalance(tx, accountID, false)
	if err != nil {
		return UnlockResult{}, err
	}

	var exists bool
	err = tx.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM unlock_records
			WHERE account_id = $1 AND resource_kind = $2 AND resource_id = $3
		)`, accountID, kind, resourceID).Scan(&exists)
	if err != nil {
		return UnlockResult{}, err
	}
	if exists {
		s.cacheUnlock(ctx, accountID, kind, resourceID)
		return UnlockResult{Status: StatusAlreadyUnlocked, NewBalance: balance.Credits}, nil
	}

	if balance.Credits < price {
		return UnlockResult{Status: StatusInsufficientCredits, NewBalance: balance.Credits}, nil
	}

	if _, err := tx.Exec(`
		INSERT INTO unlock_records (account_id, resource_kind, resource_id, unlocked_at)
		VALUES ($1, $2, $3, $4)`,
		accountID, kind, resourceID, time.Now()); err != nil {
		if isUniqueViolation(err) {
			return UnlockResult{Status: StatusAlreadyUnlocked, NewBalance: balance.Credits}, nil
		}
		return UnlockResult{}, err
	}

	result, err := s.ledger.debitIfSufficientTx(tx, accountID, price, kind, resourceID)
	if err != nil {
		return UnlockResult{}, err
	}
	if !result.Charged {
		// Unreachable while the balance lock is held; kept as a guard so a
		// future reordering cannot charge past zero.
		return UnlockResult{Status: StatusInsufficientCredits, NewBalance: result.NewBalance}, nil
	}

	if err := tx.Commit(); err != nil {
		return UnlockResult{}, err
	}

	s.audit.LogUnlock(accountID, string(kind), resourceID, price, result.NewBalance)
	s.cacheUnlock(ctx, accountID, kind, resourceID)
	s.publishUnlockEvent(ctx, accountID, kind, resourceID, price, result.NewBalance)

	return UnlockResult{Status: StatusUnlocked, NewBalance: result.NewBalance}, nil
}

// ListUnlocks returns every unlock the account holds for a resource kind.
// Directory pages use this to mark already-unlocked rows in one query.
func (s *UnlockService) ListUnlocks(ctx context.Context, accountID string, kind models.ResourceKind) ([]models.UnlockRecord, error) {
	if !kind.Valid() {
		return nil, ErrInvalidResourceKind
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, resource_kind, resource_id, unlocked_at
		FROM unlock_records
		WHERE account_id = $1 AND resource_kind = $2
		ORDER BY unlocked_at DESC`, accountID, kind)
	if err != nil {
		return nil, fmt.Errorf("fetching unlocks: %w", err)
	}
	defer rows.Close()

	records := []models.UnlockRecord{}
	for rows.Next() {
		var rec models.UnlockRecord
		if err := rows.Scan(&rec.AccountID, &rec.ResourceKind, &rec.ResourceID, &rec.UnlockedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *UnlockService) existsUnlock(ctx context.Context, accountID string, kind models.ResourceKind, resourceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM unlock_records
			WHERE account_id = $1 AND resource_kind = $2 AND resource_id = $3
		)`, accountID, kind, resourceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking unlock record: %w", err)
	}
	return exists, nil
}

func (s *UnlockService) cacheUnlock(ctx context.Context, accountID string, kind models.ResourceKind, resourceID string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, unlockCacheKey(accountID, kind, resourceID), "1", 0).Err(); err != nil {
		log.Printf("[UNLOCK] Failed to cache unlock state: %v", err)
	}
}

func (s *UnlockService) publishUnlockEvent(ctx context.Context, accountID string, kind models.ResourceKind, resourceID string, price, newBalance int64) {
	if s.redis == nil {
		return
	}
	event := unlockEvent{
		AccountID:    accountID,
		ResourceKind: string(kind),
		ResourceID:   resourceID,
		Price:        price,
		NewBalance:   newBalance,
		UnlockedAt:   time.Now(),
	}
	data, _ := json.Marshal(event)
	if err := s.redis.RPush(ctx, "credit_events", data).Err(); err != nil {
		log.Printf("[UNLOCK] Failed to publish unlock event: %v", err)
	}
}

func unlockCacheKey(accountID string, kind models.ResourceKind, resourceID string) string {
	return fmt.Sprintf("unlock:%s:%s:%s", accountID, kind, resourceID)
}
