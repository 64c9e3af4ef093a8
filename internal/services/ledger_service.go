package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/foundermatch/backend/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	// ErrInvalidAmount rejects non-positive credit or debit amounts before any store access.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrDuplicateTopup means a TOPUP ledger entry already references the payment order.
	ErrDuplicateTopup = errors.New("payment order already credited")
)

// DebitResult reports the outcome of a conditional debit.
type DebitResult struct {
	Charged    bool  `json:"charged"`
	NewBalance int64 `json:"new_balance"`
}

// CreditLedgerService owns account balances and the append-only ledger.
// Every mutation runs in a single SQL transaction holding a FOR UPDATE lock
// on the balance row, so concurrent handlers (possibly in other processes)
// always see a consistent balance snapshot.
type CreditLedgerService struct {
	db *sql.DB
}

func NewCreditLedgerService(db *sql.DB) *CreditLedgerService {
	return &CreditLedgerService{db: db}
}

// GetBalance returns the current credit balance. Accounts with no balance row read as 0.
func (s *CreditLedgerService) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var credits int64
	err := s.db.QueryRowContext(ctx,
		`SELECT credits FROM account_balances WHERE account_id = $1`, accountID).Scan(&credits)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("fetching balance: %w", err)
	}
	return credits, nil
}

// Credit adds purchased credits to an account, keyed by paymentOrderID for
// idempotency: a replayed gateway callback fails with ErrDuplicateTopup and
// leaves the balance untouched.
func (s *CreditLedgerService) Credit(ctx context.Context, accountID string, amount int64, paymentOrderID string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	balance, err := s.lockBalance(tx, accountID, true)
	if err != nil {
		return 0, err
	}

	entry := &models.LedgerEntry{
		EntryID:        uuid.NewString(),
		AccountID:      accountID,
		Delta:          amount,
		Reason:         models.ReasonTopup,
		PaymentOrderID: paymentOrderID,
	}
	if err := s.appendEntry(tx, entry); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateTopup
		}
		return 0, err
	}

	newBalance := balance.Credits + amount
	if err := s.updateBalance(tx, accountID, newBalance, balance.Version); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// DebitIfSufficient atomically checks the balance and, if it covers amount,
// decrements it and appends an UNLOCK_SPEND entry. No mutation occurs when
// the balance is insufficient.
func (s *CreditLedgerService) DebitIfSufficient(ctx context.Context, accountID string, amount int64, kind models.ResourceKind, resourceID string) (DebitResult, error) {
	if amount <= 0 {
		return DebitResult{}, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DebitResult{}, err
	}
	defer tx.Rollback()

	result, err := s.debitIfSufficientTx(tx, accountID, amount, kind, resourceID)
	if err != nil {
		return DebitResult{}, err
	}
	if !result.Charged {
		return result, nil
	}

	if err := tx.Commit(); err != nil {
		return DebitResult{}, err
	}
	return result, nil
}

// debitIfSufficientTx runs the conditional debit inside a caller-owned
// transaction so the unlock service can commit it together with the unlock
// row insert. The caller commits or rolls back.
func (s *CreditLedgerService) debitIfSufficientTx(tx *sql.Tx, accountID string, amount int64, kind models.ResourceKind, resourceID string) (DebitResult, error) {
	balance, err := s.lockBalance(tx, accountID, false)
	if err != nil {
		return DebitResult{}, err
	}

	if balance.Credits < amount {
		return DebitResult{Charged: false, NewBalance: balance.Credits}, nil
	}

	entry := &models.LedgerEntry{
		EntryID:      uuid.NewString(),
		AccountID:    accountID,
		Delta:        -amount,
		Reason:       models.ReasonUnlockSpend,
		ResourceKind: string(kind),
		ResourceID:   resourceID,
	}
	if err := s.appendEntry(tx, entry); err != nil {
		return DebitResult{}, err
	}

	newBalance := balance.Credits - amount
	if err := s.updateBalance(tx, accountID, newBalance, balance.Version); err != nil {
		return DebitResult{}, err
	}

	return DebitResult{Charged: true, NewBalance: newBalance}, nil
}

// History returns the most recent ledger entries for an account, newest first.
func (s *CreditLedgerService) History(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, account_id, delta, reason, resource_kind, resource_id, payment_order_id, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching ledger history: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		var kind, resID, orderID sql.NullString
		if err := rows.Scan(&e.EntryID, &e.AccountID, &e.Delta, &e.Reason, &kind, &resID, &orderID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ResourceKind = kind.String
		e.ResourceID = resID.String
		e.PaymentOrderID = orderID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// lockBalance takes the FOR UPDATE lock on an account's balance row. With
// create=true a missing row is inserted first, so top-ups work for brand new
// accounts; with create=false a missing account reads as a zero balance.
func (s *CreditLedgerService) lockBalance(tx *sql.Tx, accountID string, create bool) (*models.AccountBalance, error) {
	if create {
		if _, err := tx.Exec(`
			INSERT INTO account_balances (account_id, credits, version, updated_at)
			VALUES ($1, 0, 1, $2)
			ON CONFLICT (account_id) DO NOTHING`,
			accountID, time.Now()); err != nil {
			return nil, err
		}
	}

	var balance models.AccountBalance
	err := tx.QueryRow(`
		SELECT account_id, credits, version, updated_at
		FROM account_balances
		WHERE account_id = $1
		FOR UPDATE`, accountID).Scan(&balance.AccountID, &balance.Credits, &balance.Version, &balance.UpdatedAt)
	if err == sql.ErrNoRows && !create {
		return &models.AccountBalance{AccountID: accountID, Credits: 0, Version: 0}, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (s *CreditLedgerService) appendEntry(tx *sql.Tx, entry *models.LedgerEntry) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (entry_id, account_id, delta, reason, resource_kind, resource_id, payment_order_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)`,
		entry.EntryID, entry.AccountID, entry.Delta, entry.Reason,
		entry.ResourceKind, entry.ResourceID, entry.PaymentOrderID, time.Now())
	return err
}

func (s *CreditLedgerService) updateBalance(tx *sql.Tx, accountID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE account_balances
		SET credits = $1, version = version + 1, updated_at = $2
		WHERE account_id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
