package models

import (
	"time"
)

// LedgerReason classifies a balance-changing ledger entry.
type LedgerReason string

const (
	ReasonTopup       LedgerReason = "TOPUP"
	ReasonUnlockSpend LedgerReason = "UNLOCK_SPEND"
)

// ResourceKind is the closed set of credit-gated resources.
type ResourceKind string

const (
	ResourceInvestorProfile ResourceKind = "INVESTOR_PROFILE"
	ResourceIntroduction    ResourceKind = "INTRODUCTION"
	ResourcePipelineChat    ResourceKind = "PIPELINE_CHAT"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceInvestorProfile, ResourceIntroduction, ResourcePipelineChat:
		return true
	}
	return false
}

// OrderStatus tracks a checkout order through its lifecycle.
// PENDING -> VERIFIED -> CREDITED, or FAILED. CREDITED and FAILED are terminal.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderVerified OrderStatus = "VERIFIED"
	OrderCredited OrderStatus = "CREDITED"
	OrderFailed   OrderStatus = "FAILED"
)

type AccountBalance struct {
	AccountID string    `json:"account_id" db:"account_id"`
	Credits   int64     `json:"credits" db:"credits"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is append-only; the sum of deltas for an account equals its balance.
type LedgerEntry struct {
	EntryID        string       `json:"entry_id" db:"entry_id"`
	AccountID      string       `json:"account_id" db:"account_id"`
	Delta          int64        `json:"delta" db:"delta"` // whole credits, signed
	Reason         LedgerReason `json:"reason" db:"reason"`
	ResourceKind   string       `json:"resource_kind,omitempty" db:"resource_kind"`
	ResourceID     string       `json:"resource_id,omitempty" db:"resource_id"`
	PaymentOrderID string       `json:"payment_order_id,omitempty" db:"payment_order_id"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// UnlockRecord marks a resource permanently unlocked for an account.
// Unique on (account_id, resource_kind, resource_id); never deleted.
type UnlockRecord struct {
	AccountID    string       `json:"account_id" db:"account_id"`
	ResourceKind ResourceKind `json:"resource_kind" db:"resource_kind"`
	ResourceID   string       `json:"resource_id" db:"resource_id"`
	UnlockedAt   time.Time    `json:"unlocked_at" db:"unlocked_at"`
}

type CheckoutOrder struct {
	OrderID          string      `json:"order_id" db:"order_id"` // gateway-assigned
	AccountID        string      `json:"account_id" db:"account_id"`
	Currency         string      `json:"currency" db:"currency"`
	RequestedCredits int64       `json:"requested_credits" db:"requested_credits"`
	AmountMinorUnits int64       `json:"amount_minor_units" db:"amount_minor_units"`
	Status           OrderStatus `json:"status" db:"status"`
	PaymentID        string      `json:"payment_id,omitempty" db:"payment_id"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}
