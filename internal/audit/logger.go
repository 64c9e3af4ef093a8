// Package audit emits structured audit events for every balance-affecting
// operation. Events go to the process log as single-line JSON so the
// platform's log pipeline can index them.
package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  string    `json:"event_type"`
	AccountID  string    `json:"account_id"`
	OrderID    string    `json:"order_id,omitempty"`
	Delta      int64     `json:"delta,omitempty"`
	NewBalance int64     `json:"new_balance,omitempty"`
	Status     string    `json:"status"`
	Details    any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTopup(orderID, accountID string, credits, newBalance int64) {
	a.log(Event{
		Timestamp:  time.Now(),
		EventType:  "TOPUP",
		AccountID:  accountID,
		OrderID:    orderID,
		Delta:      credits,
		NewBalance: newBalance,
		Status:     "SUCCESS",
	})
}

func (a *Logger) LogUnlock(accountID, resourceKind, resourceID string, price, newBalance int64) {
	a.log(Event{
		Timestamp:  time.Now(),
		EventType:  "UNLOCK",
		AccountID:  accountID,
		Delta:      -price,
		NewBalance: newBalance,
		Status:     "SUCCESS",
		Details: map[string]string{
			"resource_kind": resourceKind,
			"resource_id":   resourceID,
		},
	})
}

// LogReconciliation records the one state where funds and credits disagree:
// a verified payment whose credit step failed.
func (a *Logger) LogReconciliation(orderID, accountID string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "RECONCILIATION_REQUIRED",
		AccountID: accountID,
		OrderID:   orderID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
