package domain

import (
	"errors"
	"time"
)

// Credit transaction types recorded in the append-only ledger.
const (
	CreditTxBonus  = "bonus"
	CreditTxUsage  = "usage"
	CreditTxTopUp  = "topup"
	CreditTxRefund = "refund"
)

// SignupBonusCredits is granted when a balance row is first created.
const SignupBonusCredits = 10

// Common credit errors
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidCreditAmount = errors.New("credit amount must be positive")
)

// CreditBalance is the per-user consumable balance. It never goes negative;
// debits are single conditional updates, not read-then-write.
type CreditBalance struct {
	UserKey        string    `json:"user_key"`
	Credits        int       `json:"credits"`
	TotalPurchased int       `json:"total_purchased"`
	TotalUsed      int       `json:"total_used"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreditTransaction is one immutable ledger entry. Amount is positive for
// grants and negative for usage; BalanceAfter is the balance the entry left
// behind.
type CreditTransaction struct {
	ID           int64     `json:"id"`
	UserKey      string    `json:"user_key"`
	Amount       int       `json:"amount"`
	BalanceAfter int       `json:"balance_after"`
	Type         string    `json:"type"`
	Description  string    `json:"description,omitempty"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
