package store

import (
	"context"
	"database/sql"

	"github.com/fablehouse/fable-api/internal/domain"
)

// CreditStore defines the interface for the per-user credit ledger.
//
// Debit must be implemented as a single conditional update whose
// affected-row count decides success; a read-then-write sequence would let
// two concurrent debits both succeed on the last remaining credit.
type CreditStore interface {
	// GetOrCreate returns the balance row for userKey, creating it with the
	// signup bonus (and a bonus ledger entry) if it does not exist.
	GetOrCreate(ctx context.Context, userKey string) (*domain.CreditBalance, error)

	// Debit atomically subtracts amount from the balance if and only if the
	// balance covers it, and appends a usage ledger entry. Returns false
	// with the balance untouched when credits are insufficient.
	Debit(ctx context.Context, userKey string, amount int, description, referenceID string) (bool, error)

	// Credit adds amount to the balance, appends a ledger entry of the
	// given type, and returns the new balance.
	Credit(ctx context.Context, userKey string, amount int, txType, description, referenceID string) (int, error)

	// Transactions returns the most recent ledger entries for userKey.
	Transactions(ctx context.Context, userKey string, limit, offset int) ([]*domain.CreditTransaction, error)

	// WithTx returns a new CreditStore instance that uses the provided
	// transaction.
	WithTx(tx *sql.Tx) CreditStore
}
