package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/platform/logger"
	"github.com/fablehouse/fable-api/internal/store"
)

// PostgresCreditStore implements the store.CreditStore interface using
// PostgreSQL. The balance table and the append-only ledger are always
// written together inside one transaction.
type PostgresCreditStore struct {
	db store.DBTX
}

// NewPostgresCreditStore creates a new PostgresCreditStore.
func NewPostgresCreditStore(db store.DBTX) *PostgresCreditStore {
	return &PostgresCreditStore{db: db}
}

// WithTx implements store.CreditStore.
func (s *PostgresCreditStore) WithTx(tx *sql.Tx) store.CreditStore {
	return &PostgresCreditStore{db: tx}
}

// inTransaction runs fn inside a transaction when the store holds a plain
// connection, or directly when it already runs inside a caller-managed
// transaction (via WithTx).
func (s *PostgresCreditStore) inTransaction(ctx context.Context, fn func(db store.DBTX) error) error {
	if db, ok := s.db.(*sql.DB); ok {
		return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			return fn(tx)
		})
	}
	return fn(s.db)
}

// GetOrCreate implements store.CreditStore. The first sight of a user key
// seeds the balance with the signup bonus and records it in the ledger.
func (s *PostgresCreditStore) GetOrCreate(ctx context.Context, userKey string) (*domain.CreditBalance, error) {
	log := logger.FromContext(ctx)

	if userKey == "" {
		return nil, fmt.Errorf("%w: user key cannot be empty", store.ErrInvalidEntity)
	}

	err := s.inTransaction(ctx, func(db store.DBTX) error {
		now := time.Now().UTC()
		result, err := db.ExecContext(ctx, `
			INSERT INTO user_credits (user_key, credits, total_purchased, total_used, created_at, updated_at)
			VALUES ($1, $2, $2, 0, $3, $3)
			ON CONFLICT (user_key) DO NOTHING
		`, userKey, domain.SignupBonusCredits, now)
		if err != nil {
			return fmt.Errorf("failed to ensure credit balance: %w", MapError(err))
		}

		created, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if created > 0 {
			log.Info("granted signup bonus",
				"user_key", userKey,
				"credits", domain.SignupBonusCredits)
			if err := insertLedgerEntry(ctx, db, userKey, domain.SignupBonusCredits,
				domain.SignupBonusCredits, domain.CreditTxBonus, "signup bonus", ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.getBalance(ctx, userKey)
}

// Debit implements store.CreditStore. The credits >= amount guard in the
// WHERE clause makes the check-and-debit one atomic statement; two
// concurrent debits racing for the last credit cannot both match.
func (s *PostgresCreditStore) Debit(ctx context.Context, userKey string, amount int, description, referenceID string) (bool, error) {
	if amount <= 0 {
		return false, domain.ErrInvalidCreditAmount
	}

	charged := false
	err := s.inTransaction(ctx, func(db store.DBTX) error {
		var newBalance int
		err := db.QueryRowContext(ctx, `
			UPDATE user_credits
			SET credits = credits - $2, total_used = total_used + $2, updated_at = $3
			WHERE user_key = $1 AND credits >= $2
			RETURNING credits
		`, userKey, amount, time.Now().UTC()).Scan(&newBalance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Either the balance row is missing or it cannot cover the
				// amount; both read as "not charged".
				return nil
			}
			return fmt.Errorf("failed to debit credits: %w", MapError(err))
		}

		charged = true
		return insertLedgerEntry(ctx, db, userKey, -amount, newBalance,
			domain.CreditTxUsage, description, referenceID)
	})
	if err != nil {
		return false, err
	}
	return charged, nil
}

// Credit implements store.CreditStore.
func (s *PostgresCreditStore) Credit(ctx context.Context, userKey string, amount int, txType, description, referenceID string) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidCreditAmount
	}

	var newBalance int
	err := s.inTransaction(ctx, func(db store.DBTX) error {
		purchased := 0
		if txType == domain.CreditTxTopUp {
			purchased = amount
		}
		err := db.QueryRowContext(ctx, `
			UPDATE user_credits
			SET credits = credits + $2, total_purchased = total_purchased + $3, updated_at = $4
			WHERE user_key = $1
			RETURNING credits
		`, userKey, amount, purchased, time.Now().UTC()).Scan(&newBalance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrBalanceNotFound
			}
			return fmt.Errorf("failed to credit balance: %w", MapError(err))
		}

		return insertLedgerEntry(ctx, db, userKey, amount, newBalance,
			txType, description, referenceID)
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Transactions implements store.CreditStore.
func (s *PostgresCreditStore) Transactions(ctx context.Context, userKey string, limit, offset int) ([]*domain.CreditTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_key, amount, balance_after, type, description, reference_id, created_at
		FROM credit_transactions
		WHERE user_key = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userKey, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var txs []*domain.CreditTransaction
	for rows.Next() {
		var (
			tx          domain.CreditTransaction
			description sql.NullString
			referenceID sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.UserKey, &tx.Amount, &tx.BalanceAfter,
			&tx.Type, &description, &referenceID, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		tx.Description = description.String
		tx.ReferenceID = referenceID.String
		txs = append(txs, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credit transactions: %w", err)
	}
	return txs, nil
}

func (s *PostgresCreditStore) getBalance(ctx context.Context, userKey string) (*domain.CreditBalance, error) {
	var balance domain.CreditBalance
	err := s.db.QueryRowContext(ctx, `
		SELECT user_key, credits, total_purchased, total_used, created_at, updated_at
		FROM user_credits
		WHERE user_key = $1
	`, userKey).Scan(
		&balance.UserKey,
		&balance.Credits,
		&balance.TotalPurchased,
		&balance.TotalUsed,
		&balance.CreatedAt,
		&balance.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to get credit balance: %w", MapError(err))
	}
	return &balance, nil
}

func insertLedgerEntry(ctx context.Context, db store.DBTX, userKey string, amount, balanceAfter int, txType, description, referenceID string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_key, amount, balance_after, type, description, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, userKey, amount, balanceAfter, txType,
		nullString(description), nullString(referenceID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", MapError(err))
	}
	return nil
}
