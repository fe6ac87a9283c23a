package mocks

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/store"
)

// MemoryCreditStore implements store.CreditStore in memory. The mutex makes
// Debit atomic, matching the exclusivity the postgres conditional update
// provides.
type MemoryCreditStore struct {
	mu       sync.Mutex
	balances map[string]*domain.CreditBalance
	ledger   []*domain.CreditTransaction
	nextID   int64
}

// NewMemoryCreditStore creates an empty MemoryCreditStore.
func NewMemoryCreditStore() *MemoryCreditStore {
	return &MemoryCreditStore{balances: make(map[string]*domain.CreditBalance)}
}

// WithTx implements store.CreditStore; transactions are a no-op in memory.
func (s *MemoryCreditStore) WithTx(_ *sql.Tx) store.CreditStore { return s }

// GetOrCreate implements store.CreditStore.
func (s *MemoryCreditStore) GetOrCreate(_ context.Context, userKey string) (*domain.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userKey]
	if !ok {
		now := time.Now().UTC()
		balance = &domain.CreditBalance{
			UserKey:        userKey,
			Credits:        domain.SignupBonusCredits,
			TotalPurchased: domain.SignupBonusCredits,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.balances[userKey] = balance
		s.appendLocked(userKey, domain.SignupBonusCredits, balance.Credits,
			domain.CreditTxBonus, "signup bonus", "")
	}
	cp := *balance
	return &cp, nil
}

// Debit implements store.CreditStore.
func (s *MemoryCreditStore) Debit(_ context.Context, userKey string, amount int, description, referenceID string) (bool, error) {
	if amount <= 0 {
		return false, domain.ErrInvalidCreditAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userKey]
	if !ok || balance.Credits < amount {
		return false, nil
	}

	balance.Credits -= amount
	balance.TotalUsed += amount
	balance.UpdatedAt = time.Now().UTC()
	s.appendLocked(userKey, -amount, balance.Credits, domain.CreditTxUsage, description, referenceID)
	return true, nil
}

// Credit implements store.CreditStore.
func (s *MemoryCreditStore) Credit(_ context.Context, userKey string, amount int, txType, description, referenceID string) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidCreditAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userKey]
	if !ok {
		return 0, store.ErrBalanceNotFound
	}

	balance.Credits += amount
	if txType == domain.CreditTxTopUp {
		balance.TotalPurchased += amount
	}
	balance.UpdatedAt = time.Now().UTC()
	s.appendLocked(userKey, amount, balance.Credits, txType, description, referenceID)
	return balance.Credits, nil
}

// Transactions implements store.CreditStore.
func (s *MemoryCreditStore) Transactions(_ context.Context, userKey string, limit, offset int) ([]*domain.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*domain.CreditTransaction
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].UserKey == userKey {
			cp := *s.ledger[i]
			all = append(all, &cp)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// SetBalance force-sets a user's balance for test setup.
func (s *MemoryCreditStore) SetBalance(userKey string, credits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.balances[userKey] = &domain.CreditBalance{
		UserKey:   userKey,
		Credits:   credits,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *MemoryCreditStore) appendLocked(userKey string, amount, balanceAfter int, txType, description, referenceID string) {
	s.nextID++
	s.ledger = append(s.ledger, &domain.CreditTransaction{
		ID:           s.nextID,
		UserKey:      userKey,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Type:         txType,
		Description:  description,
		ReferenceID:  referenceID,
		CreatedAt:    time.Now().UTC(),
	})
}
