// Package memory provides an in-process LedgerRepository. It backs tests
// and local development; the semantics mirror the Postgres store exactly,
// including per-key serialization and the conditional-insert idempotency
// primitive, so ledger behavior can be tested without a database.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openclub/kudos/internal/models"
	"github.com/openclub/kudos/internal/rank"
	"github.com/openclub/kudos/internal/repository"
)

type balanceKey struct {
	userID   uuid.UUID
	tenantID uuid.UUID
}

type idemKey struct {
	userID   uuid.UUID
	tenantID uuid.UUID
	source   models.XPSource
	entityID string
}

// LedgerStore keeps the whole ledger behind one mutex. A single lock
// serializes all keys, which is stricter than the per-key requirement but
// trivially correct and plenty for tests.
type LedgerStore struct {
	mu       sync.Mutex
	balances map[balanceKey]*models.UserXPBalance
	txns     []models.XPTransaction
	applied  map[idemKey]struct{}
	nextID   int64
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		balances: make(map[balanceKey]*models.UserXPBalance),
		applied:  make(map[idemKey]struct{}),
		nextID:   1,
	}
}

func (s *LedgerStore) balance(k balanceKey) *models.UserXPBalance {
	b, ok := s.balances[k]
	if !ok {
		b = &models.UserXPBalance{UserID: k.userID, TenantID: k.tenantID}
		s.balances[k] = b
	}
	return b
}

func (s *LedgerStore) appendTxn(t models.XPTransaction) {
	t.ID = s.nextID
	s.nextID++
	t.CreatedAt = time.Now()
	s.txns = append(s.txns, t)
}

// tryInsert is the conditional-insert primitive: it records the
// transaction unless its idempotency key was seen before, and reports
// whether it applied.
func (s *LedgerStore) tryInsert(t models.XPTransaction) bool {
	if t.SourceEntityID != "" {
		k := idemKey{t.UserID, t.TenantID, t.Source, t.SourceEntityID}
		if _, dup := s.applied[k]; dup {
			return false
		}
		s.applied[k] = struct{}{}
	}
	s.appendTxn(t)
	return true
}

func (s *LedgerStore) Award(_ context.Context, p repository.AwardParams) (*repository.AwardOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.balance(balanceKey{p.UserID, p.TenantID})

	if !s.tryInsert(models.XPTransaction{
		TenantID:       p.TenantID,
		UserID:         p.UserID,
		Amount:         p.Amount,
		Source:         p.Source,
		SourceEntityID: p.SourceEntityID,
		Description:    p.Description,
	}) {
		return &repository.AwardOutcome{
			Applied:    false,
			LifetimeXP: b.LifetimeXP,
			TotalXP:    b.TotalXP,
			Rank:       rank.Compute(b.LifetimeXP, p.Thresholds),
		}, nil
	}

	oldRank := rank.Compute(b.LifetimeXP, p.Thresholds)
	b.LifetimeXP += p.Amount
	b.TotalXP += p.Amount
	newRank := rank.Compute(b.LifetimeXP, p.Thresholds)
	b.Rank = newRank.Rank
	b.UpdatedAt = time.Now()

	return &repository.AwardOutcome{
		Applied:     true,
		LifetimeXP:  b.LifetimeXP,
		TotalXP:     b.TotalXP,
		Rank:        newRank,
		RankChanged: newRank.Rank != oldRank.Rank,
	}, nil
}

func (s *LedgerStore) Deduct(_ context.Context, p repository.DeductParams) (*repository.DeductOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.balance(balanceKey{p.UserID, p.TenantID})
	if b.TotalXP < p.Amount {
		return nil, repository.ErrInsufficientBalance
	}

	s.appendTxn(models.XPTransaction{
		TenantID:    p.TenantID,
		UserID:      p.UserID,
		Amount:      -p.Amount,
		Source:      models.SourceManual,
		Description: p.Description,
	})
	b.TotalXP -= p.Amount
	b.UpdatedAt = time.Now()

	return &repository.DeductOutcome{TotalXP: b.TotalXP, Rank: b.Rank}, nil
}

func (s *LedgerStore) Reverse(_ context.Context, p repository.ReverseParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.balance(balanceKey{p.UserID, p.TenantID})

	if !s.tryInsert(models.XPTransaction{
		TenantID:       p.TenantID,
		UserID:         p.UserID,
		Amount:         -p.Amount,
		Source:         p.Source,
		SourceEntityID: p.SourceEntityID,
		Description:    p.Description,
	}) {
		return false, nil
	}

	b.LifetimeXP -= p.Amount
	b.TotalXP -= p.Amount
	b.Rank = rank.Compute(b.LifetimeXP, p.Thresholds).Rank
	b.UpdatedAt = time.Now()
	return true, nil
}

func (s *LedgerStore) GetBalance(_ context.Context, tenantID, userID uuid.UUID) (*models.UserXPBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[balanceKey{userID, tenantID}]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *LedgerStore) ListTransactions(_ context.Context, tenantID, userID uuid.UUID, before int64, limit int) ([]models.XPTransaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.XPTransaction, 0, limit)
	for i := len(s.txns) - 1; i >= 0 && len(out) < limit; i-- {
		t := s.txns[i]
		if t.UserID != userID || t.TenantID != tenantID {
			continue
		}
		if before > 0 && t.ID >= before {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
