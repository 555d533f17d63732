package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openclub/kudos/internal/models"
	"github.com/openclub/kudos/internal/rank"
	"github.com/openclub/kudos/internal/repository"
)

// LedgerStore persists the XP ledger in Postgres.
//
// Concurrency discipline: every mutation runs in a transaction that takes
// a row lock (SELECT ... FOR UPDATE) on the balance row before reading it,
// so two concurrent awards for the same (user, tenant) serialize at the
// database instead of racing a read-then-write. Operations on different
// keys don't contend.
//
// Idempotency discipline: the partial unique index on (user_id, tenant_id,
// source, source_entity_id) makes the transaction insert conditional;
// RowsAffected tells us whether it applied, so a duplicate is a first-class
// outcome rather than a swallowed constraint violation.
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const insertTransactionSQL = `
	INSERT INTO xp_transactions (tenant_id, user_id, amount, source, source_entity_id, description, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	ON CONFLICT (user_id, tenant_id, source, source_entity_id)
		WHERE source_entity_id IS NOT NULL
		DO NOTHING`

const upsertBalanceSQL = `
	INSERT INTO user_xp_balances (user_id, tenant_id, lifetime_xp, total_xp, rank, updated_at)
	VALUES ($1, $2, $3, $4, $5, now())
	ON CONFLICT (user_id, tenant_id) DO UPDATE
	SET lifetime_xp = EXCLUDED.lifetime_xp,
	    total_xp    = EXCLUDED.total_xp,
	    rank        = EXCLUDED.rank,
	    updated_at  = now()`

const seedBalanceSQL = `
	INSERT INTO user_xp_balances (user_id, tenant_id)
	VALUES ($1, $2)
	ON CONFLICT (user_id, tenant_id) DO NOTHING`

// lockBalance reads the balance row under FOR UPDATE. The row is seeded at
// its zero state first: FOR UPDATE on a row that does not exist locks
// nothing, so without the seed two concurrent first writes for the same
// (user, tenant) would both read zeros and the later upsert would clobber
// the earlier one. With the seed, the second transaction blocks on the row
// lock and rereads the committed state.
func lockBalance(ctx context.Context, tx pgx.Tx, tenantID, userID uuid.UUID) (lifetime, total int64, rankNum int, err error) {
	if _, err := tx.Exec(ctx, seedBalanceSQL, userID, tenantID); err != nil {
		return 0, 0, 0, fmt.Errorf("seed balance: %w", err)
	}

	query := `
		SELECT lifetime_xp, total_xp, rank
		FROM user_xp_balances
		WHERE user_id = $1 AND tenant_id = $2
		FOR UPDATE`

	err = tx.QueryRow(ctx, query, userID, tenantID).Scan(&lifetime, &total, &rankNum)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("lock balance: %w", err)
	}
	return lifetime, total, rankNum, nil
}

func (s *LedgerStore) Award(ctx context.Context, p repository.AwardParams) (*repository.AwardOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin award: %w", err)
	}
	defer tx.Rollback(ctx)

	lifetime, total, _, err := lockBalance(ctx, tx, p.TenantID, p.UserID)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, insertTransactionSQL,
		p.TenantID, p.UserID, p.Amount, p.Source, nullable(p.SourceEntityID), p.Description)
	if err != nil {
		return nil, fmt.Errorf("insert award transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Idempotency key already present: report the current balance
		// untouched. The deferred rollback releases the row lock.
		return &repository.AwardOutcome{
			Applied:    false,
			LifetimeXP: lifetime,
			TotalXP:    total,
			Rank:       rank.Compute(lifetime, p.Thresholds),
		}, nil
	}

	oldRank := rank.Compute(lifetime, p.Thresholds)
	newLifetime := lifetime + p.Amount
	newTotal := total + p.Amount
	newRank := rank.Compute(newLifetime, p.Thresholds)

	if _, err := tx.Exec(ctx, upsertBalanceSQL,
		p.UserID, p.TenantID, newLifetime, newTotal, newRank.Rank); err != nil {
		return nil, fmt.Errorf("upsert balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit award: %w", err)
	}

	return &repository.AwardOutcome{
		Applied:     true,
		LifetimeXP:  newLifetime,
		TotalXP:     newTotal,
		Rank:        newRank,
		RankChanged: newRank.Rank != oldRank.Rank,
	}, nil
}

func (s *LedgerStore) Deduct(ctx context.Context, p repository.DeductParams) (*repository.DeductOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin deduct: %w", err)
	}
	defer tx.Rollback(ctx)

	lifetime, total, rankNum, err := lockBalance(ctx, tx, p.TenantID, p.UserID)
	if err != nil {
		return nil, err
	}
	if total < p.Amount {
		// No write of any kind; the rollback releases the lock.
		return nil, repository.ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, insertTransactionSQL,
		p.TenantID, p.UserID, -p.Amount, models.SourceManual, nil, p.Description); err != nil {
		return nil, fmt.Errorf("insert deduct transaction: %w", err)
	}

	// Lifetime XP and rank are untouched by ordinary spending.
	if _, err := tx.Exec(ctx, upsertBalanceSQL,
		p.UserID, p.TenantID, lifetime, total-p.Amount, rankNum); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit deduct: %w", err)
	}

	return &repository.DeductOutcome{TotalXP: total - p.Amount, Rank: rankNum}, nil
}

func (s *LedgerStore) Reverse(ctx context.Context, p repository.ReverseParams) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin reverse: %w", err)
	}
	defer tx.Rollback(ctx)

	lifetime, total, _, err := lockBalance(ctx, tx, p.TenantID, p.UserID)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, insertTransactionSQL,
		p.TenantID, p.UserID, -p.Amount, p.Source, nullable(p.SourceEntityID), p.Description)
	if err != nil {
		return false, fmt.Errorf("insert reversal transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// This reversal already ran; don't subtract twice.
		return false, nil
	}

	// Unlike Deduct, a reversal retracts lifetime reputation too, and the
	// rank is recomputed from the reduced lifetime XP.
	newLifetime := lifetime - p.Amount
	newTotal := total - p.Amount
	newRank := rank.Compute(newLifetime, p.Thresholds)

	if _, err := tx.Exec(ctx, upsertBalanceSQL,
		p.UserID, p.TenantID, newLifetime, newTotal, newRank.Rank); err != nil {
		return false, fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit reverse: %w", err)
	}
	return true, nil
}

func (s *LedgerStore) GetBalance(ctx context.Context, tenantID, userID uuid.UUID) (*models.UserXPBalance, error) {
	query := `
		SELECT user_id, tenant_id, lifetime_xp, total_xp, rank, updated_at
		FROM user_xp_balances
		WHERE user_id = $1 AND tenant_id = $2`

	var b models.UserXPBalance
	err := s.pool.QueryRow(ctx, query, userID, tenantID).Scan(
		&b.UserID,
		&b.TenantID,
		&b.LifetimeXP,
		&b.TotalXP,
		&b.Rank,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &b, nil
}

func (s *LedgerStore) ListTransactions(ctx context.Context, tenantID, userID uuid.UUID, before int64, limit int) ([]models.XPTransaction, error) {
	var query string
	var args []any

	if before > 0 {
		query = `
			SELECT id, tenant_id, user_id, amount, source, COALESCE(source_entity_id, ''), description, created_at
			FROM xp_transactions
			WHERE user_id = $1 AND tenant_id = $2 AND id < $3
			ORDER BY id DESC
			LIMIT $4`
		args = []any{userID, tenantID, before, limit}
	} else {
		query = `
			SELECT id, tenant_id, user_id, amount, source, COALESCE(source_entity_id, ''), description, created_at
			FROM xp_transactions
			WHERE user_id = $1 AND tenant_id = $2
			ORDER BY id DESC
			LIMIT $3`
		args = []any{userID, tenantID, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txns := make([]models.XPTransaction, 0)
	for rows.Next() {
		var t models.XPTransaction
		if err := rows.Scan(
			&t.ID,
			&t.TenantID,
			&t.UserID,
			&t.Amount,
			&t.Source,
			&t.SourceEntityID,
			&t.Description,
			&t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return txns, nil
}

// nullable maps an empty entity id to SQL NULL so rows without one never
// participate in the partial unique index.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
