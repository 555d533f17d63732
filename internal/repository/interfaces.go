package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/openclub/kudos/internal/models"
)

// Every method takes ctx (all implementations do I/O or may grow it) and
// is tenant-scoped: a caller can never touch another tenant's rows, even
// with a guessed user ID.

// ErrInsufficientBalance is returned by Deduct when the requested amount
// exceeds the spendable balance. No write occurs in that case.
var ErrInsufficientBalance = errors.New("insufficient balance")

// AwardParams describes one award application.
//
// Thresholds is the tenant's resolved rank table; the store recomputes the
// cached rank from the new lifetime XP inside the same atomic unit that
// writes the balance, so the balance row's rank invariant holds at every
// commit point.
type AwardParams struct {
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Amount         int64
	Source         models.XPSource
	SourceEntityID string
	Description    string
	Thresholds     []models.RankThreshold
}

// AwardOutcome reports the balance after an award.
//
// Applied is false when the idempotency key (user, tenant, source,
// sourceEntityID) already existed; the outcome then carries the current
// balance untouched and RankChanged is false.
type AwardOutcome struct {
	Applied     bool
	LifetimeXP  int64
	TotalXP     int64
	Rank        models.RankThreshold
	RankChanged bool
}

// DeductParams describes one spend of XP.
type DeductParams struct {
	UserID      uuid.UUID
	TenantID    uuid.UUID
	Amount      int64
	Description string
}

// DeductOutcome reports the spendable balance after a deduction. Rank is
// the unchanged cached rank — spending never erases earned reputation.
type DeductOutcome struct {
	TotalXP int64
	Rank    int
}

// ReverseParams describes the retraction of a prior award. SourceEntityID
// must already carry the reversal suffix so it cannot collide with the
// original award's idempotency key.
type ReverseParams struct {
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Amount         int64
	Source         models.XPSource
	SourceEntityID string
	Description    string
	Thresholds     []models.RankThreshold
}

// LedgerRepository is the system of record: an append-only transaction
// log plus a materialized per-(user, tenant) balance.
//
// Implementations must make each mutation atomic — the transaction row and
// the balance row commit together or not at all — and serializable per
// (user, tenant) key, so concurrent awards never lose an update.
type LedgerRepository interface {
	// Award applies a positive transaction and rolls it into the balance.
	// A duplicate idempotency key is reported via Applied=false, not an
	// error ("conditional insert, report whether it applied").
	Award(ctx context.Context, p AwardParams) (*AwardOutcome, error)

	// Deduct atomically checks totalXP >= amount and, only then, inserts
	// a negative MANUAL transaction and decrements totalXP. Returns
	// ErrInsufficientBalance with no write otherwise.
	Deduct(ctx context.Context, p DeductParams) (*DeductOutcome, error)

	// Reverse inserts a compensating negative transaction and decrements
	// both lifetime and total XP, recomputing rank from the new lifetime.
	// Reports whether it applied (a repeated reversal is a no-op).
	Reverse(ctx context.Context, p ReverseParams) (bool, error)

	// GetBalance returns the balance row. Returns nil, nil if the user
	// has no transactions yet.
	GetBalance(ctx context.Context, tenantID, userID uuid.UUID) (*models.UserXPBalance, error)

	// ListTransactions returns a user's ledger entries, newest first.
	// Cursor-based pagination: before=0 means "from the top".
	ListTransactions(ctx context.Context, tenantID, userID uuid.UUID, before int64, limit int) ([]models.XPTransaction, error)
}

// TenantRepository handles tenant rows and their raw config blobs.
type TenantRepository interface {
	Create(ctx context.Context, name string) (*models.Tenant, error)

	// GetConfig returns the tenant's raw stored config. nil is a valid
	// return (tenant exists but never configured anything) — the resolver
	// turns it into full defaults.
	GetConfig(ctx context.Context, tenantID uuid.UUID) ([]byte, error)

	// UpdateConfig replaces the stored blob. The blob is opaque here;
	// validation happens implicitly at resolve time.
	UpdateConfig(ctx context.Context, tenantID uuid.UUID, raw []byte) error
}

// UserRepository handles user data.
type UserRepository interface {
	Create(ctx context.Context, tenantID uuid.UUID, email, displayName, passwordHash string) (*models.User, error)

	// GetByID returns a user scoped to the tenant. Returns nil, nil if
	// not found.
	GetByID(ctx context.Context, tenantID, userID uuid.UUID) (*models.User, error)

	// GetByEmail looks up a user by email (globally). Used for login.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}
