package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the top-level isolation boundary. Every user, transaction, and
// balance belongs to exactly one tenant, and every query is scoped to one.
//
// Config holds the tenant's raw, possibly partial, configuration blob.
// Business code never reads it directly — tenantcfg.Resolve merges it with
// defaults on every access, so adding a new configurable key needs no
// migration.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Config    []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a person within a tenant.
type User struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// XPSource identifies what caused an XP transaction. Sources double as
// keys in a tenant's configurable XP rule table.
type XPSource string

const (
	SourceModuleCompleted    XPSource = "MODULE_COMPLETED"
	SourceQuizHighScore      XPSource = "QUIZ_HIGH_SCORE"
	SourceSuggestionCreated  XPSource = "SUGGESTION_CREATED"
	SourceTopSuggestion      XPSource = "TOP_SUGGESTION"
	SourceSuggestionApproved XPSource = "SUGGESTION_APPROVED"
	SourceChatParticipation  XPSource = "CHAT_PARTICIPATION"
	SourceManual             XPSource = "MANUAL"
)

// XPTransaction is one row of the append-only ledger. Rows are never
// updated or deleted; retracting an award means inserting a compensating
// negative row.
//
// Amount is signed: positive for awards, negative for deductions and
// reversals.
//
// SourceEntityID identifies the entity that triggered the award (a module
// ID, a suggestion ID, ...). Together with (user, tenant, source) it forms
// the idempotency key: a second award for the same tuple must not apply
// twice. Empty means "no idempotency guard" (manual awards, deductions).
type XPTransaction struct {
	ID             int64     `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	UserID         uuid.UUID `json:"user_id"`
	Amount         int64     `json:"amount"`
	Source         XPSource  `json:"source"`
	SourceEntityID string    `json:"source_entity_id,omitempty"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UserXPBalance is the materialized roll-up of a user's transactions,
// one row per (user, tenant).
//
// LifetimeXP is everything the user ever earned. Ordinary spending
// (Deduct) never touches it — only an explicit reversal of a prior award
// lowers it. Rank is always derived from LifetimeXP, so redeeming a reward
// cannot demote anyone.
//
// TotalXP is the spendable balance: awards add to it, deductions and
// reversals subtract from it.
type UserXPBalance struct {
	UserID     uuid.UUID `json:"user_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	LifetimeXP int64     `json:"lifetime_xp"`
	TotalXP    int64     `json:"total_xp"`
	Rank       int       `json:"rank"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RankThreshold is one row of a tenant's rank table: reaching MinXP
// lifetime XP puts a user at Rank with the given badge label.
type RankThreshold struct {
	Rank  int    `json:"rank"`
	MinXP int64  `json:"min_xp"`
	Label string `json:"label"`
}
