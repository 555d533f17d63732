// Package events defines the outbound sinks the ledger writes to. Both
// sinks are external systems from the ledger's point of view: a failure
// to publish never fails — or rolls back — the balance transaction that
// triggered it.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/openclub/kudos/internal/models"
)

// RankChangedEvent announces that a user crossed a rank threshold.
type RankChangedEvent struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	UserID    uuid.UUID `json:"user_id"`
	NewRank   int       `json:"new_rank"`
	RankLabel string    `json:"rank_label"`
	Occurred  time.Time `json:"occurred"`
}

// AuditEvent records one ledger mutation attempt for the audit trail.
type AuditEvent struct {
	TenantID  uuid.UUID       `json:"tenant_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Operation string          `json:"operation"` // "award", "deduct", "reverse"
	Amount    int64           `json:"amount"`
	Source    models.XPSource `json:"source"`
	Detail    string          `json:"detail,omitempty"`
	Occurred  time.Time       `json:"occurred"`
}

// RankNotifier delivers rank-change notifications to whatever presents
// them to users (email, in-app, webhooks — not this service's concern).
type RankNotifier interface {
	NotifyRankChanged(ctx context.Context, ev RankChangedEvent) error
}

// AuditSink is the write-only audit-log destination.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent) error
}
