// Package ledger implements the reputation ledger: award, deduct, and
// reverse operations over the append-only XP transaction log and the
// materialized per-user balance.
//
// Callers are expected to have already passed a rate-limit check; the
// ledger itself does no throttling.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openclub/kudos/internal/events"
	"github.com/openclub/kudos/internal/models"
	"github.com/openclub/kudos/internal/repository"
	"github.com/openclub/kudos/internal/tenantcfg"
	"go.uber.org/zap"
)

// reversalSuffix keeps a reversal's identity from colliding with the
// idempotency key of the award it retracts, while still giving the
// reversal itself an idempotency key of its own.
const reversalSuffix = ":reversal"

// Service orchestrates ledger operations: validation, the atomic apply in
// the repository, and the outbound sinks. Atomicity and idempotency live
// in the repository; the sinks are best-effort on top.
type Service struct {
	repo     repository.LedgerRepository
	notifier events.RankNotifier
	audit    events.AuditSink
	logger   *zap.Logger
}

func NewService(repo repository.LedgerRepository, notifier events.RankNotifier, audit events.AuditSink, logger *zap.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, audit: audit, logger: logger}
}

// AwardParams describes one award. Config is the caller's resolved tenant
// config for this request; the service never resolves configs itself so
// one resolve serves every ledger call in a request.
type AwardParams struct {
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Amount         int64
	Source         models.XPSource
	SourceEntityID string
	Description    string
	Config         tenantcfg.Config
}

// AwardResult is the balance after the award. Duplicate reports that the
// idempotency key had already been applied; the call is still a success
// and the result carries the unchanged balance, so fire-and-forget
// callers retrying an award never see a failure.
type AwardResult struct {
	LifetimeXP  int64                `json:"lifetime_xp"`
	TotalXP     int64                `json:"total_xp"`
	Rank        models.RankThreshold `json:"rank"`
	RankChanged bool                 `json:"rank_changed"`
	Duplicate   bool                 `json:"duplicate"`
}

// Award applies a positive XP transaction.
func (s *Service) Award(ctx context.Context, p AwardParams) (*AwardResult, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	out, err := s.repo.Award(ctx, repository.AwardParams{
		UserID:         p.UserID,
		TenantID:       p.TenantID,
		Amount:         p.Amount,
		Source:         p.Source,
		SourceEntityID: p.SourceEntityID,
		Description:    p.Description,
		Thresholds:     p.Config.RankThresholds,
	})

	s.recordAudit(ctx, events.AuditEvent{
		TenantID:  p.TenantID,
		UserID:    p.UserID,
		Operation: "award",
		Amount:    p.Amount,
		Source:    p.Source,
		Detail:    awardDetail(out, err),
		Occurred:  time.Now(),
	})

	if err != nil {
		return nil, fmt.Errorf("award xp: %w", err)
	}

	if out.Applied && out.RankChanged {
		s.notifyRankChanged(ctx, p.TenantID, p.UserID, out.Rank)
	}

	return &AwardResult{
		LifetimeXP:  out.LifetimeXP,
		TotalXP:     out.TotalXP,
		Rank:        out.Rank,
		RankChanged: out.RankChanged,
		Duplicate:   !out.Applied,
	}, nil
}

// DeductParams describes one spend of XP.
type DeductParams struct {
	UserID      uuid.UUID
	TenantID    uuid.UUID
	Amount      int64
	Description string
}

// DeductResult is the spendable balance after the deduction. Rank does not
// move: spending does not erase earned reputation.
type DeductResult struct {
	TotalXP int64 `json:"total_xp"`
	Rank    int   `json:"rank"`
}

// Deduct spends XP. Returns ErrInsufficientBalance, with no write of any
// kind, when the spendable balance is short.
func (s *Service) Deduct(ctx context.Context, p DeductParams) (*DeductResult, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	out, err := s.repo.Deduct(ctx, repository.DeductParams{
		UserID:      p.UserID,
		TenantID:    p.TenantID,
		Amount:      p.Amount,
		Description: p.Description,
	})

	s.recordAudit(ctx, events.AuditEvent{
		TenantID:  p.TenantID,
		UserID:    p.UserID,
		Operation: "deduct",
		Amount:    -p.Amount,
		Source:    models.SourceManual,
		Detail:    errDetail(err),
		Occurred:  time.Now(),
	})

	if err != nil {
		// ErrInsufficientBalance passes through as a typed failure the
		// caller handles as data, not exceptional control flow.
		return nil, err
	}
	return &DeductResult{TotalXP: out.TotalXP, Rank: out.Rank}, nil
}

// ReverseParams describes the retraction of a prior award.
// SourceEntityID is the original award's entity id; the service appends
// the reversal suffix itself.
type ReverseParams struct {
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Amount         int64
	OriginalSource models.XPSource
	SourceEntityID string
	Description    string
	Config         tenantcfg.Config
}

// Reverse retracts a prior award: a compensating negative transaction that
// lowers both lifetime and spendable XP and recomputes rank.
//
// Best-effort by contract: the triggering business operation (deleting a
// suggestion, rescinding an approval) must proceed whether or not the
// reversal lands, so failures are logged, never returned.
func (s *Service) Reverse(ctx context.Context, p ReverseParams) {
	if p.Amount <= 0 {
		s.logger.Warn("reversal skipped: non-positive amount",
			zap.String("user_id", p.UserID.String()),
			zap.Int64("amount", p.Amount),
		)
		return
	}

	entityID := p.SourceEntityID
	if entityID != "" {
		entityID += reversalSuffix
	}

	applied, err := s.repo.Reverse(ctx, repository.ReverseParams{
		UserID:         p.UserID,
		TenantID:       p.TenantID,
		Amount:         p.Amount,
		Source:         p.OriginalSource,
		SourceEntityID: entityID,
		Description:    p.Description,
		Thresholds:     p.Config.RankThresholds,
	})

	s.recordAudit(ctx, events.AuditEvent{
		TenantID:  p.TenantID,
		UserID:    p.UserID,
		Operation: "reverse",
		Amount:    -p.Amount,
		Source:    p.OriginalSource,
		Detail:    reverseDetail(applied, err),
		Occurred:  time.Now(),
	})

	if err != nil {
		s.logger.Error("xp reversal failed",
			zap.String("user_id", p.UserID.String()),
			zap.String("tenant_id", p.TenantID.String()),
			zap.Int64("amount", p.Amount),
			zap.String("source", string(p.OriginalSource)),
			zap.Error(err),
		)
	}
}

// Balance returns the materialized balance row, or nil when the user has
// no ledger history yet.
func (s *Service) Balance(ctx context.Context, tenantID, userID uuid.UUID) (*models.UserXPBalance, error) {
	return s.repo.GetBalance(ctx, tenantID, userID)
}

// Transactions returns a page of the user's ledger, newest first.
func (s *Service) Transactions(ctx context.Context, tenantID, userID uuid.UUID, before int64, limit int) ([]models.XPTransaction, error) {
	return s.repo.ListTransactions(ctx, tenantID, userID, before, limit)
}

func (s *Service) notifyRankChanged(ctx context.Context, tenantID, userID uuid.UUID, newRank models.RankThreshold) {
	err := s.notifier.NotifyRankChanged(ctx, events.RankChangedEvent{
		TenantID:  tenantID,
		UserID:    userID,
		NewRank:   newRank.Rank,
		RankLabel: newRank.Label,
		Occurred:  time.Now(),
	})
	if err != nil {
		s.logger.Warn("rank notification failed",
			zap.String("user_id", userID.String()),
			zap.Int("rank", newRank.Rank),
			zap.Error(err),
		)
	}
}

// recordAudit writes one audit event per ledger call, whether or not the
// balance transaction succeeded. The audit trail is itself best-effort.
func (s *Service) recordAudit(ctx context.Context, ev events.AuditEvent) {
	if err := s.audit.Record(ctx, ev); err != nil {
		s.logger.Warn("audit record failed", zap.Error(err))
	}
}

func awardDetail(out *repository.AwardOutcome, err error) string {
	switch {
	case err != nil:
		return "failed: " + err.Error()
	case !out.Applied:
		return "duplicate"
	default:
		return "applied"
	}
}

func errDetail(err error) string {
	if err != nil {
		return "failed: " + err.Error()
	}
	return "applied"
}

func reverseDetail(applied bool, err error) string {
	switch {
	case err != nil:
		return "failed: " + err.Error()
	case !applied:
		return "duplicate"
	default:
		return "applied"
	}
}
