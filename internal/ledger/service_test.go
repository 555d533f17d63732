package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/openclub/kudos/internal/events"
	"github.com/openclub/kudos/internal/models"
	"github.com/openclub/kudos/internal/repository/memory"
	"github.com/openclub/kudos/internal/tenantcfg"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type notifierSpy struct {
	mu     sync.Mutex
	events []events.RankChangedEvent
}

func (n *notifierSpy) NotifyRankChanged(_ context.Context, ev events.RankChangedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

type auditSpy struct {
	mu     sync.Mutex
	events []events.AuditEvent
}

func (a *auditSpy) Record(_ context.Context, ev events.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func newTestService(t *testing.T) (*Service, *notifierSpy, *auditSpy) {
	t.Helper()
	notifier := &notifierSpy{}
	audit := &auditSpy{}
	svc := NewService(memory.NewLedgerStore(), notifier, audit, zap.NewNop())
	return svc, notifier, audit
}

func TestAwardAccumulates(t *testing.T) {
	svc, _, audit := newTestService(t)
	ctx := context.Background()
	userID, tenantID := uuid.New(), uuid.New()
	cfg := tenantcfg.Defaults()

	res, err := svc.Award(ctx, AwardParams{
		UserID: userID, TenantID: tenantID, Amount: 50,
		Source: models.SourceModuleCompleted, SourceEntityID: "module-1", Config: cfg,
	})
	require.NoError(t, err)
	require.Equal(t, int64(50), res.LifetimeXP)
	require.Equal(t, int64(50), res.TotalXP)
	require.False(t, res.Duplicate)

	res, err = svc.Award(ctx, AwardParams{
		UserID: userID, TenantID: tenantID, Amount: 50,
		Source: models.SourceModuleCompleted, SourceEntityID: "module-2", Config: cfg,
	})
	require.NoError(t, err)
	require.Equal(t, int64(100), res.LifetimeXP)

	require.Len(t, audit.events, 2)
	require.Equal(t, "award", audit.events[0].Operation)
}

func TestAwardIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID, tenantID := uuid.New(), uuid.New()
	cfg := tenantcfg.Defaults()

	p := AwardParams{
		UserID: userID, TenantID: tenantID, Amount: 50,
		Source: models.SourceModuleCompleted, SourceEntityID: "module-1", Config: cfg,
	}
	first, err := svc.Award(ctx, p)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	// Same (user, tenant, source, entity): a success no-op, not an error.
	second, err := svc.Award(ctx, p)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.LifetimeXP, second.LifetimeXP)
	require.Equal(t, first.TotalXP, second.TotalXP)
	require.False(t, second.RankChanged)
}

func TestAwardRejectsNonPositiveAmount(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, amount := range []int64{0, -10} {
		_, err := svc.Award(context.Background(), AwardParams{
			UserID: uuid.New(), TenantID: uuid.New(), Amount: amount,
			Source: models.SourceManual, Config: tenantcfg.Defaults(),
		})
		require.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestConcurrentAwardsLoseNoUpdates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID, tenantID := uuid.New(), uuid.New()
	cfg := tenantcfg.Defaults()

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		entity := "concurrent-" + uuid.NewString()
		go func() {
			defer wg.Done()
			_, err := svc.Award(ctx, AwardParams{
				UserID: userID, TenantID: tenantID, Amount: 50,
				Source: models.SourceChatParticipation, SourceEntityID: entity, Config: cfg,
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := svc.Balance(ctx, tenantID, userID)
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Equal(t, int64(workers*50), b.LifetimeXP, "a concurrent award was lost")
	require.Equal(t, int64(workers*50), b.TotalXP)
}

func TestTwoSimultaneousAwardsBothCount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID, tenantID := uuid.New(), uuid.New()
	cfg := tenantcfg.Defaults()

	var wg sync.WaitGroup
	wg.Add(2)
	for _, entity := range []string{"e1", "e2"} {
		go func(entity string) {
			defer wg.Done()
			_, err := svc.Award(ctx, AwardParams{
				UserID: userID, TenantID: tenantID, Amount: 50,
				Source: models.SourceManual, SourceEntityID: entity, Config: cfg,
			})
			require.NoError(t, err)
		}(entity)
	}
	wg.Wait()

	b, err := svc.Balance(ctx, tenantID, userID)
	require.NoError(t, err)
	require.Equal(t, int64(100), b.LifetimeXP)
}

func TestRankChangeNotification(t *testing.T) {
	svc, notifier, _ := newTestService(t)
	ctx := context.Background()
	userID, tenantID := uuid.New(), uuid.New()
	cfg := tenantcfg.Defaults() // rank 2 at 100 XP

	res, err := svc.Award(ctx, AwardParams{
		UserID: userID, TenantID: tenantID, Amount: 150,
		Source: models.SourceManual, SourceEntityID: "big", Config: cfg,
	})
	require.NoError(t, err)
	require.True(t, res.RankChanged)
	require.Equal(t, 2, res.Rank.Rank)
	require.Equal(t, "Contributor", res.Rank.Label)

	require.Len(t, notifier.events, 1)
	require.Equal(t, "Contributor", notifier.events[0].RankLabel)
	require.Equal(t, userID, notifier.events[0].UserID)

	// A small follow-up award within the same rank notifies nothing.
	res, err = svc.Award(ctx, AwardParams{
		UserID: userID, TenantID: tenantID, Amount: 1,
		Source: models.SourceManual, SourceEntityID: "small", Config: cfg,
	})
	require.NoError(t, err)
	require.False(t, res.RankChanged)
	require.Len(t, notifier.events, 1)
}

func TestDeductSpendsWithoutTouchingLifetime(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID, tenantID := uuid.New(), uuid.New()
	cfg := tenantcfg.Defaults()

	_, err := svc.Award(ctx, AwardParams{
		UserID: userID, TenantID: tenantID, Amount: 150,
		Source: models.SourceManual, SourceEntityID: "seed", Config: cfg,
	})
	require.NoError(t, err)

	res, err := svc.Deduct(ctx, DeductParams{
		UserID: userID, TenantID: tenantID, Amount: 120, Description: "sticker pack",
	})
	require.NoError(t, err)
	require.Equal(t, int64(30), res.TotalXP)
	// Spending does not demote: rank still reflects 150 lifetime XP.
	require.Equal(t, 2, res.Rank)

	b, err := svc.Balance(ctx, tenantID, userID)
	require.NoError(t, err)
	require.Equal(t, int64(150), b.LifetimeXP)
	require.Equal(t, int64(30), b.TotalXP)
	require.Equal(t, 2, b.Rank)
}

func TestDeductInsufficientBalanceLeavesRowUntouched(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID, tenantID := uuid.New(), uuid.New()
	cfg := tenantcfg.Defaults()

	_, err := svc.Award(ctx, AwardParams{
		UserID: userID, TenantID: tenantID, Amount: 30,
		Source: models.SourceManual, SourceEntityID: "seed", Config: cfg,
	})
	require.NoError(t, err)

	_, err = svc.Deduct(ctx, DeductParams{UserID: userID, TenantID: tenantID, Amount: 31})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	b, err := svc.Balance(ctx, tenantID, userID)
	require.NoError(t, err)
	require.Equal(t, int64(30), b.LifetimeXP)
	require.Equal(t, int64(30), b.TotalXP)

	// No transaction row was written either.
	txns, err := svc.Transactions(ctx, tenantID, userID, 0, 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
}

// The suggestion lifecycle from end to end: create, cross the vote
// threshold, get approved, then the suggestion is deleted and all three
// awards are reversed.
func TestSuggestionLifecycleWithFullReversal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID, tenantID := uuid.New(), uuid.New()
	cfg := tenantcfg.Resolve([]byte(`{"xpRules": {
		"SUGGESTION_CREATED": 10, "TOP_SUGGESTION": 75, "SUGGESTION_APPROVED": 30
	}}`))
	const suggestionID = "suggestion-42"

	award := func(source models.XPSource) {
		t.Helper()
		_, err := svc.Award(ctx, AwardParams{
			UserID: userID, TenantID: tenantID,
			Amount: cfg.XPRules[source], Source: source,
			SourceEntityID: suggestionID, Config: cfg,
		})
		require.NoError(t, err)
	}

	award(models.SourceSuggestionCreated)
	b, _ := svc.Balance(ctx, tenantID, userID)
	require.Equal(t, int64(10), b.LifetimeXP)

	award(models.SourceTopSuggestion)
	b, _ = svc.Balance(ctx, tenantID, userID)
	require.Equal(t, int64(85), b.LifetimeXP)

	award(models.SourceSuggestionApproved)
	b, _ = svc.Balance(ctx, tenantID, userID)
	require.Equal(t, int64(115), b.LifetimeXP)
	require.Equal(t, 2, b.Rank)

	// Admin deletes the suggestion: every award comes back out.
	for _, source := range []models.XPSource{
		models.SourceSuggestionCreated,
		models.SourceTopSuggestion,
		models.SourceSuggestionApproved,
	} {
		svc.Reverse(ctx, ReverseParams{
			UserID: userID, TenantID: tenantID,
			Amount: cfg.XPRules[source], OriginalSource: source,
			SourceEntityID: suggestionID, Description: "suggestion deleted", Config: cfg,
		})
	}

	b, err := svc.Balance(ctx, tenantID, userID)
	require.NoError(t, err)
	require.Equal(t, int64(0), b.LifetimeXP)
	require.Equal(t, int64(0), b.TotalXP)
	require.Equal(t, 1, b.Rank, "rank recomputed from the reduced lifetime XP")
}

func TestReverseIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID, tenantID := uuid.New(), uuid.New()
	cfg := tenantcfg.Defaults()

	_, err := svc.Award(ctx, AwardParams{
		UserID: userID, TenantID: tenantID, Amount: 40,
		Source: models.SourceSuggestionCreated, SourceEntityID: "s-1", Config: cfg,
	})
	require.NoError(t, err)

	rev := ReverseParams{
		UserID: userID, TenantID: tenantID, Amount: 40,
		OriginalSource: models.SourceSuggestionCreated,
		SourceEntityID: "s-1", Config: cfg,
	}
	svc.Reverse(ctx, rev)
	svc.Reverse(ctx, rev) // retry must not double-subtract

	b, err := svc.Balance(ctx, tenantID, userID)
	require.NoError(t, err)
	require.Equal(t, int64(0), b.LifetimeXP)
	require.Equal(t, int64(0), b.TotalXP)
}

func TestReverseDoesNotCollideWithOriginalAward(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID, tenantID := uuid.New(), uuid.New()
	cfg := tenantcfg.Defaults()

	_, err := svc.Award(ctx, AwardParams{
		UserID: userID, TenantID: tenantID, Amount: 40,
		Source: models.SourceSuggestionCreated, SourceEntityID: "s-1", Config: cfg,
	})
	require.NoError(t, err)

	// The reversal's suffixed identity must not be blocked by the
	// original award's idempotency key.
	svc.Reverse(ctx, ReverseParams{
		UserID: userID, TenantID: tenantID, Amount: 40,
		OriginalSource: models.SourceSuggestionCreated,
		SourceEntityID: "s-1", Config: cfg,
	})

	txns, err := svc.Transactions(ctx, tenantID, userID, 0, 10)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	require.Equal(t, int64(-40), txns[0].Amount)
	require.Equal(t, "s-1:reversal", txns[0].SourceEntityID)
}

func TestTransactionsPagination(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID, tenantID := uuid.New(), uuid.New()
	cfg := tenantcfg.Defaults()

	for i := 0; i < 5; i++ {
		_, err := svc.Award(ctx, AwardParams{
			UserID: userID, TenantID: tenantID, Amount: 10,
			Source:         models.SourceChatParticipation,
			SourceEntityID: uuid.NewString(), Config: cfg,
		})
		require.NoError(t, err)
	}

	page1, err := svc.Transactions(ctx, tenantID, userID, 0, 3)
	require.NoError(t, err)
	require.Len(t, page1, 3)

	page2, err := svc.Transactions(ctx, tenantID, userID, page1[len(page1)-1].ID, 3)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	// Newest first, no overlap across pages.
	require.Less(t, page2[0].ID, page1[len(page1)-1].ID)
}
