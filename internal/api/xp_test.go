package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openclub/kudos/internal/auth"
	"github.com/openclub/kudos/internal/events"
	"github.com/openclub/kudos/internal/ledger"
	"github.com/openclub/kudos/internal/models"
	"github.com/openclub/kudos/internal/ratelimit"
	"github.com/openclub/kudos/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

// tenantRepoStub serves a fixed raw config blob.
type tenantRepoStub struct {
	raw []byte
}

func (s *tenantRepoStub) Create(_ context.Context, name string) (*models.Tenant, error) {
	return &models.Tenant{ID: uuid.New(), Name: name, CreatedAt: time.Now()}, nil
}

func (s *tenantRepoStub) GetConfig(context.Context, uuid.UUID) ([]byte, error) {
	return s.raw, nil
}

func (s *tenantRepoStub) UpdateConfig(_ context.Context, _ uuid.UUID, raw []byte) error {
	s.raw = raw
	return nil
}

// userRepoStub knows no users; good enough for login-limit tests.
type userRepoStub struct{}

func (userRepoStub) Create(_ context.Context, tenantID uuid.UUID, email, displayName, passwordHash string) (*models.User, error) {
	return &models.User{ID: uuid.New(), TenantID: tenantID, Email: email, DisplayName: displayName, PasswordHash: passwordHash}, nil
}
func (userRepoStub) GetByID(context.Context, uuid.UUID, uuid.UUID) (*models.User, error) {
	return nil, nil
}
func (userRepoStub) GetByEmail(context.Context, string) (*models.User, error) { return nil, nil }

type nopNotifier struct{}

func (nopNotifier) NotifyRankChanged(context.Context, events.RankChangedEvent) error { return nil }

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	svc := ledger.NewService(memory.NewLedgerStore(), nopNotifier{}, events.NewZapAuditSink(logger), logger)
	limiter := ratelimit.New(nil, ratelimit.NewLocalStore(), logger)

	r := gin.New()
	RegisterRoutes(r,
		NewAuthHandler(userRepoStub{}, &tenantRepoStub{}, testSecret, logger),
		NewXPHandler(svc, &tenantRepoStub{}, logger),
		limiter,
		testSecret,
	)
	return r
}

func httpDo(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func testToken(t *testing.T, userID, tenantID uuid.UUID) string {
	t.Helper()
	token, err := auth.GenerateToken(userID, tenantID, "user@example.com", testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func TestXPMeStartsAtZero(t *testing.T) {
	r := setupRouter(t)
	token := testToken(t, uuid.New(), uuid.New())

	w := httpDo(t, r, "GET", "/v1/xp/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp balanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, int64(0), resp.LifetimeXP)
	require.Equal(t, 1, resp.Rank.Rank)
	require.NotNil(t, resp.NextRank)
	require.Equal(t, int64(100), resp.NextRank.XPNeeded)
}

func TestXPRoutesRequireAuth(t *testing.T) {
	r := setupRouter(t)
	w := httpDo(t, r, "GET", "/v1/xp/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAwardThenMe(t *testing.T) {
	r := setupRouter(t)
	userID, tenantID := uuid.New(), uuid.New()
	token := testToken(t, userID, tenantID)

	w := httpDo(t, r, "POST", "/v1/xp/award", token, awardRequest{
		UserID: userID, Amount: 150, Source: "MODULE_COMPLETED", SourceEntityID: "m-1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res ledger.AwardResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, int64(150), res.LifetimeXP)
	require.True(t, res.RankChanged)
	require.False(t, res.Duplicate)

	// A retry of the same award is a success no-op with the same shape.
	w = httpDo(t, r, "POST", "/v1/xp/award", token, awardRequest{
		UserID: userID, Amount: 150, Source: "MODULE_COMPLETED", SourceEntityID: "m-1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Duplicate)
	require.Equal(t, int64(150), res.LifetimeXP)

	w = httpDo(t, r, "GET", "/v1/xp/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balance balanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	require.Equal(t, int64(150), balance.LifetimeXP)
	require.Equal(t, "Contributor", balance.Rank.Label)
}

func TestRedeemInsufficientBalance(t *testing.T) {
	r := setupRouter(t)
	token := testToken(t, uuid.New(), uuid.New())

	w := httpDo(t, r, "POST", "/v1/xp/redeem", token, redeemRequest{Amount: 10})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "insufficient balance")
}

func TestRedeemRateLimited(t *testing.T) {
	r := setupRouter(t)
	userID, tenantID := uuid.New(), uuid.New()
	token := testToken(t, userID, tenantID)

	// Seed enough balance that only the limiter can say no.
	w := httpDo(t, r, "POST", "/v1/xp/award", token, awardRequest{
		UserID: userID, Amount: 1000, SourceEntityID: "seed",
	})
	require.Equal(t, http.StatusOK, w.Code)

	for i := 0; i < ratelimit.Redemption.Limit; i++ {
		w = httpDo(t, r, "POST", "/v1/xp/redeem", token, redeemRequest{Amount: 1})
		require.Equal(t, http.StatusOK, w.Code, "redeem %d", i+1)
	}

	w = httpDo(t, r, "POST", "/v1/xp/redeem", token, redeemRequest{Amount: 1})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "slow down")
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestLoginRateLimitedByIP(t *testing.T) {
	r := setupRouter(t)
	body := loginRequest{Email: "nobody@example.com", Password: "whatever1"}

	for i := 0; i < ratelimit.LoginAttempt.Limit; i++ {
		w := httpDo(t, r, "POST", "/v1/auth/login", "", body)
		require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}

	w := httpDo(t, r, "POST", "/v1/auth/login", "", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAwardRejectsNegativeAmount(t *testing.T) {
	r := setupRouter(t)
	userID, tenantID := uuid.New(), uuid.New()
	token := testToken(t, userID, tenantID)

	w := httpDo(t, r, "POST", "/v1/xp/award", token, awardRequest{UserID: userID, Amount: -5})
	require.Equal(t, http.StatusBadRequest, w.Code)
}
