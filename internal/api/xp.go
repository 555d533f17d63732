package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openclub/kudos/internal/ledger"
	"github.com/openclub/kudos/internal/middleware"
	"github.com/openclub/kudos/internal/models"
	"github.com/openclub/kudos/internal/rank"
	"github.com/openclub/kudos/internal/repository"
	"github.com/openclub/kudos/internal/tenantcfg"
	"go.uber.org/zap"
)

// XPHandler exposes the reputation ledger over HTTP. It resolves the
// tenant config once per request and hands the resolved copy to the
// ledger, so every rule lookup within one request sees the same config.
type XPHandler struct {
	svc        *ledger.Service
	tenantRepo repository.TenantRepository
	logger     *zap.Logger
}

func NewXPHandler(svc *ledger.Service, tenantRepo repository.TenantRepository, logger *zap.Logger) *XPHandler {
	return &XPHandler{svc: svc, tenantRepo: tenantRepo, logger: logger}
}

// resolveConfig loads and resolves the caller's tenant config. Resolution
// itself cannot fail; only the blob read can.
func (h *XPHandler) resolveConfig(c *gin.Context, tenantID uuid.UUID) (tenantcfg.Config, bool) {
	raw, err := h.tenantRepo.GetConfig(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to load tenant config", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load tenant config"})
		return tenantcfg.Config{}, false
	}
	return tenantcfg.Resolve(raw), true
}

type balanceResponse struct {
	LifetimeXP int64                `json:"lifetime_xp"`
	TotalXP    int64                `json:"total_xp"`
	Rank       models.RankThreshold `json:"rank"`
	NextRank   *rank.NextRank       `json:"next_rank"`
}

// Me handles GET /v1/xp/me
func (h *XPHandler) Me(c *gin.Context) {
	userID := middleware.GetUserID(c)
	tenantID := middleware.GetTenantID(c)

	cfg, ok := h.resolveConfig(c, tenantID)
	if !ok {
		return
	}

	balance, err := h.svc.Balance(c.Request.Context(), tenantID, userID)
	if err != nil {
		h.logger.Error("failed to get balance", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
		return
	}

	// No ledger history is not an error: new users start at zero and the
	// base rank.
	var lifetime, total int64
	if balance != nil {
		lifetime = balance.LifetimeXP
		total = balance.TotalXP
	}

	c.JSON(http.StatusOK, balanceResponse{
		LifetimeXP: lifetime,
		TotalXP:    total,
		Rank:       rank.Compute(lifetime, cfg.RankThresholds),
		NextRank:   rank.ToNext(lifetime, cfg.RankThresholds),
	})
}

// Transactions handles GET /v1/xp/me/transactions?before=123&limit=50
//
// Cursor-based pagination: "before" is a transaction ID (0 = from the
// top), "limit" defaults to 50 and caps at 100.
func (h *XPHandler) Transactions(c *gin.Context) {
	userID := middleware.GetUserID(c)
	tenantID := middleware.GetTenantID(c)

	var before int64
	var err error
	if b := c.Query("before"); b != "" {
		before, err = strconv.ParseInt(b, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' parameter"})
			return
		}
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
		if limit > 100 {
			limit = 100
		}
	}

	txns, err := h.svc.Transactions(c.Request.Context(), tenantID, userID, before, limit)
	if err != nil {
		h.logger.Error("failed to list transactions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
		return
	}

	c.JSON(http.StatusOK, txns)
}

type awardRequest struct {
	UserID         uuid.UUID `json:"user_id" binding:"required"`
	Amount         int64     `json:"amount" binding:"required"`
	Source         string    `json:"source"`
	SourceEntityID string    `json:"source_entity_id"`
	Description    string    `json:"description"`
}

// Award handles POST /v1/xp/award
//
// The caller names the recipient; the tenant always comes from the JWT so
// nobody can award XP across tenants. Repeating a call with the same
// (source, source_entity_id) is a safe no-op — the response carries
// "duplicate": true and the unchanged balance.
func (h *XPHandler) Award(c *gin.Context) {
	var req awardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenantID := middleware.GetTenantID(c)
	cfg, ok := h.resolveConfig(c, tenantID)
	if !ok {
		return
	}

	source := models.XPSource(req.Source)
	if source == "" {
		source = models.SourceManual
	}

	result, err := h.svc.Award(c.Request.Context(), ledger.AwardParams{
		UserID:         req.UserID,
		TenantID:       tenantID,
		Amount:         req.Amount,
		Source:         source,
		SourceEntityID: req.SourceEntityID,
		Description:    req.Description,
		Config:         cfg,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
			return
		}
		h.logger.Error("failed to award xp", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to award xp"})
		return
	}

	c.JSON(http.StatusOK, result)
}

type redeemRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description"`
}

// Redeem handles POST /v1/xp/redeem
//
// Spends the caller's own XP. Insufficient balance is a typed, expected
// outcome (409), not a server error.
func (h *XPHandler) Redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.GetUserID(c)
	tenantID := middleware.GetTenantID(c)

	result, err := h.svc.Deduct(c.Request.Context(), ledger.DeductParams{
		UserID:      userID,
		TenantID:    tenantID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance):
			c.JSON(http.StatusConflict, gin.H{"error": "insufficient balance"})
		case errors.Is(err, ledger.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		default:
			h.logger.Error("failed to redeem xp", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to redeem xp"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}
