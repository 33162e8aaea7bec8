package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faucet/internal/domain/faucet"
	"faucet/internal/observability/metrics"
)

// Claimer is the disbursement entry point used by the handlers.
type Claimer interface {
	Claim(ctx context.Context, req faucet.ClaimRequest) (*faucet.ClaimResult, error)
}

// Dependencies enumerates services required by API handlers.
type Dependencies struct {
	Faucet Claimer
	Logger *slog.Logger
	// StaticDir, when set, is served at the site root.
	StaticDir string
	// TrustedProxies may set X-Forwarded-For. Nil trusts no proxy, so the
	// claimant identity is always the socket address.
	TrustedProxies []string
}

// New builds a gin.Engine with all routes registered.
func New(deps Dependencies) (*gin.Engine, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(gin.Logger(), gin.Recovery(), metrics.GinMiddleware(), corsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: deps.Faucet, logger: logger}
	router.POST("/faucet", h.claim)

	if deps.StaticDir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(deps.StaticDir))))
	}
	return router, nil
}

type handler struct {
	svc    Claimer
	logger *slog.Logger
}

type claimRequest struct {
	Wallet string `json:"wallet"`
}

type claimResponse struct {
	Amount json.Number `json:"amount"`
	TxHash string      `json:"txHash"`
}

type cooldownResponse struct {
	Error   string `json:"error"`
	Hours   int    `json:"hours"`
	Minutes int    `json:"minutes"`
	Seconds int    `json:"seconds"`
}

func (h *handler) claim(c *gin.Context) {
	identity := c.ClientIP()
	h.logger.Info("faucet request", "module", "api/router", "identity", identity)

	var req claimRequest
	// A missing or malformed body leaves Wallet empty, which fails validation below.
	_ = c.ShouldBindJSON(&req)

	result, err := h.svc.Claim(c.Request.Context(), faucet.ClaimRequest{
		Identity:    identity,
		Wallet:      req.Wallet,
		RequestTime: time.Now(),
	})
	if err != nil {
		if errors.Is(err, faucet.ErrInvalidAddress) || errors.Is(err, faucet.ErrIdentityRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid wallet address"})
			return
		}
		h.logger.Error("faucet claim failed", "module", "api/router", "identity", identity, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Transaction failed"})
		return
	}

	switch result.Status {
	case faucet.StatusCooldown:
		hours, minutes, seconds := result.Remaining.Breakdown()
		c.JSON(http.StatusTooManyRequests, cooldownResponse{
			Error:   result.Remaining.WaitMessage(),
			Hours:   hours,
			Minutes: minutes,
			Seconds: seconds,
		})
	case faucet.StatusApproved:
		c.JSON(http.StatusOK, claimResponse{
			Amount: json.Number(result.Amount.String()),
			TxHash: result.TxHash,
		})
	default:
		h.logger.Error("unknown claim status", "module", "api/router", "identity", identity, "status", result.Status)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Transaction failed"})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
