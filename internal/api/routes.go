package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hedgelabs/telemetry-engine/internal/analytics"
	"github.com/hedgelabs/telemetry-engine/internal/classify"
	"github.com/hedgelabs/telemetry-engine/internal/config"
	"github.com/hedgelabs/telemetry-engine/internal/db"
	"github.com/hedgelabs/telemetry-engine/internal/pools"
)

// Handler carries the read-side dependencies for every route.
type Handler struct {
	store          *db.Store
	analytics      *analytics.Service
	discovery      *pools.Discovery
	classifier     *classify.Service
	sessions       *Sessions
	hub            *Hub
	restartMonitor func()
	startedAt      time.Time
}

// SetupRouter wires middleware and the full route table.
func SetupRouter(cfg *config.Config, store *db.Store, svc *analytics.Service, discovery *pools.Discovery,
	classifier *classify.Service, hub *Hub, restartMonitor func()) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(cfg.AllowedOrigins))
	r.Use(NewRateLimiter(defaultRateLimit, defaultRateWindow).Middleware())

	h := &Handler{
		store:          store,
		analytics:      svc,
		discovery:      discovery,
		classifier:     classifier,
		sessions:       NewSessions(cfg.SessionSecret),
		hub:            hub,
		restartMonitor: restartMonitor,
		startedAt:      time.Now(),
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/health", h.handleHealth)
		api.GET("/stream", hub.Subscribe)

		api.GET("/pools", h.handleAllPools)
		api.GET("/pools/:pid", h.handlePool)
		api.GET("/pools/:pid/stakers", h.handlePoolStakers)
		api.GET("/pools/:pid/history", h.handlePoolHistory)
		api.GET("/wallets/:wallet/rewards", h.handleWalletRewards)

		user := api.Group("/user", h.sessions.RequireSession())
		{
			user.GET("/summary/:discordId", h.handleUserSummary)
			user.PATCH("/settings/:discordId", h.handleUserSettings)
		}

		authed := api.Group("", h.sessions.RequireSession())
		analyticsGroup := authed.Group("/analytics")
		{
			analyticsGroup.GET("/overview", h.sessions.RequireAdmin(), h.handleOverview)
			analyticsGroup.GET("/players", h.handlePlayers)
			analyticsGroup.GET("/deposits", h.handleDeposits)
			analyticsGroup.GET("/query-breakdown", h.handleQueryBreakdown)
		}

		admin := authed.Group("/admin", h.sessions.RequireAdmin())
		{
			admin.GET("/users", h.handleAdminUsers)
			admin.PATCH("/users/:id/tier", h.handleSetTier)
			admin.DELETE("/users/:id", h.handleDeleteUser)
			admin.POST("/users/:id/refresh-snapshot", h.handleRefreshSnapshot)
			admin.POST("/users/:id/reclassify", h.handleReclassify)
			admin.POST("/checkpoints/:name/reset", h.handleResetCheckpoint)
		}

		debug := authed.Group("/debug", h.sessions.RequireAdmin())
		{
			debug.POST("/clear-pool-cache", h.handleClearPoolCache)
			debug.POST("/refresh-pool-cache", h.handleRefreshPoolCache)
			debug.POST("/restart-monitor", h.handleRestartMonitor)
			debug.GET("/system-health", h.handleSystemHealth)
		}
	}

	return r
}

// corsMiddleware allows the configured origins. Empty or "*" allows all.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
