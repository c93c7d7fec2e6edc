package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hedgelabs/telemetry-engine/internal/classify"
	"github.com/hedgelabs/telemetry-engine/internal/db"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// statusFor is the single domain-error to HTTP-status mapping. Raw store
// errors never reach the client body.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, db.ErrWalletTaken):
		return http.StatusConflict, "Wallet already linked to another account"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "operational",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Pool analytics.

func (h *Handler) handleAllPools(c *gin.Context) {
	out, err := h.analytics.AllPoolAnalytics(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pools": out, "count": len(out)})
}

func (h *Handler) handlePool(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pool id"})
		return
	}
	pa, err := h.analytics.PoolAnalytics(c.Request.Context(), pid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pa)
}

func (h *Handler) handlePoolStakers(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pool id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	stakers, err := h.analytics.PoolStakers(c.Request.Context(), pid, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": pid, "stakers": stakers, "count": len(stakers)})
}

func (h *Handler) handlePoolHistory(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pool id"})
		return
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	history, err := h.store.DailyAggregateHistory(c.Request.Context(), pid, days)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": pid, "history": history})
}

func (h *Handler) handleWalletRewards(c *gin.Context) {
	rewards, err := h.analytics.WalletRewards(c.Request.Context(), c.Param("wallet"), 10*time.Second)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rewards)
}

// Analytics (session-gated).

func (h *Handler) handleOverview(c *gin.Context) {
	stats, err := h.store.Overview(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) handlePlayers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	players, total, err := h.store.ListPlayers(c.Request.Context(), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":       players,
		"totalCount": total,
		"limit":      limit,
		"offset":     offset,
	})
}

func (h *Handler) handleDeposits(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
	deposits, err := h.store.RecentDeposits(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposits": deposits, "count": len(deposits)})
}

func (h *Handler) handleQueryBreakdown(c *gin.Context) {
	breakdown, err := h.store.QueryBreakdown(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"breakdown": breakdown})
}

// Admin.

func (h *Handler) handleAdminUsers(c *gin.Context) {
	players, total, err := h.store.ListPlayers(c.Request.Context(), 200, 0)
	if err != nil {
		fail(c, err)
		return
	}

	// Enrich with each player's bridge rollup; absent rollups stay zeroed.
	type adminUser struct {
		models.Player
		Bridge models.WalletBridgeMetrics `json:"bridge"`
	}
	out := make([]adminUser, 0, len(players))
	for _, p := range players {
		u := adminUser{Player: p}
		if p.PrimaryWallet != "" {
			if m, err := h.store.WalletBridgeMetrics(c.Request.Context(), p.PrimaryWallet); err == nil {
				u.Bridge = m
			}
		}
		out = append(out, u)
	}
	c.JSON(http.StatusOK, gin.H{"users": out, "totalCount": total})
}

func (h *Handler) handleSetTier(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	var req struct {
		Tier string `json:"tier"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !models.ValidTiers[req.Tier] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tier"})
		return
	}
	if err := h.store.UpdatePlayerTier(c.Request.Context(), id, req.Tier); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "tier": req.Tier})
}

func (h *Handler) handleDeleteUser(c *gin.Context) {
	discordID := c.Param("id")
	if err := h.store.DeletePlayer(c.Request.Context(), discordID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": discordID})
}

// handleRefreshSnapshot rebuilds the bridge rollups for every wallet of one
// player and pushes the refreshed metrics to connected admin clients.
func (h *Handler) handleRefreshSnapshot(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	player, err := h.store.GetPlayer(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	for _, wallet := range player.Wallets {
		m, err := h.store.RollupWalletBridgeMetrics(c.Request.Context(), wallet)
		if err != nil {
			fail(c, err)
			return
		}
		m.ExtractorScore, m.ExtractorFlags = classify.ExtractorScore(m)
		if err := h.store.SaveWalletBridgeMetrics(c.Request.Context(), m); err != nil {
			fail(c, err)
			return
		}
		h.hub.BroadcastEvent("snapshot_refreshed", m)
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": len(player.Wallets)})
}

func (h *Handler) handleReclassify(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	result, err := h.classifier.Reclassify(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleResetCheckpoint rewinds one worker's cursor. The only path by which
// a checkpoint moves backwards; toBlock 0 rewinds to genesis.
func (h *Handler) handleResetCheckpoint(c *gin.Context) {
	var req struct {
		ToBlock uint64 `json:"toBlock"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	name := c.Param("name")
	if err := h.store.ResetCheckpoint(c.Request.Context(), name, req.ToBlock); err != nil {
		fail(c, err)
		return
	}
	h.hub.BroadcastEvent("checkpoint_reset", gin.H{"name": name, "toBlock": req.ToBlock})
	c.JSON(http.StatusOK, gin.H{"name": name, "toBlock": req.ToBlock})
}

// User surface.

// tierRank orders tiers for entitlement checks.
var tierRank = map[string]int{
	models.TierFree: 0, models.TierBronze: 1, models.TierSilver: 2,
	models.TierGold: 3, models.TierWhale: 4,
}

func (h *Handler) handleUserSummary(c *gin.Context) {
	discordID := c.Param("discordId")
	sess, err := CurrentSession(c)
	if err != nil || (!sess.IsAdmin && sess.DiscordID != discordID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	player, err := h.store.GetPlayerByDiscordID(c.Request.Context(), discordID)
	if err != nil {
		fail(c, err)
		return
	}

	resp := gin.H{
		"player":    player,
		"archetype": player.Archetype,
		"state":     player.State,
	}

	settings, err := h.store.PlayerSettings(c.Request.Context(), player.ID)
	if err == nil {
		resp["settings"] = settings
	}

	// Entitlements widen with tier: bronze adds optimization history, silver
	// adds the full bridge rollup.
	if tierRank[player.Tier] >= tierRank[models.TierBronze] {
		if opts, err := h.store.PlayerOptimizations(c.Request.Context(), player.ID, 10); err == nil {
			resp["optimizations"] = opts
		}
	}
	if tierRank[player.Tier] >= tierRank[models.TierSilver] && player.PrimaryWallet != "" {
		if m, err := h.store.WalletBridgeMetrics(c.Request.Context(), player.PrimaryWallet); err == nil {
			resp["bridgeActivity"] = m
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleUserSettings(c *gin.Context) {
	discordID := c.Param("discordId")
	sess, err := CurrentSession(c)
	if err != nil || (!sess.IsAdmin && sess.DiscordID != discordID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	player, err := h.store.GetPlayerByDiscordID(c.Request.Context(), discordID)
	if err != nil {
		fail(c, err)
		return
	}

	var req struct {
		NotifyOnAprDrop         *bool `json:"notifyOnAprDrop"`
		NotifyOnNewOptimization *bool `json:"notifyOnNewOptimization"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := h.store.UpdatePlayerSettings(c.Request.Context(), player.ID,
		req.NotifyOnAprDrop, req.NotifyOnNewOptimization); err != nil {
		fail(c, err)
		return
	}
	settings, err := h.store.PlayerSettings(c.Request.Context(), player.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// Debug.

func (h *Handler) handleClearPoolCache(c *gin.Context) {
	h.discovery.ClearCache()
	c.JSON(http.StatusOK, gin.H{"status": "cache_cleared"})
}

func (h *Handler) handleRefreshPoolCache(c *gin.Context) {
	h.discovery.ClearCache()
	pools, err := h.discovery.AllPools(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cache_refreshed", "pools": len(pools)})
}

func (h *Handler) handleRestartMonitor(c *gin.Context) {
	if h.restartMonitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Monitor not running"})
		return
	}
	h.restartMonitor()
	c.JSON(http.StatusOK, gin.H{"status": "monitor_restarting"})
}

func (h *Handler) handleSystemHealth(c *gin.Context) {
	checkpoints, err := h.store.ListCheckpoints(c.Request.Context(), "")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
		"wsClients":   h.hub.ClientCount(),
		"checkpoints": checkpoints,
	})
}
