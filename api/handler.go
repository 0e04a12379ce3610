// Package api serves the health check and the RCON admin HTTP API.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"topup-go/models"
	"topup-go/rcon"
	"topup-go/utils"
)

// EndpointManager is the part of *rcon.Manager the API exposes.
type EndpointManager interface {
	Initialized() bool
	InFlight() int
	GetAllEndpoints() []rcon.EndpointStatus
	GetEndpointStatus(key string) (rcon.EndpointStatus, bool)
	SelectBestAvailable() (rcon.EndpointStatus, bool)
	ResetFailures(key string) bool
	ResetAllFailures() int
	TestConnectivity(key string) rcon.CommandResult
	TestAllConnectivity() rcon.ConnectivityReport
	Reload() error
}

// CommandHistory lists audited RCON commands.
type CommandHistory interface {
	RecentCommands(ctx context.Context, limit int) ([]models.CommandLog, error)
}

// LeaderboardSource returns the current top donors.
type LeaderboardSource interface {
	Leaderboard(ctx context.Context) ([]models.DonorTotal, error)
}

// Handler implements the HTTP endpoints.
type Handler struct {
	manager     EndpointManager
	history     CommandHistory
	leaderboard LeaderboardSource
	cache       *utils.LeaderboardCache
	botStatus   func() string
	persistent  bool
	started     time.Time
}

// NewHandler creates a handler. botStatus reports the Discord connection
// state for /health.
func NewHandler(manager EndpointManager, history CommandHistory, leaderboard LeaderboardSource, cache *utils.LeaderboardCache, persistent bool, botStatus func() string) *Handler {
	if botStatus == nil {
		botStatus = func() string { return "unknown" }
	}
	return &Handler{
		manager:     manager,
		history:     history,
		leaderboard: leaderboard,
		cache:       cache,
		botStatus:   botStatus,
		persistent:  persistent,
		started:     time.Now(),
	}
}

// Root answers with the bot status in plain text.
func (h *Handler) Root(c *gin.Context) {
	c.String(http.StatusOK, "Discord Bot Status: %s", h.botStatus())
}

// Health reports liveness plus a summary of the RCON registry.
func (h *Handler) Health(c *gin.Context) {
	statuses := h.manager.GetAllEndpoints()
	available := 0
	for _, st := range statuses {
		if st.Available {
			available++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":              "healthy",
		"service":             "topup-bot",
		"bot_status":          h.botStatus(),
		"rcon_initialized":    h.manager.Initialized(),
		"endpoints":           len(statuses),
		"endpoints_available": available,
		"database":            h.persistent,
		"uptime_seconds":      int64(time.Since(h.started).Seconds()),
	})
}

// ListEndpoints returns every endpoint's status.
func (h *Handler) ListEndpoints(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"initialized": h.manager.Initialized(),
		"endpoints":   h.manager.GetAllEndpoints(),
	})
}

// GetEndpoint returns one endpoint's status.
func (h *Handler) GetEndpoint(c *gin.Context) {
	key := c.Param("key")
	st, ok := h.manager.GetEndpointStatus(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown endpoint " + key})
		return
	}
	c.JSON(http.StatusOK, st)
}

// BestEndpoint returns the endpoint commands would be sent to by default.
func (h *Handler) BestEndpoint(c *gin.Context) {
	st, ok := h.manager.SelectBestAvailable()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no endpoint is available"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// ResetEndpoint clears one endpoint's failure streak.
func (h *Handler) ResetEndpoint(c *gin.Context) {
	key := c.Param("key")
	if !h.manager.ResetFailures(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown endpoint " + key})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "reset": key})
}

// ResetAll clears every failure streak.
func (h *Handler) ResetAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "reset": h.manager.ResetAllFailures()})
}

// TestEndpoint probes one endpoint.
func (h *Handler) TestEndpoint(c *gin.Context) {
	key := c.Param("key")
	if _, ok := h.manager.GetEndpointStatus(key); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown endpoint " + key})
		return
	}
	result := h.manager.TestConnectivity(key)
	if !result.Success {
		c.JSON(http.StatusBadGateway, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// TestAll probes every endpoint.
func (h *Handler) TestAll(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.TestAllConnectivity())
}

// Reload re-reads the endpoint source.
func (h *Handler) Reload(c *gin.Context) {
	if err := h.manager.Reload(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "endpoints": h.manager.GetAllEndpoints()})
}

// RecentCommands lists the newest audited commands. ?limit defaults to 20
// and is capped at 200.
func (h *Handler) RecentCommands(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit', expected a positive integer"})
		return
	}
	if limit > 200 {
		limit = 200
	}

	entries, err := h.history.RecentCommands(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": entries})
}

// Leaderboard returns the top donors.
func (h *Handler) Leaderboard(c *gin.Context) {
	donors, err := h.leaderboard.Leaderboard(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"donors": donors})
}

// Metrics exposes Discord call timings, cache counters and open sessions.
func (h *Handler) Metrics(c *gin.Context) {
	body := gin.H{
		"discord":       utils.GetPerformanceMetrics(),
		"rcon_sessions": h.manager.InFlight(),
	}
	if h.cache != nil {
		body["leaderboard_cache"] = h.cache.Stats()
	}
	c.JSON(http.StatusOK, body)
}
