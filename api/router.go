package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the admin key on /api requests.
const APIKeyHeader = "X-API-Key"

// NewRouter builds the health and admin HTTP routes. An empty apiKey leaves
// /api open.
func NewRouter(h *Handler, apiKey string) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	api := router.Group("/api")
	if apiKey != "" {
		api.Use(requireAPIKey(apiKey))
	}
	{
		api.GET("/endpoints", h.ListEndpoints)
		api.GET("/endpoints/best", h.BestEndpoint)
		api.GET("/endpoints/:key", h.GetEndpoint)
		api.POST("/endpoints/reset", h.ResetAll)
		api.POST("/endpoints/test", h.TestAll)
		api.POST("/endpoints/:key/reset", h.ResetEndpoint)
		api.POST("/endpoints/:key/test", h.TestEndpoint)
		api.POST("/reload", h.Reload)
		api.GET("/commands", h.RecentCommands)
		api.GET("/leaderboard", h.Leaderboard)
		api.GET("/metrics", h.Metrics)
	}
	return router
}

func requireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid API key"})
			return
		}
		c.Next()
	}
}
