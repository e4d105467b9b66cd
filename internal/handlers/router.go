package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mossy-p/conference-signaling/config"
	"github.com/mossy-p/conference-signaling/internal/middleware"
)

// NewRouter wires every route onto a gin engine.
func NewRouter(cfg *config.Config, h *Handler) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/api/auth/login", Login(cfg.JWTSecret))

	// Read-only routes are always public.
	router.GET("/chat_state", h.GetState)
	router.GET("/ice_candidates/:slot", h.ListCandidates)
	router.GET("/display_status", h.DisplayStatus)
	router.GET("/ws", h.HandleWebSocket)

	mutating := router.Group("/")
	if cfg.AuthRequired {
		mutating.Use(middleware.JWTAuth(cfg.JWTSecret))
	}
	{
		mutating.POST("/request_connection/:slot", h.RequestConnection)
		mutating.POST("/webrtc_answer/:slot", h.ApplyAnswer)
		mutating.POST("/ice_candidate/:slot", h.AddCandidate)
		mutating.POST("/close_connection/:slot", h.CloseConnection)
		mutating.POST("/close_all_connections", h.CloseAll)
	}

	if cfg.StaticDir != "" {
		router.Static("/static", cfg.StaticDir)
		router.StaticFile("/", filepath.Join(cfg.StaticDir, "index.html"))
	}

	return router
}
