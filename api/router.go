// Package api assembles the HTTP surface: routes, auth, rate limiting.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrapigen/scrapigen/api/handler"
	"github.com/scrapigen/scrapigen/api/middleware"
	"github.com/scrapigen/scrapigen/cleaner"
	"github.com/scrapigen/scrapigen/config"
	"github.com/scrapigen/scrapigen/engine"
	"github.com/scrapigen/scrapigen/llm"
	"github.com/scrapigen/scrapigen/render"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics sit outside auth so monitoring probes always work.
func NewRouter(o *engine.Orchestrator, r *render.Renderer, cl *cleaner.Cleaner, llmClient *llm.Client, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.GET("/health", handler.Health(r, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.POST("/fetch", handler.Fetch(o))
	protected.POST("/extract", handler.Extract(o, cl, llmClient))

	return router
}
