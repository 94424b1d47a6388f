package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scrapigen/scrapigen/models"
	"github.com/scrapigen/scrapigen/render"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports session pool utilisation and degrades status when more than
// 80% of sessions are busy.
func Health(r *render.Renderer, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := r.Stats()

		status := "healthy"
		if stats.MaxSessions > 0 && stats.ActiveSessions > int(float64(stats.MaxSessions)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    status,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			PoolStats: stats,
			Version:   "0.1.0",
		})
	}
}
