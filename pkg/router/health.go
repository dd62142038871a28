package router

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// setupHealthRoutes registers health check endpoints
func (r *Router) setupHealthRoutes() {
	checker := r.Container.Health

	// Register both health endpoint paths for compatibility
	r.Engine.GET("/health", checker.Handler())
	r.Engine.GET("/api/health", checker.Handler())

	// Liveness only says the process is up; readiness is /health
	r.Engine.GET("/health/live", func(c *gin.Context) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		rooms, conns := r.Container.Broker.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(startTime).Round(time.Second).String(),
			"timestamp": time.Now().Format(time.RFC3339),
			"websocket": gin.H{
				"connections": conns,
				"rooms":       rooms,
			},
			"memory": gin.H{
				"alloc_mb":  memStats.Alloc / 1024 / 1024,
				"sys_mb":    memStats.Sys / 1024 / 1024,
				"gc_cycles": memStats.NumGC,
			},
		})
	})
}
