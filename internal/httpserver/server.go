package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencivic/eventbrite-warehouse/internal/loader"
)

// Pinger reports database reachability for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the status surface for a running load.
// Public: /health, /ready, /status
//
// A load can run for hours (it pauses 60s after every event), so
// operators get liveness, DB readiness, and live progress counters
// while it works.
func NewRouter(db Pinger, progress func() loader.Snapshot) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Progress counters for the current run.
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, progress())
	})

	return r
}
