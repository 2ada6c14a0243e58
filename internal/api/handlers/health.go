package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/pkg/logger"
)

// Health is the probe response body.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, Health{Status: "ok"})
}

// GetReadiness handles GET /health/ready. The store must answer a ping.
func (s *Server) GetReadiness(c *gin.Context) {
	ctx := c.Request.Context()
	checks := make(map[string]string)
	healthy := true

	exec, err := s.pc.Connect(ctx)
	if err == nil {
		err = exec.Ping(ctx)
	}
	if err != nil {
		logger.Warn("readiness check failed", zap.Error(err))
		checks["database"] = "error"
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, Health{Status: "degraded", Checks: checks})
		return
	}
	c.JSON(http.StatusOK, Health{Status: "ok", Checks: checks})
}
