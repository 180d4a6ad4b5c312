package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/plantguard/edge/internal/logger"
)

func (m *Manager) setupRoutes() {
	h := m.router.Group("/health")
	{
		h.GET("", m.handleHealth)
		h.GET("/live", m.handleLiveness)
		h.GET("/ready", m.handleReadiness)
		h.GET("/services", m.handleServices)
	}
	m.router.GET("/status", m.handleStatus)
}

// handleHealth reports every check; unhealthy maps to 503, degraded is
// still 200.
func (m *Manager) handleHealth(c *gin.Context) {
	report := m.Check(c.Request.Context())

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (m *Manager) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

func (m *Manager) handleReadiness(c *gin.Context) {
	report := m.Check(c.Request.Context())

	ready := report.Status != StatusUnhealthy
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    report.Status,
		"timestamp": report.Timestamp,
		"ready":     ready,
	})
}

func (m *Manager) handleServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"services":  m.services(),
		"timestamp": time.Now(),
	})
}

func (m *Manager) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, m.statusDocument())
}

// ginLogger logs each request at debug level
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
