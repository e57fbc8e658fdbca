package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hearth-engine/hearth/internal/app"
	"github.com/hearth-engine/hearth/internal/gpu"
	"github.com/hearth-engine/hearth/internal/shared/id"
	"github.com/hearth-engine/hearth/internal/shared/types"
)

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "hearth",
		"state":   s.kernel.State(),
		"frame":   s.kernel.Frame(),
	})
}

func (s *Server) health(c *gin.Context) {
	level := s.kernel.HealthLevel()
	code := http.StatusOK
	if s.kernel.NeedsEmergencyShutdown() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":             "ok",
		"health":             level,
		"emergency_shutdown": s.kernel.NeedsEmergencyShutdown(),
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  s.kernel.Status(),
		"metrics": s.kernel.Metrics().GetSnapshot(),
	})
}

func (s *Server) recovery(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"recovery": s.kernel.RecoveryStats(),
		"health":   s.kernel.HealthMetrics(),
	})
}

func (s *Server) listApps(c *gin.Context) {
	apps := s.kernel.Apps().List()
	c.JSON(http.StatusOK, gin.H{
		"apps":  apps,
		"count": len(apps),
	})
}

func (s *Server) getApp(c *gin.Context) {
	a, ok := s.kernel.Apps().Get(id.AppID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "app not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"app":   a,
		"usage": s.usageFor(a),
	})
}

func (s *Server) usageFor(a app.App) gin.H {
	usage := gin.H{
		"entities": s.kernel.World().CountNamespace(a.Namespace),
		"layers":   s.kernel.Layers().CountNamespace(a.Namespace),
	}
	return usage
}

func (s *Server) restartApp(c *gin.Context) {
	appID := id.AppID(c.Param("id"))
	if err := s.kernel.Apps().Restart(c.Request.Context(), appID); err != nil {
		status := http.StatusInternalServerError
		if err == app.ErrAppNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restarted": appID})
}

func (s *Server) unloadApp(c *gin.Context) {
	appID := id.AppID(c.Param("id"))
	if err := s.kernel.UnloadApp(appID); err != nil {
		status := http.StatusInternalServerError
		if err == app.ErrAppNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unloaded": appID})
}

func (s *Server) listLayers(c *gin.Context) {
	layers := s.kernel.Layers().List()
	c.JSON(http.StatusOK, gin.H{
		"layers": layers,
		"count":  len(layers),
	})
}

func (s *Server) getLayer(c *gin.Context) {
	raw, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid layer id"})
		return
	}
	l, ok := s.kernel.Layers().Get(id.LayerID(raw))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "layer not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"layer": l})
}

func (s *Server) backend(c *gin.Context) {
	sel := s.kernel.GPU()
	current := sel.Current()
	caps, _ := sel.CapabilitiesOf(current)
	c.JSON(http.StatusOK, gin.H{
		"current":      current,
		"available":    sel.Available(),
		"capabilities": caps,
	})
}

func (s *Server) forceBackend(c *gin.Context) {
	var req struct {
		Backend string `json:"backend" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	target := gpu.Backend(req.Backend)
	if !s.kernel.GPU().ForceBackend(target) {
		c.JSON(http.StatusConflict, gin.H{
			"forced":  false,
			"error":   "backend unavailable",
			"current": s.kernel.GPU().Current(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"forced":  true,
		"current": s.kernel.GPU().Current(),
	})
}

func (s *Server) pause(c *gin.Context) {
	if err := s.kernel.Pause(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": types.StatePaused})
}

func (s *Server) resume(c *gin.Context) {
	if err := s.kernel.Resume(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": types.StateRunning})
}

func (s *Server) renderGraph(c *gin.Context) {
	c.JSON(http.StatusOK, s.kernel.BuildRenderGraph())
}
