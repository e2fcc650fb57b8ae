// Package api exposes the HTTP interface: upload intake, job status, history
// queries and exports. Transport stays thin; all behavior lives in the
// pipeline, history and export packages.
package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"vigil/internal/config"
	"vigil/internal/detection"
	"vigil/internal/export"
	"vigil/internal/history"
	"vigil/internal/pipeline"
	"vigil/internal/ws"
)

// API wires the HTTP handlers to the core services.
type API struct {
	orc      *pipeline.Orchestrator
	store    *history.Store
	exporter *export.Exporter
	registry *detection.Registry
	cfg      *config.Config
	logger   *slog.Logger
}

// New creates the API surface.
func New(orc *pipeline.Orchestrator, store *history.Store, exporter *export.Exporter,
	registry *detection.Registry, cfg *config.Config, logger *slog.Logger) *API {
	return &API{orc: orc, store: store, exporter: exporter, registry: registry, cfg: cfg, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (a *API) Router() *gin.Engine {
	if !a.cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, err any) {
		a.logger.Error("panic", "err", err, "stack", string(debug.Stack()))
		c.AbortWithStatus(http.StatusInternalServerError)
	}))

	r.GET("/healthz", a.health)

	api := r.Group("/api")
	{
		api.POST("/jobs", a.createJob)
		api.GET("/jobs/:id", a.getJob)
		api.DELETE("/jobs/:id", a.deleteJob)
		api.GET("/jobs/:id/export", a.exportJob)
		api.GET("/history", a.listHistory)
		api.GET("/history/stats", a.historyStats)
		api.GET("/history/export.xlsx", a.exportHistory)
	}

	live := ws.NewLiveHandler(a.registry, a.cfg.Detection.ConfidenceFloor, a.logger)
	r.GET("/api/ws/live", gin.WrapF(live.ServeHTTP))

	return r
}

func (a *API) health(c *gin.Context) {
	detectors := make([]gin.H, 0)
	for _, d := range a.registry.All() {
		detectors = append(detectors, gin.H{
			"name":    d.Name(),
			"kind":    d.Kind(),
			"healthy": d.IsHealthy(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "detectors": detectors})
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}
