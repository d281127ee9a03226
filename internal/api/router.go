package api

import (
	"net/http"

	"github.com/frostdev-ops/devtest-backend-go/internal/api/handlers"
	"github.com/frostdev-ops/devtest-backend-go/internal/api/middleware"
	"github.com/frostdev-ops/devtest-backend-go/internal/config"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/metrics"
	"github.com/frostdev-ops/devtest-backend-go/pkg/logger"
	"github.com/frostdev-ops/devtest-backend-go/pkg/utils"
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the main HTTP router. collector may be
// nil when metrics are disabled.
func NewRouter(cfg *config.Config, svc handlers.Services, log *logger.BatchLogger, collector *metrics.PrometheusCollector) *gin.Engine {
	// Set gin mode based on config
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.ErrorHandlingMiddleware(log.Logger))
	router.Use(middleware.LoggingMiddleware(log))
	if cfg.Security.EnableCORS {
		router.Use(middleware.CORSMiddleware(cfg.Security))
	}
	if collector != nil {
		router.Use(middleware.MetricsMiddleware(collector))
	}
	router.Use(middleware.ErrorResponseMiddleware(log.Logger))

	router.NoRoute(func(c *gin.Context) {
		utils.SendError(c, http.StatusNotFound, "Endpoint not found")
	})

	h := handlers.NewHandlers(cfg, svc, log.Logger)

	// Public routes
	router.GET("/health", h.Health)
	router.GET("/version", h.Version)
	if collector != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(collector.Handler()))
	}

	// WebSocket endpoint
	router.GET("/ws", h.WebSocketHandler())

	// API v1 routes
	api := router.Group("/api/v1")
	{
		api.GET("/status", h.Health)

		// Test plan execution
		plans := api.Group("/testplan")
		{
			plans.GET("", h.ListTestPlans)
			plans.POST("/start", h.StartTestPlan)
			plans.POST("/stop", h.StopTestPlan)
			plans.GET("/status/:id", h.GetTestPlanStatus)
		}

		// Execution history
		exec := api.Group("/exec")
		{
			exec.GET("", h.ListExecRecords)
			exec.GET("/:id", h.GetExecRecord)
			exec.GET("/:id/results", h.GetExecResults)
		}

		// Devices
		devices := api.Group("/devices")
		{
			devices.GET("", h.GetDevices)
			devices.POST("", h.CreateDevice)
			devices.POST("/connect", h.ConnectDevice)
			devices.POST("/disconnect", h.DisconnectDevice)
			devices.POST("/send", h.SendToDevice)
			devices.GET("/:id", h.GetDevice)
			devices.PUT("/:id", h.UpdateDevice)
			devices.DELETE("/:id", h.DeleteDevice)
		}

		api.GET("/discovery", h.Discover)
		api.GET("/websocket/stats", h.GetWebSocketStats)
	}

	return router
}
