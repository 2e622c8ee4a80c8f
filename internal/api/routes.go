package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(Logger())

	// Health check and metrics
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", handler.SubmitJob)
			jobs.GET("", handler.ListJobs)
			jobs.GET("/stats", handler.GetStats)
			jobs.GET("/:id", handler.GetJob)
			jobs.POST("/:id/cancel", handler.CancelJob)
			jobs.GET("/:id/logs", handler.GetJobLogs)
			jobs.GET("/:id/events", handler.StreamJobEvents)
		}
	}

	return router
}
