package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/WordPress/openverse-api/internal/domain"
)

// SetupRoutes configures all API routes.
func SetupRoutes(router *gin.Engine, handler *Handler, taskHandler *TaskHandler, metricsHandler http.Handler) {
	router.GET("/healthcheck", handler.HealthCheck)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// Media search endpoints
	v1 := router.Group("/v1")
	{
		images := v1.Group("/images")
		{
			images.GET("", handler.Search(domain.MediaImage))
			images.POST("", handler.Search(domain.MediaImage))
			images.GET("/stats", handler.Stats(domain.MediaImage))
			images.GET("/:identifier/related", handler.Related(domain.MediaImage))
		}

		audio := v1.Group("/audio")
		{
			audio.GET("", handler.Search(domain.MediaAudio))
			audio.POST("", handler.Search(domain.MediaAudio))
			audio.GET("/stats", handler.Stats(domain.MediaAudio))
			audio.GET("/:identifier/related", handler.Related(domain.MediaAudio))
		}
	}

	// Indexing control endpoints
	router.POST("/task", taskHandler.CreateTask)
	router.GET("/task", taskHandler.ListTasks)
	router.GET("/task/:id", taskHandler.GetTask)
	router.POST("/worker_finished", taskHandler.WorkerFinished)
	router.DELETE("/state", taskHandler.ClearState)
	router.GET("/stat/:name", handler.Stat)
}
