package router

import (
	"net/http"

	"github.com/cuongbtq/voice2soap/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// ServiceName is reported by the health check
const ServiceName = "voice2soap-api-service"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": ServiceName,
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	storageHandler := handler.NewStorageHandler(deps)
	transcriptionHandler := handler.NewTranscriptionHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs/voice2soap")
		{
			// POST /api/v1/jobs/voice2soap - Create a voice2soap job
			jobs.POST("", jobHandler.CreateVoice2SoapJob)

			// GET /api/v1/jobs/voice2soap/:job_id - Poll a voice2soap job
			jobs.GET("/:job_id", jobHandler.GetVoice2SoapJob)
		}

		storages := v1.Group("/storages")
		{
			storages.GET("/voice-upload-url", storageHandler.GetVoiceUploadURL)
			storages.GET("/voice-download-url", storageHandler.GetVoiceDownloadURL)
		}
	}

	// Provider callbacks, not exposed to end users
	internal := r.Group("/internal/v1/transcriptions")
	{
		internal.POST("/complete", transcriptionHandler.Complete)
		internal.POST("/fail", transcriptionHandler.Fail)
	}

	return r
}
