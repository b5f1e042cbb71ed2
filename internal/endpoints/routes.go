package endpoints

import (
	_ "slidespeaker/docs"
	"slidespeaker/internal/storage"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, app *App) {
	// API group with common middleware
	api := r.Group("/api")
	{
		// Swagger endpoint
		api.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

		// Health check endpoint
		api.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "healthy",
				"service": "slidespeaker",
			})
		})

		// Session bootstrap (session auth mode only)
		api.POST("/auth/session", HandleCreateSession(app))
		api.DELETE("/auth/session", HandleDeleteSession(app))

		// Upload routes (protected)
		upload := api.Group("")
		upload.Use(AuthMiddleware(app.States))
		{
			upload.POST("/upload", HandleUpload(app))
			upload.POST("/files/:file_id/run", HandleRun(app))
		}

		// Task routes (protected)
		tasks := api.Group("/tasks")
		tasks.Use(AuthMiddleware(app.States))
		{
			tasks.GET("", HandleListTasks(app))
			tasks.GET("/statistics", HandleStatistics(app))
			tasks.GET("/:task_id", HandleGetTask(app))
			tasks.GET("/:task_id/status", HandleGetTaskStatus(app))
			tasks.GET("/:task_id/progress", HandleGetProgress(app))
			tasks.POST("/:task_id/retry", HandleRetryTask(app))
			tasks.POST("/:task_id/cancel", HandleCancelTask(app))
			tasks.DELETE("/:task_id/delete", HandleDeleteTask(app))
			tasks.GET("/:task_id/downloads", HandleDownloads(app))
			tasks.GET("/:task_id/video", HandleMedia(app, storage.CategoryVideo, false))
			tasks.GET("/:task_id/video/download", HandleMedia(app, storage.CategoryVideo, true))
			tasks.GET("/:task_id/audio", HandleMedia(app, storage.CategoryAudio, false))
			tasks.GET("/:task_id/audio/download", HandleMedia(app, storage.CategoryAudio, true))
			tasks.GET("/:task_id/podcast", HandleMedia(app, storage.CategoryPodcast, false))
			tasks.GET("/:task_id/podcast/download", HandleMedia(app, storage.CategoryPodcast, true))
			tasks.GET("/:task_id/subtitles/:format", HandleSubtitles(app))
		}
	}
}
