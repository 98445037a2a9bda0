package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/malascope/malascope-backend/internal/handlers"
)

type RouterConfig struct {
	AnalysisHandler *handlers.AnalysisHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	analysis := router.Group("/api/analysis")
	{
		analysis.POST("/process-image/:imageId", cfg.AnalysisHandler.ProcessImage)
		analysis.GET("/patches/:imageId", cfg.AnalysisHandler.GetPatches)
		analysis.POST("/screening/:imageId", cfg.AnalysisHandler.ScreenImage)
		analysis.GET("/screening/:imageId", cfg.AnalysisHandler.GetScreening)
		analysis.POST("/detailed/:imageId/:initialAnalysisId", cfg.AnalysisHandler.SendForDetailedAnalysis)
		analysis.GET("/detailed/:imageId", cfg.AnalysisHandler.GetDetailedAnalysis)
		analysis.PUT("/verify/:id", cfg.AnalysisHandler.VerifyAnalysis)
		analysis.GET("/jobs/:imageId", cfg.AnalysisHandler.GetJobs)
	}

	return router
}
